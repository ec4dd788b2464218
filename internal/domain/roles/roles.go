// Пакет roles — классификация realm-ролей Keycloak.
// Отделяет прикладные роли от технических, которые Keycloak назначает
// каждому пользователю автоматически и которые не должны попадать
// в ответы API и в операции назначения.
package roles

import "strings"

// Технические роли Keycloak.
const (
	// defaultRolesPrefix — префикс композитной роли default-roles-<realm>.
	defaultRolesPrefix = "default-roles-"

	roleOfflineAccess    = "offline_access"
	roleUMAAuthorization = "uma_authorization"
)

// IsTechnical сообщает, является ли роль технической ролью Keycloak.
func IsTechnical(name string) bool {
	return strings.HasPrefix(name, defaultRolesPrefix) ||
		name == roleOfflineAccess ||
		name == roleUMAAuthorization
}

// FilterTechnical возвращает имена без технических ролей.
// Порядок исходного среза сохраняется.
func FilterTechnical(names []string) []string {
	filtered := make([]string, 0, len(names))
	for _, name := range names {
		if !IsTechnical(name) {
			filtered = append(filtered, name)
		}
	}
	return filtered
}

// Dedupe убирает повторы, сохраняя порядок первого вхождения.
func Dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	result := make([]string, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		result = append(result, name)
	}
	return result
}

// Normalize — Dedupe + FilterTechnical: подготовка запрошенного
// списка ролей к назначению.
func Normalize(names []string) []string {
	return FilterTechnical(Dedupe(names))
}
