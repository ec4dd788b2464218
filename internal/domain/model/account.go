// Пакет model — доменные модели Account Module.
package model

import "time"

// Account — учётная запись пользователя в Keycloak.
// Формируется из UserRepresentation + realm-ролей (без технических).
type Account struct {
	// ID — Keycloak user ID (sub)
	ID string `json:"id"`
	// Username — имя пользователя в Keycloak
	Username string `json:"username"`
	// Email — адрес электронной почты
	Email string `json:"email"`
	// EmailVerified — подтверждён ли email
	EmailVerified bool `json:"emailVerified"`
	// Enabled — активна ли учётная запись
	Enabled bool `json:"enabled"`
	// Roles — прикладные realm-роли (технические отфильтрованы)
	Roles []string `json:"roles"`
	// CreatedAt — дата создания в Keycloak
	CreatedAt time.Time `json:"createdAt"`
}

// NewAccount — запрос на создание учётной записи.
type NewAccount struct {
	// Username — имя пользователя
	Username string
	// Email — адрес электронной почты
	Email string
	// Roles — realm-роли для назначения (по именам)
	Roles []string
}

// AccountUpdate — частичное обновление учётной записи.
// nil-поле означает «не менять».
type AccountUpdate struct {
	// Email — новый адрес электронной почты
	Email *string
	// Roles — полный новый набор realm-ролей (заменяет текущий)
	Roles *[]string
}

// DeleteResult — результат удаления учётной записи.
// Deleted=false означает, что Keycloak отказал, но операция
// завершена штатно (мягкий отказ).
type DeleteResult struct {
	Deleted bool `json:"deleted"`
}

// RealmContext — realm и клиент, в контексте которых выполняется операция.
// Извлекается из входящего токена (iss → realm, azp → client).
type RealmContext struct {
	// Realm — имя realm
	Realm string
	// Client — client_id для построения action-ссылок в письмах
	Client string
	// Locale — язык писем (из Accept-Language входящего запроса)
	Locale string
}
