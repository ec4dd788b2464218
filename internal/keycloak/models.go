// Пакет keycloak — admin-сессия и HTTP-клиент к Keycloak Admin REST API.
// models.go — модели данных Keycloak.
package keycloak

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Required actions Keycloak — действия, которые пользователь обязан
// выполнить при следующем входе.
const (
	// ActionVerifyEmail — подтверждение адреса электронной почты.
	ActionVerifyEmail = "VERIFY_EMAIL"
	// ActionUpdatePassword — установка нового пароля.
	ActionUpdatePassword = "UPDATE_PASSWORD"
)

// TokenResponse — ответ token endpoint Keycloak (password / refresh_token grant).
type TokenResponse struct {
	AccessToken      string `json:"access_token"` //nolint:gosec // G117: структура токена OAuth2
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"` //nolint:gosec // G117: структура токена OAuth2
	RefreshExpiresIn int    `json:"refresh_expires_in"`
}

// UserRepresentation — пользователь Keycloak (срез UserRepresentation Admin API).
type UserRepresentation struct {
	ID            string `json:"id,omitempty"`
	Username      string `json:"username,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified *bool  `json:"emailVerified,omitempty"`
	Enabled       *bool  `json:"enabled,omitempty"`
	CreatedAt     int64  `json:"createdTimestamp,omitempty"`
	// Attributes — произвольные атрибуты пользователя.
	Attributes map[string]string `json:"attributes,omitempty"`
	// RequiredActions — действия, которые пользователь должен выполнить
	// при следующем входе (VERIFY_EMAIL, UPDATE_PASSWORD, ...).
	RequiredActions []string `json:"requiredActions,omitempty"`
	// Credentials — учётные данные, с которыми пользователь может войти.
	Credentials []CredentialRepresentation `json:"credentials,omitempty"`
}

// CreatedAtTime возвращает CreatedAt как time.Time.
// Keycloak хранит timestamp в миллисекундах.
func (u *UserRepresentation) CreatedAtTime() time.Time {
	return time.UnixMilli(u.CreatedAt)
}

// CredentialRepresentation — учётные данные пользователя.
type CredentialRepresentation struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	// Temporary — при true Keycloak потребует смену пароля при первом входе.
	Temporary bool `json:"temporary"`
}

// NewUserRepresentation создаёт представление нового пользователя для POST /users:
// включён, с required action VERIFY_EMAIL и одноразовым временным паролем,
// который Keycloak заставит сменить при первом входе.
func NewUserRepresentation(username, email string) *UserRepresentation {
	enabled := true
	return &UserRepresentation{
		Username: username,
		Email:    email,
		Enabled:  &enabled,
		Attributes: map[string]string{
			"exact_username": username,
		},
		RequiredActions: []string{ActionVerifyEmail},
		Credentials: []CredentialRepresentation{
			{
				Type:      "password",
				Value:     uuid.NewString(),
				Temporary: true,
			},
		},
	}
}

// RoleRepresentation — realm-роль Keycloak. Поля за пределами Name
// непрозрачны для нас и передаются обратно в Keycloak как есть.
type RoleRepresentation struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Composite   bool   `json:"composite,omitempty"`
	ClientRole  bool   `json:"clientRole,omitempty"`
	ContainerID string `json:"containerId,omitempty"`
}

// RealmRepresentation — краткая информация о realm.
type RealmRepresentation struct {
	Realm   string `json:"realm"`
	Enabled bool   `json:"enabled"`
}

// keycloakErrorBody — тело ответа Keycloak при ошибке.
// Keycloak использует разные поля в зависимости от endpoint'а.
type keycloakErrorBody struct {
	ErrorMessage     string `json:"errorMessage"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// APIError — ошибка Keycloak Admin REST API с исходным HTTP-статусом.
// Статус и сообщение провайдера пробрасываются вызывающему без изменений.
type APIError struct {
	StatusCode int
	Message    string
}

// Error реализует error.
func (e *APIError) Error() string {
	return fmt.Sprintf("Keycloak вернул статус %d: %s", e.StatusCode, e.Message)
}
