// client.go — HTTP-клиент к Keycloak Admin REST API.
// Все запросы авторизуются access token'ом admin-сессии; ответ 401
// прозрачно обрабатывается одним повторным входом и одним повтором запроса.
// Операции: CreateUser, FindUsersByUsername, FindUsersByEmail, GetUser,
// UpdateUser, DeleteUser, ExecuteActionsEmail, ListRealmRoles, GetRealmRole,
// GetUserRealmRoles, AssignRealmRoles, RemoveRealmRoles, RealmInfo.
package keycloak

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client — HTTP-клиент к Keycloak Admin REST API.
// Realm передаётся в каждую операцию: входящие запросы могут принадлежать
// разным realm'ам, а admin-сессия одна (master/admin-cli).
type Client struct {
	baseURL      string // Базовый URL Keycloak (без trailing slash)
	defaultRealm string // Realm для readiness probe

	session    *AdminSession
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient создаёт клиент к Keycloak Admin REST API.
// baseURL — базовый URL Keycloak (например, https://keycloak.kryukov.lan).
// defaultRealm — realm для проверки готовности.
// session — admin-сессия, выдающая access token.
// httpClient — HTTP-клиент (может содержать TLS конфигурацию).
func NewClient(baseURL, defaultRealm string, session *AdminSession, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultRealm: defaultRealm,
		session:      session,
		httpClient:   httpClient,
		logger:       logger.With(slog.String("component", "keycloak_client")),
	}
}

// adminBaseURL возвращает базовый URL Admin REST API для realm.
func (c *Client) adminBaseURL(realm string) string {
	return fmt.Sprintf("%s/admin/realms/%s", c.baseURL, url.PathEscape(realm))
}

// --- HTTP helpers ---

// do выполняет HTTP-запрос к Admin REST API с авторизацией и одним повтором
// при 401: повторный вход admin-сессии и повтор исходного запроса. Второй 401
// (как и любая другая ошибка) возвращается вызывающему без изменений.
// Запросы к token endpoint через do не проходят — сессия ходит туда напрямую,
// поэтому бесконечный цикл повторов исключён.
func (c *Client) do(ctx context.Context, method, realm, path string, body any, header map[string]string) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("сериализация тела запроса: %w", err)
		}
	}

	token := c.session.Token()
	if token == "" {
		// Сессия ещё не входила (или вход при старте не удался)
		var err error
		token, err = c.session.Relogin(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("вход admin-сессии: %w", err)
		}
	}

	resp, err := c.send(ctx, method, realm, path, payload, header, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()

	// 401: токен протух — один повторный вход и один повтор запроса
	c.logger.Debug("401 от Admin API, повторный вход admin-сессии",
		slog.String("method", method),
		slog.String("path", path),
	)

	token, err = c.session.Relogin(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("повторный вход admin-сессии: %w", err)
	}

	return c.send(ctx, method, realm, path, payload, header, token)
}

// doAuthorized — do без дополнительных заголовков.
func (c *Client) doAuthorized(ctx context.Context, method, realm, path string, body any) (*http.Response, error) {
	return c.do(ctx, method, realm, path, body, nil)
}

// send строит и выполняет один HTTP-запрос с указанным токеном.
func (c *Client) send(ctx context.Context, method, realm, path string, payload []byte, header map[string]string, token string) (*http.Response, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	reqURL := c.adminBaseURL(realm) + path
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}

	return c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации Keycloak
}

// decodeResponse декодирует JSON ответ в target.
// Не-2xx ответ возвращается как *APIError с исходным статусом и сообщением.
func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp)
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("декодирование ответа Keycloak: %w", err)
		}
	}

	return nil
}

// checkResponse проверяет статус ответа (для запросов без тела ответа).
func checkResponse(resp *http.Response, expectedStatus int) error {
	defer resp.Body.Close()

	if resp.StatusCode != expectedStatus {
		return apiError(resp)
	}

	return nil
}

// apiError строит *APIError из не-2xx ответа Keycloak.
// Сообщение берётся из errorMessage/error_description/error тела ответа.
func apiError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(resp.Body)

	message := strings.TrimSpace(string(body))
	var parsed keycloakErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch {
		case parsed.ErrorMessage != "":
			message = parsed.ErrorMessage
		case parsed.ErrorDescription != "":
			message = parsed.ErrorDescription
		case parsed.Error != "":
			message = parsed.Error
		}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
	}
}

// --- Users API ---

// CreateUser создаёт пользователя в realm. Keycloak отвечает 201 без тела.
func (c *Client) CreateUser(ctx context.Context, realm string, user *UserRepresentation) error {
	resp, err := c.doAuthorized(ctx, http.MethodPost, realm, "/users", user)
	if err != nil {
		return err
	}

	if err := checkResponse(resp, http.StatusCreated); err != nil {
		return fmt.Errorf("CreateUser: %w", err)
	}
	return nil
}

// FindUsersByUsername возвращает пользователей с точным совпадением username.
func (c *Client) FindUsersByUsername(ctx context.Context, realm, username string) ([]UserRepresentation, error) {
	return c.findUsers(ctx, realm, url.Values{
		"username": {username},
		"exact":    {"true"},
	})
}

// FindUsersByEmail возвращает пользователей с точным совпадением email.
func (c *Client) FindUsersByEmail(ctx context.Context, realm, email string) ([]UserRepresentation, error) {
	return c.findUsers(ctx, realm, url.Values{
		"email": {email},
		"exact": {"true"},
	})
}

// findUsers выполняет GET /users с указанными параметрами поиска.
func (c *Client) findUsers(ctx context.Context, realm string, params url.Values) ([]UserRepresentation, error) {
	resp, err := c.doAuthorized(ctx, http.MethodGet, realm, "/users?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var users []UserRepresentation
	if err := decodeResponse(resp, &users); err != nil {
		return nil, fmt.Errorf("findUsers: %w", err)
	}

	return users, nil
}

// GetUser возвращает пользователя по Keycloak ID.
func (c *Client) GetUser(ctx context.Context, realm, id string) (*UserRepresentation, error) {
	resp, err := c.doAuthorized(ctx, http.MethodGet, realm, "/users/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}

	var user UserRepresentation
	if err := decodeResponse(resp, &user); err != nil {
		return nil, fmt.Errorf("GetUser: %w", err)
	}

	return &user, nil
}

// UpdateUser частично обновляет пользователя (PUT /users/{id}).
// Keycloak применяет только присутствующие поля представления.
func (c *Client) UpdateUser(ctx context.Context, realm, id string, user *UserRepresentation) error {
	resp, err := c.doAuthorized(ctx, http.MethodPut, realm, "/users/"+url.PathEscape(id), user)
	if err != nil {
		return err
	}

	if err := checkResponse(resp, http.StatusNoContent); err != nil {
		return fmt.Errorf("UpdateUser: %w", err)
	}
	return nil
}

// DeleteUser удаляет пользователя.
func (c *Client) DeleteUser(ctx context.Context, realm, id string) error {
	resp, err := c.doAuthorized(ctx, http.MethodDelete, realm, "/users/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}

	if err := checkResponse(resp, http.StatusNoContent); err != nil {
		return fmt.Errorf("DeleteUser: %w", err)
	}
	return nil
}

// ExecuteActionsEmail отправляет пользователю письмо с action-ссылкой
// (PUT /users/{id}/execute-actions-email). actions — упорядоченный список
// required actions, clientID — клиент realm'а, в контексте которого строится
// ссылка. locale пробрасывается в Accept-Language для шаблонов писем Keycloak.
func (c *Client) ExecuteActionsEmail(ctx context.Context, realm, userID, clientID, locale string, actions []string) error {
	params := url.Values{
		"client_id":    {clientID},
		"redirect_uri": {""},
	}
	path := "/users/" + url.PathEscape(userID) + "/execute-actions-email?" + params.Encode()

	var header map[string]string
	if locale != "" {
		header = map[string]string{"Accept-Language": locale}
	}

	resp, err := c.do(ctx, http.MethodPut, realm, path, actions, header)
	if err != nil {
		return err
	}

	if err := checkResponse(resp, http.StatusNoContent); err != nil {
		return fmt.Errorf("ExecuteActionsEmail: %w", err)
	}
	return nil
}

// --- Roles API ---

// ListRealmRoles возвращает все realm-роли.
func (c *Client) ListRealmRoles(ctx context.Context, realm string) ([]RoleRepresentation, error) {
	resp, err := c.doAuthorized(ctx, http.MethodGet, realm, "/roles", nil)
	if err != nil {
		return nil, err
	}

	var roles []RoleRepresentation
	if err := decodeResponse(resp, &roles); err != nil {
		return nil, fmt.Errorf("ListRealmRoles: %w", err)
	}

	return roles, nil
}

// GetRealmRole возвращает realm-роль по имени.
func (c *Client) GetRealmRole(ctx context.Context, realm, name string) (*RoleRepresentation, error) {
	resp, err := c.doAuthorized(ctx, http.MethodGet, realm, "/roles/"+url.PathEscape(name), nil)
	if err != nil {
		return nil, err
	}

	var role RoleRepresentation
	if err := decodeResponse(resp, &role); err != nil {
		return nil, fmt.Errorf("GetRealmRole %s: %w", name, err)
	}

	return &role, nil
}

// GetUserRealmRoles возвращает текущие realm-роли пользователя.
func (c *Client) GetUserRealmRoles(ctx context.Context, realm, userID string) ([]RoleRepresentation, error) {
	resp, err := c.doAuthorized(ctx, http.MethodGet, realm, "/users/"+url.PathEscape(userID)+"/role-mappings/realm", nil)
	if err != nil {
		return nil, err
	}

	var roles []RoleRepresentation
	if err := decodeResponse(resp, &roles); err != nil {
		return nil, fmt.Errorf("GetUserRealmRoles: %w", err)
	}

	return roles, nil
}

// AssignRealmRoles назначает пользователю realm-роли.
func (c *Client) AssignRealmRoles(ctx context.Context, realm, userID string, roles []RoleRepresentation) error {
	resp, err := c.doAuthorized(ctx, http.MethodPost, realm, "/users/"+url.PathEscape(userID)+"/role-mappings/realm", roles)
	if err != nil {
		return err
	}

	if err := checkResponse(resp, http.StatusNoContent); err != nil {
		return fmt.Errorf("AssignRealmRoles: %w", err)
	}
	return nil
}

// RemoveRealmRoles снимает с пользователя realm-роли.
// DELETE с телом — так определяет Admin REST API Keycloak.
func (c *Client) RemoveRealmRoles(ctx context.Context, realm, userID string, roles []RoleRepresentation) error {
	resp, err := c.doAuthorized(ctx, http.MethodDelete, realm, "/users/"+url.PathEscape(userID)+"/role-mappings/realm", roles)
	if err != nil {
		return err
	}

	if err := checkResponse(resp, http.StatusNoContent); err != nil {
		return fmt.Errorf("RemoveRealmRoles: %w", err)
	}
	return nil
}

// --- Realm API ---

// RealmInfo возвращает информацию о realm.
func (c *Client) RealmInfo(ctx context.Context, realm string) (*RealmRepresentation, error) {
	resp, err := c.doAuthorized(ctx, http.MethodGet, realm, "", nil)
	if err != nil {
		return nil, err
	}

	var info RealmRepresentation
	if err := decodeResponse(resp, &info); err != nil {
		return nil, fmt.Errorf("RealmInfo: %w", err)
	}

	return &info, nil
}

// --- Readiness checker ---

// CheckReady проверяет доступность Keycloak через realm info.
// Реализует handlers.ReadinessChecker.
func (c *Client) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	realm, err := c.RealmInfo(ctx, c.defaultRealm)
	if err != nil {
		return "fail", fmt.Sprintf("Keycloak недоступен: %v", err)
	}

	if !realm.Enabled {
		return "degraded", fmt.Sprintf("Realm %s отключён", realm.Realm)
	}

	return "ok", fmt.Sprintf("Realm %s доступен", realm.Realm)
}
