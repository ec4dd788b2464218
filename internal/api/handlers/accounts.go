// accounts.go — обработчики /account endpoints.
// Создание, чтение, обновление, удаление учётных записей,
// смена email, сброс пароля и список ролей realm.
package handlers

import (
	"encoding/json"
	"net/http"
	"net/mail"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/accountmodule/internal/api/errors"
	"github.com/bigkaa/accountmodule/internal/api/middleware"
	"github.com/bigkaa/accountmodule/internal/domain/model"
)

// AccountManagementRole — realm-роль, дающая право управлять учётными записями.
const AccountManagementRole = "account_manager"

// --- DTO ---

// newAccountRequest — тело POST /account.
type newAccountRequest struct {
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

// setEmailRequest — тело PUT /account/set-email.
type setEmailRequest struct {
	Email string `json:"email"`
}

// forgotPasswordRequest — тело POST /account/forgot-password.
// Endpoint публичный: realm и client приходят в теле, не из токена.
type forgotPasswordRequest struct {
	Email  string `json:"email"`
	Realm  string `json:"realm"`
	Client string `json:"client"`
}

// updateAccountRequest — тело PUT /account/{userId}.
// nil-поле означает «не менять».
type updateAccountRequest struct {
	Email *string   `json:"email"`
	Roles *[]string `json:"roles"`
}

// --- Handlers ---

// CreateAccount — POST /account.
// Создаёт учётную запись в realm вызывающего: пользователь Keycloak,
// письмо подтверждения email, назначение ролей.
// Доступ: роль account_manager.
func (h *APIHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.realmContext(w, r)
	if !ok {
		return
	}

	var req newAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	if strings.TrimSpace(req.Username) == "" {
		apierrors.ValidationError(w, "Поле username обязательно")
		return
	}
	if !validEmail(req.Email) {
		apierrors.ValidationError(w, "Некорректный email")
		return
	}

	if _, err := h.accounts.CreateAccount(r.Context(), rc, model.NewAccount{
		Username: req.Username,
		Email:    req.Email,
		Roles:    req.Roles,
	}); err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, okResponse{OK: true})
}

// GetAccount — GET /account/{username}.
// Возвращает учётную запись по username с её прикладными ролями.
// Доступ: роль account_manager.
func (h *APIHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.realmContext(w, r)
	if !ok {
		return
	}

	username := chi.URLParam(r, "username")

	account, err := h.accounts.GetAccount(r.Context(), rc.Realm, username)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

// UpdateAccount — PUT /account/{userId}.
// Частично обновляет учётную запись: email и/или полный набор ролей.
// Доступ: роль account_manager.
func (h *APIHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.realmContext(w, r)
	if !ok {
		return
	}

	userID := chi.URLParam(r, "userId")

	var req updateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	if req.Email == nil && req.Roles == nil {
		apierrors.ValidationError(w, "Требуется хотя бы одно поле: email или roles")
		return
	}
	if req.Email != nil && !validEmail(*req.Email) {
		apierrors.ValidationError(w, "Некорректный email")
		return
	}

	err := h.accounts.UpdateAccount(r.Context(), rc, userID, model.AccountUpdate{
		Email: req.Email,
		Roles: req.Roles,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// DeleteAccount — DELETE /account/{userId}.
// Удаляет учётную запись. Отказ Keycloak не считается ошибкой:
// в ответе deleted=false.
// Доступ: роль account_manager.
func (h *APIHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.realmContext(w, r)
	if !ok {
		return
	}

	userID := chi.URLParam(r, "userId")

	result := h.accounts.DeleteAccount(r.Context(), rc.Realm, userID)
	writeJSON(w, http.StatusOK, result)
}

// SetEmail — PUT /account/set-email.
// Меняет email учётной записи вызывающего (userID из токена)
// и отправляет письмо подтверждения.
// Доступ: любой аутентифицированный пользователь.
func (h *APIHandler) SetEmail(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.realmContext(w, r)
	if !ok {
		return
	}

	userID := middleware.SubjectFromContext(r.Context())

	var req setEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	if !validEmail(req.Email) {
		apierrors.ValidationError(w, "Некорректный email")
		return
	}

	if err := h.accounts.SetEmail(r.Context(), rc, userID, req.Email); err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// ForgotPassword — POST /account/forgot-password.
// Публичный endpoint: отправляет письмо сброса пароля.
// Realm и client приходят в теле запроса.
func (h *APIHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	if !validEmail(req.Email) {
		apierrors.ValidationError(w, "Некорректный email")
		return
	}
	if req.Realm == "" {
		apierrors.ValidationError(w, "Поле realm обязательно")
		return
	}

	client := req.Client
	if client == "" {
		client = h.defaultClient
	}

	rc := model.RealmContext{
		Realm:  req.Realm,
		Client: client,
		Locale: localeFromRequest(r),
	}

	if err := h.accounts.ForgotPassword(r.Context(), rc, req.Email); err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// ListRoles — GET /account/roles.
// Возвращает имена прикладных realm-ролей realm'а вызывающего.
// Доступ: любой аутентифицированный пользователь.
func (h *APIHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.realmContext(w, r)
	if !ok {
		return
	}

	names, err := h.accounts.ListRoles(r.Context(), rc.Realm)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, names)
}

// --- Вспомогательные функции ---

// realmContext извлекает realm и клиент из claims вызывающего.
// Без realm в токене операция невозможна — 403.
func (h *APIHandler) realmContext(w http.ResponseWriter, r *http.Request) (model.RealmContext, bool) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
		return model.RealmContext{}, false
	}
	if claims.Realm == "" {
		apierrors.Forbidden(w, "В токене отсутствует realm (issuer)")
		return model.RealmContext{}, false
	}

	client := claims.Client
	if client == "" {
		client = h.defaultClient
	}

	return model.RealmContext{
		Realm:  claims.Realm,
		Client: client,
		Locale: localeFromRequest(r),
	}, true
}

// localeFromRequest извлекает язык писем из Accept-Language.
// Берётся первый тег без параметров качества: "ru-RU,ru;q=0.9" → "ru-RU".
func localeFromRequest(r *http.Request) string {
	header := r.Header.Get("Accept-Language")
	if header == "" {
		return ""
	}
	first := strings.SplitN(header, ",", 2)[0]
	first = strings.SplitN(first, ";", 2)[0]
	return strings.TrimSpace(first)
}

// validEmail проверяет синтаксис адреса электронной почты.
func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
