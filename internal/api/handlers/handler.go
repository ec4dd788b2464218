// handler.go — основной обработчик API Account Module.
// Объединяет обработчики учётных записей и health, делегирует запросы
// в сервисный слой и транслирует ошибки сервисов в HTTP-ответы.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/accountmodule/internal/api/errors"
	"github.com/bigkaa/accountmodule/internal/keycloak"
	"github.com/bigkaa/accountmodule/internal/service"
)

// APIHandler — основной обработчик API Account Module.
type APIHandler struct {
	health   *HealthHandler
	accounts *service.AccountService
	// defaultClient — client_id для писем, когда azp в токене отсутствует
	defaultClient string
	logger        *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	accounts *service.AccountService,
	defaultClient string,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:        health,
		accounts:      accounts,
		defaultClient: defaultClient,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// okResponse — стандартный ответ успешной операции без данных.
type okResponse struct {
	OK bool `json:"ok"`
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// handleServiceError транслирует ошибку сервисного слоя в HTTP-ответ.
func (h *APIHandler) handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *keycloak.APIError

	switch {
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, keycloak.ErrAuthentication):
		h.logger.Error("Admin-сессия Keycloak не аутентифицирована",
			slog.String("error", err.Error()),
		)
		apierrors.Unauthorized(w, "Admin-сессия Keycloak не аутентифицирована")
	case errors.As(err, &apiErr):
		// Ошибку Keycloak отдаём с исходным статусом
		apierrors.WriteError(w, apiErr.StatusCode, apierrors.CodeUpstreamError, apiErr.Message)
	default:
		h.logger.Error("Внутренняя ошибка",
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
