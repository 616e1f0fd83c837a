// handler.go — основной обработчик API Session Gateway.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/LamVNT/Farmovo-sub002/internal/api/errors"
	"github.com/LamVNT/Farmovo-sub002/internal/coreclient"
)

// APIHandler — основной обработчик API Session Gateway.
type APIHandler struct {
	*SessionHandler
	*ScopeHandler
	*NotificationHandler
	*EventsHandler
	health *HealthHandler
	logger *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	session *SessionHandler,
	scope *ScopeHandler,
	notifications *NotificationHandler,
	events *EventsHandler,
	health *HealthHandler,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		SessionHandler:      session,
		ScopeHandler:        scope,
		NotificationHandler: notifications,
		EventsHandler:       events,
		health:              health,
		logger:              logger.With(slog.String("component", "api_handler")),
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

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeCoreError транслирует ошибку обращения к core API в HTTP-ответ.
// 401/403 от core означает протухший токен, прочее — недоступность core.
func writeCoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, coreclient.ErrUnauthorized) {
		apierrors.Unauthorized(w, "Сессия в core API не действительна")
		return
	}
	apierrors.CoreUnavailable(w, "Ошибка обращения к core API")
}
