// notifications.go — обработчики ленты уведомлений и бизнес-событий.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/LamVNT/Farmovo-sub002/internal/api/errors"
	"github.com/LamVNT/Farmovo-sub002/internal/api/middleware"
	"github.com/LamVNT/Farmovo-sub002/internal/domain/model"
	"github.com/LamVNT/Farmovo-sub002/internal/service"
)

// NotificationHandler — обработчики ленты уведомлений.
type NotificationHandler struct {
	feed   *service.NotificationService
	logger *slog.Logger
}

// NewNotificationHandler создаёт обработчик уведомлений.
func NewNotificationHandler(feed *service.NotificationService, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		feed:   feed,
		logger: logger.With(slog.String("component", "notification_handler")),
	}
}

// GetNotifications загружает ленту уведомлений из core API и возвращает её.
// Роль для выбора эндпоинтов core задаётся параметром ?role= (необязателен).
func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())
	token := middleware.TokenFromContext(r.Context())
	roleHint := r.URL.Query().Get("role")

	feed, err := h.feed.Load(r.Context(), subject, token, roleHint)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, feed)
}

type unreadCountResponse struct {
	Count int `json:"count"`
}

// GetUnreadCount возвращает число непрочитанных уведомлений из локального
// состояния ленты. Ленту перед этим нужно загрузить через GetNotifications.
func (h *NotificationHandler) GetUnreadCount(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())

	feed := h.feed.Feed(subject)
	writeJSON(w, http.StatusOK, unreadCountResponse{Count: feed.Unread})
}

// MarkRead помечает уведомление прочитанным.
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())
	token := middleware.TokenFromContext(r.Context())

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		apierrors.ValidationError(w, "Некорректный идентификатор уведомления")
		return
	}

	feed, err := h.feed.MarkRead(r.Context(), subject, token, id)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, feed)
}

// MarkAllRead помечает все уведомления прочитанными.
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())
	token := middleware.TokenFromContext(r.Context())
	roleHint := r.URL.Query().Get("role")

	feed, err := h.feed.MarkAllRead(r.Context(), subject, token, roleHint)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, feed)
}

// ClearNotifications удаляет все уведомления активного магазина.
func (h *NotificationHandler) ClearNotifications(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())
	token := middleware.TokenFromContext(r.Context())
	roleHint := r.URL.Query().Get("role")

	feed, err := h.feed.ClearAll(r.Context(), subject, token, roleHint)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, feed)
}

type createEventRequest struct {
	Type        model.NotificationType `json:"type"`
	Action      string                 `json:"action"`
	SubjectName string                 `json:"subjectName"`
	NewStatus   string                 `json:"newStatus,omitempty"`
	Role        string                 `json:"role,omitempty"`
}

var eventCategories = map[model.NotificationCategory]bool{
	model.CategoryTransaction: true,
	model.CategoryProduct:     true,
	model.CategoryCustomer:    true,
	model.CategoryCategory:    true,
	model.CategoryZone:        true,
	model.CategoryStocktake:   true,
	model.CategoryGeneral:     true,
}

// CreateEvent регистрирует бизнес-событие в core API. Категория берётся
// из пути, остальные поля — из тела запроса.
func (h *NotificationHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())
	token := middleware.TokenFromContext(r.Context())

	category := model.NotificationCategory(strings.ToUpper(chi.URLParam(r, "category")))
	if !eventCategories[category] {
		apierrors.ValidationError(w, "Неизвестная категория события")
		return
	}

	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}
	if req.Action == "" || req.SubjectName == "" {
		apierrors.ValidationError(w, "Поля action и subjectName обязательны")
		return
	}
	if req.Type == "" {
		req.Type = model.NotificationInfo
	}

	err := h.feed.CreateEvent(r.Context(), subject, token, req.Role,
		category, req.Type, req.Action, req.SubjectName, req.NewStatus)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
