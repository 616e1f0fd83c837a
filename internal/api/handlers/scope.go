// scope.go — обработчики активного магазина (scope) и списка магазинов.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	apierrors "github.com/LamVNT/Farmovo-sub002/internal/api/errors"
	"github.com/LamVNT/Farmovo-sub002/internal/api/middleware"
	"github.com/LamVNT/Farmovo-sub002/internal/domain/model"
	"github.com/LamVNT/Farmovo-sub002/internal/service"
)

// ScopeHandler — обработчики активного магазина и списка магазинов.
type ScopeHandler struct {
	scopes   *service.ScopeService
	sessions *service.SessionService
	stores   *service.StoreListService
	logger   *slog.Logger
}

// NewScopeHandler создаёт обработчик активного магазина.
func NewScopeHandler(
	scopes *service.ScopeService,
	sessions *service.SessionService,
	stores *service.StoreListService,
	logger *slog.Logger,
) *ScopeHandler {
	return &ScopeHandler{
		scopes:   scopes,
		sessions: sessions,
		stores:   stores,
		logger:   logger.With(slog.String("component", "scope_handler")),
	}
}

// GetScope возвращает сохранённый выбор магазина пользователя.
func (h *ScopeHandler) GetScope(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())

	selection, err := h.scopes.Current(r.Context(), subject)
	if err != nil {
		h.logger.Error("Ошибка чтения выбора магазина",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка чтения выбора магазина")
		return
	}

	writeJSON(w, http.StatusOK, selection)
}

// SelectScope сохраняет выбор магазина. Тело запроса — запись магазина;
// пустое тело или null означают сброс выбора.
func (h *ScopeHandler) SelectScope(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())

	var record *model.StoreRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}

	selection, err := h.scopes.Select(r.Context(), subject, record)
	if err != nil {
		h.logger.Error("Ошибка сохранения выбора магазина",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка сохранения выбора магазина")
		return
	}

	writeJSON(w, http.StatusOK, selection)
}

// ClearScope сбрасывает выбор магазина.
func (h *ScopeHandler) ClearScope(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())

	if err := h.scopes.Clear(r.Context(), subject); err != nil {
		h.logger.Error("Ошибка сброса выбора магазина",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка сброса выбора магазина")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetResolvedScope возвращает эффективный магазин пользователя с учётом
// роли. Необязательный параметр ?role= задаёт роль, от имени которой
// работает интерфейс; без него роль выводится из данных пользователя.
func (h *ScopeHandler) GetResolvedScope(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())
	roleHint := r.URL.Query().Get("role")

	identity := h.sessions.Identity(subject)

	resolved, err := h.scopes.ResolveFor(r.Context(), subject, identity, roleHint)
	if err != nil {
		h.logger.Error("Ошибка определения эффективного магазина",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка определения эффективного магазина")
		return
	}

	writeJSON(w, http.StatusOK, resolved)
}

// GetStores возвращает список магазинов из core API (с кэшированием).
func (h *ScopeHandler) GetStores(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())
	token := middleware.TokenFromContext(r.Context())

	list, err := h.stores.List(r.Context(), subject, token)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, list)
}
