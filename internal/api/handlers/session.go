// session.go — обработчики сессии пользователя.
package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/LamVNT/Farmovo-sub002/internal/api/errors"
	"github.com/LamVNT/Farmovo-sub002/internal/api/middleware"
	"github.com/LamVNT/Farmovo-sub002/internal/service"
)

// SessionHandler — обработчики сессии пользователя.
type SessionHandler struct {
	sessions *service.SessionService
	logger   *slog.Logger
}

// NewSessionHandler создаёт обработчик сессии.
func NewSessionHandler(sessions *service.SessionService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		logger:   logger.With(slog.String("component", "session_handler")),
	}
}

// GetSession возвращает текущую сессию пользователя.
// Если в памяти сессии нет, она восстанавливается из сохранённого снимка;
// при первом обращении (снимка нет) данные запрашиваются у core API.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())
	token := middleware.TokenFromContext(r.Context())

	session := h.sessions.Current(r.Context(), subject)
	if session.Identity == nil && session.Err == "" {
		var err error
		session, err = h.sessions.FetchIdentity(r.Context(), subject, token)
		if err != nil {
			writeCoreError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, session)
}

// RefreshSession заново запрашивает данные пользователя у core API
// и рассылает сигнал auth-changed.
func (h *SessionHandler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())
	token := middleware.TokenFromContext(r.Context())

	session, err := h.sessions.Refresh(r.Context(), subject, token)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// Logout завершает сессию в core API и сбрасывает локальное состояние.
// Локальная очистка выполняется даже при ошибке core API.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())
	token := middleware.TokenFromContext(r.Context())

	if err := h.sessions.Logout(r.Context(), subject, token); err != nil {
		h.logger.Error("Ошибка при завершении сессии",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка при завершении сессии")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
