// events.go — SSE-поток сигналов auth-changed и state-changed.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/LamVNT/Farmovo-sub002/internal/api/middleware"
	"github.com/LamVNT/Farmovo-sub002/internal/bus"
)

// EventsHandler — обработчик SSE-потока сигналов.
type EventsHandler struct {
	signals   *bus.Bus
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewEventsHandler создаёт обработчик SSE-потока.
func NewEventsHandler(signals *bus.Bus, heartbeat time.Duration, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		signals:   signals,
		heartbeat: heartbeat,
		logger:    logger.With(slog.String("component", "events_handler")),
	}
}

// StreamEvents отдаёт сигналы шины клиенту в формате Server-Sent Events.
// Клиент получает только сигналы своего subject. Heartbeat-комментарии
// не дают промежуточным прокси закрыть простаивающее соединение.
func (h *EventsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())

	// ResponseController проходит через Unwrap обёрток middleware.
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		// Заголовки уже ушли, отвечать ошибкой поздно.
		h.logger.Warn("Транспорт не поддерживает потоковую передачу",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
		return
	}

	// Буфер с запасом: медленный клиент не должен блокировать шину.
	ch := make(chan bus.Signal, 16)
	unsubscribe := h.signals.Subscribe(func(sig bus.Signal) {
		if sig.Subject != subject {
			return
		}
		select {
		case ch <- sig:
		default:
			// Переполнение буфера: клиент не успевает, сигнал пропускается.
		}
	})
	defer unsubscribe()

	h.logger.Debug("SSE-подключение открыто", slog.String("subject", subject))

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("SSE-подключение закрыто", slog.String("subject", subject))
			return
		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			_ = rc.Flush()
		case sig := <-ch:
			data, err := json.Marshal(sig)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", sig.Kind, data)
			_ = rc.Flush()
		}
	}
}
