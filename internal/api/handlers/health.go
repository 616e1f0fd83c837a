// health.go — обработчики health-probe и метрик.
package handlers

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LamVNT/Farmovo-sub002/internal/config"
)

// ReadinessChecker — интерфейс проверки готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status string, message string)
}

// HealthHandler — обработчик health-probe и метрик.
type HealthHandler struct {
	pgChecker   ReadinessChecker
	idpChecker  ReadinessChecker
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик health-probe.
func NewHealthHandler(pgChecker, idpChecker ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		pgChecker:   pgChecker,
		idpChecker:  idpChecker,
		promHandler: promhttp.Handler(),
	}
}

type healthLiveResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthReadyResponse struct {
	Status    string                       `json:"status"`
	Service   string                       `json:"service"`
	Version   string                       `json:"version"`
	Timestamp string                       `json:"timestamp"`
	Checks    map[string]healthCheckResult `json:"checks"`
}

// HealthLive — liveness probe. Отвечает 200, пока процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    "ok",
		Service:   "session-gateway",
		Version:   config.Version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthReady — readiness probe. Проверяет PostgreSQL и доступность JWKS.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]healthCheckResult, 2)

	pgStatus, pgMessage := h.pgChecker.CheckReady()
	checks["postgresql"] = healthCheckResult{Status: pgStatus, Message: pgMessage}

	idpStatus, idpMessage := h.idpChecker.CheckReady()
	checks["jwks"] = healthCheckResult{Status: idpStatus, Message: idpMessage}

	overall := overallStatus(pgStatus, idpStatus)

	code := http.StatusOK
	if overall == "fail" {
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, healthReadyResponse{
		Status:    overall,
		Service:   "session-gateway",
		Version:   config.Version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// overallStatus агрегирует статусы проверок: fail > degraded > ok.
func overallStatus(statuses ...string) string {
	overall := "ok"
	for _, s := range statuses {
		switch s {
		case "fail":
			return "fail"
		case "degraded":
			overall = "degraded"
		}
	}
	return overall
}

// GetMetrics отдаёт метрики Prometheus.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}
