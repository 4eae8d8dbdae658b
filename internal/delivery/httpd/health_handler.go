package httpd

import (
	"net/http"
	"time"

	"github.com/RubachokBoss/qcm-grader/internal/models"
)

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.HealthCheckResponse{
		Status:    "healthy",
		Database:  true,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
	}

	if err := h.correctionService.Ping(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("Database health check failed")
		response.Database = false
		response.Status = "degraded"
	}

	if h.stats != nil {
		stats := h.stats.GetStats()
		response.ActiveWorkers = stats.ActiveWorkers
		response.QueueLength = stats.QueueLength
	}

	status := http.StatusOK
	if !response.Database {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, h.correctionService.ListPolicies())
}
