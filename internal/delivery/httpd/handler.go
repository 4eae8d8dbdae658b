package httpd

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/RubachokBoss/qcm-grader/internal/service"
	"github.com/RubachokBoss/qcm-grader/internal/worker"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// StatsProvider reports queue worker activity. It is nil when the service
// runs without a broker.
type StatsProvider interface {
	GetStats() worker.WorkerStats
}

type Handler struct {
	correctionService service.CorrectionService
	stats             StatsProvider
	logger            zerolog.Logger
	startTime         time.Time
}

func NewHandler(
	correctionService service.CorrectionService,
	stats StatsProvider,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		correctionService: correctionService,
		stats:             stats,
		logger:            logger,
		startTime:         time.Now(),
	}
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Get("/health", h.HealthCheck)

	router.Route("/api/v1", func(api chi.Router) {
		api.Get("/policies", h.ListPolicies)
		api.Get("/stats/overview", h.GetOverview)
		api.Get("/projects/{project_id}/statistics", h.GetProjectStatistics)

		api.Route("/projects/{project_id}/corrections", func(r chi.Router) {
			r.Post("/", h.RunCorrection)
			r.Post("/async", h.RunCorrectionAsync)
			r.Get("/latest", h.GetLatestRun)
		})

		api.Route("/corrections/{run_id}", func(r chi.Router) {
			r.Get("/", h.GetRun)
			r.Get("/scores", h.GetScores)
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func writeSuccess(w http.ResponseWriter, data interface{}) {
	response := map[string]interface{}{
		"success": true,
		"data":    data,
	}
	writeJSON(w, http.StatusOK, response)
}
