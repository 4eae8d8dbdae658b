package httpd

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) GetProjectStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.correctionService.GetProjectStatistics(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		h.handleCorrectionError(w, err, nil)
		return
	}

	writeSuccess(w, stats)
}

func (h *Handler) GetOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.correctionService.GetOverview(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to get statistics overview")
		writeError(w, http.StatusInternalServerError, "Failed to get statistics overview")
		return
	}

	writeSuccess(w, overview)
}
