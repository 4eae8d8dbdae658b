package httpd

import (
	"errors"
	"net/http"

	"github.com/RubachokBoss/qcm-grader/internal/models"
	"github.com/RubachokBoss/qcm-grader/internal/service"
	"github.com/RubachokBoss/qcm-grader/internal/service/pipeline"
	"github.com/RubachokBoss/qcm-grader/pkg/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

func (h *Handler) RunCorrection(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	report, err := h.correctionService.RunCorrection(r.Context(), req)
	if err != nil {
		h.handleCorrectionError(w, err, report)
		return
	}

	writeSuccess(w, report)
}

func (h *Handler) RunCorrectionAsync(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	response, err := h.correctionService.RunCorrectionAsync(r.Context(), req)
	if err != nil {
		h.handleCorrectionError(w, err, nil)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"data":    response,
	})
}

func (h *Handler) GetLatestRun(w http.ResponseWriter, r *http.Request) {
	report, err := h.correctionService.GetLatestRun(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		h.handleCorrectionError(w, err, nil)
		return
	}

	writeSuccess(w, report)
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if !utils.ValidateUUID(runID) {
		writeError(w, http.StatusBadRequest, "Invalid run_id")
		return
	}

	report, err := h.correctionService.GetRun(r.Context(), runID)
	if err != nil {
		h.handleCorrectionError(w, err, nil)
		return
	}

	writeSuccess(w, report)
}

func (h *Handler) GetScores(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if !utils.ValidateUUID(runID) {
		writeError(w, http.StatusBadRequest, "Invalid run_id")
		return
	}

	scores, err := h.correctionService.GetScores(r.Context(), runID)
	if err != nil {
		h.handleCorrectionError(w, err, nil)
		return
	}

	writeSuccess(w, scores)
}

// decodeRequest reads the optional JSON body. The project id always comes from
// the path.
func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request) (models.CorrectionRequest, bool) {
	var req models.CorrectionRequest
	if err := utils.ReadJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return req, false
	}
	req.ProjectID = chi.URLParam(r, "project_id")

	if err := models.Validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return req, false
	}
	return req, true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return "Invalid field " + fe.Field() + " (" + fe.Tag() + ")"
	}
	return err.Error()
}

// handleCorrectionError maps service and pipeline errors onto status codes.
// A failed run still carries its report.
func (h *Handler) handleCorrectionError(w http.ResponseWriter, err error, report *models.RunReport) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Int("status", status).Msg("Correction request failed")
	}

	body := map[string]interface{}{
		"error":   http.StatusText(status),
		"message": err.Error(),
	}
	var stageErr *models.StageError
	if errors.As(err, &stageErr) {
		body["kind"] = stageErr.Kind
		body["stage"] = stageErr.Stage
	}
	if report != nil {
		body["data"] = report
	}
	writeJSON(w, status, body)
}

func statusFor(err error) int {
	var stageErr *models.StageError
	switch {
	case errors.Is(err, service.ErrInvalidProjectID):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrProjectNotFound), errors.Is(err, service.ErrRunNotFound),
		errors.Is(err, service.ErrNoStatistics):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, service.ErrQueueUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &stageErr):
		switch stageErr.Kind {
		case models.KindExternalToolFailure:
			return http.StatusBadGateway
		case models.KindInputMissing, models.KindLayoutInvalid,
			models.KindNoUsableArtifacts, models.KindNameResolution:
			return http.StatusUnprocessableEntity
		}
		return http.StatusInternalServerError
	case errors.Is(err, models.ErrInputMissing):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
