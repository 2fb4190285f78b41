package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/avermeer/circlesift/internal/scan"
)

// ScanHandler exposes the scan job control surface consumed by the
// dashboard and CLI
type ScanHandler struct {
	manager       *scan.Manager
	defaultTarget string
	logger        arbor.ILogger
}

func NewScanHandler(manager *scan.Manager, defaultTarget string, logger arbor.ILogger) *ScanHandler {
	return &ScanHandler{
		manager:       manager,
		defaultTarget: defaultTarget,
		logger:        logger,
	}
}

type triggerRequest struct {
	Target string `json:"target"`
}

// TriggerHandler handles POST /api/scan. A missing target falls back to the
// configured default. Responds 202 with the new job, 409 with the existing
// job ID when a scan is already running for the target, 400 when no target
// is available.
func (h *ScanHandler) TriggerHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req triggerRequest
	if r.Body != nil {
		// an empty body is fine, the default target applies
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Target == "" {
		req.Target = h.defaultTarget
	}

	jobID, err := h.manager.Start(req.Target)
	if err != nil {
		var conflict *scan.ConflictError
		switch {
		case errors.As(err, &conflict):
			WriteJSON(w, http.StatusConflict, map[string]string{
				"status": "error",
				"error":  conflict.Error(),
				"job_id": conflict.JobID,
			})
		case errors.Is(err, scan.ErrInvalidTarget):
			WriteError(w, http.StatusBadRequest, "target is required")
		default:
			h.logger.Error().Err(err).Msg("Failed to start scan")
			WriteError(w, http.StatusInternalServerError, "failed to start scan")
		}
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": "running",
	})
}

// StatusHandler handles GET /api/scan/{job_id}/status with a Job snapshot
func (h *ScanHandler) StatusHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	job, err := h.manager.Status(jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "scan job not found")
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// ProgressHandler handles GET /api/scan/{job_id}/progress with the Job
// snapshot plus the latest progress event for richer stage detail
func (h *ScanHandler) ProgressHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	job, err := h.manager.Status(jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "scan job not found")
		return
	}

	response := map[string]interface{}{
		"job": job,
	}
	if event, ok := h.manager.LastEvent(jobID); ok {
		response["last_event"] = event
	}

	WriteJSON(w, http.StatusOK, response)
}

// CancelHandler handles DELETE /api/scan/{job_id}. Cancellation is
// cooperative: the job transitions to cancelled at its next step boundary.
func (h *ScanHandler) CancelHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	switch err := h.manager.Cancel(jobID); {
	case err == nil:
		WriteSuccess(w, "cancellation requested")
	case errors.Is(err, scan.ErrNotFound):
		WriteError(w, http.StatusNotFound, "scan job not found")
	case errors.Is(err, scan.ErrAlreadyTerminal):
		WriteError(w, http.StatusConflict, "scan job already finished")
	default:
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to cancel scan")
		WriteError(w, http.StatusInternalServerError, "failed to cancel scan")
	}
}
