// -----------------------------------------------------------------------
// Worker Handler - Supervisor control over the worker pool
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/interfaces"
	"github.com/ternarybob/ramus/internal/models"
)

// WorkerHandler exposes worker pool inspection and lifecycle control
type WorkerHandler struct {
	workers interfaces.WorkerService
	logger  arbor.ILogger
}

// NewWorkerHandler creates a new worker handler
func NewWorkerHandler(workers interfaces.WorkerService, logger arbor.ILogger) *WorkerHandler {
	return &WorkerHandler{
		workers: workers,
		logger:  logger,
	}
}

// ListWorkersHandler returns workers matching the query filters
// GET /api/workers?workspace_id=&status=
func (h *WorkerHandler) ListWorkersHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	query := r.URL.Query()

	status := models.WorkerStatus(strings.ToLower(query.Get("status")))
	workers, err := h.workers.List(r.Context(), query.Get("workspace_id"), status)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if workers == nil {
		workers = []*models.Worker{}
	}
	WriteJSON(w, http.StatusOK, workers)
}

// PauseWorkerHandler pauses a running worker
// POST /api/workers/{id}/pause
func (h *WorkerHandler) PauseWorkerHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	workerID := workerIDFromPath(r)
	if workerID == "" {
		WriteError(w, http.StatusBadRequest, "worker id is required")
		return
	}

	worker, err := h.workers.Pause(r.Context(), workerID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	h.logger.Info().Str("worker_id", workerID).Msg("Worker paused")
	WriteJSON(w, http.StatusOK, worker)
}

// ResumeWorkerHandler resumes a paused worker
// POST /api/workers/{id}/resume
func (h *WorkerHandler) ResumeWorkerHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	workerID := workerIDFromPath(r)
	if workerID == "" {
		WriteError(w, http.StatusBadRequest, "worker id is required")
		return
	}

	worker, err := h.workers.Resume(r.Context(), workerID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	h.logger.Info().Str("worker_id", workerID).Msg("Worker resumed")
	WriteJSON(w, http.StatusOK, worker)
}

// TerminateWorkerHandler retires a worker permanently. An optional body
// {reason} overrides the recorded audit reason.
// POST /api/workers/{id}/terminate
func (h *WorkerHandler) TerminateWorkerHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	workerID := workerIDFromPath(r)
	if workerID == "" {
		WriteError(w, http.StatusBadRequest, "worker id is required")
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		WriteDomainError(w, models.NewValidationError("invalid request body: %s", err.Error()))
		return
	}
	if body.Reason == "" {
		body.Reason = "terminated by operator"
	}

	worker, err := h.workers.Terminate(r.Context(), workerID, body.Reason)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	h.logger.Info().
		Str("worker_id", workerID).
		Str("reason", body.Reason).
		Msg("Worker terminated")
	WriteJSON(w, http.StatusOK, worker)
}

// workerIDFromPath extracts the worker id from /api/workers/{id}[/action]
func workerIDFromPath(r *http.Request) string {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}
