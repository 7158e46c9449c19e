// -----------------------------------------------------------------------
// Job Handler - Submit, inspect, and cancel hierarchical jobs
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/interfaces"
	"github.com/ternarybob/ramus/internal/models"
)

// JobHandler serves the job surface. Reads go straight to storage;
// anything that changes a job's lifecycle goes through the scheduler.
type JobHandler struct {
	scheduler interfaces.SchedulerService
	storage   interfaces.StorageManager
	logger    arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(scheduler interfaces.SchedulerService, storage interfaces.StorageManager, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		scheduler: scheduler,
		storage:   storage,
		logger:    logger,
	}
}

// SubmitJobHandler accepts a new root or child job
// POST /api/jobs/submit
func (h *JobHandler) SubmitJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	ctx := r.Context()

	var req models.SubmitJobRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteDomainError(w, err)
		return
	}

	job, err := h.scheduler.Submit(ctx, &req)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Job submission rejected")
		WriteDomainError(w, err)
		return
	}

	h.logger.Info().
		Str("job_id", job.ID).
		Int("depth", job.Depth).
		Msg("Job submitted")
	WriteJSON(w, http.StatusCreated, models.NewJobResponse(job))
}

// GetJobHandler returns one job by id
// GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	jobID := jobIDFromPath(r)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job id is required")
		return
	}

	job, err := h.storage.JobStorage().GetJob(r.Context(), jobID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, models.NewJobResponse(job))
}

// CancelJobHandler requests cooperative cancellation of a job subtree.
// Cancelling a job that already reached a terminal state is a 400.
// POST /api/jobs/{id}/cancel
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	ctx := r.Context()
	jobID := jobIDFromPath(r)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job id is required")
		return
	}

	interrupted, err := h.scheduler.Cancel(ctx, jobID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	job, err := h.storage.JobStorage().GetJob(ctx, jobID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	if !interrupted {
		WriteDomainError(w, &models.StateTransitionError{
			EntityID: jobID,
			From:     string(job.Status),
			To:       string(models.JobStatusCancelled),
		})
		return
	}

	h.logger.Info().Str("job_id", jobID).Msg("Job cancelled")
	WriteJSON(w, http.StatusOK, models.NewJobResponse(job))
}

// ListJobsHandler returns jobs matching the query filters
// GET /api/jobs?depth=&status=&parent_job_id=&limit=50&offset=0
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	ctx := r.Context()
	query := r.URL.Query()

	opts := models.JobListOptions{
		Status:      models.JobStatus(strings.ToLower(query.Get("status"))),
		ParentID:    query.Get("parent_job_id"),
		WorkspaceID: query.Get("workspace_id"),
	}

	if raw := query.Get("depth"); raw != "" {
		depth, err := QueryInt(r, "depth", 0)
		if err != nil {
			WriteDomainError(w, err)
			return
		}
		opts.Depth = &depth
	}

	var err error
	if opts.Limit, err = QueryInt(r, "limit", models.DefaultListLimit); err != nil {
		WriteDomainError(w, err)
		return
	}
	if opts.Offset, err = QueryInt(r, "offset", 0); err != nil {
		WriteDomainError(w, err)
		return
	}

	jobs, err := h.storage.JobStorage().ListJobs(ctx, opts)
	if err != nil {
		if !models.IsValidationError(err) {
			h.logger.Error().Err(err).Msg("Failed to list jobs")
		}
		WriteDomainError(w, err)
		return
	}

	responses := make([]*models.JobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, models.NewJobResponse(job))
	}
	WriteJSON(w, http.StatusOK, responses)
}

// GetJobTreeHandler returns the recursive status view rooted at a job
// GET /api/jobs/{id}/tree
func (h *JobHandler) GetJobTreeHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	jobID := jobIDFromPath(r)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job id is required")
		return
	}

	tree, err := h.scheduler.Tree(r.Context(), jobID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, tree)
}

// GetJobHistoryHandler returns the transition audit trail for a job,
// newest first
// GET /api/jobs/{id}/history?limit=50
func (h *JobHandler) GetJobHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	ctx := r.Context()
	jobID := jobIDFromPath(r)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job id is required")
		return
	}

	limit, err := QueryInt(r, "limit", models.DefaultListLimit)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if limit < 1 || limit > models.MaxListLimit {
		WriteDomainError(w, models.NewValidationError("limit must be between 1 and %d", models.MaxListLimit))
		return
	}

	// The audit trail outlives nothing: an unknown id means the job never
	// existed, not that its rows were purged.
	if _, err := h.storage.JobStorage().GetJob(ctx, jobID); err != nil {
		WriteDomainError(w, err)
		return
	}

	rows, err := h.storage.TransitionStorage().History(ctx, models.EntityTypeJob, jobID, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to load job history")
		WriteDomainError(w, err)
		return
	}
	if rows == nil {
		rows = []*models.StateTransition{}
	}
	WriteJSON(w, http.StatusOK, rows)
}

// jobIDFromPath extracts the job id from /api/jobs/{id}[/suffix]
func jobIDFromPath(r *http.Request) string {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}
