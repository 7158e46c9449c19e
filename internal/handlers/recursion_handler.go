// -----------------------------------------------------------------------
// Recursion Handler - Supervisor views over the job hierarchy
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/interfaces"
	"github.com/ternarybob/ramus/internal/models"
	"github.com/ternarybob/ramus/internal/recursion"
)

// RecursionHandler answers hierarchy-wide questions: current usage,
// lifetime counters, and what-if depth checks.
type RecursionHandler struct {
	scheduler interfaces.SchedulerService
	resources interfaces.ResourceService
	validator *recursion.Validator
	logger    arbor.ILogger
}

// NewRecursionHandler creates a new recursion handler
func NewRecursionHandler(scheduler interfaces.SchedulerService, resources interfaces.ResourceService, validator *recursion.Validator, logger arbor.ILogger) *RecursionHandler {
	return &RecursionHandler{
		scheduler: scheduler,
		resources: resources,
		validator: validator,
		logger:    logger,
	}
}

// GetHierarchyHandler returns per-depth usage plus the in-flight job count
// GET /api/v1/recursion/hierarchy
func (h *RecursionHandler) GetHierarchyHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, &models.HierarchyResponse{
		Usage:      h.resources.Usage(),
		ActiveJobs: h.scheduler.ActiveJobs(),
	})
}

// GetStatsHandler returns process-lifetime job outcome counters
// GET /api/v1/recursion/stats
func (h *RecursionHandler) GetStatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, h.scheduler.Stats())
}

// ValidateHandler answers whether a job at the given depth could spawn
// children under a proposed configuration. Pure check, no side effects.
// POST /api/v1/recursion/validate
func (h *RecursionHandler) ValidateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req models.ValidateRecursionRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteDomainError(w, err)
		return
	}

	// An absent max_depth means "use the configured ceiling"; an explicit
	// negative one is the caller's mistake and fails the check.
	maxDepth := h.validator.MaxDepth()
	if req.MaxDepth != nil {
		maxDepth = *req.MaxDepth
	}

	result := h.validator.ValidateDepthWith(req.CurrentDepth, maxDepth, req.WorkersByDepth)
	WriteJSON(w, http.StatusOK, &models.ValidateRecursionResponse{
		Valid:  result.IsValid,
		Reason: result.ErrorMessage,
	})
}
