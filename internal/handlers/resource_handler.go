// -----------------------------------------------------------------------
// Resource Handler - Depth-scoped worker quota surface
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/interfaces"
	"github.com/ternarybob/ramus/internal/models"
)

// ResourceHandler exposes the quota bookkeeper over HTTP
type ResourceHandler struct {
	resources interfaces.ResourceService
	logger    arbor.ILogger
}

// NewResourceHandler creates a new resource handler
func NewResourceHandler(resources interfaces.ResourceService, logger arbor.ILogger) *ResourceHandler {
	return &ResourceHandler{
		resources: resources,
		logger:    logger,
	}
}

// GetQuotasHandler returns the configured per-depth worker quotas
// GET /api/resources/quotas
func (h *ResourceHandler) GetQuotasHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	quotas := h.resources.Quotas()
	rows := make([]models.QuotaResponse, 0, len(quotas))
	for depth, max := range quotas {
		rows = append(rows, models.QuotaResponse{Depth: depth, MaxWorkers: max})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Depth < rows[j].Depth })

	WriteJSON(w, http.StatusOK, rows)
}

// AllocateHandler reserves worker slots at a depth for a job
// POST /api/resources/allocate
func (h *ResourceHandler) AllocateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	ctx := r.Context()

	var req models.AllocateRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteDomainError(w, err)
		return
	}

	alloc, err := h.resources.Allocate(ctx, req.JobID, req.Depth, req.WorkerCount)
	if err != nil {
		if models.IsAllocationError(err) {
			h.logger.Debug().
				Str("job_id", req.JobID).
				Int("depth", req.Depth).
				Msg("Allocation refused")
		}
		WriteDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, &models.AllocationResponse{
		JobID:     alloc.JobID,
		Depth:     alloc.Depth,
		Requested: alloc.Requested,
		Granted:   alloc.Granted,
	})
}

// ReleaseHandler returns a job's slots at a depth to the pool. Releasing
// an allocation that does not exist reports released=false rather than
// an error.
// POST /api/resources/release
func (h *ResourceHandler) ReleaseHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	ctx := r.Context()

	var req models.ReleaseRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteDomainError(w, err)
		return
	}

	released := h.resources.Release(ctx, req.JobID, req.Depth)
	WriteJSON(w, http.StatusOK, &models.ReleaseResponse{
		JobID:    req.JobID,
		Depth:    req.Depth,
		Released: released,
	})
}

// GetUsageHandler returns current allocation pressure per depth
// GET /api/resources/usage
func (h *ResourceHandler) GetUsageHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	usage := h.resources.Usage()
	rows := make([]models.UsageResponse, 0, len(usage))
	for depth, u := range usage {
		rows = append(rows, models.UsageResponse{
			Depth:     depth,
			Allocated: u.Used,
			Available: u.Quota - u.Used,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Depth < rows[j].Depth })

	WriteJSON(w, http.StatusOK, rows)
}
