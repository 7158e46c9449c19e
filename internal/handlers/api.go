package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/common"
	"github.com/ternarybob/ramus/internal/interfaces"
)

// APIHandler serves the unauthenticated system endpoints.
type APIHandler struct {
	scheduler interfaces.SchedulerService
	store     interfaces.StorageManager
	started   time.Time
	logger    arbor.ILogger
}

func NewAPIHandler(scheduler interfaces.SchedulerService, store interfaces.StorageManager) *APIHandler {
	return &APIHandler{
		scheduler: scheduler,
		store:     store,
		started:   time.Now(),
		logger:    common.GetLogger(),
	}
}

// VersionHandler returns build identification
// GET /api/version
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.GetVersion(),
		"build":      common.GetBuild(),
		"git_commit": common.GetGitCommit(),
		"go_runtime": common.Runtime(),
	})
}

// HealthHandler reports liveness plus storage reachability. A failed
// storage probe degrades the status and returns 503.
// GET /api/health
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	status := "ok"
	code := http.StatusOK
	active, err := h.store.JobStorage().CountActiveJobs(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("Health probe could not reach storage")
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	WriteJSON(w, code, map[string]interface{}{
		"status":         status,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"active_jobs":    active,
		"in_flight":      h.scheduler.ActiveJobs(),
	})
}

// NotFoundHandler handles unmatched routes with the uniform error body
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error": "not found",
		"detail": map[string]interface{}{
			"path": r.URL.Path,
		},
	})
}
