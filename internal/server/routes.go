package server

import (
	"net/http"
	"strings"

	"github.com/ternarybob/ramus/internal/models"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route - live event stream for supervisors
	mux.HandleFunc("/ws", s.requireScope(models.ScopeSupervisorRead, s.app.WSHandler.HandleWebSocket))

	// API routes - Authentication
	mux.HandleFunc("/api/auth/login", s.app.AuthHandler.LoginHandler) // POST - exchange credentials for a bearer token

	// API routes - Jobs
	mux.HandleFunc("/api/jobs/submit", s.requireScope(models.ScopeJobsWrite, s.idempotent(s.app.JobHandler.SubmitJobHandler)))
	mux.HandleFunc("/api/jobs", s.requireScope(models.ScopeJobsRead, s.app.JobHandler.ListJobsHandler))
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes) // Handles /api/jobs/{id} and subpaths

	// API routes - Resources (depth-scoped worker quotas)
	mux.HandleFunc("/api/resources/quotas", s.requireScope(models.ScopeResourcesRead, s.app.ResourceHandler.GetQuotasHandler))
	mux.HandleFunc("/api/resources/usage", s.requireScope(models.ScopeResourcesRead, s.app.ResourceHandler.GetUsageHandler))
	mux.HandleFunc("/api/resources/allocate", s.requireScope(models.ScopeResourcesWrite, s.idempotent(s.app.ResourceHandler.AllocateHandler)))
	mux.HandleFunc("/api/resources/release", s.requireScope(models.ScopeResourcesWrite, s.idempotent(s.app.ResourceHandler.ReleaseHandler)))

	// API routes - Recursion supervision
	mux.HandleFunc("/api/v1/recursion/hierarchy", s.requireScope(models.ScopeSupervisorRead, s.app.RecursionHandler.GetHierarchyHandler))
	mux.HandleFunc("/api/v1/recursion/stats", s.requireScope(models.ScopeSupervisorRead, s.app.RecursionHandler.GetStatsHandler))
	mux.HandleFunc("/api/v1/recursion/validate", s.requireScope(models.ScopeSupervisorRead, s.app.RecursionHandler.ValidateHandler))

	// API routes - Worker pool
	mux.HandleFunc("/api/workers", s.requireScope(models.ScopeSupervisorRead, s.app.WorkerHandler.ListWorkersHandler))
	mux.HandleFunc("/api/workers/", s.handleWorkerRoutes) // Handles /api/workers/{id}/pause|resume|terminate

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobRoutes routes /api/jobs/{id} requests and subpaths
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// POST /api/jobs/{id}/cancel
	if r.Method == "POST" && strings.HasSuffix(path, "/cancel") {
		s.requireScope(models.ScopeJobsWrite, s.idempotent(s.app.JobHandler.CancelJobHandler))(w, r)
		return
	}

	// GET /api/jobs/{id}/tree
	if r.Method == "GET" && strings.HasSuffix(path, "/tree") {
		s.requireScope(models.ScopeJobsRead, s.app.JobHandler.GetJobTreeHandler)(w, r)
		return
	}

	// GET /api/jobs/{id}/history
	if r.Method == "GET" && strings.HasSuffix(path, "/history") {
		s.requireScope(models.ScopeJobsRead, s.app.JobHandler.GetJobHistoryHandler)(w, r)
		return
	}

	// GET /api/jobs/{id}
	if r.Method == "GET" && len(path) > len("/api/jobs/") {
		s.requireScope(models.ScopeJobsRead, s.app.JobHandler.GetJobHandler)(w, r)
		return
	}

	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

// handleWorkerRoutes routes /api/workers/{id} lifecycle actions
func (s *Server) handleWorkerRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// POST /api/workers/{id}/pause
	if r.Method == "POST" && strings.HasSuffix(path, "/pause") {
		s.requireScope(models.ScopeSupervisorWrite, s.idempotent(s.app.WorkerHandler.PauseWorkerHandler))(w, r)
		return
	}

	// POST /api/workers/{id}/resume
	if r.Method == "POST" && strings.HasSuffix(path, "/resume") {
		s.requireScope(models.ScopeSupervisorWrite, s.idempotent(s.app.WorkerHandler.ResumeWorkerHandler))(w, r)
		return
	}

	// POST /api/workers/{id}/terminate
	if r.Method == "POST" && strings.HasSuffix(path, "/terminate") {
		s.requireScope(models.ScopeSupervisorWrite, s.idempotent(s.app.WorkerHandler.TerminateWorkerHandler))(w, r)
		return
	}

	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}
