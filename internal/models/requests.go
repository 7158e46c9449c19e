package models

import (
	"strings"
	"time"
)

// SubmitJobRequest is the body of POST /api/jobs/submit. WorkerCount
// defaults to 1 when omitted.
type SubmitJobRequest struct {
	TaskDescription string `json:"task_description" validate:"required,min=1,max=4096"`
	WorkerCount     int    `json:"worker_count" validate:"omitempty,min=1,max=1000"`
	Depth           int    `json:"depth" validate:"omitempty,min=0,max=1000"`
	ParentJobID     string `json:"parent_job_id,omitempty"`
	WorkspaceID     string `json:"workspace_id,omitempty"`
}

// AllocateRequest is the body of POST /api/resources/allocate
type AllocateRequest struct {
	JobID       string `json:"job_id" validate:"required"`
	Depth       int    `json:"depth" validate:"min=0"`
	WorkerCount int    `json:"worker_count" validate:"required,min=1"`
}

// ReleaseRequest is the body of POST /api/resources/release
type ReleaseRequest struct {
	JobID string `json:"job_id" validate:"required"`
	Depth int    `json:"depth" validate:"min=0"`
}

// ValidateRecursionRequest is the body of POST /api/v1/recursion/validate.
// MaxDepth and WorkersByDepth are optional; the configured ceiling and
// table apply when absent. MaxDepth is a pointer so an explicit zero
// (no nesting at all) stays distinguishable from an omitted field.
type ValidateRecursionRequest struct {
	CurrentDepth   int         `json:"current_depth"`
	MaxDepth       *int        `json:"max_depth,omitempty"`
	WorkersByDepth map[int]int `json:"workers_by_depth,omitempty"`
}

// LoginRequest is the body of POST /api/auth/login
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries a freshly issued bearer token
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Scopes    []string  `json:"scopes"`
}

// JobResponse is the wire representation of a job. Status is serialized
// uppercase on the wire; storage and logs keep the lowercase form.
type JobResponse struct {
	ID              string                 `json:"id"`
	ParentJobID     string                 `json:"parent_job_id,omitempty"`
	Depth           int                    `json:"depth"`
	WorkerCount     int                    `json:"worker_count"`
	TaskDescription string                 `json:"task_description"`
	Status          string                 `json:"status"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	Error           *string                `json:"error,omitempty"`
	Output          map[string]interface{} `json:"output,omitempty"`
}

// NewJobResponse converts a stored job to its wire form
func NewJobResponse(job *Job) *JobResponse {
	return &JobResponse{
		ID:              job.ID,
		ParentJobID:     job.ParentID,
		Depth:           job.Depth,
		WorkerCount:     job.WorkerCount,
		TaskDescription: job.TaskDescription,
		Status:          strings.ToUpper(string(job.Status)),
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
		Error:           job.Error,
		Output:          job.Output,
	}
}

// QuotaResponse is one row of GET /api/resources/quotas
type QuotaResponse struct {
	Depth      int `json:"depth"`
	MaxWorkers int `json:"max_workers"`
}

// UsageResponse is one row of GET /api/resources/usage
type UsageResponse struct {
	Depth     int `json:"depth"`
	Allocated int `json:"allocated"`
	Available int `json:"available"`
}

// AllocationResponse is the body returned by POST /api/resources/allocate
type AllocationResponse struct {
	JobID     string `json:"job_id"`
	Depth     int    `json:"depth"`
	Requested int    `json:"requested"`
	Granted   int    `json:"granted"`
}

// ReleaseResponse is the body returned by POST /api/resources/release
type ReleaseResponse struct {
	JobID    string `json:"job_id"`
	Depth    int    `json:"depth"`
	Released bool   `json:"released"`
}

// HierarchyResponse is the body of GET /api/v1/recursion/hierarchy
type HierarchyResponse struct {
	Usage      map[int]DepthUsage `json:"usage"`
	ActiveJobs int                `json:"active_jobs"`
}

// ValidateRecursionResponse is the body of POST /api/v1/recursion/validate
type ValidateRecursionResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// ErrorResponse is the uniform non-2xx body shape
type ErrorResponse struct {
	Error  string                 `json:"error"`
	Detail map[string]interface{} `json:"detail,omitempty"`
}
