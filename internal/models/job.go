package models

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusSubmitted JobStatus = "submitted"
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal returns true if the status is a terminal state
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsValid returns true if the status is a known job status
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusSubmitted, JobStatusPending, JobStatusRunning,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

const (
	// MaxTaskDescriptionLength is the upper bound on a submitted task description.
	MaxTaskDescriptionLength = 4096

	// MaxWorkerCount is the upper bound on a job's requested worker count.
	MaxWorkerCount = 1000
)

// Job is a unit of work in the hierarchy. A job either decomposes into child
// jobs one level deeper or executes as a leaf. ParentID is empty for roots.
type Job struct {
	ID              string                 `json:"id"`
	ParentID        string                 `json:"parent_job_id,omitempty" badgerhold:"index"`
	Depth           int                    `json:"depth" badgerhold:"index"`
	TaskDescription string                 `json:"task_description"`
	WorkerCount     int                    `json:"worker_count"`
	WorkspaceID     string                 `json:"workspace_id,omitempty"`
	Status          JobStatus              `json:"status" badgerhold:"index"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	Error           *string                `json:"error,omitempty"`
	Output          map[string]interface{} `json:"output,omitempty"`
}

// Validate checks that the job satisfies its structural invariants
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if len(j.TaskDescription) == 0 {
		return fmt.Errorf("task description is required")
	}
	if utf8.RuneCountInString(j.TaskDescription) > MaxTaskDescriptionLength {
		return fmt.Errorf("task description exceeds %d characters", MaxTaskDescriptionLength)
	}
	if j.Depth < 0 {
		return fmt.Errorf("depth must be non-negative, got %d", j.Depth)
	}
	if j.WorkerCount < 1 || j.WorkerCount > MaxWorkerCount {
		return fmt.Errorf("worker count must be between 1 and %d, got %d", MaxWorkerCount, j.WorkerCount)
	}
	if !j.Status.IsValid() {
		return fmt.Errorf("unknown job status: %s", j.Status)
	}
	if j.Status == JobStatusFailed && j.Error == nil {
		return fmt.Errorf("failed job requires an error reason")
	}
	return nil
}

// IsTerminal returns true if the job is in a terminal state
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Clone returns a deep copy of the job
func (j *Job) Clone() *Job {
	clone := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		clone.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		clone.CompletedAt = &t
	}
	if j.Error != nil {
		e := *j.Error
		clone.Error = &e
	}
	if j.Output != nil {
		clone.Output = make(map[string]interface{}, len(j.Output))
		for k, v := range j.Output {
			clone.Output[k] = v
		}
	}
	return &clone
}

// JobChildStats aggregates the statuses of a job's direct children
type JobChildStats struct {
	Total     int `json:"total"`
	Submitted int `json:"submitted"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Terminal returns the number of children in a terminal state
func (s *JobChildStats) Terminal() int {
	return s.Completed + s.Failed + s.Cancelled
}

// JobListOptions controls filtering and pagination for job listings.
// Depth filters only when non-nil, matching the wire surface where
// depth=0 is a meaningful filter value.
type JobListOptions struct {
	Depth       *int
	Status      JobStatus
	ParentID    string
	HasParent   *bool // nil = no filter, true = children only, false = roots only
	WorkspaceID string
	Limit       int
	Offset      int
}

const (
	// DefaultListLimit applies when no limit is given
	DefaultListLimit = 50
	// MaxListLimit is the upper bound for a single page
	MaxListLimit = 500
)

// Normalize clamps pagination values into their permitted ranges
func (o *JobListOptions) Normalize() error {
	if o.Limit == 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit < 1 || o.Limit > MaxListLimit {
		return fmt.Errorf("limit must be between 1 and %d, got %d", MaxListLimit, o.Limit)
	}
	if o.Offset < 0 {
		return fmt.Errorf("offset must be non-negative, got %d", o.Offset)
	}
	if o.Status != "" && !o.Status.IsValid() {
		return fmt.Errorf("unknown status filter: %s", o.Status)
	}
	return nil
}

// JobTreeNode is one node in a recursive job tree view
type JobTreeNode struct {
	JobID    string         `json:"job_id"`
	Depth    int            `json:"depth"`
	Status   JobStatus      `json:"status"`
	Children []*JobTreeNode `json:"children"`
}

// SchedulerStats holds process-lifetime job counters
type SchedulerStats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}
