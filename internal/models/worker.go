package models

import (
	"fmt"
	"time"
)

// WorkerStatus represents the lifecycle state of a worker
type WorkerStatus string

const (
	WorkerStatusIdle       WorkerStatus = "idle"
	WorkerStatusRunning    WorkerStatus = "running"
	WorkerStatusPaused     WorkerStatus = "paused"
	WorkerStatusCompleted  WorkerStatus = "completed"
	WorkerStatusFailed     WorkerStatus = "failed"
	WorkerStatusTerminated WorkerStatus = "terminated"
)

// IsTerminal returns true if the status is a terminal state
func (s WorkerStatus) IsTerminal() bool {
	return s == WorkerStatusCompleted || s == WorkerStatusFailed || s == WorkerStatusTerminated
}

// IsValid returns true if the status is a known worker status
func (s WorkerStatus) IsValid() bool {
	switch s {
	case WorkerStatusIdle, WorkerStatusRunning, WorkerStatusPaused,
		WorkerStatusCompleted, WorkerStatusFailed, WorkerStatusTerminated:
		return true
	}
	return false
}

// Worker is an execution slot tracked independently of jobs. Jobs claim
// worker capacity through allocations; a worker is owned by at most one
// job at a time while running.
type Worker struct {
	ID          string       `json:"id"`
	WorkspaceID string       `json:"workspace_id" badgerhold:"index"`
	Status      WorkerStatus `json:"status" badgerhold:"index"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Validate checks required worker fields
func (w *Worker) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("worker ID is required")
	}
	if w.WorkspaceID == "" {
		return fmt.Errorf("workspace ID is required")
	}
	if !w.Status.IsValid() {
		return fmt.Errorf("unknown worker status: %s", w.Status)
	}
	return nil
}
