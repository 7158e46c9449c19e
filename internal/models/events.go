package models

import "time"

// JobStatusChangeEvent is the payload published on every job transition
type JobStatusChangeEvent struct {
	JobID    string    `json:"job_id"`
	ParentID string    `json:"parent_job_id,omitempty"`
	Depth    int       `json:"depth"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// WorkerStatusChangeEvent is the payload published on worker transitions
type WorkerStatusChangeEvent struct {
	WorkerID    string    `json:"worker_id"`
	WorkspaceID string    `json:"workspace_id"`
	Status      string    `json:"status"`
	At          time.Time `json:"at"`
}

// UsageSnapshotEvent carries the periodic resource pressure broadcast
type UsageSnapshotEvent struct {
	Usage      map[int]DepthUsage `json:"usage"`
	ActiveJobs int                `json:"active_jobs"`
	At         time.Time          `json:"at"`
}
