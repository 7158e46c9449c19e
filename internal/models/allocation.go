package models

import (
	"fmt"
	"time"
)

// Allocation reserves granted worker slots at a depth for one job.
// At most one active allocation exists per (job_id, depth) pair; rows are
// deleted on release, never soft-deleted.
type Allocation struct {
	JobID     string    `json:"job_id" badgerhold:"index"`
	Depth     int       `json:"depth" badgerhold:"index"`
	Requested int       `json:"requested"`
	Granted   int       `json:"granted"`
	CreatedAt time.Time `json:"created_at"`
}

// Key returns the storage key enforcing (job_id, depth) uniqueness
func (a *Allocation) Key() string {
	return AllocationKey(a.JobID, a.Depth)
}

// AllocationKey builds the unique storage key for a (job_id, depth) pair
func AllocationKey(jobID string, depth int) string {
	return fmt.Sprintf("%s:%d", jobID, depth)
}

// DepthUsage is the derived usage view for one depth level
type DepthUsage struct {
	Used   int  `json:"used"`
	Quota  int  `json:"quota"`
	Warn80 bool `json:"warn_80"`
	Warn90 bool `json:"warn_90"`
}
