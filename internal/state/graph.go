// -----------------------------------------------------------------------
// State Graphs - Legal lifecycle transitions for jobs and workers
// -----------------------------------------------------------------------

package state

import (
	"github.com/ternarybob/ramus/internal/models"
)

// jobTransitions is the job lifecycle graph. Terminal states have no
// outgoing edges; there is no way back from completed, failed or
// cancelled.
var jobTransitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusSubmitted: {models.JobStatusPending},
	models.JobStatusPending:   {models.JobStatusRunning, models.JobStatusCancelled},
	models.JobStatusRunning:   {models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled},
	models.JobStatusCompleted: {},
	models.JobStatusFailed:    {},
	models.JobStatusCancelled: {},
}

// workerTransitions is the worker lifecycle graph. A worker shuttles
// between idle and running as jobs claim and release it; terminated is
// reachable from every non-terminal state.
var workerTransitions = map[models.WorkerStatus][]models.WorkerStatus{
	models.WorkerStatusIdle:       {models.WorkerStatusRunning, models.WorkerStatusTerminated},
	models.WorkerStatusRunning:    {models.WorkerStatusIdle, models.WorkerStatusPaused, models.WorkerStatusCompleted, models.WorkerStatusFailed, models.WorkerStatusTerminated},
	models.WorkerStatusPaused:     {models.WorkerStatusRunning, models.WorkerStatusTerminated},
	models.WorkerStatusCompleted:  {},
	models.WorkerStatusFailed:     {},
	models.WorkerStatusTerminated: {},
}

// CanJobTransition reports whether the job graph has an edge from -> to.
func CanJobTransition(from, to models.JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanWorkerTransition reports whether the worker graph has an edge
// from -> to.
func CanWorkerTransition(from, to models.WorkerStatus) bool {
	for _, next := range workerTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// JobSuccessors returns the states reachable from the given job state in
// one step. The returned slice is a copy.
func JobSuccessors(from models.JobStatus) []models.JobStatus {
	succ := jobTransitions[from]
	out := make([]models.JobStatus, len(succ))
	copy(out, succ)
	return out
}

// WorkerSuccessors returns the states reachable from the given worker
// state in one step. The returned slice is a copy.
func WorkerSuccessors(from models.WorkerStatus) []models.WorkerStatus {
	succ := workerTransitions[from]
	out := make([]models.WorkerStatus, len(succ))
	copy(out, succ)
	return out
}
