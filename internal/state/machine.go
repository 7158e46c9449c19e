// -----------------------------------------------------------------------
// State Machines - Lifecycle drivers over the persistent stores
// -----------------------------------------------------------------------

package state

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/interfaces"
	"github.com/ternarybob/ramus/internal/models"
)

// JobMachine drives jobs through their lifecycle. Graph legality, the
// timestamp side effects and the audit row are enforced by the store
// inside one transaction; this layer names the intents.
type JobMachine struct {
	jobs   interfaces.JobStorage
	logger arbor.ILogger
}

// NewJobMachine creates a job state machine over the given store.
func NewJobMachine(jobs interfaces.JobStorage, logger arbor.ILogger) *JobMachine {
	return &JobMachine{
		jobs:   jobs,
		logger: logger,
	}
}

// Start moves a pending job to running. First call stamps started_at;
// the store leaves it untouched on any later transition.
func (m *JobMachine) Start(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := m.jobs.UpdateStatus(ctx, jobID, models.JobStatusRunning, "")
	if err != nil {
		return nil, fmt.Errorf("failed to start job %s: %w", jobID, err)
	}

	m.logger.Debug().
		Str("job_id", jobID).
		Int("depth", job.Depth).
		Msg("Job started")

	return job, nil
}

// Complete stores the output and moves a running job to completed.
func (m *JobMachine) Complete(ctx context.Context, jobID string, output map[string]interface{}) (*models.Job, error) {
	job, err := m.jobs.CompleteJob(ctx, jobID, output)
	if err != nil {
		return nil, fmt.Errorf("failed to complete job %s: %w", jobID, err)
	}

	m.logger.Debug().
		Str("job_id", jobID).
		Msg("Job completed")

	return job, nil
}

// Fail moves a running job to failed. The reason is mandatory and is
// recorded on the job and in the audit trail.
func (m *JobMachine) Fail(ctx context.Context, jobID string, reason string) (*models.Job, error) {
	if reason == "" {
		return nil, models.NewValidationError("a failure reason is required for job %s", jobID)
	}

	job, err := m.jobs.UpdateStatus(ctx, jobID, models.JobStatusFailed, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to mark job %s failed: %w", jobID, err)
	}

	m.logger.Warn().
		Str("job_id", jobID).
		Str("reason", reason).
		Msg("Job failed")

	return job, nil
}

// Cancel moves a pending or running job to cancelled.
func (m *JobMachine) Cancel(ctx context.Context, jobID string, reason string) (*models.Job, error) {
	job, err := m.jobs.UpdateStatus(ctx, jobID, models.JobStatusCancelled, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel job %s: %w", jobID, err)
	}

	m.logger.Debug().
		Str("job_id", jobID).
		Str("reason", reason).
		Msg("Job cancelled")

	return job, nil
}

// WorkerMachine drives workers through their lifecycle.
type WorkerMachine struct {
	workers interfaces.WorkerStorage
	logger  arbor.ILogger
}

// NewWorkerMachine creates a worker state machine over the given store.
func NewWorkerMachine(workers interfaces.WorkerStorage, logger arbor.ILogger) *WorkerMachine {
	return &WorkerMachine{
		workers: workers,
		logger:  logger,
	}
}

// Checkout claims one idle worker in the workspace and moves it to
// running. Returns nil when the pool has no idle worker; callers treat
// that as capacity pressure, not an error.
func (m *WorkerMachine) Checkout(ctx context.Context, workspaceID string) (*models.Worker, error) {
	worker, err := m.workers.ClaimIdle(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim idle worker: %w", err)
	}
	if worker == nil {
		return nil, nil
	}

	m.logger.Debug().
		Str("worker_id", worker.ID).
		Str("workspace_id", workspaceID).
		Msg("Worker checked out")

	return worker, nil
}

// Checkin returns a running worker to idle.
func (m *WorkerMachine) Checkin(ctx context.Context, workerID string) (*models.Worker, error) {
	worker, err := m.workers.UpdateStatus(ctx, workerID, models.WorkerStatusIdle, "")
	if err != nil {
		return nil, fmt.Errorf("failed to check in worker %s: %w", workerID, err)
	}
	return worker, nil
}

// Pause suspends a running worker.
func (m *WorkerMachine) Pause(ctx context.Context, workerID string) (*models.Worker, error) {
	worker, err := m.workers.UpdateStatus(ctx, workerID, models.WorkerStatusPaused, "")
	if err != nil {
		return nil, fmt.Errorf("failed to pause worker %s: %w", workerID, err)
	}
	return worker, nil
}

// Resume returns a paused worker to running.
func (m *WorkerMachine) Resume(ctx context.Context, workerID string) (*models.Worker, error) {
	worker, err := m.workers.UpdateStatus(ctx, workerID, models.WorkerStatusRunning, "")
	if err != nil {
		return nil, fmt.Errorf("failed to resume worker %s: %w", workerID, err)
	}
	return worker, nil
}

// Complete retires a running worker as completed.
func (m *WorkerMachine) Complete(ctx context.Context, workerID string) (*models.Worker, error) {
	worker, err := m.workers.UpdateStatus(ctx, workerID, models.WorkerStatusCompleted, "")
	if err != nil {
		return nil, fmt.Errorf("failed to complete worker %s: %w", workerID, err)
	}
	return worker, nil
}

// Fail retires a running worker as failed. The reason is mandatory.
func (m *WorkerMachine) Fail(ctx context.Context, workerID string, reason string) (*models.Worker, error) {
	if reason == "" {
		return nil, models.NewValidationError("a failure reason is required for worker %s", workerID)
	}

	worker, err := m.workers.UpdateStatus(ctx, workerID, models.WorkerStatusFailed, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to mark worker %s failed: %w", workerID, err)
	}

	m.logger.Warn().
		Str("worker_id", workerID).
		Str("reason", reason).
		Msg("Worker failed")

	return worker, nil
}

// Terminate forcibly retires a worker from any non-terminal state.
func (m *WorkerMachine) Terminate(ctx context.Context, workerID string, reason string) (*models.Worker, error) {
	worker, err := m.workers.UpdateStatus(ctx, workerID, models.WorkerStatusTerminated, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to terminate worker %s: %w", workerID, err)
	}

	m.logger.Debug().
		Str("worker_id", workerID).
		Str("reason", reason).
		Msg("Worker terminated")

	return worker, nil
}
