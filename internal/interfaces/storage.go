// -----------------------------------------------------------------------
// Last Modified: Tuesday, 10th February 2026 4:41:18 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/ramus/internal/models"
)

// JobStorage - transactional persistence for jobs and their audit trail
type JobStorage interface {
	// CreateJob inserts the job in state submitted and records the
	// submitted -> pending transition in the same transaction. The job is
	// returned to the caller in state pending.
	CreateJob(ctx context.Context, job *models.Job) error

	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, opts models.JobListOptions) ([]*models.Job, error)
	CountActiveJobs(ctx context.Context) (int, error)
	GetChildStats(ctx context.Context, parentID string) (*models.JobChildStats, error)

	// UpdateStatus applies a graph-checked transition, its timestamp side
	// effects, and the audit row in one transaction.
	UpdateStatus(ctx context.Context, id string, to models.JobStatus, reason string) (*models.Job, error)

	// CompleteJob stores the output and applies the running -> completed
	// transition in one transaction.
	CompleteJob(ctx context.Context, id string, output map[string]interface{}) (*models.Job, error)

	// MarkInterrupted forces every non-terminal job to failed with reason
	// "restart". Used once at startup; bypasses graph legality because a
	// crashed process left these rows mid-flight.
	MarkInterrupted(ctx context.Context) (int, error)
}

// WorkerStorage - persistence for worker pool membership and state
type WorkerStorage interface {
	CreateWorker(ctx context.Context, worker *models.Worker) error
	GetWorker(ctx context.Context, id string) (*models.Worker, error)
	ListWorkers(ctx context.Context, workspaceID string, status models.WorkerStatus) ([]*models.Worker, error)
	UpdateStatus(ctx context.Context, id string, to models.WorkerStatus, reason string) (*models.Worker, error)

	// ClaimIdle atomically moves one idle worker in the workspace to
	// running and returns it. Returns nil without error when none is idle.
	ClaimIdle(ctx context.Context, workspaceID string) (*models.Worker, error)
}

// AllocationStorage - persistent shadow of the resource manager's counters
type AllocationStorage interface {
	// CreateAllocation inserts the row; a second active row for the same
	// (job_id, depth) pair fails with an AllocationError.
	CreateAllocation(ctx context.Context, alloc *models.Allocation) error
	GetAllocation(ctx context.Context, jobID string, depth int) (*models.Allocation, error)
	DeleteAllocation(ctx context.Context, jobID string, depth int) (bool, error)
	// DeleteAllocationsByJob removes every row for the job and returns the
	// sum of granted slots released.
	DeleteAllocationsByJob(ctx context.Context, jobID string) (int, error)
	ListAllocations(ctx context.Context) ([]*models.Allocation, error)
	DeleteAllAllocations(ctx context.Context) (int, error)
}

// TransitionStorage - read access to the append-only audit trail
type TransitionStorage interface {
	History(ctx context.Context, entityType models.EntityType, entityID string, limit int) ([]*models.StateTransition, error)
	CountTransitions(ctx context.Context, entityType models.EntityType, entityID string) (int, error)
}

// IdempotencyStorage - claim-once records for mutating HTTP requests
type IdempotencyStorage interface {
	// Claim registers the key if unseen. fresh is true when this caller
	// owns the key; otherwise the existing record is returned.
	Claim(ctx context.Context, key, fingerprint string) (record *models.IdempotencyRecord, fresh bool, err error)
	Complete(ctx context.Context, key string, status int, contentType string, body []byte) error
	DeleteExpired(ctx context.Context, olderThan time.Time) (int, error)
}

// UserStorage - account persistence
type UserStorage interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// TokenStorage - bearer token persistence
type TokenStorage interface {
	CreateToken(ctx context.Context, token *models.Token) error
	GetToken(ctx context.Context, id string) (*models.Token, error)
	DeleteToken(ctx context.Context, id string) error
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int, error)
}

// StorageManager provides access to all storage implementations
type StorageManager interface {
	JobStorage() JobStorage
	WorkerStorage() WorkerStorage
	AllocationStorage() AllocationStorage
	TransitionStorage() TransitionStorage
	IdempotencyStorage() IdempotencyStorage
	UserStorage() UserStorage
	TokenStorage() TokenStorage
	Close() error
}
