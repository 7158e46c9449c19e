package interfaces

import (
	"context"

	"github.com/ternarybob/ramus/internal/models"
)

// SchedulerService drives the hierarchical job lifecycle
type SchedulerService interface {
	// Submit validates and persists a job, starts its task, and returns
	// the pending snapshot.
	Submit(ctx context.Context, req *models.SubmitJobRequest) (*models.Job, error)

	// Cancel requests cooperative cancellation of a job and its subtree.
	// Returns true iff a live task was interrupted; false when the job is
	// already terminal or unknown to the scheduler.
	Cancel(ctx context.Context, jobID string) (bool, error)

	// Tree returns the recursive status view rooted at jobID
	Tree(ctx context.Context, jobID string) (*models.JobTreeNode, error)

	// Stats returns process-lifetime counters
	Stats() models.SchedulerStats

	// ActiveJobs returns the number of tasks currently in flight
	ActiveJobs() int

	// Stop cancels all tasks and waits for them to drain
	Stop()
}

// ResourceService is the depth-scoped worker quota bookkeeper
type ResourceService interface {
	Allocate(ctx context.Context, jobID string, depth, requested int) (*models.Allocation, error)
	Release(ctx context.Context, jobID string, depth int) bool
	Cleanup(ctx context.Context, jobID string) int
	Usage() map[int]models.DepthUsage
	Quotas() map[int]int

	// WithResources allocates, runs fn with the granted count, and
	// releases on every exit path.
	WithResources(ctx context.Context, jobID string, depth, requested int, fn func(granted int) error) error
}

// AuthService issues and verifies bearer tokens
type AuthService interface {
	CreateUser(ctx context.Context, username, password string, scopes []string) (*models.User, error)
	Authenticate(ctx context.Context, username, password string) (*models.Token, error)
	VerifyToken(ctx context.Context, raw string) (*models.TokenClaims, error)
	EnsureBootstrapUser(ctx context.Context) error
}

// WorkerService manages the worker pool and its state machine
type WorkerService interface {
	Provision(ctx context.Context) error
	List(ctx context.Context, workspaceID string, status models.WorkerStatus) ([]*models.Worker, error)
	Checkout(ctx context.Context, workspaceID string) (*models.Worker, error)
	Checkin(ctx context.Context, workerID string) error
	Pause(ctx context.Context, workerID string) (*models.Worker, error)
	Resume(ctx context.Context, workerID string) (*models.Worker, error)
	Terminate(ctx context.Context, workerID string, reason string) (*models.Worker, error)
}
