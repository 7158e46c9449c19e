package interfaces

import (
	"context"

	"github.com/ternarybob/ramus/internal/models"
)

// LeafExecutor performs the indivisible unit of work for a leaf job.
// Implementations are registered by name and selected by configuration.
type LeafExecutor interface {
	// Execute runs the request to completion or ctx expiry. Errors fail
	// the job with the error text as the recorded reason.
	Execute(ctx context.Context, request string, execCtx models.ExecutionContext) (*models.LeafResult, error)

	// Name returns the registry name of this executor
	Name() string
}
