package executors

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/interfaces"
	"github.com/ternarybob/ramus/internal/models"
)

// EchoExecutor is the deterministic default executor. It completes
// immediately with a summary derived from the request text, which keeps
// the orchestration path fully testable without external services.
type EchoExecutor struct {
	logger arbor.ILogger
}

var _ interfaces.LeafExecutor = (*EchoExecutor)(nil)

// NewEchoExecutor creates the deterministic echo executor
func NewEchoExecutor(logger arbor.ILogger) *EchoExecutor {
	return &EchoExecutor{logger: logger}
}

// Name returns the registry name of this executor
func (e *EchoExecutor) Name() string {
	return "echo"
}

// Execute summarizes the request without doing external work. It still
// honors ctx so cancelled leaves unwind like any other executor.
func (e *EchoExecutor) Execute(ctx context.Context, request string, execCtx models.ExecutionContext) (*models.LeafResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	e.logger.Debug().
		Str("job_id", execCtx.JobID).
		Int("depth", execCtx.Depth).
		Int("request_length", len(request)).
		Msg("Echo executor completed leaf")

	return &models.LeafResult{
		Summary: models.TruncateSummary(request),
		Details: map[string]interface{}{
			"executor":    "echo",
			"depth":       execCtx.Depth,
			"executed_at": time.Now().UTC().Format(time.RFC3339),
		},
	}, nil
}
