package executors

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/models"
)

func testLogger() arbor.ILogger {
	return arbor.NewLogger()
}

func TestEchoExecutor_SummaryEchoesRequest(t *testing.T) {
	exec := NewEchoExecutor(testLogger())

	result, err := exec.Execute(context.Background(), "analyze quarterly sales", models.ExecutionContext{
		JobID: "job_1",
		Depth: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "analyze quarterly sales", result.Summary)
	assert.Equal(t, "echo", result.Details["executor"])
	assert.Equal(t, 2, result.Details["depth"])
}

func TestEchoExecutor_TruncatesLongRequests(t *testing.T) {
	exec := NewEchoExecutor(testLogger())
	request := strings.Repeat("x", 250)

	result, err := exec.Execute(context.Background(), request, models.ExecutionContext{JobID: "job_1"})
	require.NoError(t, err)
	assert.Len(t, result.Summary, models.MaxLeafSummaryLength)
	assert.Equal(t, request[:models.MaxLeafSummaryLength], result.Summary)
}

func TestEchoExecutor_HonorsCancelledContext(t *testing.T) {
	exec := NewEchoExecutor(testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Execute(ctx, "task", models.ExecutionContext{JobID: "job_1"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEchoExecutor_HonorsExpiredDeadline(t *testing.T) {
	exec := NewEchoExecutor(testLogger())

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := exec.Execute(ctx, "task", models.ExecutionContext{JobID: "job_1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
