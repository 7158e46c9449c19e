package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/common"
	"github.com/ternarybob/ramus/internal/executors"
	"github.com/ternarybob/ramus/internal/interfaces"
	"github.com/ternarybob/ramus/internal/models"
	"github.com/ternarybob/ramus/internal/recursion"
	"github.com/ternarybob/ramus/internal/resources"
	"github.com/ternarybob/ramus/internal/storage/badger"
)

func newTestScheduler(t *testing.T, executor interfaces.LeafExecutor, opts ...recursion.Option) (*Scheduler, interfaces.StorageManager) {
	t.Helper()

	logger := arbor.NewLogger()
	store, err := badger.NewManager(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	validator := recursion.NewValidator(opts...)
	if executor == nil {
		executor = executors.NewEchoExecutor(logger)
	}
	resourceSvc := resources.NewManager(validator.WorkersByDepth(), store.AllocationStorage(), logger)

	cfg := &common.SchedulerConfig{CancelWait: "5s"}
	sched := New(store, resourceSvc, validator, executor, nil, nil, cfg, logger)
	t.Cleanup(sched.Stop)

	return sched, store
}

func waitForTerminal(t *testing.T, store interfaces.StorageManager, jobID string) *models.Job {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.JobStorage().GetJob(context.Background(), jobID)
		require.NoError(t, err)
		if job.IsTerminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for job %s to reach a terminal state", jobID)
	return nil
}

// blockingExecutor parks every leaf until its job is released or the
// context dies, which gives cancellation and ordering tests a stable
// window to act in.
type blockingExecutor struct {
	started chan string

	mu    sync.Mutex
	gates map[string]chan struct{}
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{
		started: make(chan string, 32),
		gates:   make(map[string]chan struct{}),
	}
}

func (b *blockingExecutor) Name() string { return "blocking" }

func (b *blockingExecutor) gate(jobID string) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.gates[jobID]
	if !ok {
		g = make(chan struct{})
		b.gates[jobID] = g
	}
	return g
}

// releaseJob lets the named job's leaf return successfully.
func (b *blockingExecutor) releaseJob(jobID string) {
	close(b.gate(jobID))
}

func (b *blockingExecutor) Execute(ctx context.Context, request string, execCtx models.ExecutionContext) (*models.LeafResult, error) {
	b.started <- execCtx.JobID
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.gate(execCtx.JobID):
		return &models.LeafResult{Summary: models.TruncateSummary(request)}, nil
	}
}

// failingExecutor fails any request containing the trigger substring.
type failingExecutor struct {
	trigger string
}

func (f *failingExecutor) Name() string { return "failing" }

func (f *failingExecutor) Execute(ctx context.Context, request string, execCtx models.ExecutionContext) (*models.LeafResult, error) {
	if strings.Contains(request, f.trigger) {
		return nil, &models.ExecutorError{Cause: fmt.Errorf("refusing to process %q", request)}
	}
	return &models.LeafResult{Summary: models.TruncateSummary(request)}, nil
}

// panickyExecutor blows up on every request.
type panickyExecutor struct{}

func (p *panickyExecutor) Name() string { return "panicky" }

func (p *panickyExecutor) Execute(ctx context.Context, request string, execCtx models.ExecutionContext) (*models.LeafResult, error) {
	panic("executor exploded")
}

// countingExecutor tracks the peak number of concurrent leaf executions.
type countingExecutor struct {
	mu      sync.Mutex
	current int
	peak    int
	delay   time.Duration
}

func (c *countingExecutor) Name() string { return "counting" }

func (c *countingExecutor) Execute(ctx context.Context, request string, execCtx models.ExecutionContext) (*models.LeafResult, error) {
	c.mu.Lock()
	c.current++
	if c.current > c.peak {
		c.peak = c.current
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.current--
		c.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.delay):
		return &models.LeafResult{Summary: models.TruncateSummary(request)}, nil
	}
}

func (c *countingExecutor) Peak() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peak
}

func TestSubmit_LeafJobCompletes(t *testing.T) {
	sched, store := newTestScheduler(t, nil)

	job, err := sched.Submit(context.Background(), &models.SubmitJobRequest{
		TaskDescription: "summarize the incident report",
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.WorkerCount)

	final := waitForTerminal(t, store, job.ID)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	require.NotNil(t, final.Output)
	assert.Equal(t, "summarize the incident report", final.Output["summary"])
	assert.NotNil(t, final.StartedAt)
	assert.NotNil(t, final.CompletedAt)
}

func TestSubmit_ComposedJobSpawnsChildren(t *testing.T) {
	sched, store := newTestScheduler(t, nil)

	job, err := sched.Submit(context.Background(), &models.SubmitJobRequest{
		TaskDescription: "analyze the data:\n- load it\n- clean it\n- plot it",
	})
	require.NoError(t, err)

	final := waitForTerminal(t, store, job.ID)
	assert.Equal(t, models.JobStatusCompleted, final.Status)

	require.NotNil(t, final.Output)
	childIDs, ok := final.Output["children"].([]string)
	require.True(t, ok, "children should be a string slice, got %T", final.Output["children"])
	assert.Len(t, childIDs, 3)
	errorsList, ok := final.Output["errors"].([]string)
	require.True(t, ok)
	assert.Empty(t, errorsList)

	for _, childID := range childIDs {
		child, err := store.JobStorage().GetJob(context.Background(), childID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusCompleted, child.Status)
		assert.Equal(t, 1, child.Depth)
		assert.Equal(t, job.ID, child.ParentID)
	}
}

func TestSubmit_DepthCeilingForcesLeaves(t *testing.T) {
	// "task task task fin" would recurse three levels; with the ceiling
	// at 2 the deepest job must execute as a leaf instead.
	sched, store := newTestScheduler(t, nil, recursion.WithMaxDepth(2))

	job, err := sched.Submit(context.Background(), &models.SubmitJobRequest{
		TaskDescription: "task task task fin",
	})
	require.NoError(t, err)

	final := waitForTerminal(t, store, job.ID)
	assert.Equal(t, models.JobStatusCompleted, final.Status)

	all, err := store.JobStorage().ListJobs(context.Background(), models.JobListOptions{Limit: models.MaxListLimit})
	require.NoError(t, err)
	require.Len(t, all, 3)

	maxDepth := 0
	var deepest *models.Job
	for _, j := range all {
		waitForTerminal(t, store, j.ID)
		if j.Depth > maxDepth {
			maxDepth = j.Depth
		}
		if deepest == nil || j.Depth > deepest.Depth {
			deepest = j
		}
	}
	assert.Equal(t, 2, maxDepth)

	// The depth 2 job still had a decomposable description; it must have
	// run as a leaf, echoing its own text rather than spawning a child.
	leaf, err := store.JobStorage().GetJob(context.Background(), deepest.ID)
	require.NoError(t, err)
	assert.Equal(t, "task fin", leaf.Output["summary"])
}

func TestCancel_PropagatesToSubtree(t *testing.T) {
	executor := newBlockingExecutor()
	sched, store := newTestScheduler(t, executor)

	job, err := sched.Submit(context.Background(), &models.SubmitJobRequest{
		TaskDescription: "- long haul one\n- long haul two",
	})
	require.NoError(t, err)

	// Both children must be inside the executor before we cancel.
	for i := 0; i < 2; i++ {
		select {
		case <-executor.started:
		case <-time.After(10 * time.Second):
			t.Fatal("children never reached the executor")
		}
	}

	interrupted, err := sched.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, interrupted)

	final := waitForTerminal(t, store, job.ID)
	assert.Equal(t, models.JobStatusCancelled, final.Status)

	children, err := store.JobStorage().ListJobs(context.Background(), models.JobListOptions{ParentID: job.ID})
	require.NoError(t, err)
	require.Len(t, children, 2)
	for _, child := range children {
		c := waitForTerminal(t, store, child.ID)
		assert.Equal(t, models.JobStatusCancelled, c.Status, "child %s should be cancelled", child.ID)
	}

	// Every allocation in the subtree must be released.
	for depth, usage := range sched.resources.Usage() {
		assert.Zero(t, usage.Used, "depth %d still holds allocations", depth)
	}

	// Cancelling a terminal job is a no-op.
	interrupted, err = sched.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.False(t, interrupted)
}

func TestCancel_UnknownJobReturnsNotFound(t *testing.T) {
	sched, _ := newTestScheduler(t, nil)

	_, err := sched.Cancel(context.Background(), "job_does_not_exist")
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
}

func TestTimeout_JobFailsWithTimeoutReason(t *testing.T) {
	executor := newBlockingExecutor()
	sched, store := newTestScheduler(t, executor, recursion.WithBaseTimeout(100*time.Millisecond))

	job, err := sched.Submit(context.Background(), &models.SubmitJobRequest{
		TaskDescription: "work that overruns its budget",
	})
	require.NoError(t, err)

	final := waitForTerminal(t, store, job.ID)
	assert.Equal(t, models.JobStatusFailed, final.Status)
	require.NotNil(t, final.Error)
	assert.Equal(t, "timeout", *final.Error)

	stats := sched.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(0), stats.Cancelled)
}

func TestChildFailure_ParentAggregatesAndCompletes(t *testing.T) {
	sched, store := newTestScheduler(t, &failingExecutor{trigger: "bad"})

	job, err := sched.Submit(context.Background(), &models.SubmitJobRequest{
		TaskDescription: "- good work\n- bad work\n- more good work",
	})
	require.NoError(t, err)

	final := waitForTerminal(t, store, job.ID)
	assert.Equal(t, models.JobStatusCompleted, final.Status, "parent completes even when a child fails")

	childIDs := final.Output["children"].([]string)
	assert.Len(t, childIDs, 3)
	errorsList := final.Output["errors"].([]string)
	require.Len(t, errorsList, 1)
	assert.Contains(t, errorsList[0], "bad work")

	failedCount := 0
	for _, childID := range childIDs {
		child, err := store.JobStorage().GetJob(context.Background(), childID)
		require.NoError(t, err)
		if child.Status == models.JobStatusFailed {
			failedCount++
			require.NotNil(t, child.Error)
		} else {
			assert.Equal(t, models.JobStatusCompleted, child.Status)
		}
	}
	assert.Equal(t, 1, failedCount)
}

func TestExecutorPanic_JobFailsAndSchedulerSurvives(t *testing.T) {
	sched, store := newTestScheduler(t, &panickyExecutor{})

	job, err := sched.Submit(context.Background(), &models.SubmitJobRequest{
		TaskDescription: "work that blows up",
	})
	require.NoError(t, err)

	final := waitForTerminal(t, store, job.ID)
	assert.Equal(t, models.JobStatusFailed, final.Status)
	require.NotNil(t, final.Error)
	assert.Contains(t, *final.Error, "panic")

	// The scheduler keeps accepting work after the recovery.
	next, err := sched.Submit(context.Background(), &models.SubmitJobRequest{
		TaskDescription: "follow-up work",
	})
	require.NoError(t, err)
	waitForTerminal(t, store, next.ID)
}

func TestChildConcurrency_BoundedByDepthTable(t *testing.T) {
	executor := &countingExecutor{delay: 50 * time.Millisecond}
	table := map[int]int{0: 10, 1: 2, 2: 1}
	sched, store := newTestScheduler(t, executor, recursion.WithWorkersByDepth(table))

	job, err := sched.Submit(context.Background(), &models.SubmitJobRequest{
		TaskDescription: "- c1\n- c2\n- c3\n- c4\n- c5",
	})
	require.NoError(t, err)

	final := waitForTerminal(t, store, job.ID)
	assert.Equal(t, models.JobStatusCompleted, final.Status)

	childIDs := final.Output["children"].([]string)
	require.Len(t, childIDs, 5)
	for _, childID := range childIDs {
		child := waitForTerminal(t, store, childID)
		assert.Equal(t, models.JobStatusCompleted, child.Status)
	}

	assert.LessOrEqual(t, executor.Peak(), 2, "no more than two depth 1 leaves may run at once")
}

func TestSubmit_Validation(t *testing.T) {
	sched, _ := newTestScheduler(t, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		req  *models.SubmitJobRequest
	}{
		{"empty description", &models.SubmitJobRequest{TaskDescription: ""}},
		{"oversized description", &models.SubmitJobRequest{TaskDescription: strings.Repeat("x", models.MaxTaskDescriptionLength+1)}},
		{"negative depth", &models.SubmitJobRequest{TaskDescription: "ok", Depth: -1}},
		{"depth beyond ceiling", &models.SubmitJobRequest{TaskDescription: "ok", Depth: recursion.MaxDepth + 1}},
		{"worker count too high", &models.SubmitJobRequest{TaskDescription: "ok", WorkerCount: models.MaxWorkerCount + 1}},
		{"unknown parent", &models.SubmitJobRequest{TaskDescription: "ok", Depth: 1, ParentJobID: "job_missing"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := sched.Submit(ctx, tc.req)
			require.Error(t, err)
			assert.True(t, models.IsValidationError(err), "expected a validation error, got %T: %v", err, err)
		})
	}
}

func TestSubmit_ChildDepthMustMatchParent(t *testing.T) {
	executor := newBlockingExecutor()
	sched, store := newTestScheduler(t, executor)
	ctx := context.Background()

	root, err := sched.Submit(ctx, &models.SubmitJobRequest{TaskDescription: "root work"})
	require.NoError(t, err)

	// The root must still be running when the children arrive.
	select {
	case <-executor.started:
	case <-time.After(10 * time.Second):
		t.Fatal("root never reached the executor")
	}

	_, err = sched.Submit(ctx, &models.SubmitJobRequest{
		TaskDescription: "child work",
		Depth:           2, // parent is depth 0, must be 1
		ParentJobID:     root.ID,
	})
	require.Error(t, err)
	assert.True(t, models.IsValidationError(err))

	child, err := sched.Submit(ctx, &models.SubmitJobRequest{
		TaskDescription: "child work",
		Depth:           1,
		ParentJobID:     root.ID,
	})
	require.NoError(t, err)

	// The child completes while its parent is still running, then the
	// parent follows.
	executor.releaseJob(child.ID)
	final := waitForTerminal(t, store, child.ID)
	assert.Equal(t, models.JobStatusCompleted, final.Status)

	executor.releaseJob(root.ID)
	waitForTerminal(t, store, root.ID)
}

func TestSubmit_TerminalParentRejected(t *testing.T) {
	sched, store := newTestScheduler(t, nil)
	ctx := context.Background()

	root, err := sched.Submit(ctx, &models.SubmitJobRequest{TaskDescription: "finish quickly"})
	require.NoError(t, err)
	final := waitForTerminal(t, store, root.ID)
	require.Equal(t, models.JobStatusCompleted, final.Status)

	// A late child would reach its terminal state after the parent's
	// completed_at, breaking the subtree ordering.
	_, err = sched.Submit(ctx, &models.SubmitJobRequest{
		TaskDescription: "late child",
		Depth:           1,
		ParentJobID:     root.ID,
	})
	require.Error(t, err)
	assert.True(t, models.IsValidationError(err))
	assert.Contains(t, err.Error(), "cannot accept children")

	children, err := store.JobStorage().ListJobs(ctx, models.JobListOptions{ParentID: root.ID})
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestSubmit_DescriptionBoundCountsRunes(t *testing.T) {
	sched, store := newTestScheduler(t, nil)
	ctx := context.Background()

	// At the bound in characters even though well past it in bytes.
	job, err := sched.Submit(ctx, &models.SubmitJobRequest{
		TaskDescription: strings.Repeat("é", models.MaxTaskDescriptionLength),
	})
	require.NoError(t, err)
	waitForTerminal(t, store, job.ID)

	_, err = sched.Submit(ctx, &models.SubmitJobRequest{
		TaskDescription: strings.Repeat("é", models.MaxTaskDescriptionLength+1),
	})
	require.Error(t, err)
	assert.True(t, models.IsValidationError(err))
}

func TestTree_ReflectsHierarchy(t *testing.T) {
	sched, store := newTestScheduler(t, nil)

	job, err := sched.Submit(context.Background(), &models.SubmitJobRequest{
		TaskDescription: "- left\n- right",
	})
	require.NoError(t, err)
	waitForTerminal(t, store, job.ID)

	tree, err := sched.Tree(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, tree.JobID)
	assert.Equal(t, 0, tree.Depth)
	assert.Equal(t, models.JobStatusCompleted, tree.Status)
	require.Len(t, tree.Children, 2)
	for _, child := range tree.Children {
		assert.Equal(t, 1, child.Depth)
		assert.Equal(t, models.JobStatusCompleted, child.Status)
		assert.Empty(t, child.Children)
	}
}

func TestTree_UnknownJob(t *testing.T) {
	sched, _ := newTestScheduler(t, nil)

	_, err := sched.Tree(context.Background(), "job_missing")
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
}

func TestStats_CountsLifetimeOutcomes(t *testing.T) {
	sched, store := newTestScheduler(t, &failingExecutor{trigger: "doomed"})
	ctx := context.Background()

	ok, err := sched.Submit(ctx, &models.SubmitJobRequest{TaskDescription: "fine"})
	require.NoError(t, err)
	bad, err := sched.Submit(ctx, &models.SubmitJobRequest{TaskDescription: "doomed"})
	require.NoError(t, err)

	waitForTerminal(t, store, ok.ID)
	waitForTerminal(t, store, bad.ID)

	stats := sched.Stats()
	assert.Equal(t, int64(2), stats.Submitted)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(0), stats.Cancelled)
}

func TestActiveJobs_DrainsToZero(t *testing.T) {
	sched, store := newTestScheduler(t, nil)

	job, err := sched.Submit(context.Background(), &models.SubmitJobRequest{TaskDescription: "quick"})
	require.NoError(t, err)
	waitForTerminal(t, store, job.ID)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if sched.ActiveJobs() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("active jobs never drained, still %d", sched.ActiveJobs())
}

func TestHandleSubJobFailure_RespectsRetryLimit(t *testing.T) {
	executor := newBlockingExecutor()
	sched, store := newTestScheduler(t, executor)
	ctx := context.Background()

	root, err := sched.Submit(ctx, &models.SubmitJobRequest{TaskDescription: "root"})
	require.NoError(t, err)

	// Retries only make sense while the parent is still in flight.
	select {
	case <-executor.started:
	case <-time.After(10 * time.Second):
		t.Fatal("root never reached the executor")
	}

	_, err = sched.HandleSubJobFailure(ctx, root.ID, "retry me", 1, MaxSubJobRetries)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry limit")

	retry, err := sched.HandleSubJobFailure(ctx, root.ID, "retry me", 1, 0)
	require.NoError(t, err)

	executor.releaseJob(retry.ID)
	final := waitForTerminal(t, store, retry.ID)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, root.ID, final.ParentID)

	executor.releaseJob(root.ID)
	waitForTerminal(t, store, root.ID)
}
