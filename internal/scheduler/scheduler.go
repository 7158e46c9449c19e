// -----------------------------------------------------------------------
// Scheduler - Hierarchical job orchestration core
// -----------------------------------------------------------------------

package scheduler

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/common"
	"github.com/ternarybob/ramus/internal/interfaces"
	"github.com/ternarybob/ramus/internal/models"
	"github.com/ternarybob/ramus/internal/recursion"
	"github.com/ternarybob/ramus/internal/state"
)

const (
	// MaxSubJobRetries bounds the advisory retry helper. The default
	// failure policy is aggregate-and-continue; retries are opt-in.
	MaxSubJobRetries = 2

	// SubJobRetryBase is the backoff unit, scaled by 2^depth per retry.
	SubJobRetryBase = 50 * time.Millisecond
)

// Scheduler runs one task goroutine per in-flight job. It owns the
// in-memory task graph; the persistent shadow lives in the job store.
type Scheduler struct {
	store      interfaces.StorageManager
	resources  interfaces.ResourceService
	validator  *recursion.Validator
	executor   interfaces.LeafExecutor
	workers    interfaces.WorkerService
	events     interfaces.EventService
	jobMachine *state.JobMachine
	logger     arbor.ILogger
	cancelWait time.Duration

	// baseCtx parents every root task; Stop cancels it to drain.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu       sync.Mutex
	tasks    map[string]*jobTask
	children map[string][]string

	wg sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
}

var _ interfaces.SchedulerService = (*Scheduler)(nil)

// New creates the scheduler. The worker service and event service are
// optional; a nil worker service skips pool checkout for leaves and a
// nil event service silences status broadcasts.
func New(
	store interfaces.StorageManager,
	resourceSvc interfaces.ResourceService,
	validator *recursion.Validator,
	executor interfaces.LeafExecutor,
	workers interfaces.WorkerService,
	events interfaces.EventService,
	cfg *common.SchedulerConfig,
	logger arbor.ILogger,
) *Scheduler {
	baseCtx, baseCancel := context.WithCancel(context.Background())

	cancelWait := 10 * time.Second
	if cfg != nil {
		cancelWait = cfg.CancelWaitDuration()
	}

	return &Scheduler{
		store:      store,
		resources:  resourceSvc,
		validator:  validator,
		executor:   executor,
		workers:    workers,
		events:     events,
		jobMachine: state.NewJobMachine(store.JobStorage(), logger),
		logger:     logger,
		cancelWait: cancelWait,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		tasks:      make(map[string]*jobTask),
		children:   make(map[string][]string),
	}
}

// Submit validates the request, persists the job in state pending, and
// starts its task goroutine. The returned snapshot is the pending job.
func (s *Scheduler) Submit(ctx context.Context, req *models.SubmitJobRequest) (*models.Job, error) {
	job, _, err := s.submit(ctx, req, nil)
	return job, err
}

// submit is the shared path for API submissions and internal child
// spawns. parentTask is non-nil only for children spawned by a running
// composed job; their task context derives from the parent's so
// cancellation cascades down the tree.
func (s *Scheduler) submit(ctx context.Context, req *models.SubmitJobRequest, parentTask *jobTask) (*models.Job, *jobTask, error) {
	if req == nil {
		return nil, nil, models.NewValidationError("request body is required")
	}
	if descLen := utf8.RuneCountInString(req.TaskDescription); descLen < 1 || descLen > models.MaxTaskDescriptionLength {
		return nil, nil, models.NewValidationError("task_description length must be between 1 and %d characters, got %d",
			models.MaxTaskDescriptionLength, descLen)
	}

	workerCount := req.WorkerCount
	if workerCount == 0 {
		workerCount = 1
	}
	if workerCount < 1 || workerCount > models.MaxWorkerCount {
		return nil, nil, models.NewValidationError("worker_count must be between 1 and %d, got %d",
			models.MaxWorkerCount, workerCount)
	}

	if req.Depth < 0 || req.Depth > s.validator.MaxDepth() {
		return nil, nil, models.NewValidationError("depth %d outside the permitted range [0, %d]",
			req.Depth, s.validator.MaxDepth())
	}

	var ancestors []string
	if req.ParentJobID != "" {
		parent, err := s.store.JobStorage().GetJob(ctx, req.ParentJobID)
		if err != nil {
			if models.IsNotFound(err) {
				return nil, nil, models.NewValidationError("parent job %s not found", req.ParentJobID)
			}
			return nil, nil, fmt.Errorf("failed to load parent job: %w", err)
		}
		if req.Depth != parent.Depth+1 {
			return nil, nil, models.NewValidationError("child depth must be %d (parent depth + 1), got %d",
				parent.Depth+1, req.Depth)
		}
		// A terminal parent has already sealed its completion timestamp;
		// admitting a late child would finish after it.
		if parent.IsTerminal() {
			return nil, nil, models.NewValidationError("parent job %s is %s and cannot accept children",
				parent.ID, parent.Status)
		}

		// May the parent level spawn children at all?
		check := s.validator.ValidateDepth(parent.Depth)
		if !check.IsValid {
			return nil, nil, models.NewValidationError("%s", check.ErrorMessage)
		}

		if parentTask != nil {
			ancestors = append([]string{parentTask.jobID}, parentTask.ancestors...)
		} else {
			ancestors, err = s.ancestorChain(ctx, parent)
			if err != nil {
				return nil, nil, err
			}
			// An API-submitted child of a live job still joins the
			// cancellation tree of its parent.
			s.mu.Lock()
			parentTask = s.tasks[req.ParentJobID]
			s.mu.Unlock()
		}
	}

	jobID := common.NewJobID()
	if recursion.DetectCircularReference(jobID, ancestors) {
		return nil, nil, models.NewValidationError("job %s already appears in its own ancestor chain", jobID)
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:              jobID,
		ParentID:        req.ParentJobID,
		Depth:           req.Depth,
		TaskDescription: req.TaskDescription,
		WorkerCount:     workerCount,
		WorkspaceID:     req.WorkspaceID,
		Status:          models.JobStatusSubmitted,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.JobStorage().CreateJob(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("failed to create job: %w", err)
	}

	task := s.registerTask(job, parentTask, ancestors)
	s.submitted.Add(1)
	s.publishStatusChange(job, string(models.JobStatusSubmitted), string(models.JobStatusPending), "")

	s.logger.Info().
		Str("job_id", job.ID).
		Str("parent_id", job.ParentID).
		Int("depth", job.Depth).
		Int("worker_count", job.WorkerCount).
		Msg("Job submitted")

	snapshot := job.Clone()
	s.wg.Add(1)
	common.SafeGo(s.logger, "scheduler.run."+job.ID, func() {
		s.runJob(task, job)
	})

	return snapshot, task, nil
}

// ancestorChain walks parent links up to the root, returning the chain
// starting at the immediate parent. A repeated id means the stored
// graph is corrupt and the submission is rejected.
func (s *Scheduler) ancestorChain(ctx context.Context, parent *models.Job) ([]string, error) {
	seen := make(map[string]bool)
	chain := make([]string, 0, parent.Depth+1)

	current := parent
	for {
		if seen[current.ID] {
			return nil, models.NewValidationError("circular reference detected through job %s", current.ID)
		}
		seen[current.ID] = true
		chain = append(chain, current.ID)

		if current.ParentID == "" {
			return chain, nil
		}
		next, err := s.store.JobStorage().GetJob(ctx, current.ParentID)
		if err != nil {
			if models.IsNotFound(err) {
				// Broken link; treat the last reachable job as the root.
				return chain, nil
			}
			return nil, fmt.Errorf("failed to walk ancestor chain: %w", err)
		}
		current = next
	}
}

// Cancel requests cooperative cancellation of the job's subtree and
// waits (bounded) for the task to unwind. Returns true iff a live job
// was interrupted; cancelling a terminal job is a no-op returning false.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	task := s.tasks[jobID]
	s.mu.Unlock()

	if task == nil {
		job, err := s.store.JobStorage().GetJob(ctx, jobID)
		if err != nil {
			return false, err
		}
		if job.IsTerminal() {
			return false, nil
		}
		// Non-terminal row without a live task: the submit raced us or a
		// restart orphaned the row. Drive the transition directly.
		updated, err := s.jobMachine.Cancel(ctx, jobID, "cancelled")
		if err != nil {
			return false, err
		}
		s.cancelled.Add(1)
		s.publishStatusChange(updated, string(job.Status), string(models.JobStatusCancelled), "cancelled")
		return true, nil
	}

	select {
	case <-task.done:
		// Task finished before we could interrupt it.
		return false, nil
	default:
	}

	s.logger.Info().Str("job_id", jobID).Msg("Cancelling job subtree")
	task.cancel()

	select {
	case <-task.done:
	case <-time.After(s.cancelWait):
		s.logger.Warn().
			Str("job_id", jobID).
			Str("waited", s.cancelWait.String()).
			Msg("Cancelled task still unwinding after bounded wait")
	case <-ctx.Done():
	}

	return true, nil
}

// Tree returns the recursive status view rooted at jobID, built from
// the persistent parent links.
func (s *Scheduler) Tree(ctx context.Context, jobID string) (*models.JobTreeNode, error) {
	job, err := s.store.JobStorage().GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return s.buildTree(ctx, job, 0)
}

func (s *Scheduler) buildTree(ctx context.Context, job *models.Job, guard int) (*models.JobTreeNode, error) {
	node := &models.JobTreeNode{
		JobID:    job.ID,
		Depth:    job.Depth,
		Status:   job.Status,
		Children: []*models.JobTreeNode{},
	}
	// Corrupt parent links could make this walk unbounded.
	if guard > s.validator.MaxDepth()+1 {
		return node, nil
	}

	opts := models.JobListOptions{ParentID: job.ID, Limit: models.MaxListLimit}
	for {
		page, err := s.store.JobStorage().ListJobs(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list children of %s: %w", job.ID, err)
		}
		for _, child := range page {
			childNode, err := s.buildTree(ctx, child, guard+1)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, childNode)
		}
		if len(page) < opts.Limit {
			break
		}
		opts.Offset += opts.Limit
	}

	return node, nil
}

// Stats returns process-lifetime job counters.
func (s *Scheduler) Stats() models.SchedulerStats {
	return models.SchedulerStats{
		Submitted: s.submitted.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
		Cancelled: s.cancelled.Load(),
	}
}

// ActiveJobs returns the number of task goroutines currently in flight.
func (s *Scheduler) ActiveJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop cancels every in-flight task and waits (bounded) for the tree to
// drain. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.baseCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("Scheduler stopped")
	case <-time.After(s.cancelWait):
		s.logger.Warn().
			Int("active_jobs", s.ActiveJobs()).
			Msg("Scheduler stop timed out waiting for tasks to drain")
	}
}

// HandleSubJobFailure resubmits a failed sub-task after a depth-scaled
// backoff of SubJobRetryBase * 2^depth. attempt counts prior retries;
// the helper refuses once MaxSubJobRetries is reached. This is the
// opt-in alternative to the default aggregate-and-continue policy.
func (s *Scheduler) HandleSubJobFailure(ctx context.Context, parentJobID, subTask string, depth, attempt int) (*models.Job, error) {
	if attempt >= MaxSubJobRetries {
		return nil, fmt.Errorf("sub-task retry limit of %d reached", MaxSubJobRetries)
	}

	backoff := time.Duration(float64(SubJobRetryBase) * math.Pow(2, float64(depth)))
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(backoff):
	}

	s.logger.Debug().
		Str("parent_id", parentJobID).
		Int("depth", depth).
		Int("attempt", attempt+1).
		Str("backoff", backoff.String()).
		Msg("Retrying failed sub-task")

	return s.Submit(ctx, &models.SubmitJobRequest{
		TaskDescription: subTask,
		WorkerCount:     1,
		Depth:           depth,
		ParentJobID:     parentJobID,
	})
}

func (s *Scheduler) publishStatusChange(job *models.Job, from, to, reason string) {
	if s.events == nil {
		return
	}
	event := interfaces.Event{
		Type: interfaces.EventJobStatusChange,
		Payload: models.JobStatusChangeEvent{
			JobID:    job.ID,
			ParentID: job.ParentID,
			Depth:    job.Depth,
			From:     from,
			To:       to,
			Reason:   reason,
			At:       time.Now().UTC(),
		},
	}
	if err := s.events.Publish(context.Background(), event); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to publish job status change")
	}
}
