package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ternarybob/ramus/internal/models"
)

// jobTask is the in-memory handle of one in-flight job. The context
// carries the job's wall-clock budget and, for spawned children, chains
// to the parent task so cancellation is transitive.
type jobTask struct {
	jobID     string
	parentID  string
	depth     int
	ancestors []string
	ctx       context.Context
	cancel    context.CancelFunc
	deadline  time.Time
	done      chan struct{}
}

func (s *Scheduler) registerTask(job *models.Job, parentTask *jobTask, ancestors []string) *jobTask {
	parentCtx := s.baseCtx
	if parentTask != nil {
		parentCtx = parentTask.ctx
	}

	budget := s.validator.TimeoutForDepth(job.Depth)
	taskCtx, cancel := context.WithTimeout(parentCtx, budget)
	deadline, _ := taskCtx.Deadline()

	task := &jobTask{
		jobID:     job.ID,
		parentID:  job.ParentID,
		depth:     job.Depth,
		ancestors: ancestors,
		ctx:       taskCtx,
		cancel:    cancel,
		deadline:  deadline,
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	s.tasks[job.ID] = task
	if job.ParentID != "" {
		s.children[job.ParentID] = append(s.children[job.ParentID], job.ID)
	}
	s.mu.Unlock()

	return task
}

func (s *Scheduler) unregisterTask(task *jobTask) {
	s.mu.Lock()
	delete(s.tasks, task.jobID)
	delete(s.children, task.jobID)
	if task.parentID != "" {
		siblings := s.children[task.parentID]
		for i, id := range siblings {
			if id == task.jobID {
				s.children[task.parentID] = append(siblings[:i], siblings[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()
}

// runJob is the task goroutine body. Deferred teardown runs in order:
// panic recovery, resource cleanup, context release, task unregister,
// done broadcast. The done channel closes only after the terminal row
// is written, which is what lets parents await children through it.
func (s *Scheduler) runJob(task *jobTask, job *models.Job) {
	defer s.wg.Done()
	defer close(task.done)
	defer s.unregisterTask(task)
	defer task.cancel()
	defer func() {
		if released := s.resources.Cleanup(context.Background(), task.jobID); released > 0 {
			s.logger.Debug().
				Str("job_id", task.jobID).
				Int("released", released).
				Msg("Job allocations cleaned up")
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("job_id", task.jobID).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Job task panicked")
			s.finishJob(task, job, nil, fmt.Errorf("panic: %v", r))
		}
	}()

	s.executeJob(task, job)
}

func (s *Scheduler) executeJob(task *jobTask, job *models.Job) {
	ctx := task.ctx

	// A cancel can land between submission and the task starting.
	if ctx.Err() != nil {
		s.finishJob(task, job, nil, ctx.Err())
		return
	}

	started, err := s.jobMachine.Start(ctx, job.ID)
	if err != nil {
		s.finishJob(task, job, nil, fmt.Errorf("failed to start: %w", err))
		return
	}
	*job = *started
	s.publishStatusChange(job, string(models.JobStatusPending), string(models.JobStatusRunning), "")

	subTasks := SplitSubTasks(job.TaskDescription)
	check := s.validator.ValidateDepth(job.Depth)

	var output map[string]interface{}
	var runErr error
	if len(subTasks) == 0 || !check.IsValid {
		output, runErr = s.runLeaf(ctx, task, job)
	} else {
		output, runErr = s.runComposed(ctx, task, job, subTasks, check.MaxWorkers)
	}

	s.finishJob(task, job, output, runErr)
}

// runLeaf executes the job as an indivisible unit: one resource slot,
// an optional pool worker, then the executor call.
func (s *Scheduler) runLeaf(ctx context.Context, task *jobTask, job *models.Job) (map[string]interface{}, error) {
	var result *models.LeafResult

	err := s.resources.WithResources(ctx, job.ID, job.Depth, 1, func(granted int) error {
		if s.workers != nil {
			worker, err := s.workers.Checkout(ctx, job.WorkspaceID)
			if err != nil {
				s.logger.Warn().
					Err(err).
					Str("job_id", job.ID).
					Msg("Worker checkout failed, executing without pool worker")
			} else if worker != nil {
				defer func() {
					if err := s.workers.Checkin(context.Background(), worker.ID); err != nil {
						s.logger.Warn().
							Err(err).
							Str("worker_id", worker.ID).
							Msg("Worker checkin failed")
					}
				}()
			}
		}

		execCtx := models.ExecutionContext{
			JobID:       job.ID,
			Depth:       job.Depth,
			AncestorIDs: task.ancestors,
			Deadline:    task.deadline,
		}

		res, err := s.executor.Execute(ctx, job.TaskDescription, execCtx)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	output := map[string]interface{}{
		"summary": result.Summary,
	}
	if len(result.Details) > 0 {
		output["details"] = result.Details
	}
	return output, nil
}

// runComposed spawns one child per sub-task, at most childCap in flight
// at a time, and waits for all of them before aggregating. The await
// runs even when this job's context dies, so the parent's terminal
// transition always happens after its children's.
func (s *Scheduler) runComposed(ctx context.Context, task *jobTask, parent *models.Job, subTasks []string, childCap int) (map[string]interface{}, error) {
	if childCap < 1 {
		childCap = 1
	}
	sem := semaphore.NewWeighted(int64(childCap))

	childIDs := make([]string, 0, len(subTasks))
	spawnErrors := make([]string, 0)
	var wg sync.WaitGroup

	s.logger.Debug().
		Str("job_id", parent.ID).
		Int("sub_tasks", len(subTasks)).
		Int("child_cap", childCap).
		Msg("Decomposed job into sub-tasks")

	for _, subTask := range subTasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Cancelled or out of budget; spawn no more children.
			break
		}

		child, childTask, err := s.submit(ctx, &models.SubmitJobRequest{
			TaskDescription: subTask,
			WorkerCount:     1,
			Depth:           parent.Depth + 1,
			ParentJobID:     parent.ID,
			WorkspaceID:     parent.WorkspaceID,
		}, task)
		if err != nil {
			sem.Release(1)
			spawnErrors = append(spawnErrors, err.Error())
			s.logger.Warn().
				Err(err).
				Str("parent_id", parent.ID).
				Msg("Failed to spawn child job")
			continue
		}

		childIDs = append(childIDs, child.ID)
		wg.Add(1)
		go func(t *jobTask) {
			defer wg.Done()
			defer sem.Release(1)
			<-t.done
		}(childTask)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// All children are terminal now; collect the failures.
	childErrors := make([]string, 0)
	for _, childID := range childIDs {
		child, err := s.store.JobStorage().GetJob(context.Background(), childID)
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", childID).Msg("Failed to read child outcome")
			continue
		}
		if child.Status == models.JobStatusFailed && child.Error != nil {
			childErrors = append(childErrors, *child.Error)
		}
	}
	childErrors = append(childErrors, spawnErrors...)

	return map[string]interface{}{
		"children": childIDs,
		"errors":   childErrors,
	}, nil
}

// finishJob applies the terminal transition for the task's outcome.
// Deadline expiry beats every other classification because the budget
// overrun is what observers need to see; explicit cancellation comes
// second; anything else with an error is a plain failure. Terminal
// writes use a fresh context since the task's own is usually dead here.
func (s *Scheduler) finishJob(task *jobTask, job *models.Job, output map[string]interface{}, runErr error) {
	ctx := context.Background()
	ctxErr := task.ctx.Err()
	from := string(job.Status)

	switch {
	case errors.Is(ctxErr, context.DeadlineExceeded) || errors.Is(runErr, context.DeadlineExceeded):
		if _, err := s.jobMachine.Fail(ctx, job.ID, "timeout"); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to record job timeout")
			return
		}
		s.failed.Add(1)
		s.publishStatusChange(job, from, string(models.JobStatusFailed), "timeout")

	case errors.Is(ctxErr, context.Canceled) || errors.Is(runErr, context.Canceled):
		if _, err := s.jobMachine.Cancel(ctx, job.ID, "cancelled"); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to record job cancellation")
			return
		}
		s.cancelled.Add(1)
		s.publishStatusChange(job, from, string(models.JobStatusCancelled), "cancelled")

	case runErr != nil:
		reason := failureReason(runErr)
		if _, err := s.jobMachine.Fail(ctx, job.ID, reason); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to record job failure")
			return
		}
		s.failed.Add(1)
		s.publishStatusChange(job, from, string(models.JobStatusFailed), reason)

	default:
		if _, err := s.jobMachine.Complete(ctx, job.ID, output); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to store job output")
			reason := fmt.Sprintf("failed to store output: %v", err)
			if _, ferr := s.jobMachine.Fail(ctx, job.ID, reason); ferr != nil {
				s.logger.Error().Err(ferr).Str("job_id", job.ID).Msg("Failed to record job failure")
				return
			}
			s.failed.Add(1)
			s.publishStatusChange(job, from, string(models.JobStatusFailed), reason)
			return
		}
		s.completed.Add(1)
		s.publishStatusChange(job, from, string(models.JobStatusCompleted), "")
	}
}

// failureReason extracts the reason recorded on a failed job. Executor
// failures surface the executor's own message rather than the wrapper.
func failureReason(err error) string {
	var execErr *models.ExecutorError
	if errors.As(err, &execErr) {
		return execErr.Cause.Error()
	}
	return err.Error()
}
