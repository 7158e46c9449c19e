package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/interfaces"
	"github.com/ternarybob/ramus/internal/models"
	"github.com/ternarybob/ramus/internal/state"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger.
// Every status change writes the job row and its audit row in one
// transaction, so the trail can never disagree with the job.
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

// CreateJob inserts the job and records its admission. The job enters
// storage as submitted and is admitted to pending in the same
// transaction; callers get the pending snapshot back.
func (s *JobStorage) CreateJob(ctx context.Context, job *models.Job) error {
	if job == nil {
		return models.NewValidationError("job is required")
	}
	if job.ID == "" {
		return models.NewValidationError("job ID is required")
	}
	// A zero-value status means the caller has not driven the lifecycle
	// yet; such jobs enter as submitted.
	if job.Status == "" {
		job.Status = models.JobStatusSubmitted
	}
	if err := job.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	job.Status = models.JobStatusPending
	job.CreatedAt = now
	job.UpdatedAt = now

	err := s.db.Update(func(tx *badgerdb.Txn) error {
		if err := s.db.Store().TxInsert(tx, job.ID, *job); err != nil {
			if errors.Is(err, badgerhold.ErrKeyExists) {
				return models.NewValidationError("job %s already exists", job.ID)
			}
			return err
		}
		return s.db.AppendTransition(tx, models.EntityTypeJob, job.ID,
			string(models.JobStatusSubmitted), string(models.JobStatusPending), "", now)
	})
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Trace().
		Str("job_id", job.ID).
		Int("depth", job.Depth).
		Msg("BadgerDB: Job created")
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(id, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, &models.NotFoundError{Entity: "job", ID: id}
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return &job, nil
}

func (s *JobStorage) ListJobs(ctx context.Context, opts models.JobListOptions) ([]*models.Job, error) {
	if err := opts.Normalize(); err != nil {
		return nil, models.NewValidationError("%s", err.Error())
	}

	query := buildJobQuery(opts)
	query = query.SortBy("CreatedAt").Reverse().Skip(opts.Offset).Limit(opts.Limit)

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// buildJobQuery assembles the filter chain; an empty option set selects
// everything.
func buildJobQuery(opts models.JobListOptions) *badgerhold.Query {
	var query *badgerhold.Query

	criterion := func(field string) *badgerhold.Criterion {
		if query == nil {
			return badgerhold.Where(field)
		}
		return query.And(field)
	}

	if opts.Depth != nil {
		query = criterion("Depth").Eq(*opts.Depth)
	}
	if opts.Status != "" {
		query = criterion("Status").Eq(opts.Status)
	}
	if opts.ParentID != "" {
		query = criterion("ParentID").Eq(opts.ParentID)
	}
	if opts.HasParent != nil {
		if *opts.HasParent {
			query = criterion("ParentID").Ne("")
		} else {
			query = criterion("ParentID").Eq("")
		}
	}
	if opts.WorkspaceID != "" {
		query = criterion("WorkspaceID").Eq(opts.WorkspaceID)
	}

	if query == nil {
		query = badgerhold.Where("ID").Ne("")
	}
	return query
}

func (s *JobStorage) CountActiveJobs(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.Job{}, badgerhold.Where("Status").In(
		models.JobStatusSubmitted, models.JobStatusPending, models.JobStatusRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to count active jobs: %w", err)
	}
	return int(count), nil
}

func (s *JobStorage) GetChildStats(ctx context.Context, parentID string) (*models.JobChildStats, error) {
	var children []models.Job
	if err := s.db.Store().Find(&children, badgerhold.Where("ParentID").Eq(parentID)); err != nil {
		return nil, fmt.Errorf("failed to load children of %s: %w", parentID, err)
	}

	stats := &models.JobChildStats{}
	for _, child := range children {
		stats.Total++
		switch child.Status {
		case models.JobStatusSubmitted:
			stats.Submitted++
		case models.JobStatusPending:
			stats.Pending++
		case models.JobStatusRunning:
			stats.Running++
		case models.JobStatusCompleted:
			stats.Completed++
		case models.JobStatusFailed:
			stats.Failed++
		case models.JobStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

// UpdateStatus applies a graph-checked transition with its side effects
// and audit row in one transaction. Illegal transitions fail with a
// StateTransitionError and write nothing.
func (s *JobStorage) UpdateStatus(ctx context.Context, id string, to models.JobStatus, reason string) (*models.Job, error) {
	if !to.IsValid() {
		return nil, models.NewValidationError("unknown job status %q", to)
	}
	if to == models.JobStatusFailed && reason == "" {
		return nil, models.NewValidationError("a failure reason is required")
	}

	var updated models.Job
	err := s.db.Update(func(tx *badgerdb.Txn) error {
		var job models.Job
		if err := s.db.Store().TxGet(tx, id, &job); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return &models.NotFoundError{Entity: "job", ID: id}
			}
			return err
		}

		if !state.CanJobTransition(job.Status, to) {
			return &models.StateTransitionError{EntityID: id, From: string(job.Status), To: string(to)}
		}

		from := job.Status
		now := time.Now().UTC()
		job.Status = to
		job.UpdatedAt = now

		// started_at stamps once, on the first entry into running
		if to == models.JobStatusRunning && job.StartedAt == nil {
			job.StartedAt = &now
		}
		if to.IsTerminal() {
			job.CompletedAt = &now
		}
		if to == models.JobStatusFailed {
			failReason := reason
			job.Error = &failReason
		}

		if err := s.db.Store().TxUpdate(tx, id, job); err != nil {
			return err
		}
		if err := s.db.AppendTransition(tx, models.EntityTypeJob, id, string(from), string(to), reason, now); err != nil {
			return err
		}

		updated = job
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update job %s: %w", id, err)
	}

	s.logger.Trace().
		Str("job_id", id).
		Str("status", string(to)).
		Msg("BadgerDB: Job status updated")
	return &updated, nil
}

// CompleteJob stores the output and moves the job from running to
// completed in one transaction.
func (s *JobStorage) CompleteJob(ctx context.Context, id string, output map[string]interface{}) (*models.Job, error) {
	var updated models.Job
	err := s.db.Update(func(tx *badgerdb.Txn) error {
		var job models.Job
		if err := s.db.Store().TxGet(tx, id, &job); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return &models.NotFoundError{Entity: "job", ID: id}
			}
			return err
		}

		if !state.CanJobTransition(job.Status, models.JobStatusCompleted) {
			return &models.StateTransitionError{EntityID: id, From: string(job.Status), To: string(models.JobStatusCompleted)}
		}

		from := job.Status
		now := time.Now().UTC()
		job.Status = models.JobStatusCompleted
		job.Output = output
		job.CompletedAt = &now
		job.UpdatedAt = now

		if err := s.db.Store().TxUpdate(tx, id, job); err != nil {
			return err
		}
		if err := s.db.AppendTransition(tx, models.EntityTypeJob, id, string(from), string(models.JobStatusCompleted), "", now); err != nil {
			return err
		}

		updated = job
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete job %s: %w", id, err)
	}

	s.logger.Trace().
		Str("job_id", id).
		Msg("BadgerDB: Job completed")
	return &updated, nil
}

// MarkInterrupted force-fails every non-terminal job with reason
// "restart". A crashed process left these rows mid-flight, so graph
// legality is deliberately bypassed; each forced move still gets its
// audit row.
func (s *JobStorage) MarkInterrupted(ctx context.Context) (int, error) {
	const reason = "restart"

	count := 0
	err := s.db.Update(func(tx *badgerdb.Txn) error {
		count = 0

		var jobs []models.Job
		err := s.db.Store().TxFind(tx, &jobs, badgerhold.Where("Status").In(
			models.JobStatusSubmitted, models.JobStatusPending, models.JobStatusRunning))
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		for i := range jobs {
			job := jobs[i]
			from := job.Status

			failReason := reason
			job.Status = models.JobStatusFailed
			job.Error = &failReason
			job.CompletedAt = &now
			job.UpdatedAt = now

			if err := s.db.Store().TxUpdate(tx, job.ID, job); err != nil {
				return err
			}
			if err := s.db.AppendTransition(tx, models.EntityTypeJob, job.ID, string(from), string(models.JobStatusFailed), reason, now); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted jobs: %w", err)
	}

	if count > 0 {
		s.logger.Info().
			Int("count", count).
			Msg("Interrupted jobs marked failed after restart")
	}
	return count, nil
}
