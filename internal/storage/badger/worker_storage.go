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

// WorkerStorage implements the WorkerStorage interface for Badger
type WorkerStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewWorkerStorage creates a new WorkerStorage instance
func NewWorkerStorage(db *BadgerDB, logger arbor.ILogger) interfaces.WorkerStorage {
	return &WorkerStorage{
		db:     db,
		logger: logger,
	}
}

func (s *WorkerStorage) CreateWorker(ctx context.Context, worker *models.Worker) error {
	if worker == nil {
		return models.NewValidationError("worker is required")
	}
	if worker.ID == "" {
		return models.NewValidationError("worker ID is required")
	}
	if err := worker.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	worker.CreatedAt = now
	worker.UpdatedAt = now

	if err := s.db.Store().Insert(worker.ID, *worker); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return models.NewValidationError("worker %s already exists", worker.ID)
		}
		return fmt.Errorf("failed to create worker: %w", err)
	}

	s.logger.Trace().
		Str("worker_id", worker.ID).
		Str("workspace_id", worker.WorkspaceID).
		Msg("BadgerDB: Worker created")
	return nil
}

func (s *WorkerStorage) GetWorker(ctx context.Context, id string) (*models.Worker, error) {
	var worker models.Worker
	if err := s.db.Store().Get(id, &worker); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, &models.NotFoundError{Entity: "worker", ID: id}
		}
		return nil, fmt.Errorf("failed to get worker %s: %w", id, err)
	}
	return &worker, nil
}

func (s *WorkerStorage) ListWorkers(ctx context.Context, workspaceID string, status models.WorkerStatus) ([]*models.Worker, error) {
	var query *badgerhold.Query
	switch {
	case workspaceID != "" && status != "":
		query = badgerhold.Where("WorkspaceID").Eq(workspaceID).And("Status").Eq(status)
	case workspaceID != "":
		query = badgerhold.Where("WorkspaceID").Eq(workspaceID)
	case status != "":
		query = badgerhold.Where("Status").Eq(status)
	default:
		query = badgerhold.Where("ID").Ne("")
	}
	query = query.SortBy("CreatedAt")

	var workers []models.Worker
	if err := s.db.Store().Find(&workers, query); err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}

	result := make([]*models.Worker, len(workers))
	for i := range workers {
		result[i] = &workers[i]
	}
	return result, nil
}

// UpdateStatus applies a graph-checked worker transition and its audit
// row in one transaction.
func (s *WorkerStorage) UpdateStatus(ctx context.Context, id string, to models.WorkerStatus, reason string) (*models.Worker, error) {
	if !to.IsValid() {
		return nil, models.NewValidationError("unknown worker status %q", to)
	}
	if to == models.WorkerStatusFailed && reason == "" {
		return nil, models.NewValidationError("a failure reason is required")
	}

	var updated models.Worker
	err := s.db.Update(func(tx *badgerdb.Txn) error {
		var worker models.Worker
		if err := s.db.Store().TxGet(tx, id, &worker); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return &models.NotFoundError{Entity: "worker", ID: id}
			}
			return err
		}

		if !state.CanWorkerTransition(worker.Status, to) {
			return &models.StateTransitionError{EntityID: id, From: string(worker.Status), To: string(to)}
		}

		from := worker.Status
		now := time.Now().UTC()
		worker.Status = to
		worker.UpdatedAt = now

		if err := s.db.Store().TxUpdate(tx, id, worker); err != nil {
			return err
		}
		if err := s.db.AppendTransition(tx, models.EntityTypeWorker, id, string(from), string(to), reason, now); err != nil {
			return err
		}

		updated = worker
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update worker %s: %w", id, err)
	}

	s.logger.Trace().
		Str("worker_id", id).
		Str("status", string(to)).
		Msg("BadgerDB: Worker status updated")
	return &updated, nil
}

// ClaimIdle atomically moves one idle worker in the workspace to running.
// The find and the update share a transaction, so two concurrent claims
// can never take the same worker. Returns nil when the pool is dry.
func (s *WorkerStorage) ClaimIdle(ctx context.Context, workspaceID string) (*models.Worker, error) {
	var claimed *models.Worker
	err := s.db.Update(func(tx *badgerdb.Txn) error {
		claimed = nil

		var workers []models.Worker
		query := badgerhold.Where("WorkspaceID").Eq(workspaceID).
			And("Status").Eq(models.WorkerStatusIdle).
			SortBy("CreatedAt").Limit(1)
		if err := s.db.Store().TxFind(tx, &workers, query); err != nil {
			return err
		}
		if len(workers) == 0 {
			return nil
		}

		worker := workers[0]
		from := worker.Status
		now := time.Now().UTC()
		worker.Status = models.WorkerStatusRunning
		worker.UpdatedAt = now

		if err := s.db.Store().TxUpdate(tx, worker.ID, worker); err != nil {
			return err
		}
		if err := s.db.AppendTransition(tx, models.EntityTypeWorker, worker.ID, string(from), string(models.WorkerStatusRunning), "", now); err != nil {
			return err
		}

		claimed = &worker
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim idle worker: %w", err)
	}
	return claimed, nil
}
