package badger

import (
	"context"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/interfaces"
	"github.com/ternarybob/ramus/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// AllocationStorage implements the AllocationStorage interface for
// Badger. Rows shadow the resource manager's in-memory counters.
type AllocationStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewAllocationStorage creates a new AllocationStorage instance
func NewAllocationStorage(db *BadgerDB, logger arbor.ILogger) interfaces.AllocationStorage {
	return &AllocationStorage{
		db:     db,
		logger: logger,
	}
}

// CreateAllocation inserts the row keyed by (job_id, depth). Insert-once
// semantics back the one-active-allocation rule.
func (s *AllocationStorage) CreateAllocation(ctx context.Context, alloc *models.Allocation) error {
	if alloc == nil {
		return models.NewValidationError("allocation is required")
	}
	if alloc.JobID == "" {
		return models.NewValidationError("allocation job ID is required")
	}

	if err := s.db.Store().Insert(alloc.Key(), *alloc); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return &models.AllocationError{
				JobID:   alloc.JobID,
				Depth:   alloc.Depth,
				Message: fmt.Sprintf("job %s already holds an allocation at depth %d", alloc.JobID, alloc.Depth),
			}
		}
		return fmt.Errorf("failed to create allocation: %w", err)
	}

	s.logger.Trace().
		Str("job_id", alloc.JobID).
		Int("depth", alloc.Depth).
		Int("granted", alloc.Granted).
		Msg("BadgerDB: Allocation created")
	return nil
}

func (s *AllocationStorage) GetAllocation(ctx context.Context, jobID string, depth int) (*models.Allocation, error) {
	var alloc models.Allocation
	if err := s.db.Store().Get(models.AllocationKey(jobID, depth), &alloc); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, &models.NotFoundError{Entity: "allocation", ID: models.AllocationKey(jobID, depth)}
		}
		return nil, fmt.Errorf("failed to get allocation: %w", err)
	}
	return &alloc, nil
}

// DeleteAllocation removes the row; returns false when it never existed.
func (s *AllocationStorage) DeleteAllocation(ctx context.Context, jobID string, depth int) (bool, error) {
	err := s.db.Store().Delete(models.AllocationKey(jobID, depth), &models.Allocation{})
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete allocation: %w", err)
	}
	return true, nil
}

// DeleteAllocationsByJob removes every row for the job in one
// transaction and returns the sum of granted slots they held.
func (s *AllocationStorage) DeleteAllocationsByJob(ctx context.Context, jobID string) (int, error) {
	total := 0
	err := s.db.Update(func(tx *badgerdb.Txn) error {
		total = 0

		var allocs []models.Allocation
		if err := s.db.Store().TxFind(tx, &allocs, badgerhold.Where("JobID").Eq(jobID)); err != nil {
			return err
		}

		for _, alloc := range allocs {
			if err := s.db.Store().TxDelete(tx, alloc.Key(), &models.Allocation{}); err != nil {
				return err
			}
			total += alloc.Granted
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete allocations for job %s: %w", jobID, err)
	}
	return total, nil
}

func (s *AllocationStorage) ListAllocations(ctx context.Context) ([]*models.Allocation, error) {
	var allocs []models.Allocation
	if err := s.db.Store().Find(&allocs, badgerhold.Where("JobID").Ne("").SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}

	result := make([]*models.Allocation, len(allocs))
	for i := range allocs {
		result[i] = &allocs[i]
	}
	return result, nil
}

// DeleteAllAllocations wipes the table. Runs once at startup: any rows
// present belonged to a previous process whose grants died with it.
func (s *AllocationStorage) DeleteAllAllocations(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.Allocation{}, badgerhold.Where("JobID").Ne(""))
	if err != nil {
		return 0, fmt.Errorf("failed to count allocations: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	if err := s.db.Store().DeleteMatching(&models.Allocation{}, badgerhold.Where("JobID").Ne("")); err != nil {
		return 0, fmt.Errorf("failed to delete allocations: %w", err)
	}

	s.logger.Info().
		Int("count", int(count)).
		Msg("Stale allocations cleared")
	return int(count), nil
}
