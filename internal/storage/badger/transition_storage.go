package badger

import (
	"context"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/common"
	"github.com/ternarybob/ramus/internal/interfaces"
	"github.com/ternarybob/ramus/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// AppendTransition writes one audit row inside the caller's transaction.
// Rows are ordered by a sequence that survives restarts.
func (b *BadgerDB) AppendTransition(tx *badgerdb.Txn, entityType models.EntityType, entityID, from, to, reason string, at time.Time) error {
	seq, err := b.NextSequence()
	if err != nil {
		return fmt.Errorf("failed to draw transition sequence: %w", err)
	}

	transition := models.StateTransition{
		ID:         common.NewTransitionID(),
		EntityType: entityType,
		EntityID:   entityID,
		FromState:  from,
		ToState:    to,
		At:         at,
		Sequence:   seq,
	}
	if reason != "" {
		transition.Reason = &reason
	}

	if err := b.store.TxInsert(tx, transition.ID, transition); err != nil {
		return fmt.Errorf("failed to append transition: %w", err)
	}
	return nil
}

// TransitionStorage implements read access to the audit trail
type TransitionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewTransitionStorage creates a new TransitionStorage instance
func NewTransitionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TransitionStorage {
	return &TransitionStorage{
		db:     db,
		logger: logger,
	}
}

// History returns the entity's transitions newest-first. A limit of 0
// returns everything.
func (s *TransitionStorage) History(ctx context.Context, entityType models.EntityType, entityID string, limit int) ([]*models.StateTransition, error) {
	query := badgerhold.Where("EntityType").Eq(entityType).
		And("EntityID").Eq(entityID).
		SortBy("Sequence").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var transitions []models.StateTransition
	if err := s.db.Store().Find(&transitions, query); err != nil {
		return nil, fmt.Errorf("failed to load transition history for %s: %w", entityID, err)
	}

	result := make([]*models.StateTransition, len(transitions))
	for i := range transitions {
		result[i] = &transitions[i]
	}
	return result, nil
}

func (s *TransitionStorage) CountTransitions(ctx context.Context, entityType models.EntityType, entityID string) (int, error) {
	count, err := s.db.Store().Count(&models.StateTransition{},
		badgerhold.Where("EntityType").Eq(entityType).And("EntityID").Eq(entityID))
	if err != nil {
		return 0, fmt.Errorf("failed to count transitions for %s: %w", entityID, err)
	}
	return int(count), nil
}
