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
	"github.com/timshannon/badgerhold/v4"
)

// IdempotencyStorage implements claim-once records for mutating requests
type IdempotencyStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewIdempotencyStorage creates a new IdempotencyStorage instance
func NewIdempotencyStorage(db *BadgerDB, logger arbor.ILogger) interfaces.IdempotencyStorage {
	return &IdempotencyStorage{
		db:     db,
		logger: logger,
	}
}

// Claim registers the key if unseen; the get and insert share one
// transaction so exactly one caller wins a concurrent race. fresh is
// true for the winner; everyone else gets the existing record to replay
// or reject against.
func (s *IdempotencyStorage) Claim(ctx context.Context, key, fingerprint string) (*models.IdempotencyRecord, bool, error) {
	if key == "" {
		return nil, false, models.NewValidationError("idempotency key is required")
	}

	var record models.IdempotencyRecord
	fresh := false

	err := s.db.Update(func(tx *badgerdb.Txn) error {
		fresh = false

		var existing models.IdempotencyRecord
		err := s.db.Store().TxGet(tx, key, &existing)
		if err == nil {
			record = existing
			return nil
		}
		if !errors.Is(err, badgerhold.ErrNotFound) {
			return err
		}

		record = models.IdempotencyRecord{
			Key:         key,
			Fingerprint: fingerprint,
			FirstSeenAt: time.Now().UTC(),
		}
		if err := s.db.Store().TxInsert(tx, key, record); err != nil {
			return err
		}
		fresh = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to claim idempotency key: %w", err)
	}

	return &record, fresh, nil
}

// Complete snapshots the response for later replays.
func (s *IdempotencyStorage) Complete(ctx context.Context, key string, status int, contentType string, body []byte) error {
	err := s.db.Update(func(tx *badgerdb.Txn) error {
		var record models.IdempotencyRecord
		if err := s.db.Store().TxGet(tx, key, &record); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return &models.NotFoundError{Entity: "idempotency record", ID: key}
			}
			return err
		}

		record.Status = status
		record.ContentType = contentType
		record.Body = body
		record.CompletedAt = time.Now().UTC()

		return s.db.Store().TxUpdate(tx, key, record)
	})
	if err != nil {
		return fmt.Errorf("failed to complete idempotency record %s: %w", key, err)
	}
	return nil
}

// DeleteExpired drops records first seen before the cutoff and returns
// how many were removed.
func (s *IdempotencyStorage) DeleteExpired(ctx context.Context, olderThan time.Time) (int, error) {
	count, err := s.db.Store().Count(&models.IdempotencyRecord{},
		badgerhold.Where("FirstSeenAt").Lt(olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to count expired idempotency records: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	err = s.db.Store().DeleteMatching(&models.IdempotencyRecord{},
		badgerhold.Where("FirstSeenAt").Lt(olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired idempotency records: %w", err)
	}

	s.logger.Debug().
		Int("count", int(count)).
		Msg("Expired idempotency records removed")
	return int(count), nil
}
