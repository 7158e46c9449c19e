package badger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/common"
	"github.com/timshannon/badgerhold/v4"
)

const (
	// Concurrent read-write transactions can conflict; badger surfaces
	// that as ErrConflict and the transaction is safe to re-run.
	maxTxnRetries = 3
	txnRetryDelay = 100 * time.Millisecond
)

// transitionSeqKey names the persisted sequence that orders the audit
// trail across restarts.
var transitionSeqKey = []byte("ramus_transition_seq")

// BadgerDB manages the Badger database connection
type BadgerDB struct {
	store  *badgerhold.Store
	seq    *badgerdb.Sequence
	logger arbor.ILogger
	config *common.BadgerConfig
}

// NewBadgerDB creates a new Badger database connection
func NewBadgerDB(logger arbor.ILogger, config *common.BadgerConfig) (*BadgerDB, error) {
	options := badgerhold.DefaultOptions
	options.Logger = nil // Disable default badger logger to use arbor

	if config.InMemory {
		logger.Debug().Msg("Opening in-memory Badger database")
		options.InMemory = true
		options.Dir = ""
		options.ValueDir = ""
	} else {
		// If reset_on_startup is enabled, delete the existing database
		if config.ResetOnStartup {
			if _, err := os.Stat(config.Path); err == nil {
				logger.Debug().Str("path", config.Path).Msg("Deleting existing database (reset_on_startup=true)")
				if err := os.RemoveAll(config.Path); err != nil {
					logger.Warn().Err(err).Str("path", config.Path).Msg("Failed to delete database directory")
				}
			}
		}

		// Ensure the directory exists
		dir := filepath.Dir(config.Path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}

		logger.Debug().Str("path", config.Path).Msg("Opening Badger database connection")

		options.Dir = config.Path
		options.ValueDir = config.Path
	}

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	seq, err := store.Badger().GetSequence(transitionSeqKey, 64)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open transition sequence: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("Badger database initialized")

	return &BadgerDB{
		store:  store,
		seq:    seq,
		logger: logger,
		config: config,
	}, nil
}

// Store returns the underlying badgerhold store
func (b *BadgerDB) Store() *badgerhold.Store {
	return b.store
}

// NextSequence returns the next value of the persisted audit sequence.
// Values are monotonic across restarts; gaps are possible.
func (b *BadgerDB) NextSequence() (uint64, error) {
	return b.seq.Next()
}

// Update runs fn in one read-write transaction, retrying on transient
// conflicts. Permanent errors pass straight through.
func (b *BadgerDB) Update(fn func(tx *badgerdb.Txn) error) error {
	var err error
	for attempt := 0; attempt <= maxTxnRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(txnRetryDelay)
		}
		err = b.store.Badger().Update(fn)
		if err == nil || !errors.Is(err, badgerdb.ErrConflict) {
			return err
		}
		b.logger.Debug().
			Int("attempt", attempt+1).
			Msg("BadgerDB: Transaction conflict, retrying")
	}
	return err
}

// Close closes the database connection
func (b *BadgerDB) Close() error {
	if b.seq != nil {
		if err := b.seq.Release(); err != nil {
			b.logger.Warn().Err(err).Msg("Failed to release transition sequence")
		}
	}
	if b.store != nil {
		return b.store.Close()
	}
	return nil
}
