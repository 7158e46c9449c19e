package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/common"
	"github.com/ternarybob/ramus/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db          *BadgerDB
	job         interfaces.JobStorage
	worker      interfaces.WorkerStorage
	allocation  interfaces.AllocationStorage
	transition  interfaces.TransitionStorage
	idempotency interfaces.IdempotencyStorage
	user        interfaces.UserStorage
	token       interfaces.TokenStorage
	logger      arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:          db,
		job:         NewJobStorage(db, logger),
		worker:      NewWorkerStorage(db, logger),
		allocation:  NewAllocationStorage(db, logger),
		transition:  NewTransitionStorage(db, logger),
		idempotency: NewIdempotencyStorage(db, logger),
		user:        NewUserStorage(db, logger),
		token:       NewTokenStorage(db, logger),
		logger:      logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// JobStorage returns the Job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// WorkerStorage returns the Worker storage interface
func (m *Manager) WorkerStorage() interfaces.WorkerStorage {
	return m.worker
}

// AllocationStorage returns the Allocation storage interface
func (m *Manager) AllocationStorage() interfaces.AllocationStorage {
	return m.allocation
}

// TransitionStorage returns the Transition storage interface
func (m *Manager) TransitionStorage() interfaces.TransitionStorage {
	return m.transition
}

// IdempotencyStorage returns the Idempotency storage interface
func (m *Manager) IdempotencyStorage() interfaces.IdempotencyStorage {
	return m.idempotency
}

// UserStorage returns the User storage interface
func (m *Manager) UserStorage() interfaces.UserStorage {
	return m.user
}

// TokenStorage returns the Token storage interface
func (m *Manager) TokenStorage() interfaces.TokenStorage {
	return m.token
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
