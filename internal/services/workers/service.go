// -----------------------------------------------------------------------
// Worker Service - Pool provisioning and lifecycle control
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/common"
	"github.com/ternarybob/ramus/internal/interfaces"
	"github.com/ternarybob/ramus/internal/models"
	"github.com/ternarybob/ramus/internal/state"
)

// Service owns the worker pool. Workers are persistent rows with their
// own state machine; jobs claim them at leaf execution and return them
// afterwards. Pool membership survives restarts, so provisioning only
// tops the pool up to the configured size.
type Service struct {
	storage interfaces.WorkerStorage
	machine *state.WorkerMachine
	events  interfaces.EventService
	config  *common.WorkersConfig
	logger  arbor.ILogger
}

var _ interfaces.WorkerService = (*Service)(nil)

// NewService creates the worker service. The event service is optional;
// nil silences status broadcasts.
func NewService(storage interfaces.WorkerStorage, events interfaces.EventService, config *common.WorkersConfig, logger arbor.ILogger) *Service {
	return &Service{
		storage: storage,
		machine: state.NewWorkerMachine(storage, logger),
		events:  events,
		config:  config,
		logger:  logger,
	}
}

// Provision tops the configured workspace up to pool_size workers.
// Terminal workers do not count toward the pool, so a restart replaces
// whatever the previous process retired.
func (s *Service) Provision(ctx context.Context) error {
	if s.config == nil || s.config.PoolSize <= 0 {
		return nil
	}
	workspaceID := s.workspace("")

	existing, err := s.storage.ListWorkers(ctx, workspaceID, "")
	if err != nil {
		return fmt.Errorf("failed to list workers in workspace %s: %w", workspaceID, err)
	}

	active := 0
	for _, worker := range existing {
		if !worker.Status.IsTerminal() {
			active++
		}
	}

	created := 0
	for i := active; i < s.config.PoolSize; i++ {
		worker := &models.Worker{
			ID:          common.NewWorkerID(),
			WorkspaceID: workspaceID,
			Status:      models.WorkerStatusIdle,
		}
		if err := s.storage.CreateWorker(ctx, worker); err != nil {
			return fmt.Errorf("failed to provision worker: %w", err)
		}
		created++
	}

	s.logger.Info().
		Str("workspace_id", workspaceID).
		Int("pool_size", s.config.PoolSize).
		Int("active", active).
		Int("created", created).
		Msg("Worker pool provisioned")
	return nil
}

// List returns workers filtered by workspace and status; empty values
// mean no filter.
func (s *Service) List(ctx context.Context, workspaceID string, status models.WorkerStatus) ([]*models.Worker, error) {
	if status != "" && !status.IsValid() {
		return nil, models.NewValidationError("unknown worker status %q", status)
	}
	return s.storage.ListWorkers(ctx, workspaceID, status)
}

// Checkout claims one idle worker, defaulting to the configured
// workspace. Returns nil without error when the pool has no idle worker.
func (s *Service) Checkout(ctx context.Context, workspaceID string) (*models.Worker, error) {
	worker, err := s.machine.Checkout(ctx, s.workspace(workspaceID))
	if err != nil || worker == nil {
		return worker, err
	}
	s.publish(worker)
	return worker, nil
}

// Checkin returns a running worker to idle.
func (s *Service) Checkin(ctx context.Context, workerID string) error {
	worker, err := s.machine.Checkin(ctx, workerID)
	if err != nil {
		return err
	}
	s.publish(worker)
	return nil
}

// Pause suspends a running worker. The job holding it keeps running;
// pause only blocks the worker from being handed out again.
func (s *Service) Pause(ctx context.Context, workerID string) (*models.Worker, error) {
	worker, err := s.machine.Pause(ctx, workerID)
	if err != nil {
		return nil, err
	}
	s.publish(worker)
	return worker, nil
}

// Resume returns a paused worker to running.
func (s *Service) Resume(ctx context.Context, workerID string) (*models.Worker, error) {
	worker, err := s.machine.Resume(ctx, workerID)
	if err != nil {
		return nil, err
	}
	s.publish(worker)
	return worker, nil
}

// Terminate retires a worker from any non-terminal state.
func (s *Service) Terminate(ctx context.Context, workerID string, reason string) (*models.Worker, error) {
	worker, err := s.machine.Terminate(ctx, workerID, reason)
	if err != nil {
		return nil, err
	}
	s.publish(worker)
	return worker, nil
}

func (s *Service) workspace(id string) string {
	if id != "" {
		return id
	}
	if s.config != nil && s.config.WorkspaceID != "" {
		return s.config.WorkspaceID
	}
	return "default"
}

func (s *Service) publish(worker *models.Worker) {
	if s.events == nil {
		return
	}
	event := interfaces.Event{
		Type: interfaces.EventWorkerStatusChange,
		Payload: models.WorkerStatusChangeEvent{
			WorkerID:    worker.ID,
			WorkspaceID: worker.WorkspaceID,
			Status:      string(worker.Status),
			At:          time.Now().UTC(),
		},
	}
	if err := s.events.Publish(context.Background(), event); err != nil {
		s.logger.Warn().Err(err).Str("worker_id", worker.ID).Msg("Failed to publish worker status change")
	}
}
