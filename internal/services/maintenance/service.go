// -----------------------------------------------------------------------
// Maintenance Service - Scheduled sweeps over the persistent stores
// -----------------------------------------------------------------------

package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/common"
	"github.com/ternarybob/ramus/internal/interfaces"
	"github.com/ternarybob/ramus/internal/models"
	"github.com/ternarybob/ramus/internal/recursion"
)

// SweepResult reports what one maintenance pass removed or repaired.
type SweepResult struct {
	IdempotencyRecords int `json:"idempotency_records"`
	ExpiredTokens      int `json:"expired_tokens"`
	StaleJobs          int `json:"stale_jobs"`
}

// Service runs periodic sweeps on a cron schedule: expired idempotency
// snapshots, expired bearer tokens, and running jobs whose deadline has
// long passed. A live task fails its own job at the deadline, so a
// running row past deadline plus grace means the goroutine died with it.
type Service struct {
	store     interfaces.StorageManager
	validator *recursion.Validator
	config    *common.MaintenanceConfig
	cron      *cron.Cron
	logger    arbor.ILogger

	mu      sync.Mutex
	running bool
}

// NewService creates the maintenance service.
func NewService(store interfaces.StorageManager, validator *recursion.Validator, config *common.MaintenanceConfig, logger arbor.ILogger) *Service {
	return &Service{
		store:     store,
		validator: validator,
		config:    config,
		cron:      cron.New(),
		logger:    logger,
	}
}

// Start schedules the sweep. Disabled config is a silent no-op so the
// caller does not need to special-case it.
func (s *Service) Start() error {
	if s.config == nil || !s.config.Enabled {
		s.logger.Debug().Msg("Maintenance sweeps disabled")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("maintenance service already running")
	}

	schedule := s.config.Schedule
	if err := common.ValidateSchedule(schedule); err != nil {
		return fmt.Errorf("maintenance schedule: %w", err)
	}

	_, err := s.cron.AddFunc(schedule, func() {
		s.RunSweep(context.Background())
	})
	if err != nil {
		return fmt.Errorf("failed to schedule maintenance sweep: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", schedule).
		Str("idempotency_ttl", s.config.IdempotencyTTL).
		Str("stale_job_grace", s.config.StaleJobGrace).
		Msg("Maintenance service started")
	return nil
}

// Stop halts the schedule. In-flight sweeps finish on their own.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}

	s.cron.Stop()
	s.running = false
	s.logger.Info().Msg("Maintenance service stopped")
}

// RunSweep executes one full maintenance pass. Each sweep is independent;
// a failure in one is logged and the others still run.
func (s *Service) RunSweep(ctx context.Context) SweepResult {
	var result SweepResult
	now := time.Now().UTC()

	cutoff := now.Add(-s.config.IdempotencyTTLDuration())
	removed, err := s.store.IdempotencyStorage().DeleteExpired(ctx, cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Idempotency sweep failed")
	} else {
		result.IdempotencyRecords = removed
	}

	tokens, err := s.store.TokenStorage().DeleteExpiredTokens(ctx, now)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Token sweep failed")
	} else {
		result.ExpiredTokens = tokens
	}

	stale, err := s.sweepStaleJobs(ctx, now)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Stale job sweep failed")
	} else {
		result.StaleJobs = stale
	}

	if result.IdempotencyRecords > 0 || result.ExpiredTokens > 0 || result.StaleJobs > 0 {
		s.logger.Info().
			Int("idempotency_records", result.IdempotencyRecords).
			Int("expired_tokens", result.ExpiredTokens).
			Int("stale_jobs", result.StaleJobs).
			Msg("Maintenance sweep completed")
	}
	return result
}

// sweepStaleJobs fails running jobs stuck past their depth-scaled
// deadline plus the configured grace. The grace keeps the sweep from
// racing a live task that is about to fail its own job.
func (s *Service) sweepStaleJobs(ctx context.Context, now time.Time) (int, error) {
	grace := s.config.StaleJobGraceDuration()

	var running []*models.Job
	opts := models.JobListOptions{Status: models.JobStatusRunning, Limit: models.MaxListLimit}
	for {
		page, err := s.store.JobStorage().ListJobs(ctx, opts)
		if err != nil {
			return 0, fmt.Errorf("failed to list running jobs: %w", err)
		}
		running = append(running, page...)
		if len(page) < opts.Limit {
			break
		}
		opts.Offset += opts.Limit
	}

	failed := 0
	for _, job := range running {
		if job.StartedAt == nil {
			continue
		}
		deadline := job.StartedAt.Add(s.validator.TimeoutForDepth(job.Depth))
		if now.Before(deadline.Add(grace)) {
			continue
		}

		if _, err := s.store.JobStorage().UpdateStatus(ctx, job.ID, models.JobStatusFailed, "timeout"); err != nil {
			s.logger.Warn().
				Err(err).
				Str("job_id", job.ID).
				Msg("Failed to fail stale job")
			continue
		}

		s.logger.Warn().
			Str("job_id", job.ID).
			Int("depth", job.Depth).
			Str("deadline", deadline.Format(time.RFC3339)).
			Msg("Stale running job failed by sweep")
		failed++
	}

	return failed, nil
}
