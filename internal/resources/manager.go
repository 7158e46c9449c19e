// -----------------------------------------------------------------------
// Resource Manager - Depth-scoped worker slot accounting
// -----------------------------------------------------------------------

package resources

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/interfaces"
	"github.com/ternarybob/ramus/internal/models"
)

// Manager tracks worker slot usage per depth against a fixed quota table.
// The in-memory counters are authoritative; allocation rows are persisted
// as a shadow so the hierarchy endpoint and post-mortems can see who holds
// what. Counter math happens under one mutex, storage writes never do.
type Manager struct {
	mu     sync.Mutex
	used   map[int]int
	claims map[string]*models.Allocation
	quotas map[int]int

	allocations interfaces.AllocationStorage
	logger      arbor.ILogger
}

// NewManager creates a resource manager for the given quota table. The
// table is copied; a nil store disables persistence (tests).
func NewManager(quotas map[int]int, allocations interfaces.AllocationStorage, logger arbor.ILogger) *Manager {
	copied := make(map[int]int, len(quotas))
	for depth, quota := range quotas {
		copied[depth] = quota
	}

	return &Manager{
		used:        make(map[int]int),
		claims:      make(map[string]*models.Allocation),
		quotas:      copied,
		allocations: allocations,
		logger:      logger,
	}
}

// quotaAt returns the slot quota for a depth, defaulting to 1 for depths
// missing from the table.
func (m *Manager) quotaAt(depth int) int {
	if quota, ok := m.quotas[depth]; ok {
		return quota
	}
	return 1
}

// Allocate grants between 1 and requested worker slots at the given
// depth. When fewer than requested slots remain the grant is partial;
// when none remain, or the job already holds a grant at this depth, the
// call fails with an AllocationError and changes nothing.
func (m *Manager) Allocate(ctx context.Context, jobID string, depth, requested int) (*models.Allocation, error) {
	if jobID == "" {
		return nil, models.NewValidationError("job id is required")
	}
	if depth < 0 {
		return nil, models.NewValidationError("depth %d is negative", depth)
	}
	if requested < 1 {
		return nil, models.NewValidationError("requested workers must be at least 1, got %d", requested)
	}

	key := models.AllocationKey(jobID, depth)

	m.mu.Lock()
	if _, exists := m.claims[key]; exists {
		m.mu.Unlock()
		return nil, &models.AllocationError{
			JobID:   jobID,
			Depth:   depth,
			Message: fmt.Sprintf("job %s already holds an allocation at depth %d", jobID, depth),
		}
	}

	quota := m.quotaAt(depth)
	available := quota - m.used[depth]
	if available <= 0 {
		m.mu.Unlock()
		return nil, &models.AllocationError{JobID: jobID, Depth: depth}
	}

	granted := requested
	if granted > available {
		granted = available
	}

	alloc := &models.Allocation{
		JobID:     jobID,
		Depth:     depth,
		Requested: requested,
		Granted:   granted,
		CreatedAt: time.Now().UTC(),
	}

	m.used[depth] += granted
	m.claims[key] = alloc
	m.mu.Unlock()

	// Persist the shadow row outside the mutex. On failure the grant is
	// rolled back so counters and claims stay consistent.
	if m.allocations != nil {
		if err := m.allocations.CreateAllocation(ctx, alloc); err != nil {
			m.mu.Lock()
			m.used[depth] -= granted
			if m.used[depth] < 0 {
				m.used[depth] = 0
			}
			delete(m.claims, key)
			m.mu.Unlock()
			return nil, fmt.Errorf("failed to persist allocation for job %s at depth %d: %w", jobID, depth, err)
		}
	}

	m.logger.Debug().
		Str("job_id", jobID).
		Int("depth", depth).
		Int("requested", requested).
		Int("granted", granted).
		Msg("Workers allocated")

	return alloc, nil
}

// Release returns the job's grant at the given depth to the pool. Returns
// false when no such grant exists; releasing twice is a no-op.
func (m *Manager) Release(ctx context.Context, jobID string, depth int) bool {
	key := models.AllocationKey(jobID, depth)

	m.mu.Lock()
	claim, ok := m.claims[key]
	if !ok {
		m.mu.Unlock()
		return false
	}

	m.used[depth] -= claim.Granted
	if m.used[depth] < 0 {
		m.used[depth] = 0
	}
	delete(m.claims, key)
	m.mu.Unlock()

	if m.allocations != nil {
		if _, err := m.allocations.DeleteAllocation(ctx, jobID, depth); err != nil {
			m.logger.Warn().
				Str("job_id", jobID).
				Int("depth", depth).
				Err(err).
				Msg("Failed to delete allocation row, counters already released")
		}
	}

	m.logger.Debug().
		Str("job_id", jobID).
		Int("depth", depth).
		Int("released", claim.Granted).
		Msg("Workers released")

	return true
}

// Cleanup releases every grant the job holds across all depths and
// returns the total number of slots returned. Safe to call on jobs with
// no grants.
func (m *Manager) Cleanup(ctx context.Context, jobID string) int {
	m.mu.Lock()
	total := 0
	for key, claim := range m.claims {
		if claim.JobID != jobID {
			continue
		}
		m.used[claim.Depth] -= claim.Granted
		if m.used[claim.Depth] < 0 {
			m.used[claim.Depth] = 0
		}
		total += claim.Granted
		delete(m.claims, key)
	}
	m.mu.Unlock()

	if total == 0 {
		return 0
	}

	if m.allocations != nil {
		if _, err := m.allocations.DeleteAllocationsByJob(ctx, jobID); err != nil {
			m.logger.Warn().
				Str("job_id", jobID).
				Err(err).
				Msg("Failed to delete allocation rows, counters already released")
		}
	}

	m.logger.Debug().
		Str("job_id", jobID).
		Int("released", total).
		Msg("Job allocations cleaned up")

	return total
}

// Usage returns a point-in-time snapshot per depth: slots used, the
// quota, and pressure flags at 80% and 90% utilisation.
func (m *Manager) Usage() map[int]models.DepthUsage {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make(map[int]models.DepthUsage, len(m.quotas))
	for depth, quota := range m.quotas {
		used := m.used[depth]
		snapshot[depth] = depthUsage(used, quota)
	}

	// Depths outside the table show up once something is allocated there
	for depth, used := range m.used {
		if _, ok := snapshot[depth]; ok {
			continue
		}
		if used > 0 {
			snapshot[depth] = depthUsage(used, m.quotaAt(depth))
		}
	}

	return snapshot
}

func depthUsage(used, quota int) models.DepthUsage {
	usage := models.DepthUsage{
		Used:  used,
		Quota: quota,
	}
	if quota > 0 {
		ratio := float64(used) / float64(quota)
		usage.Warn80 = ratio >= 0.8
		usage.Warn90 = ratio >= 0.9
	} else {
		usage.Warn80 = used > 0
		usage.Warn90 = used > 0
	}
	return usage
}

// Quotas returns a copy of the quota table.
func (m *Manager) Quotas() map[int]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make(map[int]int, len(m.quotas))
	for depth, quota := range m.quotas {
		copied[depth] = quota
	}
	return copied
}

// WithResources allocates slots for the job, runs fn with the granted
// count, and releases the grant on every exit path including panics.
func (m *Manager) WithResources(ctx context.Context, jobID string, depth, requested int, fn func(granted int) error) error {
	alloc, err := m.Allocate(ctx, jobID, depth, requested)
	if err != nil {
		return err
	}

	defer m.Release(ctx, jobID, depth)

	return fn(alloc.Granted)
}
