// -----------------------------------------------------------------------
// Recursion Validator - Pure depth validation for hierarchical jobs
// -----------------------------------------------------------------------

package recursion

import (
	"fmt"
	"math"
	"time"
)

const (
	// MaxDepth is the deepest level a job tree may reach. Depth 0 is the
	// root; a job at MaxDepth cannot spawn children.
	MaxDepth = 5

	// BaseTimeout is the execution budget for a depth 0 job. Each level
	// below multiplies the budget by TimeoutGrowthFactor.
	BaseTimeout = 300 * time.Second

	// TimeoutGrowthFactor compounds the timeout per depth level. Deeper
	// jobs decompose into more sub-work, so their budget grows.
	TimeoutGrowthFactor = 1.5

	// DefaultMaxWorkers applies to depths missing from the worker table.
	DefaultMaxWorkers = 1
)

// DefaultWorkersByDepth returns the standard worker capacity table.
// Capacity tapers as depth increases to keep the tree's fan-out bounded.
func DefaultWorkersByDepth() map[int]int {
	return map[int]int{
		0: 10,
		1: 8,
		2: 5,
		3: 3,
		4: 2,
		5: 1,
	}
}

// Result is the outcome of a depth validation check. AdjustedTimeout and
// MaxWorkers describe the level the candidate child would run at, and are
// populated whether or not the check passed.
type Result struct {
	IsValid         bool          `json:"is_valid"`
	AdjustedTimeout time.Duration `json:"adjusted_timeout"`
	MaxWorkers      int           `json:"max_workers"`
	ErrorMessage    string        `json:"error_message,omitempty"`
}

// Validator performs pure depth and cycle checks. It holds no locks and
// touches no storage, so a single instance is safe for concurrent use.
type Validator struct {
	maxDepth       int
	baseTimeout    time.Duration
	growthFactor   float64
	workersByDepth map[int]int
}

// Option configures a Validator.
type Option func(*Validator)

// WithMaxDepth overrides the depth ceiling.
func WithMaxDepth(max int) Option {
	return func(v *Validator) {
		v.maxDepth = max
	}
}

// WithBaseTimeout overrides the depth 0 execution budget.
func WithBaseTimeout(d time.Duration) Option {
	return func(v *Validator) {
		if d > 0 {
			v.baseTimeout = d
		}
	}
}

// WithGrowthFactor overrides the per-depth timeout multiplier.
func WithGrowthFactor(f float64) Option {
	return func(v *Validator) {
		if f >= 1 {
			v.growthFactor = f
		}
	}
}

// WithWorkersByDepth overrides the worker capacity table. The map is
// copied so later mutation by the caller cannot skew validation.
func WithWorkersByDepth(table map[int]int) Option {
	return func(v *Validator) {
		if len(table) == 0 {
			return
		}
		copied := make(map[int]int, len(table))
		for depth, workers := range table {
			copied[depth] = workers
		}
		v.workersByDepth = copied
	}
}

// NewValidator creates a validator with the standard limits, adjusted by
// any options.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		maxDepth:       MaxDepth,
		baseTimeout:    BaseTimeout,
		growthFactor:   TimeoutGrowthFactor,
		workersByDepth: DefaultWorkersByDepth(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// MaxDepth returns the configured depth ceiling.
func (v *Validator) MaxDepth() int {
	return v.maxDepth
}

// WorkersByDepth returns a copy of the worker capacity table.
func (v *Validator) WorkersByDepth() map[int]int {
	copied := make(map[int]int, len(v.workersByDepth))
	for depth, workers := range v.workersByDepth {
		copied[depth] = workers
	}
	return copied
}

// ValidateDepth checks whether a job at currentDepth may spawn a child.
// The child would run at currentDepth+1; AdjustedTimeout and MaxWorkers in
// the result describe that next level. A negative currentDepth or a
// currentDepth at or beyond the ceiling fails the check.
func (v *Validator) ValidateDepth(currentDepth int) Result {
	return v.validate(currentDepth, v.maxDepth, v.workersByDepth)
}

// ValidateDepthWith performs the same check against caller-supplied limits.
// A nil table falls back to the configured one; a negative maxDepth fails
// the check outright, so callers wanting the configured ceiling must pass
// it explicitly. Used by the side-effect-free validation endpoint to
// answer what-if queries without touching validator state.
func (v *Validator) ValidateDepthWith(currentDepth, maxDepth int, workersByDepth map[int]int) Result {
	table := workersByDepth
	if len(table) == 0 {
		table = v.workersByDepth
	}
	if maxDepth < 0 {
		result := Result{
			AdjustedTimeout: v.TimeoutForDepth(currentDepth + 1),
			MaxWorkers:      workersAt(table, currentDepth+1),
		}
		result.ErrorMessage = fmt.Sprintf("max_depth %d is negative", maxDepth)
		return result
	}
	return v.validate(currentDepth, maxDepth, table)
}

func (v *Validator) validate(currentDepth, maxDepth int, table map[int]int) Result {
	nextDepth := currentDepth + 1

	result := Result{
		AdjustedTimeout: v.TimeoutForDepth(nextDepth),
		MaxWorkers:      workersAt(table, nextDepth),
	}

	if currentDepth < 0 {
		result.ErrorMessage = fmt.Sprintf("depth %d is negative", currentDepth)
		return result
	}
	if currentDepth >= maxDepth {
		result.ErrorMessage = fmt.Sprintf("depth %d has reached the maximum of %d, no further nesting allowed", currentDepth, maxDepth)
		return result
	}

	result.IsValid = true
	return result
}

// TimeoutForDepth returns the execution budget for a job at the given
// depth: baseTimeout * growthFactor^depth. Depths at or below zero get the
// base budget.
func (v *Validator) TimeoutForDepth(depth int) time.Duration {
	if depth <= 0 {
		return v.baseTimeout
	}
	scaled := float64(v.baseTimeout) * math.Pow(v.growthFactor, float64(depth))
	return time.Duration(scaled)
}

// WorkersForDepth returns the worker capacity at the given depth, falling
// back to DefaultMaxWorkers for depths missing from the table.
func (v *Validator) WorkersForDepth(depth int) int {
	return workersAt(v.workersByDepth, depth)
}

func workersAt(table map[int]int, depth int) int {
	if workers, ok := table[depth]; ok {
		return workers
	}
	return DefaultMaxWorkers
}

// DetectCircularReference reports whether candidateID already appears in
// the ancestor chain. Submitting such a job would make the tree a cycle.
func DetectCircularReference(candidateID string, ancestorIDs []string) bool {
	for _, id := range ancestorIDs {
		if id == candidateID {
			return true
		}
	}
	return false
}
