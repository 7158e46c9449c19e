// -----------------------------------------------------------------------
// Executor Registry - Provider-keyed leaf executor selection
// -----------------------------------------------------------------------

package executors

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/common"
	"github.com/ternarybob/ramus/internal/interfaces"
)

// Registry holds the available leaf executors keyed by provider name
type Registry struct {
	mu        sync.RWMutex
	executors map[string]interfaces.LeafExecutor
}

// NewRegistry creates an empty executor registry
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]interfaces.LeafExecutor),
	}
}

// Register adds an executor under its own name. Registering the same
// name twice replaces the earlier entry.
func (r *Registry) Register(executor interfaces.LeafExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[executor.Name()] = executor
}

// Get returns the executor registered under name
func (r *Registry) Get(name string) (interfaces.LeafExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executor, ok := r.executors[name]
	if !ok {
		return nil, fmt.Errorf("unknown executor provider: %s (available: %v)", name, r.names())
	}
	return executor, nil
}

// Names returns the registered provider names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names()
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewFromConfig builds the registry and returns the configured provider.
// The echo executor is always registered; the anthropic executor joins
// the registry only when an API key is available, so demo deployments
// run without credentials.
func NewFromConfig(cfg *common.ExecutorConfig, logger arbor.ILogger) (interfaces.LeafExecutor, *Registry, error) {
	registry := NewRegistry()
	registry.Register(NewEchoExecutor(logger))

	if cfg.APIKey != "" {
		anthropicExec, err := NewAnthropicExecutor(cfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize anthropic executor: %w", err)
		}
		registry.Register(anthropicExec)
	}

	provider := cfg.Provider
	if provider == "" {
		provider = "echo"
	}

	selected, err := registry.Get(provider)
	if err != nil {
		return nil, nil, err
	}

	logger.Info().
		Str("provider", selected.Name()).
		Strs("registered", registry.Names()).
		Msg("Leaf executor selected")

	return selected, registry, nil
}
