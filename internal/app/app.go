// -----------------------------------------------------------------------
// Application - Dependency wiring and lifecycle
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/ramus/internal/common"
	"github.com/ternarybob/ramus/internal/executors"
	"github.com/ternarybob/ramus/internal/handlers"
	"github.com/ternarybob/ramus/internal/interfaces"
	"github.com/ternarybob/ramus/internal/recursion"
	"github.com/ternarybob/ramus/internal/resources"
	"github.com/ternarybob/ramus/internal/scheduler"
	"github.com/ternarybob/ramus/internal/services/auth"
	"github.com/ternarybob/ramus/internal/services/events"
	"github.com/ternarybob/ramus/internal/services/maintenance"
	"github.com/ternarybob/ramus/internal/services/workers"
	"github.com/ternarybob/ramus/internal/storage/badger"
)

// App holds every service and handler the orchestrator runs with
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager

	// Domain services
	EventService     interfaces.EventService
	Validator        *recursion.Validator
	ResourceService  interfaces.ResourceService
	AuthService      interfaces.AuthService
	WorkerService    interfaces.WorkerService
	SchedulerService interfaces.SchedulerService
	Maintenance      *maintenance.Service
	Executor         interfaces.LeafExecutor
	ExecutorRegistry *executors.Registry

	// HTTP handlers
	APIHandler       *handlers.APIHandler
	AuthHandler      *handlers.AuthHandler
	JobHandler       *handlers.JobHandler
	ResourceHandler  *handlers.ResourceHandler
	RecursionHandler *handlers.RecursionHandler
	WorkerHandler    *handlers.WorkerHandler
	WSHandler        *handlers.WebSocketHandler
	Idempotency      *handlers.IdempotencyMiddleware
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Initialize handlers
	if err := app.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	// Start WebSocket background tasks once the full graph exists
	app.WSHandler.StartUsageBroadcaster()

	logger.Info().
		Str("executor", app.Executor.Name()).
		Int("max_depth", app.Validator.MaxDepth()).
		Int("worker_pool", cfg.Workers.PoolSize).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase opens storage and clears out state a previous process
// left mid-flight
func (a *App) initDatabase() error {
	store, err := badger.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.StorageManager = store

	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Bool("in_memory", a.Config.Storage.Badger.InMemory).
		Msg("Storage layer initialized")

	// Jobs that were live when the last process died can never finish.
	// Fail them and drop their allocations before anything else runs.
	ctx := context.Background()
	interrupted, err := store.JobStorage().MarkInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("failed to fail interrupted jobs: %w", err)
	}
	released, err := store.AllocationStorage().DeleteAllAllocations(ctx)
	if err != nil {
		return fmt.Errorf("failed to clear stale allocations: %w", err)
	}
	if interrupted > 0 || released > 0 {
		a.Logger.Warn().
			Int("jobs_failed", interrupted).
			Int("allocations_cleared", released).
			Msg("Recovered state from interrupted run")
	}

	return nil
}

// initServices initializes all business services in dependency order
func (a *App) initServices() error {
	ctx := context.Background()

	// Event bus first; everything else publishes through it
	a.EventService = events.NewService(a.Logger)
	if err := events.SubscribeLoggerToAllEvents(a.EventService, a.Logger); err != nil {
		return fmt.Errorf("failed to subscribe event logger: %w", err)
	}

	a.Validator = recursion.NewValidator(
		recursion.WithMaxDepth(a.Config.Scheduler.MaxDepth),
		recursion.WithBaseTimeout(time.Duration(a.Config.Scheduler.BaseTimeoutSeconds*float64(time.Second))),
		recursion.WithGrowthFactor(a.Config.Scheduler.TimeoutGrowth),
		recursion.WithWorkersByDepth(a.Config.Scheduler.WorkersByDepthMap()),
	)

	a.ResourceService = resources.NewManager(
		a.Validator.WorkersByDepth(),
		a.StorageManager.AllocationStorage(),
		a.Logger,
	)

	authService := auth.NewService(
		a.StorageManager.UserStorage(),
		a.StorageManager.TokenStorage(),
		&a.Config.Auth,
		a.Logger,
	)
	if err := authService.EnsureBootstrapUser(ctx); err != nil {
		return fmt.Errorf("failed to ensure bootstrap user: %w", err)
	}
	a.AuthService = authService

	workerService := workers.NewService(
		a.StorageManager.WorkerStorage(),
		a.EventService,
		&a.Config.Workers,
		a.Logger,
	)
	if err := workerService.Provision(ctx); err != nil {
		return fmt.Errorf("failed to provision worker pool: %w", err)
	}
	a.WorkerService = workerService

	executor, registry, err := executors.NewFromConfig(&a.Config.Executor, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize leaf executor: %w", err)
	}
	a.Executor = executor
	a.ExecutorRegistry = registry

	a.SchedulerService = scheduler.New(
		a.StorageManager,
		a.ResourceService,
		a.Validator,
		a.Executor,
		a.WorkerService,
		a.EventService,
		&a.Config.Scheduler,
		a.Logger,
	)

	a.Maintenance = maintenance.NewService(a.StorageManager, a.Validator, &a.Config.Maintenance, a.Logger)
	if err := a.Maintenance.Start(); err != nil {
		return fmt.Errorf("failed to start maintenance service: %w", err)
	}

	return nil
}

// initHandlers initializes HTTP handlers
func (a *App) initHandlers() error {
	a.APIHandler = handlers.NewAPIHandler(a.SchedulerService, a.StorageManager)
	a.AuthHandler = handlers.NewAuthHandler(a.AuthService, a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.SchedulerService, a.StorageManager, a.Logger)
	a.ResourceHandler = handlers.NewResourceHandler(a.ResourceService, a.Logger)
	a.RecursionHandler = handlers.NewRecursionHandler(a.SchedulerService, a.ResourceService, a.Validator, a.Logger)
	a.WorkerHandler = handlers.NewWorkerHandler(a.WorkerService, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.SchedulerService, a.ResourceService, &a.Config.WebSocket, a.Logger)
	a.Idempotency = handlers.NewIdempotencyMiddleware(a.StorageManager.IdempotencyStorage(), a.Logger)
	return nil
}

// Close releases all resources in reverse dependency order
func (a *App) Close() error {
	// Stop the scheduler first so no task writes to storage mid-close
	if a.SchedulerService != nil {
		a.SchedulerService.Stop()
		a.Logger.Info().Msg("Scheduler stopped")
	}

	if a.Maintenance != nil {
		a.Maintenance.Stop()
	}

	if a.WSHandler != nil {
		a.WSHandler.Stop()
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
			return err
		}
	}

	a.Logger.Info().Msg("Application shut down")
	return nil
}
