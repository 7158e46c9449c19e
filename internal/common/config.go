package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production"
	Server      ServerConfig      `toml:"server"`
	Storage     StorageConfig     `toml:"storage"`
	Logging     LoggingConfig     `toml:"logging"`
	Auth        AuthConfig        `toml:"auth"`
	Scheduler   SchedulerConfig   `toml:"scheduler"`
	Workers     WorkersConfig     `toml:"workers"`
	Executor    ExecutorConfig    `toml:"executor"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
	WebSocket   WebSocketConfig   `toml:"websocket"`
}

type ServerConfig struct {
	Port      int     `toml:"port"`
	Host      string  `toml:"host"`
	RateLimit float64 `toml:"rate_limit"` // requests per second, 0 disables limiting
	RateBurst int     `toml:"rate_burst"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	InMemory       bool   `toml:"in_memory"`        // Run without on-disk files (tests)
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs
}

// AuthConfig controls token issuance and password hashing
type AuthConfig struct {
	TokenTTL          string `toml:"token_ttl"`          // e.g. "24h"
	BootstrapUsername string `toml:"bootstrap_username"` // Admin account created at startup when missing
	BootstrapPassword string `toml:"bootstrap_password"` // Required in production via RAMUS_AUTH_BOOTSTRAP_PASSWORD
	Argon2Time        uint32 `toml:"argon2_time"`
	Argon2MemoryKB    uint32 `toml:"argon2_memory_kb"`
	Argon2Threads     uint8  `toml:"argon2_threads"`
	Argon2KeyLen      uint32 `toml:"argon2_key_len"`
}

// TokenTTLDuration parses the configured TTL, falling back to 24h
func (a *AuthConfig) TokenTTLDuration() time.Duration {
	d, err := time.ParseDuration(a.TokenTTL)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// SchedulerConfig bounds recursion and sizes the per-depth worker table.
// WorkersByDepth is indexed by depth and serves double duty: it is the
// resource quota per depth and the per-level child concurrency cap.
type SchedulerConfig struct {
	MaxDepth           int     `toml:"max_depth"`
	BaseTimeoutSeconds float64 `toml:"base_timeout_seconds"`
	TimeoutGrowth      float64 `toml:"timeout_growth"`
	WorkersByDepth     []int   `toml:"workers_by_depth"`
	CancelWait         string  `toml:"cancel_wait"` // bounded wait for a cancelled task to unwind
}

// WorkersByDepthMap converts the table to the map form the validator takes
func (s *SchedulerConfig) WorkersByDepthMap() map[int]int {
	m := make(map[int]int, len(s.WorkersByDepth))
	for depth, workers := range s.WorkersByDepth {
		m[depth] = workers
	}
	return m
}

// CancelWaitDuration parses the cancel wait, falling back to 10s
func (s *SchedulerConfig) CancelWaitDuration() time.Duration {
	d, err := time.ParseDuration(s.CancelWait)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// WorkersConfig sizes the worker pool provisioned at startup
type WorkersConfig struct {
	WorkspaceID string `toml:"workspace_id"`
	PoolSize    int    `toml:"pool_size"`
}

// ExecutorConfig selects the leaf executor implementation
type ExecutorConfig struct {
	Provider  string `toml:"provider"` // "echo" or "anthropic"
	APIKey    string `toml:"api_key"`
	Model     string `toml:"model"`
	MaxTokens int    `toml:"max_tokens"`
	Timeout   string `toml:"timeout"`
}

// MaintenanceConfig schedules background sweeps
type MaintenanceConfig struct {
	Enabled        bool   `toml:"enabled"`
	Schedule       string `toml:"schedule"`        // cron format, 5 fields
	IdempotencyTTL string `toml:"idempotency_ttl"` // how long response snapshots are kept
	StaleJobGrace  string `toml:"stale_job_grace"` // slack past a job's deadline before the sweep fails it
}

// IdempotencyTTLDuration parses the snapshot TTL, falling back to 24h
func (m *MaintenanceConfig) IdempotencyTTLDuration() time.Duration {
	d, err := time.ParseDuration(m.IdempotencyTTL)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// StaleJobGraceDuration parses the stale grace, falling back to 5m
func (m *MaintenanceConfig) StaleJobGraceDuration() time.Duration {
	d, err := time.ParseDuration(m.StaleJobGrace)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// WebSocketConfig contains configuration for the event stream
type WebSocketConfig struct {
	// Throttle intervals for high-frequency events. Map of event type to
	// duration string, e.g. {"job_status_change": "250ms"}.
	ThrottleIntervals map[string]string `toml:"throttle_intervals"`
	SendBuffer        int               `toml:"send_buffer"`
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in ramus.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:      8080,
			Host:      "localhost",
			RateLimit: 0, // Disabled by default - enable per deployment
			RateBurst: 50,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Auth: AuthConfig{
			TokenTTL:          "24h",
			BootstrapUsername: "admin",
			BootstrapPassword: "", // Must be provided via config or RAMUS_AUTH_BOOTSTRAP_PASSWORD
			Argon2Time:        1,
			Argon2MemoryKB:    64 * 1024,
			Argon2Threads:     4,
			Argon2KeyLen:      32,
		},
		Scheduler: SchedulerConfig{
			MaxDepth:           5,
			BaseTimeoutSeconds: 300,
			TimeoutGrowth:      1.5,
			WorkersByDepth:     []int{10, 8, 5, 3, 2, 1},
			CancelWait:         "10s",
		},
		Workers: WorkersConfig{
			WorkspaceID: "default",
			PoolSize:    10,
		},
		Executor: ExecutorConfig{
			Provider:  "echo",
			Model:     "claude-haiku-3-5-20241022",
			MaxTokens: 1024,
			Timeout:   "5m",
		},
		Maintenance: MaintenanceConfig{
			Enabled:        true,
			Schedule:       "*/10 * * * *", // Every 10 minutes
			IdempotencyTTL: "24h",
			StaleJobGrace:  "5m",
		},
		WebSocket: WebSocketConfig{
			ThrottleIntervals: map[string]string{
				"job_status_change": "250ms",
			},
			SendBuffer: 64,
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env -> CLI. Later files override
// earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("RAMUS_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("RAMUS_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("RAMUS_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if rateLimit := os.Getenv("RAMUS_SERVER_RATE_LIMIT"); rateLimit != "" {
		if rl, err := strconv.ParseFloat(rateLimit, 64); err == nil {
			config.Server.RateLimit = rl
		}
	}

	// Storage configuration
	if badgerPath := os.Getenv("RAMUS_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if inMemory := os.Getenv("RAMUS_BADGER_IN_MEMORY"); inMemory != "" {
		if im, err := strconv.ParseBool(inMemory); err == nil {
			config.Storage.Badger.InMemory = im
		}
	}

	// Logging configuration
	if level := os.Getenv("RAMUS_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("RAMUS_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("RAMUS_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			trimmed := strings.TrimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Auth configuration
	if ttl := os.Getenv("RAMUS_AUTH_TOKEN_TTL"); ttl != "" {
		config.Auth.TokenTTL = ttl
	}
	if username := os.Getenv("RAMUS_AUTH_BOOTSTRAP_USERNAME"); username != "" {
		config.Auth.BootstrapUsername = username
	}
	if password := os.Getenv("RAMUS_AUTH_BOOTSTRAP_PASSWORD"); password != "" {
		config.Auth.BootstrapPassword = password
	}

	// Scheduler configuration
	if maxDepth := os.Getenv("RAMUS_SCHEDULER_MAX_DEPTH"); maxDepth != "" {
		if md, err := strconv.Atoi(maxDepth); err == nil {
			config.Scheduler.MaxDepth = md
		}
	}
	if baseTimeout := os.Getenv("RAMUS_SCHEDULER_BASE_TIMEOUT_SECONDS"); baseTimeout != "" {
		if bt, err := strconv.ParseFloat(baseTimeout, 64); err == nil {
			config.Scheduler.BaseTimeoutSeconds = bt
		}
	}
	if workersByDepth := os.Getenv("RAMUS_SCHEDULER_WORKERS_BY_DEPTH"); workersByDepth != "" {
		table := []int{}
		valid := true
		for _, part := range strings.Split(workersByDepth, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				valid = false
				break
			}
			table = append(table, n)
		}
		if valid && len(table) > 0 {
			config.Scheduler.WorkersByDepth = table
		}
	}

	// Workers configuration
	if workspaceID := os.Getenv("RAMUS_WORKERS_WORKSPACE_ID"); workspaceID != "" {
		config.Workers.WorkspaceID = workspaceID
	}
	if poolSize := os.Getenv("RAMUS_WORKERS_POOL_SIZE"); poolSize != "" {
		if ps, err := strconv.Atoi(poolSize); err == nil {
			config.Workers.PoolSize = ps
		}
	}

	// Executor configuration
	if provider := os.Getenv("RAMUS_EXECUTOR_PROVIDER"); provider != "" {
		config.Executor.Provider = provider
	}
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		config.Executor.APIKey = apiKey
	}
	if apiKey := os.Getenv("RAMUS_EXECUTOR_API_KEY"); apiKey != "" {
		config.Executor.APIKey = apiKey // RAMUS_ prefix takes priority
	}
	if model := os.Getenv("RAMUS_EXECUTOR_MODEL"); model != "" {
		config.Executor.Model = model
	}

	// Maintenance configuration
	if schedule := os.Getenv("RAMUS_MAINTENANCE_SCHEDULE"); schedule != "" {
		config.Maintenance.Schedule = schedule
	}
	if ttl := os.Getenv("RAMUS_MAINTENANCE_IDEMPOTENCY_TTL"); ttl != "" {
		config.Maintenance.IdempotencyTTL = ttl
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string, logLevel string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
	if logLevel != "" {
		config.Logging.Level = logLevel
	}
}

// Validate rejects configurations the orchestrator cannot run with
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Scheduler.MaxDepth < 0 {
		return fmt.Errorf("scheduler max_depth must be non-negative, got %d", c.Scheduler.MaxDepth)
	}
	if c.Scheduler.BaseTimeoutSeconds <= 0 {
		return fmt.Errorf("scheduler base_timeout_seconds must be positive, got %v", c.Scheduler.BaseTimeoutSeconds)
	}
	if c.Scheduler.TimeoutGrowth < 1 {
		return fmt.Errorf("scheduler timeout_growth must be at least 1, got %v", c.Scheduler.TimeoutGrowth)
	}
	for depth, workers := range c.Scheduler.WorkersByDepth {
		if workers < 0 {
			return fmt.Errorf("workers_by_depth[%d] must be non-negative, got %d", depth, workers)
		}
	}
	if c.Maintenance.Enabled {
		if err := ValidateSchedule(c.Maintenance.Schedule); err != nil {
			return fmt.Errorf("maintenance schedule: %w", err)
		}
	}
	if c.IsProduction() && c.Auth.BootstrapUsername != "" && c.Auth.BootstrapPassword == "" {
		return fmt.Errorf("auth bootstrap_password must be set in production (RAMUS_AUTH_BOOTSTRAP_PASSWORD)")
	}
	return nil
}

// ValidateSchedule validates a standard 5-field cron expression
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
