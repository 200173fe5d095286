// Package config handles omega configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration structure for omega.
type Config struct {
	// Global settings
	Global GlobalConfig `yaml:"global" mapstructure:"global"`

	// Database settings
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Loop driver and coordinator settings
	Loops LoopsConfig `yaml:"loops" mapstructure:"loops"`

	// Message bus settings
	Bus BusConfig `yaml:"bus" mapstructure:"bus"`

	// Health monitor settings
	Health HealthConfig `yaml:"health" mapstructure:"health"`

	// Circuit breaker defaults applied to every guarded subsystem
	Breaker BreakerConfig `yaml:"breaker" mapstructure:"breaker"`

	// Retry policy defaults
	Retry RetryConfig `yaml:"retry" mapstructure:"retry"`

	// Runtime lifecycle settings
	Runtime RuntimeConfig `yaml:"runtime" mapstructure:"runtime"`

	// Processor tunables
	Reflexive    ReflexiveConfig    `yaml:"reflexive" mapstructure:"reflexive"`
	Reactive     ReactiveConfig     `yaml:"reactive" mapstructure:"reactive"`
	Adaptive     AdaptiveConfig     `yaml:"adaptive" mapstructure:"adaptive"`
	Deliberative DeliberativeConfig `yaml:"deliberative" mapstructure:"deliberative"`

	// Memory settings
	Memory MemoryConfig `yaml:"memory" mapstructure:"memory"`

	// Metrics settings
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`

	// EventRetention settings
	EventRetention EventRetentionConfig `yaml:"event_retention" mapstructure:"event_retention"`
}

// GlobalConfig contains global settings.
type GlobalConfig struct {
	// DataDir is where omega stores its data (default: ~/.local/share/omega).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config files are stored (default: ~/.config/omega).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" mapstructure:"path"`

	// InMemory uses a throwaway in-memory database.
	InMemory bool `yaml:"in_memory" mapstructure:"in_memory"`

	// MaxConnections is the maximum number of database connections.
	MaxConnections int `yaml:"max_connections" mapstructure:"max_connections"`

	// BusyTimeout is how long to wait for a locked database (milliseconds).
	BusyTimeoutMs int `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// LoopsConfig controls loop drivers and cycle execution.
type LoopsConfig struct {
	// DriversEnabled starts one cadence driver per loop on runtime start.
	DriversEnabled bool `yaml:"drivers_enabled" mapstructure:"drivers_enabled"`

	// CycleTimeout bounds a single execute_cycle call when the caller sets no deadline.
	CycleTimeout time.Duration `yaml:"cycle_timeout" mapstructure:"cycle_timeout"`

	// MinInterval is the floor applied to driver cadences.
	MinInterval time.Duration `yaml:"min_interval" mapstructure:"min_interval"`

	// Intervals overrides the driver cadence per loop type name.
	Intervals map[string]time.Duration `yaml:"intervals" mapstructure:"intervals"`
}

// BusConfig contains message bus settings.
type BusConfig struct {
	// QueueDepth is the per-subscriber buffer; overflow is dropped.
	QueueDepth int `yaml:"queue_depth" mapstructure:"queue_depth"`
}

// HealthConfig contains health monitor settings.
type HealthConfig struct {
	// PollInterval is how often every probe runs.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`

	// ProbeTimeout bounds a single probe; a timeout counts as a failure.
	ProbeTimeout time.Duration `yaml:"probe_timeout" mapstructure:"probe_timeout"`

	// DegradedThreshold and UnhealthyThreshold are consecutive probe
	// failures; RecoveryThreshold is consecutive passes back to healthy.
	DegradedThreshold  int `yaml:"degraded_threshold" mapstructure:"degraded_threshold"`
	UnhealthyThreshold int `yaml:"unhealthy_threshold" mapstructure:"unhealthy_threshold"`
	RecoveryThreshold  int `yaml:"recovery_threshold" mapstructure:"recovery_threshold"`

	// StaleAfter degrades a subsystem that has gone unchecked this long.
	StaleAfter time.Duration `yaml:"stale_after" mapstructure:"stale_after"`
}

// BreakerConfig contains circuit breaker parameters.
type BreakerConfig struct {
	FailureThreshold    int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	SuccessThreshold    int           `yaml:"success_threshold" mapstructure:"success_threshold"`
	Cooldown            time.Duration `yaml:"cooldown" mapstructure:"cooldown"`
	FailureWindow       time.Duration `yaml:"failure_window" mapstructure:"failure_window"`
	HalfOpenMaxRequests int           `yaml:"half_open_max_requests" mapstructure:"half_open_max_requests"`
}

// RetryConfig contains retry policy parameters.
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries" mapstructure:"max_retries"`
	BaseDelay    time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFactor float64       `yaml:"jitter_factor" mapstructure:"jitter_factor"`
}

// RuntimeConfig contains orchestrator lifecycle settings.
type RuntimeConfig struct {
	// ShutdownGrace is how long Stop waits for in-flight cycles.
	ShutdownGrace time.Duration `yaml:"shutdown_grace" mapstructure:"shutdown_grace"`
}

// ReflexiveConfig tunes the reflexive processor.
type ReflexiveConfig struct {
	// TriggersFile is an optional YAML file of extra triggers.
	TriggersFile string `yaml:"triggers_file" mapstructure:"triggers_file"`
}

// ReactiveConfig tunes the reactive processor.
type ReactiveConfig struct {
	// Threshold is the minimum cosine similarity for a pattern match.
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
}

// AdaptiveConfig tunes the adaptive processor.
type AdaptiveConfig struct {
	BufferSize             int     `yaml:"buffer_size" mapstructure:"buffer_size"`
	ConsolidationThreshold int     `yaml:"consolidation_threshold" mapstructure:"consolidation_threshold"`
	LearningRate           float64 `yaml:"learning_rate" mapstructure:"learning_rate"`
}

// DeliberativeConfig tunes the deliberative processor.
type DeliberativeConfig struct {
	// ConfidenceAggregation is geometric, product, or minimum.
	ConfidenceAggregation string `yaml:"confidence_aggregation" mapstructure:"confidence_aggregation"`
}

// MemoryConfig contains memory tier settings.
type MemoryConfig struct {
	// RecallCacheTTL is how long recall results stay cached. Zero disables caching.
	RecallCacheTTL time.Duration `yaml:"recall_cache_ttl" mapstructure:"recall_cache_ttl"`

	// RecallLimit is the default number of hits returned by Recall.
	RecallLimit int `yaml:"recall_limit" mapstructure:"recall_limit"`
}

// MetricsConfig contains metrics settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// EventRetentionConfig contains settings for event retention and cleanup.
type EventRetentionConfig struct {
	// Enabled controls whether automatic cleanup is active.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// MaxAge is the maximum age of events to keep. Zero means no age limit.
	MaxAge time.Duration `yaml:"max_age" mapstructure:"max_age"`

	// MaxCount is the maximum number of events to keep. Zero means no count limit.
	MaxCount int `yaml:"max_count" mapstructure:"max_count"`

	// CleanupInterval is how often to run the cleanup job.
	CleanupInterval time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "omega"),
			ConfigDir: filepath.Join(homeDir, ".config", "omega"),
		},
		Database: DatabaseConfig{
			Path:           "", // Will be set to DataDir/omega.db
			MaxConnections: 10,
			BusyTimeoutMs:  5000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Loops: LoopsConfig{
			DriversEnabled: true,
			CycleTimeout:   30 * time.Second,
			MinInterval:    100 * time.Millisecond,
			Intervals:      map[string]time.Duration{},
		},
		Bus: BusConfig{
			QueueDepth: 1000,
		},
		Health: HealthConfig{
			PollInterval:       30 * time.Second,
			ProbeTimeout:       5 * time.Second,
			DegradedThreshold:  3,
			UnhealthyThreshold: 5,
			RecoveryThreshold:  5,
			StaleAfter:         5 * time.Minute,
		},
		Breaker: BreakerConfig{
			FailureThreshold:    5,
			SuccessThreshold:    2,
			Cooldown:            60 * time.Second,
			FailureWindow:       0, // consecutive failures, no window
			HalfOpenMaxRequests: 3,
		},
		Retry: RetryConfig{
			MaxRetries:   3,
			BaseDelay:    100 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.3,
		},
		Runtime: RuntimeConfig{
			ShutdownGrace: 10 * time.Second,
		},
		Reactive: ReactiveConfig{
			Threshold: 0.7,
		},
		Adaptive: AdaptiveConfig{
			BufferSize:             1000,
			ConsolidationThreshold: 50,
			LearningRate:           0.01,
		},
		Deliberative: DeliberativeConfig{
			ConfidenceAggregation: "geometric",
		},
		Memory: MemoryConfig{
			RecallCacheTTL: 30 * time.Second,
			RecallLimit:    10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		EventRetention: EventRetentionConfig{
			Enabled:         true,
			MaxAge:          7 * 24 * time.Hour,
			MaxCount:        100000,
			CleanupInterval: 1 * time.Hour,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Global.DataDir) == "" {
		return fmt.Errorf("global.data_dir is required")
	}
	if strings.TrimSpace(c.Global.ConfigDir) == "" {
		return fmt.Errorf("global.config_dir is required")
	}

	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database.max_connections must be at least 1")
	}
	if c.Database.BusyTimeoutMs < 0 {
		return fmt.Errorf("database.busy_timeout_ms must be zero or greater")
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be one of console, json")
	}

	if c.Loops.CycleTimeout <= 0 {
		return fmt.Errorf("loops.cycle_timeout must be greater than 0")
	}
	if c.Loops.MinInterval < 10*time.Millisecond {
		return fmt.Errorf("loops.min_interval must be at least 10ms")
	}
	for name, interval := range c.Loops.Intervals {
		if !isLoopTypeName(name) {
			return fmt.Errorf("loops.intervals.%s is not a known loop type", name)
		}
		if interval < c.Loops.MinInterval {
			return fmt.Errorf("loops.intervals.%s must be at least loops.min_interval", name)
		}
	}

	if c.Bus.QueueDepth < 1 {
		return fmt.Errorf("bus.queue_depth must be at least 1")
	}

	if c.Health.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("health.poll_interval must be at least 100ms")
	}
	if c.Health.ProbeTimeout <= 0 {
		return fmt.Errorf("health.probe_timeout must be greater than 0")
	}
	if c.Health.ProbeTimeout > c.Health.PollInterval {
		return fmt.Errorf("health.probe_timeout must not exceed health.poll_interval")
	}
	if c.Health.DegradedThreshold < 1 {
		return fmt.Errorf("health.degraded_threshold must be at least 1")
	}
	if c.Health.UnhealthyThreshold < c.Health.DegradedThreshold {
		return fmt.Errorf("health.unhealthy_threshold must be at least health.degraded_threshold")
	}
	if c.Health.RecoveryThreshold < 1 {
		return fmt.Errorf("health.recovery_threshold must be at least 1")
	}
	if c.Health.StaleAfter < c.Health.PollInterval {
		return fmt.Errorf("health.stale_after must be at least health.poll_interval")
	}

	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold must be at least 1")
	}
	if c.Breaker.SuccessThreshold < 1 {
		return fmt.Errorf("breaker.success_threshold must be at least 1")
	}
	if c.Breaker.Cooldown <= 0 {
		return fmt.Errorf("breaker.cooldown must be greater than 0")
	}
	if c.Breaker.FailureWindow < 0 {
		return fmt.Errorf("breaker.failure_window must be zero or positive")
	}
	if c.Breaker.HalfOpenMaxRequests < 1 {
		return fmt.Errorf("breaker.half_open_max_requests must be at least 1")
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be zero or greater")
	}
	if c.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry.base_delay must be greater than 0")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry.max_delay must be at least retry.base_delay")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1")
	}
	if c.Retry.JitterFactor < 0 || c.Retry.JitterFactor > 1 {
		return fmt.Errorf("retry.jitter_factor must be within [0,1]")
	}

	if c.Runtime.ShutdownGrace <= 0 {
		return fmt.Errorf("runtime.shutdown_grace must be greater than 0")
	}

	if c.Reactive.Threshold <= 0 || c.Reactive.Threshold > 1 {
		return fmt.Errorf("reactive.threshold must be within (0,1]")
	}
	if c.Adaptive.BufferSize < 1 {
		return fmt.Errorf("adaptive.buffer_size must be at least 1")
	}
	if c.Adaptive.ConsolidationThreshold < 1 {
		return fmt.Errorf("adaptive.consolidation_threshold must be at least 1")
	}
	if c.Adaptive.LearningRate <= 0 || c.Adaptive.LearningRate > 1 {
		return fmt.Errorf("adaptive.learning_rate must be within (0,1]")
	}
	switch strings.ToLower(strings.TrimSpace(c.Deliberative.ConfidenceAggregation)) {
	case "geometric", "product", "minimum":
	default:
		return fmt.Errorf("deliberative.confidence_aggregation must be one of geometric, product, minimum")
	}

	if c.Memory.RecallCacheTTL < 0 {
		return fmt.Errorf("memory.recall_cache_ttl must be zero or positive")
	}
	if c.Memory.RecallLimit < 1 {
		return fmt.Errorf("memory.recall_limit must be at least 1")
	}

	// Event retention validation
	if c.EventRetention.Enabled {
		if c.EventRetention.MaxAge < 0 {
			return fmt.Errorf("event_retention.max_age must be zero or positive")
		}
		if c.EventRetention.MaxCount < 0 {
			return fmt.Errorf("event_retention.max_count must be zero or positive")
		}
		if c.EventRetention.MaxAge == 0 && c.EventRetention.MaxCount == 0 {
			return fmt.Errorf("event_retention: at least one of max_age or max_count must be set when enabled")
		}
		if c.EventRetention.CleanupInterval < 1*time.Minute {
			return fmt.Errorf("event_retention.cleanup_interval must be at least 1 minute")
		}
	}

	return nil
}

func isLoopTypeName(name string) bool {
	switch strings.ToLower(name) {
	case "reflexive", "reactive", "adaptive", "deliberative",
		"evolutionary", "transformative", "transcendent":
		return true
	default:
		return false
	}
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Global.DataDir,
		c.Global.ConfigDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// DatabasePath returns the full database path.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.Global.DataDir, "omega.db")
}

// LoopInterval returns the driver cadence for a loop type name, honoring
// overrides and the configured floor.
func (c *Config) LoopInterval(name string, cadence time.Duration) time.Duration {
	interval := cadence
	if override, ok := c.Loops.Intervals[strings.ToLower(name)]; ok && override > 0 {
		interval = override
	}
	if interval < c.Loops.MinInterval {
		interval = c.Loops.MinInterval
	}
	return interval
}
