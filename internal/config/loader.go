package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides (OMEGA_LOGGING_LEVEL, ...).
const EnvPrefix = "OMEGA"

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Load loads configuration with proper precedence:
// defaults < config file < env vars < CLI flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		// Config file is optional, only error if explicitly specified
		if l.configFile != "" {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// expandPaths expands ~ in all path-related config fields.
func expandPaths(cfg *Config) {
	cfg.Global.DataDir = expandTilde(cfg.Global.DataDir)
	cfg.Global.ConfigDir = expandTilde(cfg.Global.ConfigDir)
	cfg.Database.Path = expandTilde(cfg.Database.Path)
	cfg.Reflexive.TriggersFile = expandTilde(cfg.Reflexive.TriggersFile)
}

// setupViper configures Viper with defaults and environment bindings.
func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "omega"))
	}

	homeDir, _ := os.UserHomeDir()
	if homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "omega"))
	}

	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	l.setDefaults(cfg)
}

// setDefaults sets all default values in Viper.
func (l *Loader) setDefaults(cfg *Config) {
	v := l.v

	// Global
	v.SetDefault("global.data_dir", cfg.Global.DataDir)
	v.SetDefault("global.config_dir", cfg.Global.ConfigDir)

	// Database
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.in_memory", cfg.Database.InMemory)
	v.SetDefault("database.max_connections", cfg.Database.MaxConnections)
	v.SetDefault("database.busy_timeout_ms", cfg.Database.BusyTimeoutMs)

	// Logging
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.enable_caller", cfg.Logging.EnableCaller)

	// Loops
	v.SetDefault("loops.drivers_enabled", cfg.Loops.DriversEnabled)
	v.SetDefault("loops.cycle_timeout", cfg.Loops.CycleTimeout)
	v.SetDefault("loops.min_interval", cfg.Loops.MinInterval)

	// Bus
	v.SetDefault("bus.queue_depth", cfg.Bus.QueueDepth)

	// Health
	v.SetDefault("health.poll_interval", cfg.Health.PollInterval)
	v.SetDefault("health.probe_timeout", cfg.Health.ProbeTimeout)
	v.SetDefault("health.degraded_threshold", cfg.Health.DegradedThreshold)
	v.SetDefault("health.unhealthy_threshold", cfg.Health.UnhealthyThreshold)
	v.SetDefault("health.recovery_threshold", cfg.Health.RecoveryThreshold)
	v.SetDefault("health.stale_after", cfg.Health.StaleAfter)

	// Breaker
	v.SetDefault("breaker.failure_threshold", cfg.Breaker.FailureThreshold)
	v.SetDefault("breaker.success_threshold", cfg.Breaker.SuccessThreshold)
	v.SetDefault("breaker.cooldown", cfg.Breaker.Cooldown)
	v.SetDefault("breaker.failure_window", cfg.Breaker.FailureWindow)
	v.SetDefault("breaker.half_open_max_requests", cfg.Breaker.HalfOpenMaxRequests)

	// Retry
	v.SetDefault("retry.max_retries", cfg.Retry.MaxRetries)
	v.SetDefault("retry.base_delay", cfg.Retry.BaseDelay)
	v.SetDefault("retry.max_delay", cfg.Retry.MaxDelay)
	v.SetDefault("retry.multiplier", cfg.Retry.Multiplier)
	v.SetDefault("retry.jitter_factor", cfg.Retry.JitterFactor)

	// Runtime
	v.SetDefault("runtime.shutdown_grace", cfg.Runtime.ShutdownGrace)

	// Processors
	v.SetDefault("reflexive.triggers_file", cfg.Reflexive.TriggersFile)
	v.SetDefault("reactive.threshold", cfg.Reactive.Threshold)
	v.SetDefault("adaptive.buffer_size", cfg.Adaptive.BufferSize)
	v.SetDefault("adaptive.consolidation_threshold", cfg.Adaptive.ConsolidationThreshold)
	v.SetDefault("adaptive.learning_rate", cfg.Adaptive.LearningRate)
	v.SetDefault("deliberative.confidence_aggregation", cfg.Deliberative.ConfidenceAggregation)

	// Memory
	v.SetDefault("memory.recall_cache_ttl", cfg.Memory.RecallCacheTTL)
	v.SetDefault("memory.recall_limit", cfg.Memory.RecallLimit)

	// Metrics
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)

	// Event retention
	v.SetDefault("event_retention.enabled", cfg.EventRetention.Enabled)
	v.SetDefault("event_retention.max_age", cfg.EventRetention.MaxAge)
	v.SetDefault("event_retention.max_count", cfg.EventRetention.MaxCount)
	v.SetDefault("event_retention.cleanup_interval", cfg.EventRetention.CleanupInterval)
}

// loadConfigFile attempts to load the configuration file.
func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, use defaults
			return nil
		}
		return err
	}

	return nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Viper returns the underlying Viper instance for advanced use.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}

// LoadDefault loads configuration with default search paths.
func LoadDefault() (*Config, error) {
	loader := NewLoader()
	return loader.Load()
}
