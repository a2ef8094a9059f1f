// Package config loads the realtime service configuration from YAML.
// Values are expanded against the environment before parsing, and missing
// fields fall back to defaults rather than failing the load.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Backend     BackendConfig     `yaml:"backend"`
	Connection  ConnectionConfig  `yaml:"connection"`
	Presence    PresenceConfig    `yaml:"presence"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// BackendConfig points at the messaging backend.
type BackendConfig struct {
	// URL is the primary backend endpoint.
	URL string `yaml:"url"`
	// Token authenticates the session. Usually supplied via ${ENV} expansion.
	Token string `yaml:"token"`
	// UserID and DisplayName identify the connecting user.
	UserID      string `yaml:"user_id"`
	DisplayName string `yaml:"display_name"`
}

// ConnectionConfig tunes the connection manager.
type ConnectionConfig struct {
	MaxRetries           int           `yaml:"max_retries"`
	HealthInterval       time.Duration `yaml:"health_interval"`
	HealthTimeout        time.Duration `yaml:"health_timeout"`
	HistorySize          int           `yaml:"history_size"`
	BaseTimeout          time.Duration `yaml:"base_timeout"`
	ExtendedTimeout      time.Duration `yaml:"extended_timeout"`
	MaxTimeout           time.Duration `yaml:"max_timeout"`
	EnableLongPoll       bool          `yaml:"enable_long_poll"`
	EnableStreamFallback bool          `yaml:"enable_stream_fallback"`
	Backoff              BackoffConfig `yaml:"backoff"`
}

// BackoffConfig tunes retry delays between attempts of one strategy.
type BackoffConfig struct {
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
	Factor  float64       `yaml:"factor"`
	Jitter  float64       `yaml:"jitter"`
}

// PresenceConfig tunes the presence store thresholds.
type PresenceConfig struct {
	TypingTimeout    time.Duration `yaml:"typing_timeout"`
	AwayThreshold    time.Duration `yaml:"away_threshold"`
	OfflineThreshold time.Duration `yaml:"offline_threshold"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	TickInterval     time.Duration `yaml:"tick_interval"`
}

// DiagnosticsConfig tunes the pre-connect network probe.
type DiagnosticsConfig struct {
	ReachabilityURL     string        `yaml:"reachability_url"`
	WebSocketURL        string        `yaml:"websocket_url"`
	ReachabilityTimeout time.Duration `yaml:"reachability_timeout"`
	UpgradeTimeout      time.Duration `yaml:"upgrade_timeout"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with every default applied and no
// backend endpoint set.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Connection.MaxRetries == 0 {
		cfg.Connection.MaxRetries = 3
	}
	if cfg.Connection.HealthInterval == 0 {
		cfg.Connection.HealthInterval = 30 * time.Second
	}
	if cfg.Connection.HealthTimeout == 0 {
		cfg.Connection.HealthTimeout = 5 * time.Second
	}
	if cfg.Connection.HistorySize == 0 {
		cfg.Connection.HistorySize = 50
	}
	if cfg.Connection.BaseTimeout == 0 {
		cfg.Connection.BaseTimeout = 10 * time.Second
	}
	if cfg.Connection.ExtendedTimeout == 0 {
		cfg.Connection.ExtendedTimeout = 20 * time.Second
	}
	if cfg.Connection.MaxTimeout == 0 {
		cfg.Connection.MaxTimeout = 60 * time.Second
	}
	if cfg.Connection.Backoff.Initial == 0 {
		cfg.Connection.Backoff.Initial = time.Second
	}
	if cfg.Connection.Backoff.Max == 0 {
		cfg.Connection.Backoff.Max = 30 * time.Second
	}
	if cfg.Connection.Backoff.Factor == 0 {
		cfg.Connection.Backoff.Factor = 1.5
	}
	if cfg.Connection.Backoff.Jitter == 0 {
		cfg.Connection.Backoff.Jitter = 0.3
	}
	if cfg.Presence.TypingTimeout == 0 {
		cfg.Presence.TypingTimeout = 3 * time.Second
	}
	if cfg.Presence.AwayThreshold == 0 {
		cfg.Presence.AwayThreshold = 5 * time.Minute
	}
	if cfg.Presence.OfflineThreshold == 0 {
		cfg.Presence.OfflineThreshold = 10 * time.Minute
	}
	if cfg.Presence.SweepInterval == 0 {
		cfg.Presence.SweepInterval = 30 * time.Second
	}
	if cfg.Presence.TickInterval == 0 {
		cfg.Presence.TickInterval = 500 * time.Millisecond
	}
	if cfg.Diagnostics.ReachabilityTimeout == 0 {
		cfg.Diagnostics.ReachabilityTimeout = 2 * time.Second
	}
	if cfg.Diagnostics.UpgradeTimeout == 0 {
		cfg.Diagnostics.UpgradeTimeout = 5 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9090"
	}
}

// Validate checks cross-field constraints that defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	if c.Connection.MaxRetries < 0 {
		return fmt.Errorf("connection.max_retries must not be negative, got %d", c.Connection.MaxRetries)
	}
	if c.Connection.Backoff.Factor < 1 {
		return fmt.Errorf("connection.backoff.factor must be at least 1, got %v", c.Connection.Backoff.Factor)
	}
	if c.Connection.Backoff.Jitter < 0 || c.Connection.Backoff.Jitter > 1 {
		return fmt.Errorf("connection.backoff.jitter must be in [0, 1], got %v", c.Connection.Backoff.Jitter)
	}
	if c.Presence.AwayThreshold >= c.Presence.OfflineThreshold {
		return fmt.Errorf("presence.away_threshold (%v) must be below presence.offline_threshold (%v)",
			c.Presence.AwayThreshold, c.Presence.OfflineThreshold)
	}
	return nil
}
