// Package config loads and validates the application configuration from
// YAML or JSON5 files, with $include merging and environment variable
// expansion.
package config

import (
	"fmt"
	"time"
)

// Config is the main configuration structure for Hopper.
type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Bus        BusConfig        `yaml:"bus"`
	Tools      ToolsConfig      `yaml:"tools"`
	Monitors   MonitorsConfig   `yaml:"monitors"`
	Audit      AuditConfig      `yaml:"audit"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// LLMConfig selects and configures the planning model providers.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
	MaxTokens    int    `yaml:"max_tokens"`
}

// DispatcherConfig controls plan generation and execution behavior.
type DispatcherConfig struct {
	// ToolTimeout bounds a single tool capability invocation.
	ToolTimeout time.Duration `yaml:"tool_timeout"`

	// ConfirmationTTL is how long a suspended plan waits for user
	// confirmation before it expires.
	ConfirmationTTL time.Duration `yaml:"confirmation_ttl"`

	// MinConfidence rejects generated plans below this confidence.
	MinConfidence float64 `yaml:"min_confidence"`
}

// BusConfig controls the perception event bus.
type BusConfig struct {
	QueueSize   int `yaml:"queue_size"`
	HistorySize int `yaml:"history_size"`
}

// ToolsConfig configures tool discovery and the first-party tools.
type ToolsConfig struct {
	// ManifestDirs are directories scanned for tool manifests.
	ManifestDirs []string `yaml:"manifest_dirs"`

	// Disabled lists tool IDs excluded from the LLM catalog.
	Disabled []string `yaml:"disabled"`

	Filesystem FilesystemToolConfig `yaml:"filesystem"`
	System     SystemToolConfig     `yaml:"system"`
}

// FilesystemToolConfig configures the built-in filesystem tool.
type FilesystemToolConfig struct {
	// Root confines all file operations to this directory tree.
	Root string `yaml:"root"`

	// MaxReadBytes caps file read sizes.
	MaxReadBytes int64 `yaml:"max_read_bytes"`
}

// SystemToolConfig configures the built-in system command tool.
type SystemToolConfig struct {
	// AllowedCommands is the whitelist of executable names. Empty means
	// no commands are allowed.
	AllowedCommands []string `yaml:"allowed_commands"`

	Timeout time.Duration `yaml:"timeout"`
}

// MonitorsConfig configures the background perception sources.
type MonitorsConfig struct {
	System  SystemMonitorConfig `yaml:"system"`
	Watcher WatcherConfig       `yaml:"watcher"`
}

// SystemMonitorConfig configures periodic host health checks.
type SystemMonitorConfig struct {
	Enabled bool `yaml:"enabled"`

	// Schedule is a cron expression; "@every 30s" style intervals work.
	Schedule string `yaml:"schedule"`

	CPUThreshold    float64 `yaml:"cpu_threshold"`
	MemoryThreshold float64 `yaml:"memory_threshold"`
	DiskThreshold   float64 `yaml:"disk_threshold"`
}

// WatcherConfig configures filesystem change monitoring.
type WatcherConfig struct {
	Enabled bool     `yaml:"enabled"`
	Paths   []string `yaml:"paths"`
}

// AuditConfig configures the execution audit store.
type AuditConfig struct {
	// Path is the SQLite database file. Empty disables auditing.
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Endpoint       string            `yaml:"endpoint"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	SamplingRate   float64           `yaml:"sampling_rate"`
	Insecure       bool              `yaml:"insecure"`
	Attributes     map[string]string `yaml:"attributes"`
}

// Load reads and parses the configuration file, resolving $include
// directives and expanding environment variables.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.Dispatcher.ToolTimeout == 0 {
		cfg.Dispatcher.ToolTimeout = 30 * time.Second
	}
	if cfg.Dispatcher.ConfirmationTTL == 0 {
		cfg.Dispatcher.ConfirmationTTL = 5 * time.Minute
	}
	if cfg.Bus.QueueSize == 0 {
		cfg.Bus.QueueSize = 1000
	}
	if cfg.Bus.HistorySize == 0 {
		cfg.Bus.HistorySize = 100
	}
	if cfg.Tools.Filesystem.MaxReadBytes == 0 {
		cfg.Tools.Filesystem.MaxReadBytes = 1 << 20
	}
	if cfg.Tools.System.Timeout == 0 {
		cfg.Tools.System.Timeout = 10 * time.Second
	}
	if cfg.Monitors.System.Schedule == "" {
		cfg.Monitors.System.Schedule = "@every 30s"
	}
	if cfg.Monitors.System.CPUThreshold == 0 {
		cfg.Monitors.System.CPUThreshold = 90
	}
	if cfg.Monitors.System.MemoryThreshold == 0 {
		cfg.Monitors.System.MemoryThreshold = 90
	}
	if cfg.Monitors.System.DiskThreshold == 0 {
		cfg.Monitors.System.DiskThreshold = 90
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "hopper"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks configuration consistency after defaults are applied.
func (c *Config) Validate() error {
	if c.LLM.DefaultProvider != "" {
		switch c.LLM.DefaultProvider {
		case "anthropic", "openai":
		default:
			return fmt.Errorf("unknown llm provider %q", c.LLM.DefaultProvider)
		}
	}
	if c.Dispatcher.MinConfidence < 0 || c.Dispatcher.MinConfidence > 1 {
		return fmt.Errorf("dispatcher.min_confidence must be between 0 and 1, got %v", c.Dispatcher.MinConfidence)
	}
	if c.Bus.QueueSize < 1 {
		return fmt.Errorf("bus.queue_size must be positive, got %d", c.Bus.QueueSize)
	}
	if c.Bus.HistorySize < 1 {
		return fmt.Errorf("bus.history_size must be positive, got %d", c.Bus.HistorySize)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing.sampling_rate must be between 0 and 1, got %v", c.Tracing.SamplingRate)
	}
	return nil
}
