// Package config provides configuration types and defaults for kbsession.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zjrosen/kbsession/internal/log"
	"github.com/zjrosen/kbsession/internal/tracing"
)

// Config holds all configuration options for kbsession.
// The paperkey is not part of it; login reads it from the environment.
type Config struct {
	// KeybasePath skips PATH resolution when set.
	KeybasePath string        `mapstructure:"keybase_path"`
	Username    string        `mapstructure:"username"`
	Timeout     time.Duration `mapstructure:"timeout"` // per keybase invocation, 0 = unbounded
	MinVersion  string        `mapstructure:"min_version"`
	History     HistoryConfig `mapstructure:"history"`
	Watch       WatchConfig   `mapstructure:"watch"`
	Tracing     TracingConfig `mapstructure:"tracing"`
	Log         LogConfig     `mapstructure:"log"`
}

// HistoryConfig controls the SQLite status history.
type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Path is the database file.
	// Default: ~/.config/kbsession/history.db
	Path string `mapstructure:"path"`
}

// WatchConfig controls `kbsession watch`.
type WatchConfig struct {
	// Dir is the keybase client config directory.
	// Default: the platform keybase config dir (~/.config/keybase on Linux)
	Dir string `mapstructure:"dir"`
	// Debounce waits for writes to settle before re-querying status.
	Debounce time.Duration `mapstructure:"debounce"`
	// Interval re-queries status periodically as well, 0 = only on file changes.
	Interval time.Duration `mapstructure:"interval"`
}

// TracingConfig holds OpenTelemetry configuration for keybase executions.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	// Default: false
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the trace export backend.
	// Options: "none", "file", "stdout", "otlp"
	// Default: "file"
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for "file" exporter.
	// Default: ~/.config/kbsession/traces/traces.jsonl
	FilePath string `mapstructure:"file_path"`

	// OTLPEndpoint is the collector endpoint for "otlp" exporter.
	// Default: "localhost:4317"
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// SampleRate controls trace sampling (0.0 to 1.0).
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate"`
}

// LogConfig controls the debug log written with --debug.
type LogConfig struct {
	Level string `mapstructure:"level"` // "debug" (default), "info", "warn", "error"
	Path  string `mapstructure:"path"`
}

// ProviderConfig converts to the tracing package's configuration.
func (t TracingConfig) ProviderConfig() tracing.Config {
	cfg := tracing.DefaultConfig()
	cfg.Enabled = t.Enabled
	if t.Exporter != "" {
		cfg.Exporter = t.Exporter
	}
	cfg.FilePath = t.FilePath
	if cfg.FilePath == "" {
		cfg.FilePath = DefaultTracesFilePath()
	}
	if t.OTLPEndpoint != "" {
		cfg.OTLPEndpoint = t.OTLPEndpoint
	}
	if t.SampleRate > 0 {
		cfg.SampleRate = t.SampleRate
	}
	return cfg
}

// DefaultConfigDir returns ~/.config/kbsession or empty string if home dir unavailable.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "kbsession")
}

// DefaultTracesFilePath returns the default path for trace file export.
func DefaultTracesFilePath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "traces", "traces.jsonl")
}

// DefaultHistoryPath returns the default status history database path.
func DefaultHistoryPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "history.db")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Timeout: 60 * time.Second,
		History: HistoryConfig{
			Enabled: true,
			Path:    DefaultHistoryPath(),
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     "", // Derived from config dir at runtime
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
		Log: LogConfig{
			Level: "debug",
			Path:  "debug.log",
		},
	}
}

// Validate checks the whole configuration.
func Validate(cfg Config) error {
	if cfg.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", cfg.Timeout)
	}
	if cfg.MinVersion != "" && !looksLikeVersion(cfg.MinVersion) {
		return fmt.Errorf("min_version must look like X.Y.Z, got %q", cfg.MinVersion)
	}
	if cfg.History.Enabled && cfg.History.Path == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}
	if cfg.Watch.Debounce < 0 || cfg.Watch.Interval < 0 {
		return fmt.Errorf("watch.debounce and watch.interval must not be negative")
	}
	if err := ValidateLog(cfg.Log); err != nil {
		return err
	}
	return ValidateTracing(cfg.Tracing)
}

// ValidateLog checks log configuration for errors.
func ValidateLog(l LogConfig) error {
	switch strings.ToLower(l.Level) {
	case "", "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("log.level must be \"debug\", \"info\", \"warn\", or \"error\", got %q", l.Level)
	}
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(t TracingConfig) error {
	if t.SampleRate < 0.0 || t.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", t.SampleRate)
	}

	if t.Exporter != "" {
		switch t.Exporter {
		case "none", "file", "stdout", "otlp":
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", t.Exporter)
		}
	}

	if t.Enabled && t.Exporter == "otlp" && t.OTLPEndpoint == "" {
		return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
	}

	return nil
}

func looksLikeVersion(v string) bool {
	v = strings.TrimPrefix(v, "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	for _, part := range strings.Split(v, ".") {
		if part == "" || strings.Trim(part, "0123456789") != "" {
			return false
		}
	}
	return true
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# kbsession Configuration

# Keybase account to log in as (or set KEYBASE_USERNAME).
# username: alice

# Path to the keybase binary. Leave unset to search PATH.
# keybase_path: /usr/local/bin/keybase

# Upper bound for each keybase invocation (0 = no limit)
timeout: 60s

# Refuse to run against an older keybase
# min_version: 6.0.0

# The paperkey is never read from this file. Export KEYBASE_PAPERKEY
# in the environment of "kbsession login" instead.

# Status history (SQLite)
history:
  enabled: true
  # path: ~/.config/kbsession/history.db

# kbsession watch: re-query status when keybase rewrites its config
watch:
  # dir: ~/.config/keybase
  debounce: 500ms
  interval: 0s           # also poll on this interval (0 = file changes only)

# Debug log, written when --debug or KBSESSION_DEBUG is set
log:
  level: debug
  path: debug.log

# OpenTelemetry tracing of keybase invocations
tracing:
  enabled: false
  exporter: file          # "none", "file", "stdout", or "otlp"
  # file_path: ~/.config/kbsession/traces/traces.jsonl
  otlp_endpoint: localhost:4317
  sample_rate: 1.0
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
