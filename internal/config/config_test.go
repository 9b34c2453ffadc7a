package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	require.Equal(t, 60*time.Second, cfg.Timeout)
	require.True(t, cfg.History.Enabled)
	require.False(t, cfg.Tracing.Enabled)
	require.Equal(t, "file", cfg.Tracing.Exporter)
	require.Equal(t, 1.0, cfg.Tracing.SampleRate)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, 500*time.Millisecond, cfg.Watch.Debounce)
	require.Zero(t, cfg.Watch.Interval)
	require.Empty(t, cfg.Username)
	require.Empty(t, cfg.KeybasePath)
}

func TestDefaults_Valid(t *testing.T) {
	require.NoError(t, Validate(Defaults()))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "negative timeout", mutate: func(c *Config) { c.Timeout = -time.Second }, wantErr: "timeout"},
		{name: "zero timeout", mutate: func(c *Config) { c.Timeout = 0 }},
		{name: "min version ok", mutate: func(c *Config) { c.MinVersion = "6.0.0" }},
		{name: "min version with build", mutate: func(c *Config) { c.MinVersion = "v6.2.4-20230530+abc" }},
		{name: "min version garbage", mutate: func(c *Config) { c.MinVersion = "latest" }, wantErr: "min_version"},
		{name: "min version empty part", mutate: func(c *Config) { c.MinVersion = "6..1" }, wantErr: "min_version"},
		{name: "history without path", mutate: func(c *Config) { c.History.Path = "" }, wantErr: "history.path"},
		{name: "history disabled without path", mutate: func(c *Config) { c.History = HistoryConfig{} }},
		{name: "negative debounce", mutate: func(c *Config) { c.Watch.Debounce = -time.Millisecond }, wantErr: "watch."},
		{name: "negative interval", mutate: func(c *Config) { c.Watch.Interval = -time.Second }, wantErr: "watch."},
		{name: "poll interval", mutate: func(c *Config) { c.Watch.Interval = 30 * time.Second }},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "verbose" }, wantErr: "log.level"},
		{name: "warning log level", mutate: func(c *Config) { c.Log.Level = "WARNING" }},
		{name: "bad exporter", mutate: func(c *Config) { c.Tracing.Exporter = "zipkin" }, wantErr: "tracing.exporter"},
		{name: "sample rate too high", mutate: func(c *Config) { c.Tracing.SampleRate = 1.5 }, wantErr: "sample_rate"},
		{name: "sample rate negative", mutate: func(c *Config) { c.Tracing.SampleRate = -0.1 }, wantErr: "sample_rate"},
		{
			name: "otlp without endpoint",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
				c.Tracing.OTLPEndpoint = ""
			},
			wantErr: "otlp_endpoint",
		},
		{
			name: "otlp endpoint only checked when enabled",
			mutate: func(c *Config) {
				c.Tracing.Exporter = "otlp"
				c.Tracing.OTLPEndpoint = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.History.Path = "/tmp/history.db"
			tt.mutate(&cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTracingConfig_ProviderConfig(t *testing.T) {
	cfg := TracingConfig{Enabled: true, Exporter: "stdout", SampleRate: 0.25}.ProviderConfig()

	require.True(t, cfg.Enabled)
	require.Equal(t, "stdout", cfg.Exporter)
	require.Equal(t, 0.25, cfg.SampleRate)
	require.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	require.Equal(t, DefaultTracesFilePath(), cfg.FilePath)
	require.Equal(t, "kbsession", cfg.ServiceName)
}

func TestTracingConfig_ProviderConfigKeepsExplicitPath(t *testing.T) {
	cfg := TracingConfig{Enabled: true, FilePath: "/var/log/kb.jsonl"}.ProviderConfig()

	require.Equal(t, "file", cfg.Exporter)
	require.Equal(t, "/var/log/kb.jsonl", cfg.FilePath)
	require.Equal(t, 1.0, cfg.SampleRate)
}

func TestDefaultPaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.Equal(t, filepath.Join(home, ".config", "kbsession"), DefaultConfigDir())
	require.Equal(t, filepath.Join(home, ".config", "kbsession", "history.db"), DefaultHistoryPath())
	require.Equal(t, filepath.Join(home, ".config", "kbsession", "traces", "traces.jsonl"), DefaultTracesFilePath())
}

func TestDefaultConfigTemplate_ParsesAndNeverHoldsPaperkey(t *testing.T) {
	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(DefaultConfigTemplate()), &parsed))

	require.Equal(t, "60s", parsed["timeout"])
	require.NotContains(t, parsed, "paperkey")

	history, ok := parsed["history"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, true, history["enabled"])

	watch, ok := parsed["watch"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "500ms", watch["debounce"])
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.yaml")

	require.NoError(t, WriteDefaultConfig(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, DefaultConfigTemplate(), string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestWriteDefaultConfig_UnwritableDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	err := WriteDefaultConfig(filepath.Join(file, "config.yaml"))
	require.Error(t, err)
	require.True(t, strings.HasPrefix(err.Error(), "creating config directory"))
}
