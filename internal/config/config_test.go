// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearWardenEnv unsets every variable applyEnv reads so tests start clean.
func clearWardenEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvConfigDir,
		"WARDEN_CONFIG_FILE", "WARDEN_LISTEN", "WARDEN_LOG_LEVEL", "WARDEN_API_TOKEN",
		"WARDEN_TRIGGER_RATE_PER_MINUTE",
		"WARDEN_UPSTREAM_URL", "WARDEN_UPSTREAM_USERNAME", "WARDEN_UPSTREAM_PASSWORD",
		"WARDEN_UPSTREAM_TIMEOUT", "WARDEN_UPSTREAM_RPS", "WARDEN_UPSTREAM_BURST",
		"WARDEN_FFPROBE_BIN", "WARDEN_FFMPEG_BIN",
		"WARDEN_REDIS_ADDR", "WARDEN_REDIS_PASSWORD", "WARDEN_REDIS_DB",
		"WARDEN_OTEL_ENABLED", "WARDEN_OTEL_EXPORTER", "WARDEN_OTEL_ENDPOINT",
		"WARDEN_OTEL_SAMPLE_RATE", "WARDEN_ENVIRONMENT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func validEnv(t *testing.T) {
	t.Helper()
	t.Setenv("WARDEN_UPSTREAM_URL", "http://upstream:9191")
	t.Setenv("WARDEN_UPSTREAM_USERNAME", "admin")
	t.Setenv("WARDEN_UPSTREAM_PASSWORD", "secret")
}

func TestLoad_Defaults(t *testing.T) {
	clearWardenEnv(t)
	validEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, ":8089", cfg.Listen)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30, cfg.TriggerRatePerMinute)
	assert.Equal(t, 30*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, 10.0, cfg.Upstream.RequestsPerSecond)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	clearWardenEnv(t)
	validEnv(t)
	t.Setenv(EnvConfigDir, "/var/lib/warden")
	t.Setenv("WARDEN_LISTEN", "127.0.0.1:9999")
	t.Setenv("WARDEN_UPSTREAM_TIMEOUT", "5s")
	t.Setenv("WARDEN_OTEL_ENABLED", "true")
	t.Setenv("WARDEN_OTEL_SAMPLE_RATE", "0.25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/warden", cfg.DataDir)
	assert.Equal(t, "127.0.0.1:9999", cfg.Listen)
	assert.Equal(t, 5*time.Second, cfg.Upstream.Timeout)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 0.25, cfg.Telemetry.SampleRate)
}

func TestLoad_FileThenEnvPrecedence(t *testing.T) {
	clearWardenEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "warden.yaml")
	body := `
listen: ":7000"
log_level: debug
upstream:
  base_url: http://file-upstream:9191
  username: fileuser
  password: filepass
  timeout: 12s
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("WARDEN_CONFIG_FILE", path)
	t.Setenv("WARDEN_LISTEN", ":7001") // env wins over file

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":7001", cfg.Listen)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "http://file-upstream:9191", cfg.Upstream.BaseURL)
	assert.Equal(t, 12*time.Second, cfg.Upstream.Timeout)
}

func TestLoad_UnknownFileKeyRejected(t *testing.T) {
	clearWardenEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "warden.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listne: \":7000\"\n"), 0o600))

	t.Setenv("WARDEN_CONFIG_FILE", path)
	validEnv(t)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg := Default()
		cfg.Upstream.BaseURL = "http://upstream:9191"
		cfg.Upstream.Username = "u"
		cfg.Upstream.Password = "p"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing upstream url", func(c *Config) { c.Upstream.BaseURL = "" }, "upstream base URL is required"},
		{"bad scheme", func(c *Config) { c.Upstream.BaseURL = "ftp://x" }, "must be http or https"},
		{"missing credentials", func(c *Config) { c.Upstream.Password = "" }, "credentials are required"},
		{"zero timeout", func(c *Config) { c.Upstream.Timeout = 0 }, "timeout must be positive"},
		{"bad exporter", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Exporter = "udp"
		}, "exporter must be grpc or http"},
		{"bad sample rate", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.SampleRate = 2
		}, "sample rate must be in [0,1]"},
		{"zero trigger rate", func(c *Config) { c.TriggerRatePerMinute = 0 }, "trigger rate must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
