// SPDX-License-Identifier: MIT

// Package config loads the daemon bootstrap configuration from defaults, an
// optional YAML file, and environment variables (environment wins). Runtime
// automation settings live in the state store, not here; this package only
// covers what the process needs before it can open that store.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names. CONFIG_DIR is kept without the WARDEN_ prefix
// because existing deployments already set it.
const (
	EnvConfigDir = "CONFIG_DIR"
	envPrefix    = "WARDEN_"
)

// Config is the bootstrap configuration for the daemon process.
type Config struct {
	// DataDir is where all persisted JSON state lives.
	DataDir string `yaml:"data_dir"`

	// Listen is the HTTP control surface bind address.
	Listen string `yaml:"listen"`

	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// APIToken, when set, is required as a bearer token on mutating endpoints.
	APIToken string `yaml:"api_token"`

	// TriggerRatePerMinute rate-limits the manual trigger endpoints per client IP.
	TriggerRatePerMinute int `yaml:"trigger_rate_per_minute"`

	Upstream  Upstream  `yaml:"upstream"`
	Analyzer  Analyzer  `yaml:"analyzer"`
	Redis     Redis     `yaml:"redis"`
	Telemetry Telemetry `yaml:"telemetry"`
}

// Upstream configures the client for the IPTV management service.
type Upstream struct {
	// BaseURL is the root of the upstream API, e.g. "http://dispatcher:9191".
	BaseURL  string `yaml:"base_url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Timeout bounds a single upstream HTTP request.
	Timeout time.Duration `yaml:"timeout"`

	// RequestsPerSecond and Burst configure client-side rate limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Analyzer configures the external stream probe binary.
type Analyzer struct {
	// FFprobeBin is an explicit ffprobe path. Empty means derive from
	// FFmpegBin or fall back to PATH lookup.
	FFprobeBin string `yaml:"ffprobe_bin"`
	FFmpegBin  string `yaml:"ffmpeg_bin"`
}

// Redis configures the optional shared cache. Empty Addr means in-memory.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Telemetry configures OpenTelemetry trace export.
type Telemetry struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // grpc or http
	Endpoint    string  `yaml:"endpoint"`
	SampleRate  float64 `yaml:"sample_rate"`
	Environment string  `yaml:"environment"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:              "./data",
		Listen:               ":8089",
		LogLevel:             "info",
		TriggerRatePerMinute: 30,
		Upstream: Upstream{
			Timeout:           30 * time.Second,
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Telemetry: Telemetry{
			Exporter:    "grpc",
			Endpoint:    "localhost:4317",
			SampleRate:  1.0,
			Environment: "production",
		},
	}
}

// Load builds the effective configuration. Precedence: environment variables
// over the YAML file at WARDEN_CONFIG_FILE (if set) over defaults.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv(envPrefix + "CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile merges a YAML file into cfg. Unknown keys are rejected so typos
// fail loudly instead of silently using defaults.
func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path) // #nosec G304 -- path is operator-provided
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.DataDir = ParseString(EnvConfigDir, cfg.DataDir)
	cfg.Listen = ParseString(envPrefix+"LISTEN", cfg.Listen)
	cfg.LogLevel = ParseString(envPrefix+"LOG_LEVEL", cfg.LogLevel)
	cfg.APIToken = ParseString(envPrefix+"API_TOKEN", cfg.APIToken)
	cfg.TriggerRatePerMinute = ParseInt(envPrefix+"TRIGGER_RATE_PER_MINUTE", cfg.TriggerRatePerMinute)

	cfg.Upstream.BaseURL = ParseString(envPrefix+"UPSTREAM_URL", cfg.Upstream.BaseURL)
	cfg.Upstream.Username = ParseString(envPrefix+"UPSTREAM_USERNAME", cfg.Upstream.Username)
	cfg.Upstream.Password = ParseString(envPrefix+"UPSTREAM_PASSWORD", cfg.Upstream.Password)
	cfg.Upstream.Timeout = ParseDuration(envPrefix+"UPSTREAM_TIMEOUT", cfg.Upstream.Timeout)
	cfg.Upstream.RequestsPerSecond = ParseFloat(envPrefix+"UPSTREAM_RPS", cfg.Upstream.RequestsPerSecond)
	cfg.Upstream.Burst = ParseInt(envPrefix+"UPSTREAM_BURST", cfg.Upstream.Burst)

	cfg.Analyzer.FFprobeBin = ParseString(envPrefix+"FFPROBE_BIN", cfg.Analyzer.FFprobeBin)
	cfg.Analyzer.FFmpegBin = ParseString(envPrefix+"FFMPEG_BIN", cfg.Analyzer.FFmpegBin)

	cfg.Redis.Addr = ParseString(envPrefix+"REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = ParseString(envPrefix+"REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = ParseInt(envPrefix+"REDIS_DB", cfg.Redis.DB)

	cfg.Telemetry.Enabled = ParseBool(envPrefix+"OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = ParseString(envPrefix+"OTEL_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = ParseString(envPrefix+"OTEL_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SampleRate = ParseFloat(envPrefix+"OTEL_SAMPLE_RATE", cfg.Telemetry.SampleRate)
	cfg.Telemetry.Environment = ParseString(envPrefix+"ENVIRONMENT", cfg.Telemetry.Environment)
}

// Validate checks that the configuration is usable. It reports the first
// problem found; bootstrap failures should be fixed one at a time anyway.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data dir must not be empty (set %s)", EnvConfigDir)
	}
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.TriggerRatePerMinute <= 0 {
		return fmt.Errorf("trigger rate must be positive, got %d", c.TriggerRatePerMinute)
	}

	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream base URL is required (set %sUPSTREAM_URL)", envPrefix)
	}
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid upstream base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream base URL must be http or https, got %q", u.Scheme)
	}
	if c.Upstream.Username == "" || c.Upstream.Password == "" {
		return fmt.Errorf("upstream credentials are required (set %sUPSTREAM_USERNAME and %sUPSTREAM_PASSWORD)", envPrefix, envPrefix)
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream timeout must be positive, got %s", c.Upstream.Timeout)
	}
	if c.Upstream.RequestsPerSecond <= 0 {
		return fmt.Errorf("upstream rate must be positive, got %g", c.Upstream.RequestsPerSecond)
	}

	if c.Telemetry.Enabled {
		switch c.Telemetry.Exporter {
		case "grpc", "http":
		default:
			return fmt.Errorf("telemetry exporter must be grpc or http, got %q", c.Telemetry.Exporter)
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			return fmt.Errorf("telemetry sample rate must be in [0,1], got %g", c.Telemetry.SampleRate)
		}
	}
	return nil
}
