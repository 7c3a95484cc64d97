// SPDX-License-Identifier: MIT

// Command daemon runs the streamwarden controller: it keeps the upstream
// stream index fresh, matches streams to channels, probes stream quality and
// serves the HTTP control surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/streamwarden/internal/analyzer"
	"github.com/ManuGH/streamwarden/internal/api"
	"github.com/ManuGH/streamwarden/internal/cache"
	"github.com/ManuGH/streamwarden/internal/checker"
	"github.com/ManuGH/streamwarden/internal/config"
	"github.com/ManuGH/streamwarden/internal/daemon"
	"github.com/ManuGH/streamwarden/internal/engine"
	"github.com/ManuGH/streamwarden/internal/health"
	"github.com/ManuGH/streamwarden/internal/limiter"
	wlog "github.com/ManuGH/streamwarden/internal/log"
	"github.com/ManuGH/streamwarden/internal/probe"
	"github.com/ManuGH/streamwarden/internal/queue"
	"github.com/ManuGH/streamwarden/internal/state"
	"github.com/ManuGH/streamwarden/internal/telemetry"
	"github.com/ManuGH/streamwarden/internal/udi"
	"github.com/ManuGH/streamwarden/internal/upstream"
	"github.com/ManuGH/streamwarden/internal/version"
)

const serviceName = "streamwarden"

// maskURL removes user info from a URL string for safe logging.
func maskURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsed.User = nil
	return parsed.String()
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	// Bootstrap logger with defaults; reconfigured once the config is loaded.
	wlog.Configure(wlog.Config{Service: serviceName, Version: version.Version})
	logger := wlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.config_failed").Msg("configuration invalid")
	}

	wlog.Reconfigure(wlog.Config{Level: cfg.LogLevel, Service: serviceName, Version: version.Version})
	logger = wlog.WithComponent("daemon")

	if err := health.PerformStartupChecks(cfg); err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.startup_check_failed").Msg("startup checks failed")
	}

	logger.Info().
		Str("event", "daemon.starting").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("listen", cfg.Listen).
		Str("upstream", maskURL(cfg.Upstream.BaseURL)).
		Str("data_dir", cfg.DataDir).
		Msg("starting streamwarden")

	if cfg.APIToken == "" {
		logger.Warn().
			Str("event", "daemon.auth_disabled").
			Msg("WARDEN_API_TOKEN not set; the API accepts unauthenticated requests")
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Str("event", "daemon.failed").Msg("daemon exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	tracing, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: version.Version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	stores, err := state.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open state stores: %w", err)
	}

	results, err := probe.Open(filepath.Join(cfg.DataDir, "probe-cache"))
	if err != nil {
		return fmt.Errorf("open probe cache: %w", err)
	}

	// Redis is optional; without it stale-session lookups fall back to a
	// per-process cache, which is fine for a single instance.
	var sessions cache.Cache
	var redisCache *cache.RedisCache
	var memCache *cache.MemoryCache
	if cfg.Redis.Addr != "" {
		redisCache, err = cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			logger.Warn().Err(err).
				Str("event", "daemon.redis_unavailable").
				Msg("redis unavailable, using in-memory session cache")
			redisCache = nil
		} else {
			sessions = redisCache
		}
	}
	if sessions == nil {
		memCache = cache.NewMemoryCache(time.Minute)
		sessions = memCache
	}

	client := upstream.NewClient(cfg.Upstream.BaseURL, upstream.Options{
		Username:       cfg.Upstream.Username,
		Password:       cfg.Upstream.Password,
		Timeout:        cfg.Upstream.Timeout,
		RateLimit:      rate.Limit(cfg.Upstream.RequestsPerSecond),
		RateLimitBurst: cfg.Upstream.Burst,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := client.Ping(pingCtx); err != nil {
		logger.Warn().Err(err).
			Str("event", "daemon.upstream_unreachable").
			Str("upstream", maskURL(cfg.Upstream.BaseURL)).
			Msg("upstream not reachable yet, continuing")
	}
	cancel()

	index := udi.New(client)
	q := queue.New()
	lim := limiter.New()
	prober := analyzer.NewFFprobe(config.ResolveFFprobeBin(cfg.Analyzer.FFprobeBin, cfg.Analyzer.FFmpegBin))

	runner := checker.New(checker.Deps{
		Index:    index,
		Writer:   client,
		Queue:    q,
		Limiter:  lim,
		Prober:   prober,
		Results:  results,
		Stores:   stores,
		Sessions: sessions,
	})

	eng := engine.New(engine.Deps{
		Index:    index,
		Upstream: client,
		Queue:    q,
		Limiter:  lim,
		Results:  results,
		Stores:   stores,
		Checker:  runner,
	})

	hm := health.NewManager(version.Version)
	hm.Register("index", func(ctx context.Context) error {
		if !index.Loaded() {
			return errors.New("upstream index not loaded yet")
		}
		return nil
	})
	if redisCache != nil {
		hm.Register("redis", redisCache.HealthCheck)
	}

	tracingService := ""
	if cfg.Telemetry.Enabled {
		tracingService = serviceName
	}
	srv := api.New(api.Config{
		APIToken:             cfg.APIToken,
		TriggerRatePerMinute: cfg.TriggerRatePerMinute,
		TracingService:       tracingService,
	}, api.Deps{
		Engine: eng,
		Index:  index,
		Queue:  q,
		Stores: stores,
		Health: hm,
	})

	watcher := state.NewWatcher(cfg.DataDir, stores)
	watcher.OnReload = func(file string) {
		if file == state.FileAutomationConfig {
			eng.ReloadSchedules()
		}
	}

	app, err := daemon.New(daemon.Options{
		Listen:   cfg.Listen,
		Handler:  srv.Router(),
		Engine:   eng,
		Watcher:  watcher,
		OnReload: eng.ReloadSchedules,
	})
	if err != nil {
		return err
	}

	app.RegisterShutdownHook("probe-cache", func(context.Context) error {
		return results.Close()
	})
	if redisCache != nil {
		app.RegisterShutdownHook("redis", func(context.Context) error {
			return redisCache.Close()
		})
	}
	if memCache != nil {
		app.RegisterShutdownHook("session-cache", func(context.Context) error {
			memCache.Stop()
			return nil
		})
	}
	app.RegisterShutdownHook("telemetry", tracing.Shutdown)

	return app.Run(ctx)
}
