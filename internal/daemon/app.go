// SPDX-License-Identifier: MIT

// Package daemon owns the process lifecycle: the HTTP control surface,
// the scheduler engine, the state-file watcher and the reload signal,
// all tied to one context and shut down in order.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ManuGH/streamwarden/internal/log"
	"github.com/ManuGH/streamwarden/internal/state"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const defaultShutdownTimeout = 15 * time.Second

// Runner is a long-lived component the app drives, normally the engine.
type Runner interface {
	Run(ctx context.Context) error
}

// Options wires an App. Engine and Handler are required; Watcher and
// OnReload are optional.
type Options struct {
	// Listen is the control surface bind address.
	Listen string
	// Handler is the full route tree served on Listen.
	Handler http.Handler
	// Engine is the scheduler; its Run blocks until shutdown.
	Engine Runner
	// Watcher hot-reloads state files edited outside the process.
	Watcher *state.Watcher
	// OnReload runs after a SIGHUP-triggered reload, e.g. to reinstall
	// cron schedules from the freshly read config.
	OnReload func()
	// ShutdownTimeout bounds the HTTP server drain. Zero means 15s.
	ShutdownTimeout time.Duration
}

// ShutdownHook releases a resource during shutdown. Hooks run in
// reverse registration order after every loop has stopped.
type ShutdownHook func(ctx context.Context) error

type namedHook struct {
	name string
	hook ShutdownHook
}

// App runs all long-lived subsystems under one errgroup.
type App struct {
	opts         Options
	logger       zerolog.Logger
	hooks        []namedHook
	reloadSignal os.Signal
}

func New(opts Options) (*App, error) {
	if opts.Engine == nil {
		return nil, errors.New("daemon: engine is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("daemon: handler is required")
	}
	return &App{
		opts:         opts,
		logger:       log.WithComponent("daemon"),
		reloadSignal: syscall.SIGHUP,
	}, nil
}

// RegisterShutdownHook adds a cleanup step, run LIFO after Run's loops
// have stopped.
func (a *App) RegisterShutdownHook(name string, hook ShutdownHook) {
	a.hooks = append(a.hooks, namedHook{name: name, hook: hook})
}

// Run starts everything and blocks until ctx ends or a subsystem
// fails. Shutdown hooks run regardless of the cause.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	// Best effort: the daemon works without hot reload, just without
	// picking up external file edits.
	if a.opts.Watcher != nil {
		if err := a.opts.Watcher.Start(ctx); err != nil {
			a.logger.Warn().Err(err).
				Str("event", "daemon.watcher_failed").
				Msg("state watcher not started, external edits will not be picked up")
		}
	}

	g.Go(func() error {
		return a.reloadLoop(ctx)
	})

	g.Go(func() error {
		return a.opts.Engine.Run(ctx)
	})

	srv := &http.Server{
		Addr:              a.opts.Listen,
		Handler:           a.opts.Handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	g.Go(func() error {
		a.logger.Info().
			Str("event", "daemon.listening").
			Str("addr", a.opts.Listen).
			Msg("control surface listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		// Detached but bounded so the drain can finish after cancel.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	a.runShutdownHooks()

	if err != nil {
		a.logger.Error().Err(err).Str("event", "daemon.stopped").Msg("daemon stopped with error")
		return err
	}
	a.logger.Info().Str("event", "daemon.stopped").Msg("daemon stopped")
	return nil
}

// reloadLoop re-reads all state files on SIGHUP, matching how the
// watcher reacts to individual file edits.
func (a *App) reloadLoop(ctx context.Context) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, a.reloadSignal)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
			a.logger.Info().
				Str("event", "daemon.reload_signal").
				Str("signal", a.reloadSignal.String()).
				Msg("reloading state files")
			a.reloadNow()
		}
	}
}

func (a *App) reloadNow() {
	if a.opts.Watcher != nil {
		a.opts.Watcher.ReloadAll()
	}
	if a.opts.OnReload != nil {
		a.opts.OnReload()
	}
}

func (a *App) shutdownTimeout() time.Duration {
	if a.opts.ShutdownTimeout > 0 {
		return a.opts.ShutdownTimeout
	}
	return defaultShutdownTimeout
}

func (a *App) runShutdownHooks() {
	for i := len(a.hooks) - 1; i >= 0; i-- {
		h := a.hooks[i]
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := h.hook(ctx); err != nil {
			a.logger.Error().Err(err).
				Str("event", "daemon.hook_failed").
				Str("hook", h.name).
				Msg("shutdown hook failed")
		} else {
			a.logger.Debug().
				Str("event", "daemon.hook_done").
				Str("hook", h.name).
				Msg("shutdown hook finished")
		}
		cancel()
	}
}
