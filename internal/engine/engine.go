// SPDX-License-Identifier: MIT

// Package engine is the top-level scheduler. It owns the periodic
// playlist tick, the cron entries, the global-action cycle, manual
// triggers from the control surface, and the derived
// stream-checking-mode flag that gates conflicting mutations.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/streamwarden/internal/limiter"
	"github.com/ManuGH/streamwarden/internal/log"
	"github.com/ManuGH/streamwarden/internal/metrics"
	"github.com/ManuGH/streamwarden/internal/model"
	"github.com/ManuGH/streamwarden/internal/probe"
	"github.com/ManuGH/streamwarden/internal/queue"
	"github.com/ManuGH/streamwarden/internal/state"
	"github.com/ManuGH/streamwarden/internal/udi"
	"github.com/ManuGH/streamwarden/internal/upstream"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrBusy rejects a mutating trigger while checking is in flight. The
// control surface maps it to 409.
var ErrBusy = errors.New("engine busy: stream checking in progress")

// Upstream is the mutation surface the scheduler itself needs. The
// probe runner carries its own, narrower view.
type Upstream interface {
	RefreshAllM3U(ctx context.Context) error
	UpdateChannelStreams(ctx context.Context, channelID int64, streamIDs []int64) error
}

// CheckRunner is the probe runner's lifecycle, owned by the engine so
// start and stop stay ordered.
type CheckRunner interface {
	Run(ctx context.Context) error
}

// Deps wires an Engine. Checker may be nil in tests that exercise the
// scheduler alone.
type Deps struct {
	Index    *udi.Index
	Upstream Upstream
	Queue    *queue.Queue
	Limiter  *limiter.Limiter
	Results  *probe.Store
	Stores   *state.Stores
	Checker  CheckRunner
}

// Engine coordinates refresh, matching, checking and the trackers.
type Engine struct {
	index   *udi.Index
	up      Upstream
	queue   *queue.Queue
	limiter *limiter.Limiter
	results *probe.Store
	stores  *state.Stores
	checker CheckRunner
	logger  zerolog.Logger

	running      atomic.Bool
	globalActive atomic.Bool
	lastPlaylist atomic.Int64 // unix nanos, 0 = never
	lastGlobal   atomic.Int64

	// actionMu serializes playlist ticks and global actions; a running
	// global action blocks the next tick until it finishes.
	actionMu sync.Mutex

	globalCh   chan struct{}
	cronTick   chan struct{}
	tickReload chan struct{}

	cronMu sync.Mutex
	cron   *cron.Cron
}

func New(d Deps) *Engine {
	return &Engine{
		index:      d.Index,
		up:         d.Upstream,
		queue:      d.Queue,
		limiter:    d.Limiter,
		results:    d.Results,
		stores:     d.Stores,
		checker:    d.Checker,
		logger:     log.WithComponent("engine"),
		globalCh:   make(chan struct{}, 1),
		cronTick:   make(chan struct{}, 1),
		tickReload: make(chan struct{}, 1),
	}
}

// In-progress entries older than this are assumed orphaned by a
// crashed worker and swept back so the channel can be checked again.
const staleInProgressAge = 30 * time.Minute

// Cached probe results whose stream has left the index survive one
// staleResultAge so a short playlist glitch keeps the history; the
// prune scan runs once per resultPruneInterval.
const (
	resultPruneInterval = time.Hour
	staleResultAge      = 24 * time.Hour
)

// Run starts the scheduler loops and the probe runner and blocks until
// the context ends.
func (e *Engine) Run(ctx context.Context) error {
	e.running.Store(true)
	defer e.running.Store(false)

	e.reloadCron()
	defer e.stopCron()

	e.logger.Info().Str("event", "engine.start").Msg("scheduler started")

	g, ctx := errgroup.WithContext(ctx)
	if e.checker != nil {
		g.Go(func() error { return e.checker.Run(ctx) })
	}
	g.Go(func() error { return e.tickLoop(ctx) })
	g.Go(func() error { return e.globalLoop(ctx) })
	g.Go(func() error {
		return e.limiter.RunReaper(ctx, time.Minute, func() time.Duration {
			return time.Duration(e.stores.Config.Checker().StaleTokenMaxAgeMinutes) * time.Minute
		})
	})
	g.Go(func() error { return e.sweepLoop(ctx) })

	err := g.Wait()
	e.logger.Info().Str("event", "engine.stop").Msg("scheduler stopped")
	return err
}

// tickLoop drives the interval-based playlist refresh. Cron-scheduled
// refreshes and global actions arrive on their own channels so the
// cron callbacks never block.
func (e *Engine) tickLoop(ctx context.Context) error {
	timer := time.NewTimer(e.nextTick())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-e.cronTick:
			if err := e.playlistTick(ctx); err != nil && ctx.Err() == nil {
				e.logTickFailed(err, "cron playlist tick failed")
			}

		case <-e.tickReload:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(e.nextTick())

		case <-timer.C:
			if e.tickInterval() > 0 {
				if err := e.playlistTick(ctx); err != nil && ctx.Err() == nil {
					e.logTickFailed(err, "playlist tick failed")
				}
			}
			timer.Reset(e.nextTick())
		}
	}
}

// logTickFailed logs a failed tick. A transient upstream failure is
// expected to heal on its own, so it does not raise the error level.
func (e *Engine) logTickFailed(err error, msg string) {
	evt := e.logger.Error()
	if upstream.IsTransient(err) {
		evt = e.logger.Warn()
	}
	evt.Str("event", "engine.tick_failed").Err(err).Msg(msg)
}

// tickInterval returns the interval duration, or 0 while interval
// ticking is handed over to cron or disabled.
func (e *Engine) tickInterval() time.Duration {
	auto := e.stores.Config.Automation()
	if auto.PlaylistUpdateCron != "" || auto.PlaylistUpdateIntervalMinutes <= 0 {
		return 0
	}
	return time.Duration(auto.PlaylistUpdateIntervalMinutes) * time.Minute
}

func (e *Engine) nextTick() time.Duration {
	if d := e.tickInterval(); d > 0 {
		return d
	}
	// config re-checked in case the interval comes back
	return time.Hour
}

func (e *Engine) globalLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.globalCh:
			if err := e.runGlobalAction(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error().Str("event", "engine.global_action_failed").Err(err).Msg("global action failed")
			}
		}
	}
}

// sweepLoop recovers channels orphaned in the in-progress set, keeps
// the dead-stream gauge current and periodically prunes cached probe
// results whose stream left the playlists.
func (e *Engine) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	lastPrune := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if ids := e.queue.ReapInProgress(staleInProgressAge); len(ids) > 0 {
				e.logger.Warn().
					Str("event", "engine.stale_checks_reaped").
					Ints64("channel_ids", ids).
					Msg("stale in-progress checks swept back to idle")
			}
			metrics.DeadStreams.Set(float64(e.stores.Dead.Len()))
			if time.Since(lastPrune) >= resultPruneInterval {
				lastPrune = time.Now()
				e.pruneResults()
			}
		}
	}
}

// pruneResults drops cached probe results for streams no longer in the
// index. It only runs against a loaded index and spares results younger
// than staleResultAge.
func (e *Engine) pruneResults() {
	if !e.index.Loaded() {
		return
	}
	var stale []int64
	err := e.results.ForEach(func(id int64, r model.ProbeResult) error {
		if _, ok := e.index.Stream(id); ok {
			return nil
		}
		if time.Since(r.LastCheckedAt) < staleResultAge {
			return nil
		}
		stale = append(stale, id)
		return nil
	})
	if err != nil {
		e.logger.Warn().Str("event", "engine.result_prune_failed").Err(err).Msg("probe cache scan failed")
		return
	}
	for _, id := range stale {
		if err := e.results.Delete(id); err != nil {
			e.logger.Warn().
				Str("event", "engine.result_prune_failed").
				Int64("stream_id", id).
				Err(err).
				Msg("cached result not deleted")
			return
		}
	}
	if len(stale) > 0 {
		e.logger.Info().
			Str("event", "engine.results_pruned").
			Int("pruned", len(stale)).
			Msg("cached results for departed streams pruned")
	}
}

// ReloadSchedules applies automation-config changes to the running
// loops: cron entries are rebuilt and the interval timer re-armed.
func (e *Engine) ReloadSchedules() {
	e.reloadCron()
	select {
	case e.tickReload <- struct{}{}:
	default:
	}
}

func (e *Engine) reloadCron() {
	e.cronMu.Lock()
	defer e.cronMu.Unlock()

	if e.cron != nil {
		e.cron.Stop()
		e.cron = nil
	}

	auto := e.stores.Config.Automation()
	c := cron.New()
	entries := 0

	if spec := auto.PlaylistUpdateCron; spec != "" {
		_, err := c.AddFunc(spec, func() {
			select {
			case e.cronTick <- struct{}{}:
			default:
			}
		})
		if err != nil {
			e.logger.Error().
				Str("event", "engine.cron_invalid").
				Str("spec", spec).
				Err(err).
				Msg("playlist cron expression rejected")
		} else {
			entries++
		}
	}
	if spec := auto.GlobalActionCron; spec != "" {
		_, err := c.AddFunc(spec, func() { _ = e.TriggerGlobalAction() })
		if err != nil {
			e.logger.Error().
				Str("event", "engine.cron_invalid").
				Str("spec", spec).
				Err(err).
				Msg("global-action cron expression rejected")
		} else {
			entries++
		}
	}

	if entries > 0 {
		c.Start()
		e.cron = c
		e.logger.Info().
			Str("event", "engine.cron_loaded").
			Int("entries", entries).
			Msg("cron schedules installed")
	}
}

func (e *Engine) stopCron() {
	e.cronMu.Lock()
	defer e.cronMu.Unlock()
	if e.cron != nil {
		e.cron.Stop()
		e.cron = nil
	}
}

// Status is the engine state published on the control surface.
type Status struct {
	AutomationRunning      bool        `json:"automation_running"`
	StreamCheckerRunning   bool        `json:"stream_checker_running"`
	GlobalActionInProgress bool        `json:"global_action_in_progress"`
	StreamCheckingMode     bool        `json:"stream_checking_mode"`
	Queue                  queue.Stats `json:"queue"`
	CachedResults          int         `json:"cached_results"`
	ProbeConnections       int         `json:"probe_connections"`
	LastPlaylistUpdate     *time.Time  `json:"last_playlist_update,omitempty"`
	LastGlobalAction       *time.Time  `json:"last_global_check,omitempty"`
}

func (e *Engine) Status() Status {
	cached, err := e.results.Count()
	if err != nil {
		e.logger.Debug().Err(err).Msg("probe cache count unavailable")
	}
	return Status{
		AutomationRunning:      e.running.Load(),
		StreamCheckerRunning:   e.running.Load() && e.checker != nil,
		GlobalActionInProgress: e.globalActive.Load(),
		StreamCheckingMode:     e.StreamCheckingMode(),
		Queue:                  e.queue.Stats(),
		CachedResults:          cached,
		ProbeConnections:       e.limiter.ActiveTokens(),
		LastPlaylistUpdate:     nanosToTime(e.lastPlaylist.Load()),
		LastGlobalAction:       nanosToTime(e.lastGlobal.Load()),
	}
}

// StreamCheckingMode reports whether checking work is in flight: a
// global action, queued channels, or channels currently being probed.
func (e *Engine) StreamCheckingMode() bool {
	return e.globalActive.Load() || e.queue.Len() > 0 || e.queue.InProgress() > 0
}

// guard rejects mutating triggers while checking is in flight.
func (e *Engine) guard() error {
	if e.StreamCheckingMode() {
		return ErrBusy
	}
	return nil
}

func nanosToTime(n int64) *time.Time {
	if n == 0 {
		return nil
	}
	t := time.Unix(0, n)
	return &t
}
