// SPDX-License-Identifier: MIT

// Package checker is the probe runner: it consumes the channel queue,
// probes each channel's streams through the account's profiles, scores
// and orders them, and writes the result back upstream.
package checker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/ManuGH/streamwarden/internal/analyzer"
	"github.com/ManuGH/streamwarden/internal/cache"
	"github.com/ManuGH/streamwarden/internal/limiter"
	"github.com/ManuGH/streamwarden/internal/log"
	"github.com/ManuGH/streamwarden/internal/metrics"
	"github.com/ManuGH/streamwarden/internal/model"
	"github.com/ManuGH/streamwarden/internal/probe"
	"github.com/ManuGH/streamwarden/internal/queue"
	"github.com/ManuGH/streamwarden/internal/state"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// IndexView is the slice of the data index the runner reads.
type IndexView interface {
	Channel(id int64) (model.Channel, bool)
	Stream(id int64) (model.Stream, bool)
	Account(id int64) (model.M3UAccount, bool)
	AccountMap() map[int64]model.M3UAccount
	AvailableProfilesForStream(s model.Stream) []model.Profile
	ProfilesForStream(s model.Stream) []model.Profile
	ProfileAvailable(p model.Profile) bool
	ApplyProfileURL(s model.Stream, p model.Profile) string
	RefreshSessions(ctx context.Context) error
}

// Writer is the upstream mutation surface the runner needs.
type Writer interface {
	UpdateChannelStreams(ctx context.Context, channelID int64, streamIDs []int64) error
	UpdateStreamName(ctx context.Context, id int64, name string) error
}

// Deps wires a Runner. All fields are required except Sessions, which
// falls back to a no-op cache.
type Deps struct {
	Index    IndexView
	Writer   Writer
	Queue    *queue.Queue
	Limiter  *limiter.Limiter
	Prober   analyzer.Prober
	Results  *probe.Store
	Stores   *state.Stores
	Sessions cache.Cache
}

// Runner processes queued channel checks.
type Runner struct {
	index    IndexView
	writer   Writer
	queue    *queue.Queue
	limiter  *limiter.Limiter
	prober   analyzer.Prober
	results  *probe.Store
	stores   *state.Stores
	sessions cache.Cache
	sem      *semaphore.Weighted
	logger   zerolog.Logger
}

func New(d Deps) *Runner {
	sessions := d.Sessions
	if sessions == nil {
		sessions = cache.NewNoOpCache()
	}
	r := &Runner{
		index:    d.Index,
		writer:   d.Writer,
		queue:    d.Queue,
		limiter:  d.Limiter,
		prober:   d.Prober,
		results:  d.Results,
		stores:   d.Stores,
		sessions: sessions,
		logger:   log.WithComponent("checker"),
	}
	r.sem = semaphore.NewWeighted(int64(poolSize(d.Stores.Config.Checker())))
	return r
}

func poolSize(cfg model.StreamCheckerConfig) int {
	if cfg.GlobalConcurrentLimit < 1 {
		return 1
	}
	return cfg.GlobalConcurrentLimit
}

// Run starts the worker pool and blocks until the context ends. The
// pool size and the probe concurrency bound are read once at start.
func (r *Runner) Run(ctx context.Context) error {
	workers := poolSize(r.stores.Config.Checker())
	r.sem = semaphore.NewWeighted(int64(workers))

	r.logger.Info().
		Str("event", "checker.start").
		Int("workers", workers).
		Msg("probe runner started")

	g := new(errgroup.Group)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				entry, ok := r.queue.DequeueWait(ctx)
				if !ok {
					return nil
				}
				r.process(ctx, entry)
			}
		})
	}
	err := g.Wait()
	r.logger.Info().Str("event", "checker.stop").Msg("probe runner stopped")
	return err
}

// errSkipped marks channels dropped without a check: settings disable
// checking, or the channel no longer exists.
var errSkipped = errors.New("channel check skipped")

func (r *Runner) process(ctx context.Context, e queue.Entry) {
	// one correlation id per check; upstream calls log it via FromContext
	checkID := uuid.NewString()
	ctx = log.ContextWithCheckID(ctx, checkID)
	logger := r.logger.With().
		Str("check_id", checkID).
		Int64("channel_id", e.ChannelID).
		Logger()

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().
				Str("event", "checker.panic").
				Str("panic", fmt.Sprint(rec)).
				Bytes("stack", debug.Stack()).
				Msg("channel check panicked")
			metrics.ChannelsChecked.WithLabelValues("panic").Inc()
			r.queue.Done(e.ChannelID, false)
		}
	}()

	err := r.checkChannel(ctx, e, logger)
	switch {
	case err == nil:
		metrics.ChannelsChecked.WithLabelValues("ok").Inc()
		r.queue.Done(e.ChannelID, true)
	case errors.Is(err, errSkipped):
		metrics.ChannelsChecked.WithLabelValues("skipped").Inc()
		r.queue.Done(e.ChannelID, true)
	case errors.Is(err, ctx.Err()) && ctx.Err() != nil:
		logger.Warn().Str("event", "checker.aborted").Msg("channel check aborted by shutdown")
		metrics.ChannelsChecked.WithLabelValues("aborted").Inc()
		r.queue.Done(e.ChannelID, false)
	default:
		logger.Error().Str("event", "checker.failed").Err(err).Msg("channel check failed")
		metrics.ChannelsChecked.WithLabelValues("failed").Inc()
		r.queue.Done(e.ChannelID, false)
		if r.queue.Requeue(e) {
			logger.Info().
				Str("event", "checker.requeued").
				Int("priority", e.Priority-1).
				Msg("channel requeued after failed write-back")
		}
	}
}
