// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/ManuGH/streamwarden/internal/match"
	"github.com/ManuGH/streamwarden/internal/metrics"
	"github.com/ManuGH/streamwarden/internal/model"
	"github.com/ManuGH/streamwarden/internal/score"
	"github.com/ManuGH/streamwarden/internal/state"
)

// Priority for operator-requested single-channel checks; bulk work is
// enqueued at 0.
const singleCheckPriority = 10

// playlistTick is one automation cycle: refresh playlists upstream,
// reload the index, match, enqueue changed channels.
func (e *Engine) playlistTick(ctx context.Context) error {
	e.actionMu.Lock()
	defer e.actionMu.Unlock()
	return e.refreshAndMatch(ctx, false)
}

func (e *Engine) refreshAndMatch(ctx context.Context, force bool) error {
	auto := e.stores.Config.Automation()
	e.logger.Info().Str("event", "engine.tick_start").Msg("playlist refresh cycle starting")

	if err := e.up.RefreshAllM3U(ctx); err != nil {
		_ = e.stores.Changelog.Append(state.ActionPlaylistRefresh,
			"playlist refresh failed", false, map[string]any{"error": err.Error()})
		return fmt.Errorf("refresh playlists: %w", err)
	}
	if err := e.index.RefreshAll(ctx); err != nil {
		_ = e.stores.Changelog.Append(state.ActionPlaylistRefresh,
			"index reload failed after playlist refresh", false, map[string]any{"error": err.Error()})
		return fmt.Errorf("reload index: %w", err)
	}
	e.syncAccounts()
	e.lastPlaylist.Store(time.Now().UnixNano())
	_ = e.stores.Changelog.Append(state.ActionPlaylistRefresh,
		fmt.Sprintf("playlists refreshed, %d streams indexed", e.index.StreamCount()),
		true, map[string]any{"streams": e.index.StreamCount()})

	var changed []int64
	if auto.AutoStreamMatching {
		changed = e.matchAll(ctx)
	}
	if auto.AutoQualityChecking {
		e.enqueueChanged(changed, force)
	}
	return ctx.Err()
}

// syncAccounts pushes the fresh account snapshot into the limiter and
// preserves profile snapshots for later revival.
func (e *Engine) syncAccounts() {
	accounts := e.index.Accounts()
	e.limiter.SetCapacities(accounts)
	if err := e.stores.Profiles.SaveAll(accounts); err != nil {
		e.logger.Warn().
			Str("event", "engine.profile_snapshot_failed").
			Err(err).
			Msg("profile snapshots not persisted")
	}
}

// matchAll runs the matching engine over every channel with matching
// enabled and at least one enabled pattern, writes changed memberships
// upstream, and returns the ids of channels whose membership changed.
func (e *Engine) matchAll(ctx context.Context) []int64 {
	auto := e.stores.Config.Automation()
	opts := match.Options{
		EnabledAccounts:   auto.EnabledAccountIDs,
		RemoveNonMatching: auto.RemoveNonMatchingStreams,
		IsDead:            e.stores.Dead.Contains,
	}
	planner := match.NewPlanner(e.index)

	var changed []int64
	failures := 0
	for _, ch := range e.index.Channels() {
		if ctx.Err() != nil {
			break
		}
		if !e.stores.Settings.Effective(ch.ID, ch.ChannelGroupID).Matching {
			continue
		}
		patterns := e.stores.Regex.Patterns(ch.ID)
		if !anyEnabled(patterns) {
			continue
		}
		plan := planner.Plan(ch, patterns, opts)
		if !plan.Changed() {
			continue
		}
		if err := e.up.UpdateChannelStreams(ctx, ch.ID, plan.Next); err != nil {
			failures++
			metrics.MatchingRunsTotal.WithLabelValues("failed").Inc()
			e.logger.Error().
				Str("event", "engine.match_write_failed").
				Int64("channel_id", ch.ID).
				Err(err).
				Msg("membership write-back failed")
			continue
		}
		metrics.MatchingRunsTotal.WithLabelValues("ok").Inc()
		changed = append(changed, ch.ID)
		e.logger.Info().
			Str("event", "engine.channel_matched").
			Int64("channel_id", ch.ID).
			Int("added", len(plan.Added)).
			Int("removed", len(plan.Removed)).
			Msg("channel membership updated")
	}

	if len(changed) > 0 {
		// the upstream membership moved under the snapshot
		if err := e.index.RefreshChannels(ctx); err != nil {
			e.logger.Warn().Str("event", "engine.channel_reload_failed").Err(err).Msg("channel snapshot stale after matching")
		}
	}
	_ = e.stores.Changelog.Append(state.ActionStreamMatching,
		fmt.Sprintf("matching updated %d channels (%d failures)", len(changed), failures),
		failures == 0, map[string]any{"changed": len(changed), "failures": failures})
	return changed
}

// enqueueChanged queues channels for probing, honoring the channel
// immunity window unless force is set.
func (e *Engine) enqueueChanged(ids []int64, force bool) {
	if len(ids) == 0 {
		return
	}
	immunity := e.stores.Config.Checker().Immunity()
	queued := 0
	for _, id := range ids {
		if !force && immunity > 0 && e.stores.Updates.CheckedWithin(id, immunity) {
			continue
		}
		if e.queue.Enqueue(id, 0, force) {
			queued++
		}
	}
	e.logger.Info().
		Str("event", "engine.channels_queued").
		Int("changed", len(ids)).
		Int("queued", queued).
		Bool("force", force).
		Msg("changed channels queued for checking")
}

// runGlobalAction executes the comprehensive cycle: reload, clear the
// dead set once, refresh playlists, re-match everything, force-queue
// every channel.
func (e *Engine) runGlobalAction(ctx context.Context) error {
	e.actionMu.Lock()
	defer e.actionMu.Unlock()
	e.globalActive.Store(true)
	defer e.globalActive.Store(false)

	started := time.Now()
	e.logger.Info().Str("event", "engine.global_action_start").Msg("global action starting")

	fail := func(stage string, err error) error {
		metrics.GlobalActionsTotal.WithLabelValues("failed").Inc()
		_ = e.stores.Changelog.Append(state.ActionGlobalAction,
			fmt.Sprintf("global action failed during %s", stage),
			false, map[string]any{"stage": stage, "error": err.Error()})
		return fmt.Errorf("%s: %w", stage, err)
	}

	if err := e.index.RefreshAll(ctx); err != nil {
		return fail("index refresh", err)
	}
	cleared := e.stores.Dead.Len()
	if err := e.stores.Dead.Clear(); err != nil {
		return fail("dead-stream clear", err)
	}
	metrics.DeadStreams.Set(0)
	if err := e.up.RefreshAllM3U(ctx); err != nil {
		return fail("playlist refresh", err)
	}
	// matching must see the refreshed stream universe
	if err := e.index.RefreshAll(ctx); err != nil {
		return fail("index reload", err)
	}
	e.syncAccounts()
	e.lastPlaylist.Store(time.Now().UnixNano())

	changed := e.matchAll(ctx)

	queued := 0
	for _, ch := range e.index.Channels() {
		if !e.queue.Enqueue(ch.ID, 0, true) {
			// being checked right now; the force flag keeps the intent
			if err := e.stores.Updates.RequestForceCheck(ch.ID); err != nil {
				e.logger.Warn().Err(err).Int64("channel_id", ch.ID).Msg("force flag not persisted")
			}
			continue
		}
		queued++
	}

	e.lastGlobal.Store(time.Now().UnixNano())
	metrics.GlobalActionsTotal.WithLabelValues("ok").Inc()
	_ = e.stores.Changelog.Append(state.ActionGlobalAction,
		fmt.Sprintf("global action queued %d channels (%d matched, %d dead cleared)", queued, len(changed), cleared),
		true, map[string]any{
			"queued":       queued,
			"matched":      len(changed),
			"dead_cleared": cleared,
			"duration_ms":  time.Since(started).Milliseconds(),
		})
	e.logger.Info().
		Str("event", "engine.global_action_done").
		Int("queued", queued).
		Int("matched", len(changed)).
		Int("dead_cleared", cleared).
		Dur("elapsed", time.Since(started)).
		Msg("global action complete")
	return ctx.Err()
}

// TriggerGlobalAction schedules a global action on the engine loop.
// At most one runs or waits at a time.
func (e *Engine) TriggerGlobalAction() error {
	if e.globalActive.Load() {
		return ErrBusy
	}
	select {
	case e.globalCh <- struct{}{}:
		return nil
	default:
		return ErrBusy
	}
}

// RefreshPlaylist runs one full refresh cycle on the caller's context.
func (e *Engine) RefreshPlaylist(ctx context.Context) error {
	if err := e.guard(); err != nil {
		return err
	}
	e.actionMu.Lock()
	defer e.actionMu.Unlock()
	return e.refreshAndMatch(ctx, false)
}

// DiscoverStreams re-reads the stream universe and runs matching only,
// force-queueing every channel whose membership changed.
func (e *Engine) DiscoverStreams(ctx context.Context) (int, error) {
	if err := e.guard(); err != nil {
		return 0, err
	}
	e.actionMu.Lock()
	defer e.actionMu.Unlock()

	if err := e.index.RefreshStreams(ctx); err != nil {
		return 0, fmt.Errorf("refresh streams: %w", err)
	}
	if err := e.index.RefreshChannels(ctx); err != nil {
		return 0, fmt.Errorf("refresh channels: %w", err)
	}
	changed := e.matchAll(ctx)
	e.enqueueChanged(changed, true)
	return len(changed), ctx.Err()
}

// TestStreamsWithoutStats queues channels that contain probeable
// streams with no cached probe result.
func (e *Engine) TestStreamsWithoutStats(ctx context.Context) (int, error) {
	priorityOnly := idSet(e.stores.Config.Automation().PriorityOnlyAccountIDs)
	queued := 0
	for _, ch := range e.index.Channels() {
		if ctx.Err() != nil {
			return queued, ctx.Err()
		}
		if len(ch.Streams) == 0 {
			continue
		}
		if !e.stores.Settings.Effective(ch.ID, ch.ChannelGroupID).Checking {
			continue
		}
		cached, err := e.results.GetMany(ch.Streams)
		if err != nil {
			return queued, fmt.Errorf("load cached results: %w", err)
		}
		missing := false
		for _, id := range ch.Streams {
			if _, ok := cached[id]; ok {
				continue
			}
			s, known := e.index.Stream(id)
			if known && priorityOnly[s.AccountID()] {
				// never probed on purpose
				continue
			}
			missing = true
			break
		}
		if missing && e.queue.Enqueue(ch.ID, 0, false) {
			queued++
		}
	}
	e.logger.Info().
		Str("event", "engine.unprobed_queued").
		Int("queued", queued).
		Msg("channels with unprobed streams queued")
	return queued, nil
}

// CheckSingleChannel queues one channel at elevated priority with the
// force flag set.
func (e *Engine) CheckSingleChannel(id int64) error {
	if _, ok := e.index.Channel(id); !ok {
		return &model.FieldError{Field: "channel_id", Msg: "unknown channel"}
	}
	if !e.queue.Enqueue(id, singleCheckPriority, true) {
		// check already running; force the next pass instead
		return e.stores.Updates.RequestForceCheck(id)
	}
	return nil
}

// RescoreResortAll recomputes every channel's ordering from cached
// probe results without probing. Channels without any cached result
// are skipped; the stream set is preserved, only order and account
// trimming change.
func (e *Engine) RescoreResortAll(ctx context.Context) (int, error) {
	if err := e.guard(); err != nil {
		return 0, err
	}
	e.actionMu.Lock()
	defer e.actionMu.Unlock()

	cfg := e.stores.Config.Checker()
	params := score.Params{Weights: cfg.Weights, PriorityFactor: cfg.PriorityFactor}
	accounts := e.index.AccountMap()
	priorityOnly := idSet(e.stores.Config.Automation().PriorityOnlyAccountIDs)

	written := 0
	skipped := 0
	for _, ch := range e.index.Channels() {
		if ctx.Err() != nil {
			return written, ctx.Err()
		}
		if len(ch.Streams) == 0 {
			continue
		}
		cached, err := e.results.GetMany(ch.Streams)
		if err != nil {
			return written, fmt.Errorf("load cached results: %w", err)
		}
		if len(cached) == 0 {
			skipped++
			continue
		}

		pref := e.stores.Settings.Effective(ch.ID, ch.ChannelGroupID).Preference
		ranked := make([]score.Ranked, 0, len(ch.Streams))
		for _, id := range ch.Streams {
			s, known := e.index.Stream(id)
			if !known {
				s = model.Stream{ID: id}
			}
			priority := 0
			if a, ok := accounts[s.AccountID()]; ok {
				priority = a.Priority
			}
			var sc float64
			if priorityOnly[s.AccountID()] {
				sc = score.PriorityOnly(priority, params)
			} else {
				var res *model.ProbeResult
				if rr, ok := cached[id]; ok {
					res = &rr
				}
				sc = score.Compute(score.Input{
					Result:          res,
					Dead:            e.stores.Dead.Contains(id) || s.HasDeadPrefix(),
					Preference:      pref,
					AccountPriority: priority,
				}, params)
			}
			ranked = append(ranked, score.Ranked{Stream: s, Score: sc})
		}

		score.SortDesc(ranked)
		if cfg.Diversify.Enabled {
			ranked = score.Diversify(ranked, accounts, cfg.Diversify.Strategy)
		}
		ranked = score.ApplyAccountLimits(ranked, cfg.AccountLimits)

		newOrder := make([]int64, len(ranked))
		for i, rk := range ranked {
			newOrder[i] = rk.Stream.ID
		}
		if slices.Equal(newOrder, ch.Streams) {
			continue
		}
		if err := e.up.UpdateChannelStreams(ctx, ch.ID, newOrder); err != nil {
			return written, fmt.Errorf("write channel %d order: %w", ch.ID, err)
		}
		written++
	}

	if written > 0 {
		if err := e.index.RefreshChannels(ctx); err != nil {
			e.logger.Warn().Str("event", "engine.channel_reload_failed").Err(err).Msg("channel snapshot stale after rescore")
		}
	}
	_ = e.stores.Changelog.Append(state.ActionRescoreResort,
		fmt.Sprintf("rescore-resort rewrote %d channels (%d without stats skipped)", written, skipped),
		true, map[string]any{"written": written, "skipped": skipped})
	return written, nil
}

// ApplyAccountLimits trims existing channel memberships to the
// configured per-account caps, preserving order.
func (e *Engine) ApplyAccountLimits(ctx context.Context) (int, error) {
	if err := e.guard(); err != nil {
		return 0, err
	}
	e.actionMu.Lock()
	defer e.actionMu.Unlock()

	limits := e.stores.Config.Checker().AccountLimits
	written := 0
	for _, ch := range e.index.Channels() {
		if ctx.Err() != nil {
			return written, ctx.Err()
		}
		if len(ch.Streams) == 0 {
			continue
		}
		ranked := make([]score.Ranked, 0, len(ch.Streams))
		for _, id := range ch.Streams {
			s, known := e.index.Stream(id)
			if !known {
				s = model.Stream{ID: id}
			}
			ranked = append(ranked, score.Ranked{Stream: s})
		}
		trimmed := score.ApplyAccountLimits(ranked, limits)
		if len(trimmed) == len(ch.Streams) {
			continue
		}
		newOrder := make([]int64, len(trimmed))
		for i, rk := range trimmed {
			newOrder[i] = rk.Stream.ID
		}
		if err := e.up.UpdateChannelStreams(ctx, ch.ID, newOrder); err != nil {
			return written, fmt.Errorf("write channel %d order: %w", ch.ID, err)
		}
		written++
	}

	if written > 0 {
		if err := e.index.RefreshChannels(ctx); err != nil {
			e.logger.Warn().Str("event", "engine.channel_reload_failed").Err(err).Msg("channel snapshot stale after limit trim")
		}
	}
	_ = e.stores.Changelog.Append(state.ActionAccountLimits,
		fmt.Sprintf("account limits trimmed %d channels", written),
		true, map[string]any{"written": written})
	return written, nil
}

// QueueAdd enqueues the given channels; unknown ids are skipped.
func (e *Engine) QueueAdd(ids []int64, priority int) int {
	queued := 0
	for _, id := range ids {
		if _, ok := e.index.Channel(id); !ok {
			continue
		}
		if e.queue.Enqueue(id, priority, false) {
			queued++
		}
	}
	return queued
}

// QueueClear drops all waiting entries; in-progress checks finish.
func (e *Engine) QueueClear() int {
	return e.queue.Clear()
}

func anyEnabled(patterns []model.PatternRecord) bool {
	for _, p := range patterns {
		if p.Enabled {
			return true
		}
	}
	return false
}

func idSet(ids []int64) map[int64]bool {
	out := make(map[int64]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}
