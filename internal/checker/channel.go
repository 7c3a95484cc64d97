// SPDX-License-Identifier: MIT

package checker

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ManuGH/streamwarden/internal/model"
	"github.com/ManuGH/streamwarden/internal/queue"
	"github.com/ManuGH/streamwarden/internal/score"
	"github.com/ManuGH/streamwarden/internal/state"
	"github.com/ManuGH/streamwarden/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
)

func (r *Runner) checkChannel(ctx context.Context, e queue.Entry, logger zerolog.Logger) (err error) {
	ch, ok := r.index.Channel(e.ChannelID)
	if !ok {
		logger.Warn().Str("event", "checker.channel_gone").Msg("queued channel no longer exists")
		return errSkipped
	}
	eff := r.stores.Settings.Effective(ch.ID, ch.ChannelGroupID)
	if !eff.Checking {
		// the force flag in the tracker stays untouched for later
		logger.Debug().Str("event", "checker.checking_disabled").Msg("dropping entry")
		return errSkipped
	}

	ctx, span := telemetry.Tracer(tracerName).Start(ctx, "warden.check.channel")
	span.SetAttributes(telemetry.ChannelAttributes(ch.ID, ch.Name, len(ch.Streams))...)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	cfg := r.stores.Config.Checker()
	priorityOnly := idSet(r.stores.Config.Automation().PriorityOnlyAccountIDs)

	force := e.Force
	if st, ok := r.stores.Updates.Get(ch.ID); ok && st.ForceCheckRequested {
		force = true
	}

	streams := make([]model.Stream, 0, len(ch.Streams))
	for _, id := range ch.Streams {
		if s, found := r.index.Stream(id); found {
			streams = append(streams, s)
		}
	}
	if len(streams) == 0 {
		logger.Debug().Str("event", "checker.no_streams").Msg("channel has no known streams")
		if err := r.stores.Updates.Record(ch.ID, 0); err != nil {
			return fmt.Errorf("record update state: %w", err)
		}
		return nil
	}

	results, probed, immune, err := r.gatherResults(ctx, streams, cfg, priorityOnly, force)
	if err != nil {
		return err
	}

	dead := r.syncDeadState(ctx, streams, results, priorityOnly, logger)

	ranked := r.rank(streams, results, dead, priorityOnly, eff.Preference, cfg)
	newOrder := make([]int64, 0, len(ranked))
	for _, rk := range ranked {
		// score 0 means dead or unusable; priority-only streams are
		// exempt since they are scored without probing
		if rk.Score == 0 && !priorityOnly[rk.Stream.AccountID()] {
			continue
		}
		newOrder = append(newOrder, rk.Stream.ID)
	}

	changed := !slices.Equal(newOrder, ch.Streams)
	if changed {
		if err := r.writer.UpdateChannelStreams(ctx, ch.ID, newOrder); err != nil {
			// tracker untouched: the next run retries the full check
			_ = r.stores.Changelog.Append(state.ActionChannelCheck,
				fmt.Sprintf("channel %d (%s): write-back failed", ch.ID, ch.Name),
				false, map[string]any{"channel_id": ch.ID, "error": err.Error()})
			return fmt.Errorf("write stream order: %w", err)
		}
	}

	if err := r.stores.Updates.Record(ch.ID, len(newOrder)); err != nil {
		return fmt.Errorf("record update state: %w", err)
	}
	deadCount := 0
	for _, isDead := range dead {
		if isDead {
			deadCount++
		}
	}
	_ = r.stores.Changelog.Append(state.ActionChannelCheck,
		fmt.Sprintf("channel %d (%s): %d streams, %d probed, %d dead", ch.ID, ch.Name, len(streams), probed, deadCount),
		true, map[string]any{
			"channel_id": ch.ID,
			"streams":    len(streams),
			"probed":     probed,
			"immune":     immune,
			"dead":       deadCount,
			"written":    changed,
			"forced":     force,
		})

	logger.Info().
		Str("event", "checker.channel_done").
		Int("streams", len(streams)).
		Int("probed", probed).
		Int("immune", immune).
		Int("dead", deadCount).
		Bool("written", changed).
		Msg("channel check complete")
	return nil
}

// gatherResults reuses cached probe results inside the immunity window
// and probes the rest through the bounded pool. Priority-only streams
// are never probed.
func (r *Runner) gatherResults(
	ctx context.Context,
	streams []model.Stream,
	cfg model.StreamCheckerConfig,
	priorityOnly map[int64]bool,
	force bool,
) (map[int64]model.ProbeResult, int, int, error) {
	ids := make([]int64, len(streams))
	for i, s := range streams {
		ids[i] = s.ID
	}
	cached, err := r.results.GetMany(ids)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("load cached results: %w", err)
	}

	now := time.Now()
	immunity := cfg.Immunity()
	results := make(map[int64]model.ProbeResult, len(streams))
	var toProbe []model.Stream
	immune := 0
	for _, s := range streams {
		if priorityOnly[s.AccountID()] {
			continue
		}
		if c, ok := cached[s.ID]; ok && !force && now.Sub(c.LastCheckedAt) < immunity {
			results[s.ID] = c
			immune++
			continue
		}
		toProbe = append(toProbe, s)
	}

	if len(toProbe) == 0 {
		return results, 0, immune, nil
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, s := range toProbe {
		wg.Add(1)
		go func(s model.Stream) {
			defer wg.Done()
			if err := r.sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer r.sem.Release(1)

			res := r.probeStream(ctx, s, cfg)
			if err := r.results.Put(s.ID, res); err != nil {
				r.logger.Warn().
					Str("event", "checker.result_persist_failed").
					Int64("stream_id", s.ID).
					Err(err).
					Msg("probe result not persisted")
			}
			mu.Lock()
			results[s.ID] = res
			mu.Unlock()
		}(s)
	}
	wg.Wait()

	if ctx.Err() != nil {
		// partial results must not drive a write-back
		return nil, 0, 0, ctx.Err()
	}
	return results, len(toProbe), immune, nil
}

// syncDeadState reconciles the dead tracker and the upstream name
// marker with this round's results, and returns the effective dead
// flag per stream id for scoring.
func (r *Runner) syncDeadState(
	ctx context.Context,
	streams []model.Stream,
	results map[int64]model.ProbeResult,
	priorityOnly map[int64]bool,
	logger zerolog.Logger,
) map[int64]bool {
	dead := make(map[int64]bool, len(streams))
	for _, s := range streams {
		if priorityOnly[s.AccountID()] {
			dead[s.ID] = false
			continue
		}
		res, hasResult := results[s.ID]
		switch {
		case hasResult && res.Status == model.ProbeOK && !res.Healthy():
			// answered, but no usable picture
			dead[s.ID] = true
			if !r.stores.Dead.Contains(s.ID) {
				reason := fmt.Sprintf("probe ok with %dx%d, bitrate %s", res.Width, res.Height, bitrateString(res.BitrateKbps))
				if err := r.stores.Dead.MarkDead(s.ID, reason); err != nil {
					logger.Warn().Err(err).Int64("stream_id", s.ID).Msg("dead tracker write failed")
				}
			}
			if !s.HasDeadPrefix() {
				if err := r.writer.UpdateStreamName(ctx, s.ID, model.TagDead(s.Name)); err != nil {
					logger.Warn().
						Str("event", "checker.tag_failed").
						Int64("stream_id", s.ID).
						Err(err).
						Msg("could not tag stream name upstream")
				}
			}
		case hasResult && res.Healthy():
			dead[s.ID] = false
			if r.stores.Dead.Contains(s.ID) {
				if err := r.stores.Dead.Revive(s.ID); err != nil {
					logger.Warn().Err(err).Int64("stream_id", s.ID).Msg("dead tracker revive failed")
				}
			}
			if s.HasDeadPrefix() {
				if err := r.writer.UpdateStreamName(ctx, s.ID, model.UntagDead(s.Name)); err != nil {
					logger.Warn().
						Str("event", "checker.untag_failed").
						Int64("stream_id", s.ID).
						Err(err).
						Msg("could not untag stream name upstream")
				}
			}
		default:
			// probe failed or never ran: prior knowledge decides
			dead[s.ID] = r.stores.Dead.Contains(s.ID) || s.HasDeadPrefix()
		}
	}
	return dead
}

func (r *Runner) rank(
	streams []model.Stream,
	results map[int64]model.ProbeResult,
	dead map[int64]bool,
	priorityOnly map[int64]bool,
	pref model.QualityPreference,
	cfg model.StreamCheckerConfig,
) []score.Ranked {
	params := score.Params{Weights: cfg.Weights, PriorityFactor: cfg.PriorityFactor}
	ranked := make([]score.Ranked, 0, len(streams))
	for _, s := range streams {
		priority := 0
		if a, ok := r.index.Account(s.AccountID()); ok {
			priority = a.Priority
		}
		var sc float64
		if priorityOnly[s.AccountID()] {
			sc = score.PriorityOnly(priority, params)
		} else {
			var res *model.ProbeResult
			if rr, ok := results[s.ID]; ok {
				res = &rr
			}
			sc = score.Compute(score.Input{
				Result:          res,
				Dead:            dead[s.ID],
				Preference:      pref,
				AccountPriority: priority,
			}, params)
		}
		ranked = append(ranked, score.Ranked{Stream: s, Score: sc})
	}
	score.SortDesc(ranked)
	if cfg.Diversify.Enabled {
		ranked = score.Diversify(ranked, r.index.AccountMap(), cfg.Diversify.Strategy)
	}
	return score.ApplyAccountLimits(ranked, cfg.AccountLimits)
}

func idSet(ids []int64) map[int64]bool {
	out := make(map[int64]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func bitrateString(kbps *float64) string {
	if kbps == nil {
		return "unknown"
	}
	return fmt.Sprintf("%.0f kbps", *kbps)
}
