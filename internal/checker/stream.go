// SPDX-License-Identifier: MIT

package checker

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ManuGH/streamwarden/internal/analyzer"
	"github.com/ManuGH/streamwarden/internal/metrics"
	"github.com/ManuGH/streamwarden/internal/model"
	"github.com/ManuGH/streamwarden/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	sessionFreshKey = "upstream:proxy_sessions_fresh"
	tracerName      = "streamwarden.checker"
)

// probeStream tries every access path to a stream until one answers.
//
// Phase 1 walks the profiles that currently have session headroom and
// try-acquires limiter slots; no waiting. When everything is busy and
// failover is enabled, phase 2 polls session state until a profile
// frees up or the window elapses.
func (r *Runner) probeStream(ctx context.Context, s model.Stream, cfg model.StreamCheckerConfig) (out model.ProbeResult) {
	ctx, span := telemetry.Tracer(tracerName).Start(ctx, "warden.probe.stream",
		trace.WithAttributes(attribute.Int64(telemetry.AccountIDKey, s.AccountID())))
	phase := "direct"
	// registered before the recover so the recorded outcome covers panics
	defer func() {
		profileID := int64(0)
		if out.UsedProfileID != nil {
			profileID = *out.UsedProfileID
		}
		span.SetAttributes(telemetry.ProbeAttributes(s.ID, profileID, phase, string(out.Status))...)
		span.End()
	}()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("event", "checker.probe_panic").
				Int64("stream_id", s.ID).
				Str("panic", fmt.Sprint(rec)).
				Bytes("stack", debug.Stack()).
				Msg("stream probe panicked")
			out = model.ProbeResult{
				Status:        model.ProbeError,
				ErrorMessage:  fmt.Sprintf("probe panic: %v", rec),
				LastCheckedAt: time.Now(),
			}
		}
	}()

	// custom streams have no account: probe the raw URL, unmetered
	if s.AccountID() == 0 {
		return r.probeURL(ctx, s.URL, nil, "", cfg)
	}

	proxy := ""
	if a, ok := r.index.Account(s.AccountID()); ok {
		proxy = a.Proxy
	}

	all := r.index.ProfilesForStream(s)
	if len(all) == 0 {
		phase = "account"
		return r.probeAccountOnly(ctx, s, proxy, cfg)
	}

	tried := make(map[int64]bool, len(all))
	var last model.ProbeResult
	haveLast := false

	// Phase 1: whatever is available right now
	phase = "phase1"
	for _, p := range r.index.AvailableProfilesForStream(s) {
		tok, ok := r.limiter.TryAcquire(s.AccountID(), p.ID)
		if !ok {
			continue
		}
		res := r.probeURL(ctx, r.index.ApplyProfileURL(s, p), &p.ID, proxy, cfg)
		r.limiter.Release(tok)
		tried[p.ID] = true
		last, haveLast = res, true
		if res.Status == model.ProbeOK {
			return res
		}
		if ctx.Err() != nil {
			return res
		}
	}

	if !cfg.TryFullProfiles {
		if haveLast {
			return last
		}
		return unavailableResult("no profile with capacity; failover disabled")
	}

	// Phase 2: poll until a remaining profile frees up
	phase = "phase2"
	pollEvery := time.Duration(cfg.Phase2PollIntervalSeconds) * time.Second
	if pollEvery <= 0 {
		pollEvery = 10 * time.Second
	}
	deadline := time.Now().Add(time.Duration(cfg.Phase2MaxWaitSeconds) * time.Second)
	for {
		if remaining := countRemaining(all, tried); remaining == 0 {
			break
		}
		r.refreshSessionsThrottled(ctx, pollEvery)

		for _, p := range all {
			if tried[p.ID] || !r.index.ProfileAvailable(p) {
				continue
			}
			tok, ok := r.limiter.TryAcquire(s.AccountID(), p.ID)
			if !ok {
				continue
			}
			res := r.probeURL(ctx, r.index.ApplyProfileURL(s, p), &p.ID, proxy, cfg)
			r.limiter.Release(tok)
			tried[p.ID] = true
			last, haveLast = res, true
			if res.Status == model.ProbeOK {
				return res
			}
		}

		if ctx.Err() != nil || !time.Now().Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(pollEvery):
		}
	}

	if haveLast {
		return last
	}
	return unavailableResult(fmt.Sprintf("no profile became available within %ds", cfg.Phase2MaxWaitSeconds))
}

// probeAccountOnly covers accounts without profiles: the account slot
// is the only gate.
func (r *Runner) probeAccountOnly(ctx context.Context, s model.Stream, proxy string, cfg model.StreamCheckerConfig) model.ProbeResult {
	tok, ok := r.limiter.TryAcquire(s.AccountID(), 0)
	if !ok {
		if !cfg.TryFullProfiles {
			return unavailableResult("account at capacity; failover disabled")
		}
		waitCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Phase2MaxWaitSeconds)*time.Second)
		defer cancel()
		var err error
		tok, err = r.limiter.Acquire(waitCtx, s.AccountID(), 0)
		if err != nil {
			return unavailableResult(fmt.Sprintf("account slot not free within %ds", cfg.Phase2MaxWaitSeconds))
		}
	}
	defer r.limiter.Release(tok)
	return r.probeURL(ctx, s.URL, nil, proxy, cfg)
}

func (r *Runner) probeURL(ctx context.Context, url string, profileID *int64, proxy string, cfg model.StreamCheckerConfig) model.ProbeResult {
	start := time.Now()
	res := r.prober.Probe(ctx, analyzer.Params{
		URL:        url,
		UserAgent:  cfg.UserAgent,
		Proxy:      proxy,
		Duration:   time.Duration(cfg.FFmpegDurationSeconds) * time.Second,
		Timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
		Retries:    cfg.Retries,
		RetryDelay: time.Duration(cfg.RetryDelaySeconds) * time.Second,
	})
	metrics.RecordProbe(string(res.Status), time.Since(start).Seconds())

	return model.ProbeResult{
		Status:        res.Status,
		Width:         res.Width,
		Height:        res.Height,
		FPS:           res.FPS,
		VideoCodec:    res.VideoCodec,
		AudioCodec:    res.AudioCodec,
		BitrateKbps:   res.BitrateKbps,
		LastCheckedAt: time.Now(),
		UsedProfileID: profileID,
		ErrorMessage:  res.Error,
	}
}

// refreshSessionsThrottled re-reads proxy sessions at most twice per
// poll interval across all concurrent probes, so phase-2 polling does
// not hammer the upstream.
func (r *Runner) refreshSessionsThrottled(ctx context.Context, pollEvery time.Duration) {
	if _, fresh := r.sessions.Get(sessionFreshKey); fresh {
		return
	}
	if err := r.index.RefreshSessions(ctx); err != nil {
		r.logger.Warn().
			Str("event", "checker.session_refresh_failed").
			Err(err).
			Msg("keeping previous session snapshot")
		return
	}
	ttl := pollEvery / 2
	if ttl < time.Second {
		ttl = time.Second
	}
	r.sessions.Set(sessionFreshKey, []byte{1}, ttl)
}

func countRemaining(all []model.Profile, tried map[int64]bool) int {
	n := 0
	for _, p := range all {
		if !tried[p.ID] {
			n++
		}
	}
	return n
}

func unavailableResult(msg string) model.ProbeResult {
	return model.ProbeResult{
		Status:        model.ProbeTimeout,
		ErrorMessage:  msg,
		LastCheckedAt: time.Now(),
	}
}
