// SPDX-License-Identifier: MIT

// Package metrics provides Prometheus metrics for the streamwarden engine.
// Label cardinality is kept low on purpose: no stream or channel ids.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProbesTotal counts analyzer invocations by result (ok/error/timeout).
	ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamwarden_probes_total",
		Help: "Total analyzer probe invocations, by result.",
	}, []string{"result"})

	// ProbeDuration observes wall time of analyzer invocations.
	ProbeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "streamwarden_probe_duration_seconds",
		Help:    "Duration of analyzer probe invocations.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	// ChannelsChecked counts channels processed by the probe runner, by outcome.
	ChannelsChecked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamwarden_channels_checked_total",
		Help: "Total channels processed by the probe runner, by outcome.",
	}, []string{"outcome"})

	// QueueDepth tracks the number of channels waiting in the check queue.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamwarden_queue_depth",
		Help: "Current number of channels waiting in the check queue.",
	})

	// QueueInProgress tracks the number of channels currently being checked.
	QueueInProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamwarden_queue_in_progress",
		Help: "Current number of channels being checked.",
	})

	// LimiterTokensInUse tracks held concurrency tokens per account.
	LimiterTokensInUse = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "streamwarden_limiter_tokens_in_use",
		Help: "Concurrency tokens currently held, by account.",
	}, []string{"account"})

	// LimiterReapedTotal counts stale tokens force-released by the reaper.
	LimiterReapedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamwarden_limiter_reaped_total",
		Help: "Total stale concurrency tokens force-released.",
	})

	// UpstreamRequests counts upstream API calls by route and status code.
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamwarden_upstream_requests_total",
		Help: "Total upstream API requests, by route and status code.",
	}, []string{"route", "status"})

	// UpstreamRequestDuration observes upstream API latency by route.
	UpstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "streamwarden_upstream_request_duration_seconds",
		Help:    "Latency of upstream API requests, by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// MatchingRunsTotal counts matching-engine runs by outcome.
	MatchingRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamwarden_matching_runs_total",
		Help: "Total matching-engine runs, by outcome.",
	}, []string{"outcome"})

	// DeadStreams tracks the size of the dead-stream set.
	DeadStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamwarden_dead_streams",
		Help: "Current size of the dead-stream tracker.",
	})

	// GlobalActionsTotal counts global-action cycles by outcome.
	GlobalActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamwarden_global_actions_total",
		Help: "Total global-action cycles, by outcome.",
	}, []string{"outcome"})

	// ChangelogAppends counts changelog entries written, by action kind.
	ChangelogAppends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamwarden_changelog_appends_total",
		Help: "Total changelog entries appended, by action.",
	}, []string{"action"})
)

// RecordProbe increments the probe counter and observes its duration.
func RecordProbe(result string, seconds float64) {
	ProbesTotal.WithLabelValues(result).Inc()
	ProbeDuration.Observe(seconds)
}

// SetQueueGauges publishes the queue state.
func SetQueueGauges(depth, inProgress int) {
	QueueDepth.Set(float64(depth))
	QueueInProgress.Set(float64(inProgress))
}
