// SPDX-License-Identifier: MIT

// Package api is the JSON control surface: engine status, runtime
// configuration, regex and settings management, and the manual
// triggers that drive refresh, matching and checking.
package api

import (
	"net/http"
	"time"

	"github.com/ManuGH/streamwarden/internal/api/middleware"
	"github.com/ManuGH/streamwarden/internal/engine"
	"github.com/ManuGH/streamwarden/internal/health"
	"github.com/ManuGH/streamwarden/internal/log"
	"github.com/ManuGH/streamwarden/internal/queue"
	"github.com/ManuGH/streamwarden/internal/state"
	"github.com/ManuGH/streamwarden/internal/udi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config carries the server's own knobs; everything domain-level
// arrives through Deps.
type Config struct {
	// APIToken guards the /api subtree. Empty leaves it open.
	APIToken string
	// TriggerRatePerMinute caps expensive POST triggers per client IP.
	// Zero disables the limit.
	TriggerRatePerMinute int
	// TracingService enables the tracing middleware when non-empty.
	TracingService string
}

// Deps are the domain components the handlers call into.
type Deps struct {
	Engine *engine.Engine
	Index  *udi.Index
	Queue  *queue.Queue
	Stores *state.Stores
	Health *health.Manager
}

// Server hosts the control surface handlers.
type Server struct {
	cfg    Config
	eng    *engine.Engine
	index  *udi.Index
	queue  *queue.Queue
	stores *state.Stores
	health *health.Manager
}

func New(cfg Config, d Deps) *Server {
	return &Server{
		cfg:    cfg,
		eng:    d.Engine,
		index:  d.Index,
		queue:  d.Queue,
		stores: d.Stores,
		health: d.Health,
	}
}

// Router builds the full route tree. Health, version and metrics stay
// unauthenticated; everything under /api requires the token.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	// RequestID first so the recoverer can report the correlation id.
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.Metrics())
	if s.cfg.TracingService != "" {
		r.Use(middleware.OTelHTTP(s.cfg.TracingService))
	}
	r.Use(log.Middleware())

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Get("/version", s.handleVersion)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// One limiter value shared across groups so the trigger budget is
	// global, not per route block.
	trigger := func(next http.Handler) http.Handler { return next }
	if s.cfg.TriggerRatePerMinute > 0 {
		trigger = middleware.RateLimit(s.cfg.TriggerRatePerMinute, time.Minute)
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(s.requireAuth)

		api.Get("/status", s.handleStatus)

		api.Route("/config", func(r chi.Router) {
			r.Get("/automation", s.handleGetAutomation)
			r.Put("/automation", s.handlePutAutomation)
			r.Get("/stream_checker", s.handleGetChecker)
			r.Put("/stream_checker", s.handlePutChecker)
			r.Get("/profile", s.handleGetProfiles)
			r.Put("/profile", s.handlePutProfiles)
		})

		api.Route("/regex-patterns", func(r chi.Router) {
			r.Get("/", s.handleGetPatterns)
			r.Post("/", s.handleCreatePattern)
			r.Put("/", s.handleReplacePatterns)
			r.Delete("/", s.handleDeletePatterns)
			r.Post("/common", s.handleCommonPattern)
			r.Post("/bulk-edit", s.handleBulkEditPatterns)
			r.Post("/mass-edit-preview", s.handleMassEditPreview)
			r.Post("/mass-edit", s.handleMassEdit)
		})
		api.Post("/test-regex-live", s.handleTestRegexLive)

		api.Route("/channel-settings", func(r chi.Router) {
			r.Get("/", s.handleListChannelSettings)
			r.Get("/{id}", s.handleGetChannelSettings)
			r.Put("/{id}", s.handlePutChannelSettings)
		})
		api.Route("/group-settings", func(r chi.Router) {
			r.Get("/", s.handleListGroupSettings)
			r.Get("/{id}", s.handleGetGroupSettings)
			r.Put("/{id}", s.handlePutGroupSettings)
			r.Post("/bulk-disable-matching", s.handleBulkDisableMatching)
			r.Post("/bulk-disable-checking", s.handleBulkDisableChecking)
		})

		api.Group(func(r chi.Router) {
			r.Use(trigger)
			r.Post("/refresh-playlist", s.handleRefreshPlaylist)
			r.Post("/discover-streams", s.handleDiscoverStreams)
		})

		api.Route("/stream-checker", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(trigger)
				r.Post("/global-action", s.handleGlobalAction)
				r.Post("/check-single-channel", s.handleCheckSingleChannel)
				r.Post("/test-streams-without-stats", s.handleTestWithoutStats)
				r.Post("/rescore-resort", s.handleRescoreResort)
				r.Post("/apply-account-limits", s.handleApplyAccountLimits)
			})
			r.Get("/queue", s.handleGetQueue)
			r.Post("/queue/add", s.handleQueueAdd)
			r.Post("/queue/clear", s.handleQueueClear)
		})

		api.Get("/dead-streams", s.handleDeadStreams)
		api.Get("/changelog", s.handleChangelog)
		api.Get("/channels", s.handleChannels)
		api.Get("/m3u-accounts", s.handleAccounts)
	})

	return r
}
