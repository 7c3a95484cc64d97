// SPDX-License-Identifier: MIT

// Package health implements the liveness and readiness probes. Liveness
// only proves the process answers; readiness additionally requires every
// registered check to pass, most importantly the first index load.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/streamwarden/internal/log"
)

// Status of the process or one component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one readiness check.
type CheckResult struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Response is the payload for both probe endpoints.
type Response struct {
	Status    Status                 `json:"status"`
	Ready     bool                   `json:"ready"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Manager runs registered readiness checks and serves the probe routes.
type Manager struct {
	version string

	mu     sync.RWMutex
	checks map[string]func(ctx context.Context) error
}

func NewManager(version string) *Manager {
	return &Manager{
		version: version,
		checks:  make(map[string]func(ctx context.Context) error),
	}
}

// Register adds a named readiness check. A nil return means ready.
func (m *Manager) Register(name string, probe func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = probe
}

// Ready runs every check and reports the aggregate.
func (m *Manager) Ready(ctx context.Context) Response {
	m.mu.RLock()
	checks := make(map[string]func(ctx context.Context) error, len(m.checks))
	for name, probe := range m.checks {
		checks[name] = probe
	}
	m.mu.RUnlock()

	resp := Response{
		Status:    StatusHealthy,
		Ready:     true,
		Version:   m.version,
		Timestamp: time.Now().UTC(),
	}
	if len(checks) == 0 {
		return resp
	}

	resp.Checks = make(map[string]CheckResult, len(checks))
	for name, probe := range checks {
		if err := probe(ctx); err != nil {
			resp.Checks[name] = CheckResult{Status: StatusUnhealthy, Error: err.Error()}
			resp.Status = StatusUnhealthy
			resp.Ready = false
			continue
		}
		resp.Checks[name] = CheckResult{Status: StatusHealthy}
	}
	return resp
}

// ServeHealth is the liveness endpoint: always 200 while the process runs.
func (m *Manager) ServeHealth(w http.ResponseWriter, _ *http.Request) {
	resp := Response{
		Status:    StatusHealthy,
		Ready:     true,
		Version:   m.version,
		Timestamp: time.Now().UTC(),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// ServeReady is the readiness endpoint: 200 when every check passes,
// 503 with per-check detail otherwise.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	resp := m.Ready(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)

	if !resp.Ready {
		logger := log.WithComponentFromContext(r.Context(), "health")
		logger.Debug().
			Str("event", "health.not_ready").
			Msg("readiness check failed")
	}
}
