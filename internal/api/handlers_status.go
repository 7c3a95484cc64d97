// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"time"

	"github.com/ManuGH/streamwarden/internal/engine"
	"github.com/ManuGH/streamwarden/internal/model"
	"github.com/ManuGH/streamwarden/internal/version"
)

// statusConfig is the config block embedded in the status payload.
type statusConfig struct {
	Automation    model.AutomationConfig    `json:"automation"`
	StreamChecker model.StreamCheckerConfig `json:"stream_checker"`
}

// statusIndex reports index freshness so operators can tell a quiet
// system from one that never managed to load.
type statusIndex struct {
	Loaded      bool       `json:"loaded"`
	LastRefresh *time.Time `json:"last_refresh,omitempty"`
	Streams     int        `json:"streams"`
	Channels    int        `json:"channels"`
}

type statusResponse struct {
	engine.Status
	Config statusConfig `json:"config"`
	Index  statusIndex  `json:"index"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	idx := statusIndex{
		Loaded:   s.index.Loaded(),
		Streams:  s.index.StreamCount(),
		Channels: len(s.index.Channels()),
	}
	if t := s.index.LastRefresh(); !t.IsZero() {
		idx.LastRefresh = &t
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status: s.eng.Status(),
		Config: statusConfig{
			Automation:    s.stores.Config.Automation(),
			StreamChecker: s.stores.Config.Checker(),
		},
		Index: idx,
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": version.Version,
		"commit":  version.Commit,
		"date":    version.Date,
	})
}
