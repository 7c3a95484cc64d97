// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/ManuGH/streamwarden/internal/model"
	"github.com/ManuGH/streamwarden/internal/state"
)

func (s *Server) handleGetAutomation(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stores.Config.Automation())
}

// handlePutAutomation replaces the automation config. The body is
// decoded over the defaults so omitted keys fall back instead of
// zeroing out.
func (s *Server) handlePutAutomation(w http.ResponseWriter, r *http.Request) {
	cfg := model.DefaultAutomationConfig()
	if err := decodeJSON(w, r, &cfg); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.stores.Config.SetAutomation(cfg); err != nil {
		writeError(w, r, err)
		return
	}
	s.eng.ReloadSchedules()
	_ = s.stores.Changelog.Append(state.ActionConfigChange, "automation config updated", true, nil)
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleGetChecker(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stores.Config.Checker())
}

func (s *Server) handlePutChecker(w http.ResponseWriter, r *http.Request) {
	cfg := model.DefaultStreamCheckerConfig()
	if err := decodeJSON(w, r, &cfg); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.stores.Config.SetChecker(cfg); err != nil {
		writeError(w, r, err)
		return
	}
	_ = s.stores.Changelog.Append(state.ActionConfigChange, "stream checker config updated", true, nil)
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleGetProfiles(w http.ResponseWriter, _ *http.Request) {
	snapshots := s.stores.Profiles.All()
	writeJSON(w, http.StatusOK, map[string]any{
		"profiles": snapshots,
		"count":    len(snapshots),
	})
}

// handlePutProfiles replaces the stored profile snapshots wholesale,
// the restore path for an operator-edited blob.
func (s *Server) handlePutProfiles(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Profiles []model.ProfileSnapshot `json:"profiles"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.stores.Profiles.ReplaceAll(body.Profiles); err != nil {
		writeError(w, r, err)
		return
	}
	_ = s.stores.Changelog.Append(state.ActionConfigChange, "profile snapshots replaced", true, map[string]any{"count": len(body.Profiles)})
	writeJSON(w, http.StatusOK, map[string]int{"saved": len(body.Profiles)})
}
