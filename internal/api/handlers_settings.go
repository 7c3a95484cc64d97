// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/ManuGH/streamwarden/internal/model"
	"github.com/ManuGH/streamwarden/internal/state"
)

func (s *Server) handleListChannelSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stores.Settings.Channels())
}

// handleGetChannelSettings returns one channel's stored overrides plus
// the resolved view including its group.
func (s *Server) handleGetChannelSettings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var groupID *int64
	if ch, ok := s.index.Channel(id); ok {
		groupID = ch.ChannelGroupID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channel_id": id,
		"settings":   s.stores.Settings.Channel(id),
		"effective":  s.stores.Settings.Effective(id, groupID),
	})
}

func (s *Server) handlePutChannelSettings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var cs model.ChannelSettings
	if err := decodeJSON(w, r, &cs); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.stores.Settings.SetChannel(id, cs); err != nil {
		writeError(w, r, err)
		return
	}
	_ = s.stores.Changelog.Append(state.ActionConfigChange, "channel settings updated", true,
		map[string]any{"channel_id": id})
	writeJSON(w, http.StatusOK, s.stores.Settings.Channel(id))
}

func (s *Server) handleListGroupSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stores.Settings.Groups())
}

func (s *Server) handleGetGroupSettings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"group_id": id,
		"settings": s.stores.Settings.Group(id),
	})
}

func (s *Server) handlePutGroupSettings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var gs model.GroupSettings
	if err := decodeJSON(w, r, &gs); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.stores.Settings.SetGroup(id, gs); err != nil {
		writeError(w, r, err)
		return
	}
	_ = s.stores.Changelog.Append(state.ActionConfigChange, "group settings updated", true,
		map[string]any{"group_id": id})
	writeJSON(w, http.StatusOK, s.stores.Settings.Group(id))
}

type bulkDisableRequest struct {
	GroupIDs []int64 `json:"group_ids,omitempty"`
}

func (s *Server) handleBulkDisableMatching(w http.ResponseWriter, r *http.Request) {
	s.bulkDisable(w, r, func(gs *model.GroupSettings) { gs.MatchingMode = model.ToggleDisabled }, "matching")
}

func (s *Server) handleBulkDisableChecking(w http.ResponseWriter, r *http.Request) {
	s.bulkDisable(w, r, func(gs *model.GroupSettings) { gs.CheckingMode = model.ToggleDisabled }, "checking")
}

// bulkDisable flips one mode off for the given groups. An empty list
// means every group that currently contains channels.
func (s *Server) bulkDisable(w http.ResponseWriter, r *http.Request, mutate func(*model.GroupSettings), what string) {
	var req bulkDisableRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ids := req.GroupIDs
	if len(ids) == 0 {
		for _, g := range s.index.Groups(true) {
			ids = append(ids, g.ID)
		}
	}
	if err := s.stores.Settings.BulkUpdateGroups(ids, mutate); err != nil {
		writeError(w, r, err)
		return
	}
	_ = s.stores.Changelog.Append(state.ActionConfigChange, "bulk disabled "+what, true,
		map[string]any{"groups": len(ids)})
	writeJSON(w, http.StatusOK, map[string]int{"updated": len(ids)})
}
