// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/ManuGH/streamwarden/internal/engine"
	"github.com/ManuGH/streamwarden/internal/match"
	"github.com/ManuGH/streamwarden/internal/model"
	"github.com/ManuGH/streamwarden/internal/state"
)

// handleGetPatterns lists all pattern records, or one channel's when
// channel_id is given.
func (s *Server) handleGetPatterns(w http.ResponseWriter, r *http.Request) {
	channelID, ok, err := queryInt64(r, "channel_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"channel_id": channelID,
			"patterns":   s.stores.Regex.Patterns(channelID),
		})
		return
	}
	writeJSON(w, http.StatusOK, s.stores.Regex.All())
}

type createPatternRequest struct {
	ChannelID   int64   `json:"channel_id"`
	Pattern     string  `json:"pattern"`
	M3UAccounts []int64 `json:"m3u_accounts,omitempty"`
	Enabled     *bool   `json:"enabled,omitempty"`
}

func (s *Server) handleCreatePattern(w http.ResponseWriter, r *http.Request) {
	var req createPatternRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ch, ok := s.index.Channel(req.ChannelID)
	if !ok {
		writeError(w, r, &model.FieldError{Field: "channel_id", Msg: "unknown channel"})
		return
	}
	if _, err := match.Compile(req.Pattern, ch.Name); err != nil {
		writeError(w, r, &model.FieldError{Field: "pattern", Msg: err.Error()})
		return
	}

	rec := model.PatternRecord{
		Pattern:     req.Pattern,
		M3UAccounts: req.M3UAccounts,
		Enabled:     req.Enabled == nil || *req.Enabled,
	}
	if err := s.stores.Regex.Append(req.ChannelID, rec); err != nil {
		writeError(w, r, err)
		return
	}
	_ = s.stores.Changelog.Append(state.ActionConfigChange, "regex pattern added", true,
		map[string]any{"channel_id": req.ChannelID, "pattern": req.Pattern})
	writeJSON(w, http.StatusCreated, map[string]any{
		"channel_id": req.ChannelID,
		"patterns":   s.stores.Regex.Patterns(req.ChannelID),
	})
}

type replacePatternsRequest struct {
	ChannelID int64                 `json:"channel_id"`
	Patterns  []model.PatternRecord `json:"patterns"`
}

// handleReplacePatterns swaps a channel's whole rule list.
func (s *Server) handleReplacePatterns(w http.ResponseWriter, r *http.Request) {
	var req replacePatternsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ch, ok := s.index.Channel(req.ChannelID)
	if !ok {
		writeError(w, r, &model.FieldError{Field: "channel_id", Msg: "unknown channel"})
		return
	}
	for _, rec := range req.Patterns {
		if _, err := match.Compile(rec.Pattern, ch.Name); err != nil {
			writeError(w, r, &model.FieldError{Field: "patterns", Msg: err.Error()})
			return
		}
	}
	if err := s.stores.Regex.SetAll(req.ChannelID, req.Patterns); err != nil {
		writeError(w, r, err)
		return
	}
	_ = s.stores.Changelog.Append(state.ActionConfigChange, "regex patterns replaced", true,
		map[string]any{"channel_id": req.ChannelID, "count": len(req.Patterns)})
	writeJSON(w, http.StatusOK, map[string]any{
		"channel_id": req.ChannelID,
		"patterns":   s.stores.Regex.Patterns(req.ChannelID),
	})
}

// handleDeletePatterns removes one rule when index is given, otherwise
// the channel's whole list.
func (s *Server) handleDeletePatterns(w http.ResponseWriter, r *http.Request) {
	channelID, ok, err := queryInt64(r, "channel_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, &model.FieldError{Field: "channel_id", Msg: "required"})
		return
	}

	index, hasIndex, err := queryInt64(r, "index")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if hasIndex {
		err = s.stores.Regex.DeleteAt(channelID, int(index))
	} else {
		err = s.stores.Regex.Delete(channelID)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = s.stores.Changelog.Append(state.ActionConfigChange, "regex patterns deleted", true,
		map[string]any{"channel_id": channelID})
	writeJSON(w, http.StatusOK, map[string]any{
		"channel_id": channelID,
		"patterns":   s.stores.Regex.Patterns(channelID),
	})
}

type commonPatternRequest struct {
	ChannelIDs []int64 `json:"channel_ids"`
	Pattern    string  `json:"pattern,omitempty"`
}

func (s *Server) handleCommonPattern(w http.ResponseWriter, r *http.Request) {
	var req commonPatternRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	applied, err := s.eng.ApplyCommonPattern(req.ChannelIDs, req.Pattern)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"applied": applied})
}

type bulkEditPatternsRequest struct {
	ChannelIDs []int64 `json:"channel_ids"`
	Enabled    bool    `json:"enabled"`
}

func (s *Server) handleBulkEditPatterns(w http.ResponseWriter, r *http.Request) {
	var req bulkEditPatternsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := s.eng.SetPatternsEnabled(req.ChannelIDs, req.Enabled)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

type massEditRequest struct {
	Find    string `json:"find"`
	Replace string `json:"replace"`
}

func (s *Server) handleMassEditPreview(w http.ResponseWriter, r *http.Request) {
	s.massEdit(w, r, false)
}

func (s *Server) handleMassEdit(w http.ResponseWriter, r *http.Request) {
	s.massEdit(w, r, true)
}

func (s *Server) massEdit(w http.ResponseWriter, r *http.Request, apply bool) {
	var req massEditRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	edits, err := s.eng.MassEditPatterns(req.Find, req.Replace, apply)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"edits":   edits,
		"count":   len(edits),
		"applied": apply,
	})
}

func (s *Server) handleTestRegexLive(w http.ResponseWriter, r *http.Request) {
	var req engine.RegexTestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	results, err := s.eng.TestRegexLive(req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
