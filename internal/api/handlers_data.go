// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/ManuGH/streamwarden/internal/model"
)

const (
	defaultChangelogDays = 7
	maxChangelogDays     = 90
)

func (s *Server) handleChangelog(w http.ResponseWriter, r *http.Request) {
	days, ok, err := queryInt64(r, "days")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		days = defaultChangelogDays
	}
	if days < 1 {
		days = 1
	}
	if days > maxChangelogDays {
		days = maxChangelogDays
	}
	entries := s.stores.Changelog.Window(int(days))
	writeJSON(w, http.StatusOK, map[string]any{
		"days":    days,
		"count":   len(entries),
		"entries": entries,
	})
}

// channelView is a channel plus its resolved settings, so clients can
// render mode and preference without a second round trip.
type channelView struct {
	model.Channel
	Effective model.EffectiveSettings `json:"effective"`
}

// handleChannels lists indexed channels. Channels with both modes
// disabled are omitted unless include_hidden is set.
func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	includeHidden := r.URL.Query().Get("include_hidden") == "true"

	channels := s.index.Channels()
	out := make([]channelView, 0, len(channels))
	for _, ch := range channels {
		eff := s.stores.Settings.Effective(ch.ID, ch.ChannelGroupID)
		if eff.Hidden() && !includeHidden {
			continue
		}
		out = append(out, channelView{Channel: ch, Effective: eff})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channels": out,
		"count":    len(out),
	})
}

func (s *Server) handleAccounts(w http.ResponseWriter, _ *http.Request) {
	accounts := s.index.Accounts()
	writeJSON(w, http.StatusOK, map[string]any{
		"accounts": accounts,
		"count":    len(accounts),
	})
}
