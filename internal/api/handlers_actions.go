// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/ManuGH/streamwarden/internal/model"
)

func (s *Server) handleRefreshPlaylist(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.RefreshPlaylist(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDiscoverStreams(w http.ResponseWriter, r *http.Request) {
	changed, err := s.eng.DiscoverStreams(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"changed": changed})
}

func (s *Server) handleGlobalAction(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.TriggerGlobalAction(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

type checkSingleRequest struct {
	ChannelID int64 `json:"channel_id"`
}

func (s *Server) handleCheckSingleChannel(w http.ResponseWriter, r *http.Request) {
	var req checkSingleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.eng.CheckSingleChannel(req.ChannelID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":     "queued",
		"channel_id": req.ChannelID,
	})
}

func (s *Server) handleTestWithoutStats(w http.ResponseWriter, r *http.Request) {
	queued, err := s.eng.TestStreamsWithoutStats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"queued": queued})
}

func (s *Server) handleRescoreResort(w http.ResponseWriter, r *http.Request) {
	written, err := s.eng.RescoreResortAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"written": written})
}

func (s *Server) handleApplyAccountLimits(w http.ResponseWriter, r *http.Request) {
	written, err := s.eng.ApplyAccountLimits(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"written": written})
}

func (s *Server) handleGetQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":       s.queue.Stats(),
		"pending":     s.queue.Pending(),
		"in_progress": s.queue.InProgressIDs(),
	})
}

type queueAddRequest struct {
	ChannelIDs []int64 `json:"channel_ids"`
	Priority   int     `json:"priority,omitempty"`
}

func (s *Server) handleQueueAdd(w http.ResponseWriter, r *http.Request) {
	var req queueAddRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.ChannelIDs) == 0 {
		writeError(w, r, &model.FieldError{Field: "channel_ids", Msg: "at least one channel required"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"queued": s.eng.QueueAdd(req.ChannelIDs, req.Priority)})
}

func (s *Server) handleQueueClear(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"cleared": s.eng.QueueClear()})
}

func (s *Server) handleDeadStreams(w http.ResponseWriter, _ *http.Request) {
	records := s.stores.Dead.All()
	writeJSON(w, http.StatusOK, map[string]any{
		"dead":  records,
		"count": len(records),
	})
}
