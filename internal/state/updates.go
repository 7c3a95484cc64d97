// SPDX-License-Identifier: MIT

package state

import (
	"strconv"
	"sync"
	"time"

	"github.com/ManuGH/streamwarden/internal/model"
)

// UpdateTracker keeps per-channel freshness: when the channel was last
// written, how many streams it carried, and whether a force check is queued.
type UpdateTracker struct {
	mu     sync.RWMutex
	path   string
	states map[int64]model.UpdateState
}

// OpenUpdateTracker loads the tracker from disk, starting empty when absent.
func OpenUpdateTracker(path string) (*UpdateTracker, error) {
	t := &UpdateTracker{path: path, states: make(map[int64]model.UpdateState)}
	raw := make(map[string]model.UpdateState)
	ok, err := loadJSON(path, &raw)
	if err != nil {
		return nil, err
	}
	if ok {
		for k, v := range raw {
			id, err := strconv.ParseInt(k, 10, 64)
			if err != nil {
				continue
			}
			t.states[id] = v
		}
	}
	return t, nil
}

// Get returns the channel's state; ok is false when never recorded.
func (t *UpdateTracker) Get(channelID int64) (model.UpdateState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.states[channelID]
	return st, ok
}

// Record marks a completed check: now as last update, the stream count as
// the new watermark, and the force flag consumed.
func (t *UpdateTracker) Record(channelID int64, streamCount int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.cloneLocked()
	next[channelID] = model.UpdateState{
		LastUpdatedAt:   time.Now().UTC(),
		LastStreamCount: streamCount,
	}
	if err := t.persistLocked(next); err != nil {
		return err
	}
	t.states = next
	return nil
}

// RequestForceCheck flags the channel so the next scheduled pass bypasses
// immunity.
func (t *UpdateTracker) RequestForceCheck(channelID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.states[channelID]
	st.ForceCheckRequested = true
	next := t.cloneLocked()
	next[channelID] = st
	if err := t.persistLocked(next); err != nil {
		return err
	}
	t.states = next
	return nil
}

// CheckedWithin reports whether the channel was updated inside the window.
func (t *UpdateTracker) CheckedWithin(channelID int64, window time.Duration) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.states[channelID]
	if !ok || st.LastUpdatedAt.IsZero() {
		return false
	}
	return time.Since(st.LastUpdatedAt) < window
}

// All returns a copy of every tracked state keyed by channel id.
func (t *UpdateTracker) All() map[int64]model.UpdateState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[int64]model.UpdateState, len(t.states))
	for id, st := range t.states {
		out[id] = st
	}
	return out
}

// Reload re-reads the tracker from disk.
func (t *UpdateTracker) Reload() error {
	raw := make(map[string]model.UpdateState)
	if _, err := loadJSON(t.path, &raw); err != nil {
		return err
	}
	states := make(map[int64]model.UpdateState, len(raw))
	for k, v := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		states[id] = v
	}
	t.mu.Lock()
	t.states = states
	t.mu.Unlock()
	return nil
}

func (t *UpdateTracker) cloneLocked() map[int64]model.UpdateState {
	next := make(map[int64]model.UpdateState, len(t.states)+1)
	for id, st := range t.states {
		next[id] = st
	}
	return next
}

func (t *UpdateTracker) persistLocked(states map[int64]model.UpdateState) error {
	raw := make(map[string]model.UpdateState, len(states))
	for id, st := range states {
		raw[strconv.FormatInt(id, 10)] = st
	}
	return saveJSON(t.path, raw)
}
