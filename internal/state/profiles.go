// SPDX-License-Identifier: MIT

package state

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ManuGH/streamwarden/internal/model"
)

// ProfileStore keeps a snapshot of every upstream profile as last seen. When
// a profile is later disabled or removed upstream, stream URLs rewritten
// through it can still be reverted using the saved transformation.
type ProfileStore struct {
	mu        sync.RWMutex
	path      string
	snapshots map[int64]model.ProfileSnapshot
}

// OpenProfileStore loads the snapshots from disk, starting empty when absent.
func OpenProfileStore(path string) (*ProfileStore, error) {
	s := &ProfileStore{path: path, snapshots: make(map[int64]model.ProfileSnapshot)}
	raw := make(map[string]model.ProfileSnapshot)
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
			s.snapshots[id] = v
		}
	}
	return s, nil
}

// SaveAll snapshots every profile of the given accounts in one write.
// Called after each account refresh so the store tracks upstream state.
func (s *ProfileStore) SaveAll(accounts []model.M3UAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	next := make(map[int64]model.ProfileSnapshot, len(s.snapshots))
	for id, snap := range s.snapshots {
		next[id] = snap
	}
	for _, acc := range accounts {
		for _, p := range acc.Profiles {
			next[p.ID] = model.ProfileSnapshot{Profile: p, AccountName: acc.Name, SavedAt: now}
		}
	}
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.snapshots = next
	return nil
}

// Get returns the snapshot for one profile id.
func (s *ProfileStore) Get(profileID int64) (model.ProfileSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[profileID]
	return snap, ok
}

// All returns every snapshot sorted by profile id.
func (s *ProfileStore) All() []model.ProfileSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ProfileSnapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ReplaceAll swaps the whole snapshot set, used when an operator
// restores the blob through the control surface.
func (s *ProfileStore) ReplaceAll(snapshots []model.ProfileSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[int64]model.ProfileSnapshot, len(snapshots))
	for _, snap := range snapshots {
		if snap.ID == 0 {
			continue
		}
		next[snap.ID] = snap
	}
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.snapshots = next
	return nil
}

// Delete drops one snapshot.
func (s *ProfileStore) Delete(profileID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.snapshots[profileID]; !ok {
		return nil
	}
	next := make(map[int64]model.ProfileSnapshot, len(s.snapshots))
	for id, snap := range s.snapshots {
		next[id] = snap
	}
	delete(next, profileID)
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.snapshots = next
	return nil
}

// Reload re-reads the snapshots from disk.
func (s *ProfileStore) Reload() error {
	raw := make(map[string]model.ProfileSnapshot)
	if _, err := loadJSON(s.path, &raw); err != nil {
		return err
	}
	snapshots := make(map[int64]model.ProfileSnapshot, len(raw))
	for k, v := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		snapshots[id] = v
	}
	s.mu.Lock()
	s.snapshots = snapshots
	s.mu.Unlock()
	return nil
}

func (s *ProfileStore) persistLocked(snapshots map[int64]model.ProfileSnapshot) error {
	raw := make(map[string]model.ProfileSnapshot, len(snapshots))
	for id, snap := range snapshots {
		raw[strconv.FormatInt(id, 10)] = snap
	}
	return saveJSON(s.path, raw)
}
