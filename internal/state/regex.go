// SPDX-License-Identifier: MIT

package state

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/ManuGH/streamwarden/internal/model"
)

// RegexStore holds the ordered per-channel pattern records that drive the
// matching engine. Order within a channel is user-defined and preserved.
type RegexStore struct {
	mu       sync.RWMutex
	path     string
	patterns map[int64][]model.PatternRecord
}

// OpenRegexStore loads the store from disk, starting empty when absent.
func OpenRegexStore(path string) (*RegexStore, error) {
	s := &RegexStore{path: path, patterns: make(map[int64][]model.PatternRecord)}
	raw := make(map[string][]model.PatternRecord)
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
			s.patterns[id] = v
		}
	}
	return s, nil
}

// Patterns returns the channel's records in stored order.
func (s *RegexStore) Patterns(channelID int64) []model.PatternRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.patterns[channelID]
	out := make([]model.PatternRecord, len(recs))
	copy(out, recs)
	return out
}

// SetAll replaces the channel's full pattern list. An empty list removes the
// channel from the store.
func (s *RegexStore) SetAll(channelID int64, recs []model.PatternRecord) error {
	for i, r := range recs {
		if r.Pattern == "" {
			return &model.FieldError{Field: fmt.Sprintf("patterns[%d].pattern", i), Msg: "must not be empty"}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cloneLocked()
	if len(recs) == 0 {
		delete(next, channelID)
	} else {
		stored := make([]model.PatternRecord, len(recs))
		copy(stored, recs)
		next[channelID] = stored
	}
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.patterns = next
	return nil
}

// Append adds one record to the end of the channel's list.
func (s *RegexStore) Append(channelID int64, rec model.PatternRecord) error {
	if rec.Pattern == "" {
		return &model.FieldError{Field: "pattern", Msg: "must not be empty"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cloneLocked()
	next[channelID] = append(next[channelID], rec)
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.patterns = next
	return nil
}

// Delete removes the channel's pattern list entirely.
func (s *RegexStore) Delete(channelID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patterns[channelID]; !ok {
		return nil
	}
	next := s.cloneLocked()
	delete(next, channelID)
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.patterns = next
	return nil
}

// DeleteAt removes one record by position.
func (s *RegexStore) DeleteAt(channelID int64, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.patterns[channelID]
	if index < 0 || index >= len(recs) {
		return &model.FieldError{Field: "index", Msg: "out of range"}
	}
	next := s.cloneLocked()
	updated := make([]model.PatternRecord, 0, len(recs)-1)
	updated = append(updated, recs[:index]...)
	updated = append(updated, recs[index+1:]...)
	if len(updated) == 0 {
		delete(next, channelID)
	} else {
		next[channelID] = updated
	}
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.patterns = next
	return nil
}

// All returns a copy of the full store keyed by channel id.
func (s *RegexStore) All() map[int64][]model.PatternRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64][]model.PatternRecord, len(s.patterns))
	for id, recs := range s.patterns {
		cp := make([]model.PatternRecord, len(recs))
		copy(cp, recs)
		out[id] = cp
	}
	return out
}

// Channels returns the ids that have at least one record, ascending.
func (s *RegexStore) Channels() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, 0, len(s.patterns))
	for id := range s.patterns {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ReplaceAll swaps the entire store contents in one persisted write. Used by
// mass-edit, which rewrites pattern text across many channels at once.
func (s *RegexStore) ReplaceAll(patterns map[int64][]model.PatternRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[int64][]model.PatternRecord, len(patterns))
	for id, recs := range patterns {
		if len(recs) == 0 {
			continue
		}
		cp := make([]model.PatternRecord, len(recs))
		copy(cp, recs)
		next[id] = cp
	}
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.patterns = next
	return nil
}

// Reload re-reads the store from disk.
func (s *RegexStore) Reload() error {
	raw := make(map[string][]model.PatternRecord)
	if _, err := loadJSON(s.path, &raw); err != nil {
		return err
	}
	patterns := make(map[int64][]model.PatternRecord, len(raw))
	for k, v := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		patterns[id] = v
	}
	s.mu.Lock()
	s.patterns = patterns
	s.mu.Unlock()
	return nil
}

func (s *RegexStore) cloneLocked() map[int64][]model.PatternRecord {
	next := make(map[int64][]model.PatternRecord, len(s.patterns)+1)
	for id, recs := range s.patterns {
		next[id] = recs
	}
	return next
}

func (s *RegexStore) persistLocked(patterns map[int64][]model.PatternRecord) error {
	raw := make(map[string][]model.PatternRecord, len(patterns))
	for id, recs := range patterns {
		raw[strconv.FormatInt(id, 10)] = recs
	}
	return saveJSON(s.path, raw)
}
