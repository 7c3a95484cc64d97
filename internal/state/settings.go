// SPDX-License-Identifier: MIT

package state

import (
	"strconv"
	"sync"

	"github.com/ManuGH/streamwarden/internal/model"
)

// Settings stores per-channel and per-group matching/checking flags and
// quality preferences. Resolution is field-wise: an unset channel field
// inherits the group value, an unset group field inherits the global
// default (everything enabled, preference "default").
type Settings struct {
	mu          sync.RWMutex
	channelPath string
	groupPath   string
	channels    map[int64]model.ChannelSettings
	groups      map[int64]model.GroupSettings
}

// OpenSettings loads both maps from disk, starting empty when absent.
func OpenSettings(channelPath, groupPath string) (*Settings, error) {
	s := &Settings{
		channelPath: channelPath,
		groupPath:   groupPath,
		channels:    make(map[int64]model.ChannelSettings),
		groups:      make(map[int64]model.GroupSettings),
	}
	if err := loadIDMap(channelPath, s.channels); err != nil {
		return nil, err
	}
	if err := loadIDMap(groupPath, s.groups); err != nil {
		return nil, err
	}
	return s, nil
}

func loadIDMap[V any](path string, dst map[int64]V) error {
	raw := make(map[string]V)
	ok, err := loadJSON(path, &raw)
	if err != nil || !ok {
		return err
	}
	for k, v := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		dst[id] = v
	}
	return nil
}

func saveIDMap[V any](path string, src map[int64]V) error {
	raw := make(map[string]V, len(src))
	for id, v := range src {
		raw[strconv.FormatInt(id, 10)] = v
	}
	return saveJSON(path, raw)
}

// Channel returns the stored per-channel record (zero value when unset).
func (s *Settings) Channel(channelID int64) model.ChannelSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channels[channelID]
}

// Group returns the stored per-group record (zero value when unset).
func (s *Settings) Group(groupID int64) model.GroupSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groups[groupID]
}

// SetChannel validates, persists and applies a channel record.
func (s *Settings) SetChannel(channelID int64, cs model.ChannelSettings) error {
	if err := validateSettings(cs.MatchingMode, cs.CheckingMode, cs.QualityPreference); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[int64]model.ChannelSettings, len(s.channels)+1)
	for id, v := range s.channels {
		next[id] = v
	}
	if cs == (model.ChannelSettings{}) {
		delete(next, channelID)
	} else {
		next[channelID] = cs
	}
	if err := saveIDMap(s.channelPath, next); err != nil {
		return err
	}
	s.channels = next
	return nil
}

// SetGroup validates, persists and applies a group record.
func (s *Settings) SetGroup(groupID int64, gs model.GroupSettings) error {
	if err := validateSettings(gs.MatchingMode, gs.CheckingMode, gs.QualityPreference); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[int64]model.GroupSettings, len(s.groups)+1)
	for id, v := range s.groups {
		next[id] = v
	}
	if gs == (model.GroupSettings{}) {
		delete(next, groupID)
	} else {
		next[groupID] = gs
	}
	if err := saveIDMap(s.groupPath, next); err != nil {
		return err
	}
	s.groups = next
	return nil
}

// BulkUpdateGroups applies one mutation to every listed group in a single
// persisted write. Used by the bulk-disable endpoints, which pass the ids of
// all groups that actually contain channels.
func (s *Settings) BulkUpdateGroups(groupIDs []int64, mutate func(*model.GroupSettings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[int64]model.GroupSettings, len(s.groups)+len(groupIDs))
	for id, v := range s.groups {
		next[id] = v
	}
	for _, id := range groupIDs {
		gs := next[id]
		mutate(&gs)
		if err := validateSettings(gs.MatchingMode, gs.CheckingMode, gs.QualityPreference); err != nil {
			return err
		}
		next[id] = gs
	}
	if err := saveIDMap(s.groupPath, next); err != nil {
		return err
	}
	s.groups = next
	return nil
}

// Effective resolves the settings for a channel, walking channel → group →
// defaults per field. groupID may be nil for channels without a group.
func (s *Settings) Effective(channelID int64, groupID *int64) model.EffectiveSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cs := s.channels[channelID]
	var gs model.GroupSettings
	if groupID != nil {
		gs = s.groups[*groupID]
	}

	return model.EffectiveSettings{
		Matching:   resolveToggle(cs.MatchingMode, gs.MatchingMode),
		Checking:   resolveToggle(cs.CheckingMode, gs.CheckingMode),
		Preference: resolvePreference(cs.QualityPreference, gs.QualityPreference),
	}
}

// Channels returns a copy of all explicit per-channel records.
func (s *Settings) Channels() map[int64]model.ChannelSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]model.ChannelSettings, len(s.channels))
	for id, v := range s.channels {
		out[id] = v
	}
	return out
}

// Groups returns a copy of all explicit per-group records.
func (s *Settings) Groups() map[int64]model.GroupSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]model.GroupSettings, len(s.groups))
	for id, v := range s.groups {
		out[id] = v
	}
	return out
}

// Reload re-reads both maps from disk.
func (s *Settings) Reload() error {
	channels := make(map[int64]model.ChannelSettings)
	groups := make(map[int64]model.GroupSettings)
	if err := loadIDMap(s.channelPath, channels); err != nil {
		return err
	}
	if err := loadIDMap(s.groupPath, groups); err != nil {
		return err
	}
	s.mu.Lock()
	s.channels = channels
	s.groups = groups
	s.mu.Unlock()
	return nil
}

func resolveToggle(channel, group model.Toggle) bool {
	switch channel {
	case model.ToggleEnabled:
		return true
	case model.ToggleDisabled:
		return false
	}
	switch group {
	case model.ToggleEnabled:
		return true
	case model.ToggleDisabled:
		return false
	}
	return true
}

func resolvePreference(channel, group model.QualityPreference) model.QualityPreference {
	if channel != model.PrefUnset {
		return channel
	}
	if group != model.PrefUnset {
		return group
	}
	return model.PrefDefault
}

func validateSettings(matching, checking model.Toggle, pref model.QualityPreference) error {
	if !matching.Valid() {
		return &model.FieldError{Field: "matching_mode", Msg: "must be enabled, disabled or unset"}
	}
	if !checking.Valid() {
		return &model.FieldError{Field: "checking_mode", Msg: "must be enabled, disabled or unset"}
	}
	if !pref.Valid() {
		return &model.FieldError{Field: "quality_preference", Msg: "unknown preference"}
	}
	return nil
}
