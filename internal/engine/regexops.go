// SPDX-License-Identifier: MIT

package engine

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/ManuGH/streamwarden/internal/match"
	"github.com/ManuGH/streamwarden/internal/model"
	"github.com/ManuGH/streamwarden/internal/state"
)

// defaultCommonPattern matches streams whose name contains the channel
// name, the usual starting point before operators refine per channel.
const defaultCommonPattern = ".*CHANNEL_NAME.*"

// ApplyCommonPattern appends the pattern to every listed channel that
// does not already carry it. Empty pattern means the default. Unknown
// channel ids are skipped like in QueueAdd.
func (e *Engine) ApplyCommonPattern(channelIDs []int64, pattern string) (int, error) {
	if len(channelIDs) == 0 {
		return 0, &model.FieldError{Field: "channel_ids", Msg: "at least one channel required"}
	}
	if pattern == "" {
		pattern = defaultCommonPattern
	}
	if _, err := match.Compile(pattern, "probe"); err != nil {
		return 0, &model.FieldError{Field: "pattern", Msg: err.Error()}
	}

	updated := 0
	for _, id := range channelIDs {
		if _, ok := e.index.Channel(id); !ok {
			continue
		}
		if hasPattern(e.stores.Regex.Patterns(id), pattern) {
			continue
		}
		if err := e.stores.Regex.Append(id, model.PatternRecord{Pattern: pattern, Enabled: true}); err != nil {
			return updated, fmt.Errorf("append pattern to channel %d: %w", id, err)
		}
		updated++
	}
	_ = e.stores.Changelog.Append(state.ActionConfigChange,
		fmt.Sprintf("common pattern applied to %d channels", updated),
		true, map[string]any{"pattern": pattern, "updated": updated})
	return updated, nil
}

// SetPatternsEnabled flips the enabled flag on every pattern of the
// listed channels. Channels without stored patterns are left alone.
func (e *Engine) SetPatternsEnabled(channelIDs []int64, enabled bool) (int, error) {
	if len(channelIDs) == 0 {
		return 0, &model.FieldError{Field: "channel_ids", Msg: "at least one channel required"}
	}

	updated := 0
	for _, id := range channelIDs {
		recs := e.stores.Regex.Patterns(id)
		if len(recs) == 0 {
			continue
		}
		changed := false
		for i := range recs {
			if recs[i].Enabled != enabled {
				recs[i].Enabled = enabled
				changed = true
			}
		}
		if !changed {
			continue
		}
		if err := e.stores.Regex.SetAll(id, recs); err != nil {
			return updated, fmt.Errorf("update patterns for channel %d: %w", id, err)
		}
		updated++
	}
	_ = e.stores.Changelog.Append(state.ActionConfigChange,
		fmt.Sprintf("patterns %s on %d channels", enabledWord(enabled), updated),
		true, map[string]any{"enabled": enabled, "updated": updated})
	return updated, nil
}

// PatternEdit is one rewrite a mass edit would perform.
type PatternEdit struct {
	ChannelID int64  `json:"channel_id"`
	Index     int    `json:"index"`
	Old       string `json:"old"`
	New       string `json:"new"`
}

// MassEditPatterns rewrites pattern texts with a find/replace regex
// across every channel. With apply false it only previews. On apply,
// every rewritten pattern must still compile or nothing is written.
// The find expression runs against the stored text as-is, so the
// CHANNEL_NAME token can itself be found and rewritten.
func (e *Engine) MassEditPatterns(find, replace string, apply bool) ([]PatternEdit, error) {
	if find == "" {
		return nil, &model.FieldError{Field: "find", Msg: "find expression required"}
	}
	re, err := regexp.Compile(find)
	if err != nil {
		return nil, &model.FieldError{Field: "find", Msg: err.Error()}
	}

	all := e.stores.Regex.All()
	edits := make([]PatternEdit, 0)
	for channelID, recs := range all {
		for i, rec := range recs {
			next := re.ReplaceAllString(rec.Pattern, replace)
			if next == rec.Pattern {
				continue
			}
			edits = append(edits, PatternEdit{ChannelID: channelID, Index: i, Old: rec.Pattern, New: next})
		}
	}
	sort.Slice(edits, func(i, j int) bool {
		if edits[i].ChannelID != edits[j].ChannelID {
			return edits[i].ChannelID < edits[j].ChannelID
		}
		return edits[i].Index < edits[j].Index
	})
	if !apply || len(edits) == 0 {
		return edits, nil
	}

	for _, ed := range edits {
		if _, err := match.Compile(ed.New, "probe"); err != nil {
			return nil, &model.FieldError{
				Field: "replace",
				Msg:   fmt.Sprintf("channel %d pattern %d would become invalid: %v", ed.ChannelID, ed.Index, err),
			}
		}
	}
	for _, ed := range edits {
		recs := all[ed.ChannelID]
		recs[ed.Index].Pattern = ed.New
	}
	if err := e.stores.Regex.ReplaceAll(all); err != nil {
		return nil, fmt.Errorf("persist mass edit: %w", err)
	}
	_ = e.stores.Changelog.Append(state.ActionConfigChange,
		fmt.Sprintf("mass edit rewrote %d patterns", len(edits)),
		true, map[string]any{"find": find, "rewritten": len(edits)})
	return edits, nil
}

func hasPattern(recs []model.PatternRecord, pattern string) bool {
	for _, r := range recs {
		if r.Pattern == pattern {
			return true
		}
	}
	return false
}

func enabledWord(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
