// SPDX-License-Identifier: MIT

package state

import (
	"sync"
	"time"

	"github.com/ManuGH/streamwarden/internal/metrics"
	"github.com/google/uuid"
)

// Coarse action kinds recorded in the changelog. The HTTP surface filters
// and the UI groups by these, so keep the set small and stable.
const (
	ActionPlaylistRefresh = "playlist_refresh"
	ActionStreamMatching  = "stream_matching"
	ActionChannelCheck    = "channel_check"
	ActionGlobalAction    = "global_action"
	ActionRescoreResort   = "rescore_resort"
	ActionConfigChange    = "config_change"
	ActionDeadStreams     = "dead_streams"
	ActionAccountLimits   = "account_limits"
)

// DefaultChangelogRetention bounds how far back entries are kept.
const DefaultChangelogRetention = 30 * 24 * time.Hour

// ChangelogEntry is one recorded activity. Seq is monotonic across restarts.
type ChangelogEntry struct {
	Seq       int64          `json:"seq"`
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Message   string         `json:"message"`
	Success   bool           `json:"success"`
	Details   map[string]any `json:"details,omitempty"`
}

type changelogFile struct {
	Seq     int64            `json:"seq"`
	Entries []ChangelogEntry `json:"entries"`
}

// Changelog is the append-only, time-windowed activity log. Appends prune
// entries older than the retention window so the file stays bounded.
type Changelog struct {
	mu        sync.RWMutex
	path      string
	retention time.Duration
	seq       int64
	entries   []ChangelogEntry
}

// OpenChangelog loads an existing log or starts empty.
func OpenChangelog(path string, retention time.Duration) (*Changelog, error) {
	if retention <= 0 {
		retention = DefaultChangelogRetention
	}
	c := &Changelog{path: path, retention: retention}
	var file changelogFile
	ok, err := loadJSON(path, &file)
	if err != nil {
		return nil, err
	}
	if ok {
		c.seq = file.Seq
		c.entries = file.Entries
	}
	return c, nil
}

// Append records one activity. Entries are totally ordered by Seq.
func (c *Changelog) Append(action, message string, success bool, details map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := ChangelogEntry{
		Seq:       c.seq + 1,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Action:    action,
		Message:   message,
		Success:   success,
		Details:   details,
	}

	cutoff := entry.Timestamp.Add(-c.retention)
	kept := c.entries[:0:0]
	for _, e := range c.entries {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	kept = append(kept, entry)

	if err := saveJSON(c.path, changelogFile{Seq: entry.Seq, Entries: kept}); err != nil {
		return err
	}
	c.seq = entry.Seq
	c.entries = kept
	metrics.ChangelogAppends.WithLabelValues(action).Inc()
	return nil
}

// Window returns entries from the last N days, oldest first. days <= 0 means
// the full retained log.
func (c *Changelog) Window(days int) []ChangelogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if days <= 0 {
		out := make([]ChangelogEntry, len(c.entries))
		copy(out, c.entries)
		return out
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	var out []ChangelogEntry
	for _, e := range c.entries {
		if e.Timestamp.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of retained entries.
func (c *Changelog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Reload re-reads the log from disk.
func (c *Changelog) Reload() error {
	var file changelogFile
	if _, err := loadJSON(c.path, &file); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	// Seq never moves backwards, even if the on-disk file was truncated.
	if file.Seq > c.seq {
		c.seq = file.Seq
	}
	c.entries = file.Entries
	return nil
}
