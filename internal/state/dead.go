// SPDX-License-Identifier: MIT

package state

import (
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/streamwarden/internal/metrics"
	"github.com/ManuGH/streamwarden/internal/model"
)

// DeadStreams is the persistent set of stream ids that failed probing with
// zero resolution or bitrate. The tracker is authoritative; the [DEAD] name
// prefix upstream is cosmetic and kept in sync by the probe runner.
type DeadStreams struct {
	mu      sync.RWMutex
	path    string
	records map[int64]model.DeadStreamRecord
}

// OpenDeadStreams loads the set from disk, starting empty when absent.
func OpenDeadStreams(path string) (*DeadStreams, error) {
	d := &DeadStreams{path: path, records: make(map[int64]model.DeadStreamRecord)}
	var list []model.DeadStreamRecord
	ok, err := loadJSON(path, &list)
	if err != nil {
		return nil, err
	}
	if ok {
		for _, r := range list {
			d.records[r.StreamID] = r
		}
	}
	metrics.DeadStreams.Set(float64(len(d.records)))
	return d, nil
}

// MarkDead records a stream as dead. Repeated marks refresh LastSeenAt and
// keep the original FirstSeenAt.
func (d *DeadStreams) MarkDead(streamID int64, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().UTC()
	rec, exists := d.records[streamID]
	if !exists {
		rec = model.DeadStreamRecord{StreamID: streamID, FirstSeenAt: now}
	}
	rec.LastSeenAt = now
	rec.Reason = reason

	next := d.cloneLocked()
	next[streamID] = rec
	if err := d.persistLocked(next); err != nil {
		return err
	}
	d.records = next
	metrics.DeadStreams.Set(float64(len(d.records)))
	return nil
}

// Revive removes a stream from the set after a healthy probe. Reviving an
// unknown id is a no-op.
func (d *DeadStreams) Revive(streamID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.records[streamID]; !exists {
		return nil
	}
	next := d.cloneLocked()
	delete(next, streamID)
	if err := d.persistLocked(next); err != nil {
		return err
	}
	d.records = next
	metrics.DeadStreams.Set(float64(len(d.records)))
	return nil
}

// Contains reports whether the stream is currently tracked as dead.
func (d *DeadStreams) Contains(streamID int64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.records[streamID]
	return ok
}

// All returns the tracked records sorted by stream id.
func (d *DeadStreams) All() []model.DeadStreamRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]model.DeadStreamRecord, 0, len(d.records))
	for _, r := range d.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamID < out[j].StreamID })
	return out
}

// Len returns the current set size.
func (d *DeadStreams) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}

// Clear empties the set. Called once at the start of every global action.
func (d *DeadStreams) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	empty := make(map[int64]model.DeadStreamRecord)
	if err := d.persistLocked(empty); err != nil {
		return err
	}
	d.records = empty
	metrics.DeadStreams.Set(0)
	return nil
}

// Reload re-reads the set from disk.
func (d *DeadStreams) Reload() error {
	var list []model.DeadStreamRecord
	if _, err := loadJSON(d.path, &list); err != nil {
		return err
	}
	records := make(map[int64]model.DeadStreamRecord, len(list))
	for _, r := range list {
		records[r.StreamID] = r
	}
	d.mu.Lock()
	d.records = records
	d.mu.Unlock()
	metrics.DeadStreams.Set(float64(len(records)))
	return nil
}

func (d *DeadStreams) cloneLocked() map[int64]model.DeadStreamRecord {
	next := make(map[int64]model.DeadStreamRecord, len(d.records)+1)
	for id, r := range d.records {
		next[id] = r
	}
	return next
}

func (d *DeadStreams) persistLocked(records map[int64]model.DeadStreamRecord) error {
	list := make([]model.DeadStreamRecord, 0, len(records))
	for _, r := range records {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].StreamID < list[j].StreamID })
	return saveJSON(d.path, list)
}
