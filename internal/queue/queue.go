// SPDX-License-Identifier: MIT

// Package queue holds the channel check queue: highest priority first,
// FIFO within a priority, one entry per channel.
package queue

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/streamwarden/internal/metrics"
)

// Entry is one queued check request.
type Entry struct {
	ChannelID  int64     `json:"channel_id"`
	Priority   int       `json:"priority"`
	Force      bool      `json:"force"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	// Requeued marks an entry that already failed once; it is not
	// requeued a second time.
	Requeued bool `json:"requeued,omitempty"`

	seq uint64
}

// Stats is a point-in-time queue summary.
type Stats struct {
	Queued     int    `json:"size"`
	InProgress int    `json:"in_progress"`
	Completed  uint64 `json:"completed"`
	Failed     uint64 `json:"failed"`
}

// Queue is safe for concurrent use. A channel id is either queued or
// in progress, never both.
type Queue struct {
	mu         sync.Mutex
	items      itemHeap
	queued     map[int64]*item
	inProgress map[int64]time.Time
	seq        uint64
	completed  uint64
	failed     uint64
	notify     chan struct{}
}

func New() *Queue {
	return &Queue{
		queued:     make(map[int64]*item),
		inProgress: make(map[int64]time.Time),
		notify:     make(chan struct{}),
	}
}

// Enqueue adds a channel or merges into its queued entry: priority
// takes the maximum, force is sticky. Returns false when the channel
// is currently in progress; the request is dropped then.
func (q *Queue) Enqueue(channelID int64, priority int, force bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, busy := q.inProgress[channelID]; busy {
		return false
	}
	if it, ok := q.queued[channelID]; ok {
		if priority > it.Priority {
			it.Priority = priority
			heap.Fix(&q.items, it.index)
		}
		it.Force = it.Force || force
		return true
	}
	q.enqueueLocked(Entry{
		ChannelID:  channelID,
		Priority:   priority,
		Force:      force,
		EnqueuedAt: time.Now(),
	})
	return true
}

func (q *Queue) enqueueLocked(e Entry) {
	q.seq++
	e.seq = q.seq
	it := &item{Entry: e}
	heap.Push(&q.items, it)
	q.queued[e.ChannelID] = it
	q.updateGaugesLocked()
	q.signalLocked()
}

// Dequeue pops the best entry without blocking. The channel moves to
// in-progress until Done is called for it.
func (q *Queue) Dequeue() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dequeueLocked()
}

// DequeueWait blocks until an entry is available or the context ends.
func (q *Queue) DequeueWait(ctx context.Context) (Entry, bool) {
	for {
		q.mu.Lock()
		if e, ok := q.dequeueLocked(); ok {
			q.mu.Unlock()
			return e, true
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Entry{}, false
		case <-wait:
		}
	}
}

func (q *Queue) dequeueLocked() (Entry, bool) {
	if len(q.items) == 0 {
		return Entry{}, false
	}
	it := heap.Pop(&q.items).(*item)
	delete(q.queued, it.ChannelID)
	q.inProgress[it.ChannelID] = time.Now()
	q.updateGaugesLocked()
	return it.Entry, true
}

// Done releases the in-progress slot for a channel.
func (q *Queue) Done(channelID int64, success bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inProgress[channelID]; !ok {
		return
	}
	delete(q.inProgress, channelID)
	if success {
		q.completed++
	} else {
		q.failed++
	}
	q.updateGaugesLocked()
}

// Requeue schedules a failed entry again at one priority lower.
// Entries that already failed once are not retried; the next periodic
// run picks the channel up instead.
func (q *Queue) Requeue(e Entry) bool {
	if e.Requeued {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, busy := q.inProgress[e.ChannelID]; busy {
		return false
	}
	if _, ok := q.queued[e.ChannelID]; ok {
		return false
	}
	q.enqueueLocked(Entry{
		ChannelID:  e.ChannelID,
		Priority:   e.Priority - 1,
		Force:      e.Force,
		EnqueuedAt: time.Now(),
		Requeued:   true,
	})
	return true
}

// Clear drops all queued entries. In-progress checks are unaffected.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	q.queued = make(map[int64]*item)
	q.updateGaugesLocked()
	return n
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// InProgress returns the number of channels currently being checked.
func (q *Queue) InProgress() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inProgress)
}

// IsQueued reports whether the channel has a queued entry.
func (q *Queue) IsQueued(channelID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.queued[channelID]
	return ok
}

// IsInProgress reports whether the channel is being checked right now.
func (q *Queue) IsInProgress(channelID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.inProgress[channelID]
	return ok
}

// Pending returns queued entries in dequeue order.
func (q *Queue) Pending() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.items))
	for i, it := range q.items {
		out[i] = it.Entry
	}
	sort.Slice(out, func(i, j int) bool { return entryLess(out[i], out[j]) })
	return out
}

// InProgressIDs returns the channels currently being checked.
func (q *Queue) InProgressIDs() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]int64, 0, len(q.inProgress))
	for id := range q.inProgress {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Stats returns counters for the status surface.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Queued:     len(q.items),
		InProgress: len(q.inProgress),
		Completed:  q.completed,
		Failed:     q.failed,
	}
}

// ReapInProgress clears in-progress slots older than maxAge and
// returns their channel ids. Covers workers that died without Done.
func (q *Queue) ReapInProgress(maxAge time.Duration) []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	var out []int64
	for id, started := range q.inProgress {
		if started.Before(cutoff) {
			delete(q.inProgress, id)
			q.failed++
			out = append(out, id)
		}
	}
	if len(out) > 0 {
		q.updateGaugesLocked()
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (q *Queue) updateGaugesLocked() {
	metrics.SetQueueGauges(len(q.items), len(q.inProgress))
}

// signalLocked wakes every DequeueWait waiter.
func (q *Queue) signalLocked() {
	close(q.notify)
	q.notify = make(chan struct{})
}

type item struct {
	Entry
	index int
}

func entryLess(a, b Entry) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.seq < b.seq
}

type itemHeap []*item

func (h itemHeap) Len() int           { return len(h) }
func (h itemHeap) Less(i, j int) bool { return entryLess(h[i].Entry, h[j].Entry) }
func (h itemHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *itemHeap) Push(x any)        { it := x.(*item); it.index = len(*h); *h = append(*h, it) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
