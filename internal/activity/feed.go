// Package activity keeps a bounded, sequence-numbered feed of run lifecycle
// and contribution activity for live clients.
package activity

import (
	"sync"
	"time"

	"github.com/xiaot623/quorum/internal/domain"
)

// Feed is a ring of the most recent activity entries. Sequence numbers keep
// increasing after old entries fall off the ring.
type Feed struct {
	mu      sync.RWMutex
	size    int
	entries []domain.ActivityEntry
	lastSeq int64
	changed chan struct{}
	now     func() time.Time
}

// New creates a feed retaining at most size entries.
func New(size int, now func() time.Time) *Feed {
	if size <= 0 {
		size = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Feed{
		size:    size,
		entries: make([]domain.ActivityEntry, 0, size),
		changed: make(chan struct{}),
		now:     now,
	}
}

// Append records an entry and returns it with its sequence number and
// timestamp filled in.
func (f *Feed) Append(entry domain.ActivityEntry) domain.ActivityEntry {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastSeq++
	entry.Seq = f.lastSeq
	if entry.Ts == 0 {
		entry.Ts = f.now().UnixMilli()
	}
	if len(f.entries) == f.size {
		copy(f.entries, f.entries[1:])
		f.entries = f.entries[:f.size-1]
	}
	f.entries = append(f.entries, entry)

	close(f.changed)
	f.changed = make(chan struct{})
	return entry
}

// Since returns retained entries with a sequence number above afterSeq,
// oldest first, at most limit of them (limit <= 0 means all).
func (f *Feed) Since(afterSeq int64, limit int) []domain.ActivityEntry {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := []domain.ActivityEntry{}
	for _, e := range f.entries {
		if e.Seq <= afterSeq {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// LastSeq returns the sequence number of the newest entry.
func (f *Feed) LastSeq() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastSeq
}

// Changed returns a channel closed on the next append.
func (f *Feed) Changed() <-chan struct{} {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.changed
}
