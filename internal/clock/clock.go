// Package clock provides the timer facility used to schedule pipeline stages.
package clock

import (
	"container/heap"
	"sync"
	"time"
)

// Clock schedules callbacks after a delay.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending callback.
type Timer interface {
	// Stop prevents the callback from firing. It returns false if the
	// callback already fired or was already stopped.
	Stop() bool
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Manual is a Clock that only moves when Advance is called.
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	seq   uint64
	queue timerQueue
}

// NewManual creates a manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc schedules f to run once the clock has been advanced by d.
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d < 0 {
		d = 0
	}
	m.seq++
	t := &manualTimer{clock: m, deadline: m.now.Add(d), seq: m.seq, fn: f, index: -1}
	heap.Push(&m.queue, t)
	return t
}

// Advance moves the clock forward by d and runs every callback that became
// due, in deadline order. Callbacks run on the calling goroutine, without
// the clock lock held, so they may schedule further callbacks; those also
// run if they fall inside the window.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		if m.queue.Len() == 0 || m.queue[0].deadline.After(target) {
			m.now = target
			m.mu.Unlock()
			return
		}
		t := heap.Pop(&m.queue).(*manualTimer)
		t.fired = true
		if t.deadline.After(m.now) {
			m.now = t.deadline
		}
		fn := t.fn
		m.mu.Unlock()

		fn()
	}
}

// Pending returns the number of callbacks that have not fired yet.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len()
}

type manualTimer struct {
	clock    *Manual
	deadline time.Time
	seq      uint64
	fn       func()
	index    int
	fired    bool
	stopped  bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	if t.index >= 0 {
		heap.Remove(&t.clock.queue, t.index)
	}
	return true
}

// timerQueue is a min-heap ordered by deadline, then scheduling order.
type timerQueue []*manualTimer

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].deadline.Equal(q[j].deadline) {
		return q[i].seq < q[j].seq
	}
	return q[i].deadline.Before(q[j].deadline)
}

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerQueue) Push(x interface{}) {
	t := x.(*manualTimer)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *timerQueue) Pop() interface{} {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}
