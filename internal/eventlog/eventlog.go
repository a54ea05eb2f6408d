// Package eventlog keeps the append-only, per-run sequence of analysis events.
package eventlog

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xiaot623/quorum/internal/domain"
)

// Log stores the events of every known run. Appends for one run are
// serialized; readers only ever observe a prefix of a run's sequence.
type Log struct {
	mu   sync.RWMutex
	runs map[string]*runLog
}

type runLog struct {
	mu      sync.RWMutex
	events  []domain.AnalysisEvent
	changed chan struct{}
}

// New creates an empty event log.
func New() *Log {
	return &Log{runs: make(map[string]*runLog)}
}

// Open registers a run so that events can be appended to it. It reports
// false, leaving the existing log untouched, if the run is already known.
func (l *Log) Open(runID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.runs[runID]; ok {
		return false
	}
	l.runs[runID] = &runLog{changed: make(chan struct{})}
	return true
}

// Drop forgets a run and its events.
func (l *Log) Drop(runID string) {
	l.mu.Lock()
	rl, ok := l.runs[runID]
	delete(l.runs, runID)
	l.mu.Unlock()

	if ok {
		// Wake any waiter so it can notice the run is gone.
		rl.mu.Lock()
		close(rl.changed)
		rl.changed = make(chan struct{})
		rl.mu.Unlock()
	}
}

func (l *Log) get(runID string) (*runLog, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rl, ok := l.runs[runID]
	if !ok {
		return nil, fmt.Errorf("event log for run %s: %w", runID, domain.ErrNotFound)
	}
	return rl, nil
}

// Append adds an event to the run's log. The log assigns the event id, the
// run id and the sequence number, and keeps timestamps non-decreasing.
func (l *Log) Append(runID string, event domain.AnalysisEvent) (domain.AnalysisEvent, error) {
	if event.Body == nil {
		return domain.AnalysisEvent{}, fmt.Errorf("event for run %s has no body: %w", runID, domain.ErrInvalidArgument)
	}
	rl, err := l.get(runID)
	if err != nil {
		return domain.AnalysisEvent{}, err
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	event.ID = "evt_" + uuid.New().String()
	event.RunID = runID
	event.Seq = int64(len(rl.events)) + 1
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if n := len(rl.events); n > 0 {
		if last := rl.events[n-1].Timestamp; event.Timestamp.Before(last) {
			event.Timestamp = last
		}
	}
	rl.events = append(rl.events, event)

	close(rl.changed)
	rl.changed = make(chan struct{})
	return event, nil
}

// List returns a copy of every event recorded for the run, in order.
func (l *Log) List(runID string) ([]domain.AnalysisEvent, error) {
	return l.Since(runID, 0)
}

// Since returns the events whose sequence number is greater than afterSeq.
func (l *Log) Since(runID string, afterSeq int64) ([]domain.AnalysisEvent, error) {
	rl, err := l.get(runID)
	if err != nil {
		return nil, err
	}

	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if afterSeq < 0 {
		afterSeq = 0
	}
	if afterSeq >= int64(len(rl.events)) {
		return []domain.AnalysisEvent{}, nil
	}
	out := make([]domain.AnalysisEvent, len(rl.events)-int(afterSeq))
	copy(out, rl.events[afterSeq:])
	return out, nil
}

// Len returns the number of events recorded for the run.
func (l *Log) Len(runID string) (int, error) {
	rl, err := l.get(runID)
	if err != nil {
		return 0, err
	}
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.events), nil
}

// Changed returns a channel that is closed on the next append to the run.
func (l *Log) Changed(runID string) (<-chan struct{}, error) {
	rl, err := l.get(runID)
	if err != nil {
		return nil, err
	}
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.changed, nil
}
