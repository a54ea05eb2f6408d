// Package registry is the authoritative store of analysis run state.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xiaot623/quorum/internal/clock"
	"github.com/xiaot623/quorum/internal/domain"
)

// Registry maps run ids to run state. It is created once per process and
// handed to the orchestrator; it is the only place run records are mutated.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []*Entry // creation order
	created uint64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Entry holds one run and the scheduling state of its pipeline. Callers
// take the entry lock around any sequence of reads or mutations that must
// be observed atomically; the mutating methods expect the write lock held.
type Entry struct {
	sync.RWMutex

	run       domain.AnalysisRun
	created   uint64
	timer     clock.Timer
	nextStage int
}

// ErrDuplicateRun is returned by Create when the run id is already taken.
var ErrDuplicateRun = fmt.Errorf("duplicate run id: %w", domain.ErrInvariantViolation)

// Create registers a new run. The run must be queued and have a unique id.
func (r *Registry) Create(run domain.AnalysisRun) (*Entry, error) {
	e, err := r.CreateLocked(run)
	if err != nil {
		return nil, err
	}
	e.Unlock()
	return e, nil
}

// CreateLocked is Create, but the entry is write-locked before it becomes
// visible to Lookup and the listings. The caller must Unlock it.
func (r *Registry) CreateLocked(run domain.AnalysisRun) (*Entry, error) {
	if run.ID == "" {
		return nil, fmt.Errorf("run id is required: %w", domain.ErrInvalidArgument)
	}
	if run.Status != domain.RunStatusQueued {
		return nil, fmt.Errorf("new run %s must be queued, got %s: %w", run.ID, run.Status, domain.ErrInvariantViolation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[run.ID]; ok {
		return nil, fmt.Errorf("run %s: %w", run.ID, ErrDuplicateRun)
	}
	r.created++
	e := &Entry{run: *run.Clone(), created: r.created}
	e.Lock()
	r.entries[run.ID] = e
	r.order = append(r.order, e)
	return e, nil
}

// Lookup returns the entry for a run.
func (r *Registry) Lookup(runID string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	return e, nil
}

// ListBySubject returns snapshots of the subject's runs, newest first by
// start time. Runs started at the same instant keep reverse creation order.
func (r *Registry) ListBySubject(subjectID string) []domain.AnalysisRun {
	r.mu.RLock()
	var matches []*Entry
	for _, e := range r.order {
		// SubjectID is immutable, so reading it without the entry lock is safe.
		if e.run.SubjectID == subjectID {
			matches = append(matches, e)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.run.StartedAt.Equal(b.run.StartedAt) {
			return a.created > b.created
		}
		return a.run.StartedAt.After(b.run.StartedAt)
	})

	out := make([]domain.AnalysisRun, 0, len(matches))
	for _, e := range matches {
		e.RLock()
		out = append(out, *e.Snapshot())
		e.RUnlock()
	}
	return out
}

// Active returns the ids of runs that are not yet terminal.
func (r *Registry) Active() []string {
	r.mu.RLock()
	entries := append([]*Entry(nil), r.order...)
	r.mu.RUnlock()

	var ids []string
	for _, e := range entries {
		e.RLock()
		if !e.run.Status.IsTerminal() {
			ids = append(ids, e.run.ID)
		}
		e.RUnlock()
	}
	return ids
}

// Len returns the number of retained runs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Evict removes the oldest terminal runs until at most max runs are
// retained, and returns the evicted ids. Non-terminal runs are never evicted.
func (r *Registry) Evict(max int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	excess := len(r.order) - max
	if excess <= 0 {
		return nil
	}

	var evicted []string
	kept := r.order[:0]
	for _, e := range r.order {
		if excess > 0 {
			e.RLock()
			terminal := e.run.Status.IsTerminal()
			id := e.run.ID
			e.RUnlock()
			if terminal {
				delete(r.entries, id)
				evicted = append(evicted, id)
				excess--
				continue
			}
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(r.order); i++ {
		r.order[i] = nil
	}
	r.order = kept
	return evicted
}

// Snapshot returns a copy of the run. The caller must hold at least the read lock.
func (e *Entry) Snapshot() *domain.AnalysisRun {
	return e.run.Clone()
}

// ID returns the run id.
func (e *Entry) ID() string {
	return e.run.ID
}

// StartedAt returns when the run was started.
func (e *Entry) StartedAt() time.Time {
	return e.run.StartedAt
}

// Status returns the current status. The caller must hold at least the read lock.
func (e *Entry) Status() domain.RunStatus {
	return e.run.Status
}

// Progress returns the current progress. The caller must hold at least the read lock.
func (e *Entry) Progress() int {
	return e.run.Progress
}

// Transition moves the run to status next. Illegal moves, including any
// move out of a terminal status, fail with ErrInvariantViolation.
func (e *Entry) Transition(next domain.RunStatus, now time.Time) error {
	if !e.run.Status.CanTransition(next) {
		return fmt.Errorf("run %s: %s -> %s: %w", e.run.ID, e.run.Status, next, domain.ErrInvariantViolation)
	}
	e.run.Status = next
	e.touch(now)
	return nil
}

// SetProgress records a new progress value. Progress never decreases and is
// frozen once the run is terminal.
func (e *Entry) SetProgress(progress int, now time.Time) error {
	if e.run.Status.IsTerminal() {
		return fmt.Errorf("run %s is %s, progress is frozen: %w", e.run.ID, e.run.Status, domain.ErrInvariantViolation)
	}
	if progress < e.run.Progress || progress > 100 {
		return fmt.Errorf("run %s: progress %d -> %d: %w", e.run.ID, e.run.Progress, progress, domain.ErrInvariantViolation)
	}
	e.run.Progress = progress
	e.touch(now)
	return nil
}

// Complete marks a running run completed with its summary.
func (e *Entry) Complete(summary string, now time.Time) error {
	if e.run.Status != domain.RunStatusRunning {
		return fmt.Errorf("run %s: %s -> %s: %w", e.run.ID, e.run.Status, domain.RunStatusCompleted, domain.ErrInvariantViolation)
	}
	if err := e.SetProgress(100, now); err != nil {
		return err
	}
	if err := e.Transition(domain.RunStatusCompleted, now); err != nil {
		return err
	}
	e.run.Summary = summary
	completedAt := now
	e.run.CompletedAt = &completedAt
	return nil
}

// AddWarning records a non-fatal problem on the run.
func (e *Entry) AddWarning(msg string, now time.Time) {
	e.run.Warnings = append(e.run.Warnings, msg)
	e.touch(now)
}

func (e *Entry) touch(now time.Time) {
	if now.Before(e.run.UpdatedAt) {
		now = e.run.UpdatedAt
	}
	e.run.UpdatedAt = now
}

// NextStage returns the index of the next pipeline stage to apply.
func (e *Entry) NextStage() int {
	return e.nextStage
}

// SetNextStage records the index of the next pipeline stage.
func (e *Entry) SetNextStage(idx int) {
	e.nextStage = idx
}

// SetTimer records the pending stage timer, replacing any previous one.
func (e *Entry) SetTimer(t clock.Timer) {
	e.timer = t
}

// StopTimer stops the pending stage timer, if any.
func (e *Entry) StopTimer() bool {
	if e.timer == nil {
		return false
	}
	stopped := e.timer.Stop()
	e.timer = nil
	return stopped
}
