// Package pipeline defines the ordered stages of an analysis run and
// schedules them on a Clock.
package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xiaot623/quorum/internal/clock"
	"github.com/xiaot623/quorum/internal/registry"
)

// FireFunc applies stage idx of run runID. It is invoked from timer
// callbacks and must do its own locking.
type FireFunc func(runID string, idx int)

// Scheduler chains one timer per run: a stage's timer is only armed once the
// previous stage has been applied, so stages of a run never overlap and
// always fire in order.
type Scheduler struct {
	clock  clock.Clock
	stages []Stage
	offset []time.Duration // cumulative delay of each stage from run start
	logger *slog.Logger
}

// NewScheduler validates stages and returns a scheduler for them.
func NewScheduler(clk clock.Clock, stages []Stage, logger *slog.Logger) (*Scheduler, error) {
	if err := validateStages(stages); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	offset := make([]time.Duration, len(stages))
	var total time.Duration
	for i, st := range stages {
		total += st.Delay
		offset[i] = total
	}
	return &Scheduler{
		clock:  clk,
		stages: append([]Stage(nil), stages...),
		offset: offset,
		logger: logger,
	}, nil
}

// Stages returns the configured stages.
func (s *Scheduler) Stages() []Stage {
	return s.stages
}

// Stage returns stage idx.
func (s *Scheduler) Stage(idx int) (Stage, error) {
	if idx < 0 || idx >= len(s.stages) {
		return Stage{}, fmt.Errorf("stage index %d out of range", idx)
	}
	return s.stages[idx], nil
}

// Deadline returns when stage idx is due for a run started at startedAt.
func (s *Scheduler) Deadline(startedAt time.Time, idx int) time.Time {
	return startedAt.Add(s.offset[idx])
}

// Schedule arms the timer for stage idx of the entry's run. The caller must
// hold the entry's write lock. Deadlines are measured from the run's start,
// so late stages do not push back the ones that follow.
func (s *Scheduler) Schedule(e *registry.Entry, idx int, fire FireFunc) error {
	if idx < 0 || idx >= len(s.stages) {
		return fmt.Errorf("stage index %d out of range", idx)
	}
	runID := e.ID()
	delay := s.Deadline(e.StartedAt(), idx).Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}

	e.StopTimer()
	e.SetNextStage(idx)
	e.SetTimer(s.clock.AfterFunc(delay, func() {
		fire(runID, idx)
	}))
	s.logger.Debug("stage scheduled", "run_id", runID, "stage", s.stages[idx].Name, "delay", delay)
	return nil
}

// Cancel stops the run's pending stage timer. The caller must hold the
// entry's write lock. A timer that already fired still finds the run in
// whatever state the caller leaves it in.
func (s *Scheduler) Cancel(e *registry.Entry) bool {
	e.SetNextStage(len(s.stages))
	return e.StopTimer()
}
