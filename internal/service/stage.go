package service

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/xiaot623/quorum/internal/domain"
	"github.com/xiaot623/quorum/internal/pipeline"
	"github.com/xiaot623/quorum/internal/policy"
	"github.com/xiaot623/quorum/internal/registry"
)

// fireStage is the timer callback for stage idx of a run. Everything it does
// happens under the run's write lock, after checking that the run is still
// live and still waiting for this stage; a run cancelled or failed before
// the lock was acquired is left untouched.
func (s *Service) fireStage(runID string, idx int) {
	e, err := s.registry.Lookup(runID)
	if err != nil {
		s.logger.Debug("stage fired for evicted run", "run_id", runID, "stage_index", idx)
		return
	}

	e.Lock()
	defer e.Unlock()

	if e.Status().IsTerminal() || e.NextStage() != idx {
		return
	}
	e.SetTimer(nil)

	stage, err := s.scheduler.Stage(idx)
	if err != nil {
		s.failLocked(e, err.Error())
		return
	}
	s.logger.Debug("stage fired", "run_id", runID, "stage", stage.Name)

	ctx, cancel := context.WithTimeout(context.Background(), s.config.SideEffectTimeout)
	defer cancel()

	if err := s.applyStage(ctx, e, stage); err != nil {
		s.logger.Error("stage failed", "run_id", runID, "stage", stage.Name, "error", err)
		s.failLocked(e, fmt.Sprintf("stage %s failed: %v", stage.Name, err))
		return
	}
	s.metrics.stage(stage.Name)

	if stage.Final {
		return
	}
	if err := s.scheduler.Schedule(e, idx+1, s.fireStage); err != nil {
		s.failLocked(e, fmt.Sprintf("could not schedule next stage: %v", err))
	}
}

// applyStage performs one stage's mutation. Panics are converted to errors so
// that a broken stage fails its own run and nothing else.
func (s *Service) applyStage(ctx context.Context, e *registry.Entry, stage pipeline.Stage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("stage panicked", "run_id", e.ID(), "stage", stage.Name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	run := e.Snapshot()
	if stage.Check != nil {
		if err := stage.Check(run); err != nil {
			return err
		}
	}
	if err := s.checkGate(ctx, run, stage); err != nil {
		return err
	}

	now := s.clock.Now()
	contributor := contributorAt(run, stage.Contributor)

	if stage.Final {
		return s.completeLocked(e, stage, now)
	}

	if stage.Transition != "" {
		if err := e.Transition(stage.Transition, now); err != nil {
			return err
		}
	}
	if err := e.SetProgress(stage.Progress, now); err != nil {
		return err
	}
	if stage.Transition != "" {
		if _, err := s.appendEvent(e, contributor, stage.Message, domain.StatusBody{Status: stage.Transition}, now); err != nil {
			return err
		}
	}
	if stage.Body != nil {
		if _, err := s.appendEvent(e, contributor, stage.Message, stage.Body(run), now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) checkGate(ctx context.Context, run *domain.AnalysisRun, stage pipeline.Stage) error {
	if s.gate == nil {
		return nil
	}
	decision, reason, err := s.gate.Evaluate(ctx, policy.Input{
		SubjectID:    run.SubjectID,
		RunID:        run.ID,
		Stage:        stage.Name,
		Progress:     run.Progress,
		Participants: run.Participants,
	})
	if err != nil {
		return fmt.Errorf("stage gate: %w", err)
	}
	if decision == policy.DecisionFail {
		if reason == "" {
			reason = "rejected"
		}
		return fmt.Errorf("stage gate: %s", reason)
	}
	return nil
}

// failLocked marks a live run failed with an explanatory status event. A
// run still queued is first moved to running, since only running runs can
// fail. The caller holds the entry lock.
func (s *Service) failLocked(e *registry.Entry, reason string) {
	if e.Status().IsTerminal() {
		s.logger.Warn("failure on terminal run ignored", "run_id", e.ID(), "status", e.Status(), "reason", reason)
		return
	}
	now := s.clock.Now()
	s.scheduler.Cancel(e)
	if e.Status() == domain.RunStatusQueued {
		if err := e.Transition(domain.RunStatusRunning, now); err != nil {
			s.logger.Error("running transition rejected", "run_id", e.ID(), "error", err)
			return
		}
		if _, err := s.appendEvent(e, "", "running", domain.StatusBody{Status: domain.RunStatusRunning}, now); err != nil {
			s.logger.Error("failed to record running event", "run_id", e.ID(), "error", err)
		}
	}
	if err := e.Transition(domain.RunStatusFailed, now); err != nil {
		s.logger.Error("failed transition rejected", "run_id", e.ID(), "error", err)
		return
	}
	if _, err := s.appendEvent(e, "", reason, domain.StatusBody{Status: domain.RunStatusFailed, Reason: reason}, now); err != nil {
		s.logger.Error("failed to record failure event", "run_id", e.ID(), "error", err)
	}
	s.finishedLocked(e, domain.ActivityRunFailed, reason)
}

func contributorAt(run *domain.AnalysisRun, idx int) string {
	if len(run.Participants) == 0 {
		return ""
	}
	if idx < 0 {
		idx = 0
	}
	return run.Participants[idx%len(run.Participants)]
}
