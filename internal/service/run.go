package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xiaot623/quorum/internal/domain"
	"github.com/xiaot623/quorum/internal/registry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// fallbackRoster is used when the participant directory is unavailable or
// does not have enough participants.
var fallbackRoster = []string{"Skeptic", "Archivist", "Cartographer", "Statistician"}

// Start creates a queued run for subjectID and schedules its pipeline. It
// returns as soon as the run is registered.
func (s *Service) Start(ctx context.Context, subjectID string) (*domain.AnalysisRun, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, fmt.Errorf("subject_id is required: %w", domain.ErrInvalidArgument)
	}

	ctx, span := s.tracer.Start(ctx, "service.Start", trace.WithAttributes(attribute.String("subject_id", subjectID)))
	defer span.End()

	roster := s.pickRoster(ctx)
	now := s.clock.Now()
	run := domain.AnalysisRun{
		SubjectID:    subjectID,
		Status:       domain.RunStatusQueued,
		Participants: roster,
		StartedAt:    now,
		UpdatedAt:    now,
	}

	e, err := s.register(run)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("could not register run", "subject_id", subjectID, "error", err)
		return nil, err
	}
	defer e.Unlock()
	run.ID = e.ID()

	if _, err := s.appendEvent(e, "", "queued", domain.StatusBody{Status: domain.RunStatusQueued}, now); err != nil {
		return nil, err
	}
	if err := s.scheduler.Schedule(e, 0, s.fireStage); err != nil {
		s.failLocked(e, fmt.Sprintf("could not schedule pipeline: %v", err))
		return e.Snapshot(), nil
	}

	s.activity.Append(domain.ActivityEntry{
		Type:      domain.ActivityRunStarted,
		SubjectID: subjectID,
		RunID:     run.ID,
		Message:   fmt.Sprintf("analysis of %s started with %s", subjectID, strings.Join(roster, ", ")),
	})
	s.metrics.runsStarted.Add(ctx, 1)
	span.SetAttributes(attribute.String("run_id", run.ID))
	s.logger.Info("run started", "run_id", run.ID, "subject_id", subjectID, "participants", roster)

	return e.Snapshot(), nil
}

// maxIDAttempts bounds how often Start draws a fresh id after a collision.
const maxIDAttempts = 3

// register gives run a fresh id, opens its event log and adds it to the
// registry. The returned entry is write-locked. A log or entry that already
// belongs to another run is never touched.
func (s *Service) register(run domain.AnalysisRun) (*registry.Entry, error) {
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		run.ID = s.newRunID()
		if !s.events.Open(run.ID) {
			s.logger.Warn("run id collision", "run_id", run.ID, "attempt", attempt)
			continue
		}
		e, err := s.registry.CreateLocked(run)
		if err == nil {
			return e, nil
		}
		s.events.Drop(run.ID)
		if !errors.Is(err, registry.ErrDuplicateRun) {
			return nil, err
		}
		s.logger.Warn("run id collision", "run_id", run.ID, "attempt", attempt)
	}
	return nil, fmt.Errorf("no free run id after %d attempts", maxIDAttempts)
}

func newRunID() string {
	return "run_" + uuid.New().String()
}

// Cancel stops a run. Cancelling a terminal run returns it unchanged.
func (s *Service) Cancel(ctx context.Context, runID string) (*domain.AnalysisRun, error) {
	_, span := s.tracer.Start(ctx, "service.Cancel", trace.WithAttributes(attribute.String("run_id", runID)))
	defer span.End()

	e, err := s.registry.Lookup(runID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	e.Lock()
	defer e.Unlock()

	if e.Status().IsTerminal() {
		return e.Snapshot(), nil
	}

	now := s.clock.Now()
	s.scheduler.Cancel(e)
	if err := e.Transition(domain.RunStatusCancelled, now); err != nil {
		s.logger.Error("cancel transition rejected", "run_id", runID, "error", err)
		return nil, err
	}
	if _, err := s.appendEvent(e, "", "cancelled", domain.StatusBody{Status: domain.RunStatusCancelled}, now); err != nil {
		s.logger.Error("failed to record cancel event", "run_id", runID, "error", err)
	}
	s.finishedLocked(e, domain.ActivityRunCancelled, "analysis cancelled")
	return e.Snapshot(), nil
}

// Get returns a copy of the run.
func (s *Service) Get(ctx context.Context, runID string) (*domain.AnalysisRun, error) {
	e, err := s.registry.Lookup(runID)
	if err != nil {
		return nil, err
	}
	e.RLock()
	defer e.RUnlock()
	return e.Snapshot(), nil
}

// ListEvents returns the run's events in emission order.
func (s *Service) ListEvents(ctx context.Context, runID string) ([]domain.AnalysisEvent, error) {
	e, err := s.registry.Lookup(runID)
	if err != nil {
		return nil, err
	}
	e.RLock()
	defer e.RUnlock()
	return s.events.List(runID)
}

// ListRuns returns the subject's runs, newest first.
func (s *Service) ListRuns(ctx context.Context, subjectID string) ([]domain.AnalysisRun, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, fmt.Errorf("subject_id is required: %w", domain.ErrInvalidArgument)
	}
	return s.registry.ListBySubject(subjectID), nil
}

// pickRoster returns the synthesizer followed by the first available
// directory participants, topped up from the fallback roster.
func (s *Service) pickRoster(ctx context.Context) []string {
	synth := s.config.SynthesizerName
	want := s.config.RosterSize
	roster := []string{synth}
	seen := map[string]bool{synth: true}
	add := func(name string) {
		name = strings.TrimSpace(name)
		if len(roster) >= want || name == "" || seen[name] {
			return
		}
		seen[name] = true
		roster = append(roster, name)
	}

	if s.directory != nil && want > 1 {
		dirCtx, cancel := context.WithTimeout(ctx, s.config.SideEffectTimeout)
		participants, err := s.directory.ListAvailableParticipants(dirCtx)
		cancel()
		if err != nil {
			s.logger.Warn("participant directory unavailable, using fallback roster", "error", err)
		}
		for _, p := range participants {
			add(p.Name)
		}
	}
	for _, name := range fallbackRoster {
		add(name)
	}
	return roster
}

func (s *Service) appendEvent(e *registry.Entry, contributor, message string, body domain.EventBody, now time.Time) (domain.AnalysisEvent, error) {
	return s.events.Append(e.ID(), domain.AnalysisEvent{
		Contributor: contributor,
		Message:     message,
		Progress:    e.Progress(),
		Timestamp:   now,
		Body:        body,
	})
}

// finishedLocked publishes a terminal status. The caller holds the entry lock.
func (s *Service) finishedLocked(e *registry.Entry, kind domain.ActivityType, message string) {
	run := e.Snapshot()
	s.activity.Append(domain.ActivityEntry{
		Type:      kind,
		SubjectID: run.SubjectID,
		RunID:     run.ID,
		Message:   message,
	})
	s.metrics.finished(run)
	s.logger.Info("run finished", "run_id", run.ID, "status", run.Status, "progress", run.Progress)
}
