package service

import (
	"context"
	"fmt"
	"time"

	"github.com/xiaot623/quorum/internal/domain"
	"github.com/xiaot623/quorum/internal/pipeline"
	"github.com/xiaot623/quorum/internal/registry"
)

// completeLocked applies the final stage. The completed status, the summary
// event, the terminal status event and the thread post all happen before
// the caller releases the run lock, so readers never see one without the
// others.
func (s *Service) completeLocked(e *registry.Entry, stage pipeline.Stage, now time.Time) error {
	run := e.Snapshot()
	summary := s.summarize(run)
	synthesizer := run.Synthesizer()

	if err := e.Complete(summary, now); err != nil {
		return err
	}
	if _, err := s.appendEvent(e, synthesizer, "summary ready", domain.SummaryBody{Summary: summary}, now); err != nil {
		return err
	}
	if _, err := s.appendEvent(e, synthesizer, stage.Message, domain.StatusBody{Status: domain.RunStatusCompleted}, now); err != nil {
		return err
	}

	s.finishedLocked(e, domain.ActivityRunCompleted, "analysis complete")
	s.publishSummaryLocked(e)
	return nil
}

// publishSummaryLocked posts a completed run's summary to its thread. A
// failure becomes a warning on the run; the run stays completed.
func (s *Service) publishSummaryLocked(e *registry.Entry) {
	run := e.Snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), s.config.SideEffectTimeout)
	defer cancel()

	post, err := s.postSummary(ctx, run)
	if err == nil {
		s.activity.Append(domain.ActivityEntry{
			Type:      domain.ActivityContributionPosted,
			SubjectID: run.SubjectID,
			RunID:     run.ID,
			Message:   fmt.Sprintf("%s posted the analysis summary (%s)", post.Author, post.PostID),
		})
		return
	}

	warning := fmt.Sprintf("summary was not posted to %s: %v", run.SubjectID, err)
	e.AddWarning(warning, s.clock.Now())
	s.activity.Append(domain.ActivityEntry{
		Type:      domain.ActivitySideEffectFailed,
		SubjectID: run.SubjectID,
		RunID:     run.ID,
		Message:   warning,
	})
	s.metrics.sideEffectFailures.Add(ctx, 1)
	s.logger.Warn("completion side effect failed", "run_id", run.ID, "subject_id", run.SubjectID, "error", err)
}

func (s *Service) postSummary(ctx context.Context, run *domain.AnalysisRun) (post *domain.Post, err error) {
	defer func() {
		if r := recover(); r != nil {
			post, err = nil, fmt.Errorf("%w: thread store panicked: %v", domain.ErrSideEffect, r)
		}
	}()

	if s.threads == nil {
		return nil, fmt.Errorf("%w: no thread store configured", domain.ErrSideEffect)
	}
	post, err = s.threads.PublishContribution(ctx, run.SubjectID, domain.Contribution{
		Author: run.Synthesizer(),
		Body:   run.Summary,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: publish contribution: %w", domain.ErrSideEffect, err)
	}
	if post == nil {
		post = &domain.Post{SubjectID: run.SubjectID, Author: run.Synthesizer(), Body: run.Summary}
	}
	return post, nil
}
