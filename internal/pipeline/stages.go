package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/xiaot623/quorum/internal/domain"
)

// Stage is one scheduled step of a run's pipeline.
type Stage struct {
	Name string
	// Delay is measured from the previous stage (or from run start for the
	// first stage).
	Delay    time.Duration
	Progress int
	// Transition is the status the stage moves the run to, if any.
	Transition domain.RunStatus
	// Contributor is the roster index credited with the stage's event.
	Contributor int
	Message     string
	// Body builds the kind-specific event emitted by the stage. Stages
	// without a body only emit a status event for their transition.
	Body func(run *domain.AnalysisRun) domain.EventBody
	// Check runs before any mutation; an error fails the run.
	Check func(run *domain.AnalysisRun) error
	// Final marks the stage that completes the run.
	Final bool
}

// Stage names of the default pipeline.
const (
	StageIntake         = "intake"
	StageEvidenceReview = "evidence_review"
	StageCitationCheck  = "citation_check"
	StageClaimScoring   = "claim_scoring"
	StageSynthesis      = "synthesis"
)

// DefaultStages returns the simulated analysis pipeline, spaced by interval.
func DefaultStages(interval time.Duration) []Stage {
	return []Stage{
		{
			Name:        StageIntake,
			Delay:       interval,
			Progress:    12,
			Transition:  domain.RunStatusRunning,
			Contributor: 0,
			Message:     "analysis started",
		},
		{
			Name:        StageEvidenceReview,
			Delay:       interval,
			Progress:    35,
			Contributor: 1,
			Message:     "reviewing evidence",
			Body: func(run *domain.AnalysisRun) domain.EventBody {
				return domain.StageUpdateBody{Stage: StageEvidenceReview}
			},
		},
		{
			Name:        StageCitationCheck,
			Delay:       interval,
			Progress:    55,
			Contributor: 2,
			Message:     "cross-checking citations",
			Body: func(run *domain.AnalysisRun) domain.EventBody {
				return domain.CitationBody{
					Stage:    StageCitationCheck,
					Citation: fmt.Sprintf("%s#opening-post", run.SubjectID),
					Verified: true,
				}
			},
		},
		{
			Name:        StageClaimScoring,
			Delay:       interval,
			Progress:    80,
			Contributor: 1,
			Message:     "computing confidence deltas",
			Body: func(run *domain.AnalysisRun) domain.EventBody {
				return domain.ClaimBody{
					Stage:           StageClaimScoring,
					Claim:           "the thread's central claim is supported by its cited evidence",
					ConfidenceDelta: 0.18,
				}
			},
		},
		{
			Name:        StageSynthesis,
			Delay:       interval,
			Progress:    100,
			Transition:  domain.RunStatusCompleted,
			Contributor: 0,
			Message:     "analysis complete",
			Final:       true,
		},
	}
}

// DefaultSummary composes the canned synthesis text for a run.
func DefaultSummary(run *domain.AnalysisRun) string {
	reviewers := run.Participants
	if len(reviewers) > 1 {
		reviewers = reviewers[1:]
	}
	return fmt.Sprintf(
		"Synthesis for %s: %s reviewed the evidence and cross-checked the citations. "+
			"The central claim holds with a confidence gain of 0.18; no citation was found unsupported.",
		run.SubjectID, strings.Join(reviewers, ", "),
	)
}

// validateStages checks the structural rules every pipeline must follow.
func validateStages(stages []Stage) error {
	if len(stages) == 0 {
		return fmt.Errorf("pipeline has no stages")
	}
	if stages[0].Transition != domain.RunStatusRunning {
		return fmt.Errorf("first stage %q must transition to running", stages[0].Name)
	}
	last := 0
	for i, st := range stages {
		if st.Name == "" {
			return fmt.Errorf("stage %d has no name", i)
		}
		if st.Delay < 0 {
			return fmt.Errorf("stage %q has a negative delay", st.Name)
		}
		if st.Progress < last || st.Progress > 100 {
			return fmt.Errorf("stage %q progress %d must be within [%d, 100]", st.Name, st.Progress, last)
		}
		last = st.Progress
		if st.Final != (i == len(stages)-1) {
			return fmt.Errorf("only the last stage may be final (stage %q)", st.Name)
		}
		if i > 0 && !st.Final && st.Transition != "" {
			return fmt.Errorf("stage %q: only the first and final stages change status", st.Name)
		}
	}
	return nil
}
