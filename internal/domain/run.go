package domain

import (
	"time"
)

// AnalysisRun represents one simulated analysis of a discussion thread.
type AnalysisRun struct {
	ID           string     `json:"id"`
	SubjectID    string     `json:"subject_id"`
	Status       RunStatus  `json:"status"`
	Progress     int        `json:"progress"`
	Participants []string   `json:"participants"`
	StartedAt    time.Time  `json:"started_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Summary      string     `json:"summary,omitempty"`
	// Warnings collects non-fatal problems, such as a summary that could
	// not be published back to the thread.
	Warnings []string `json:"warnings,omitempty"`
}

// Clone returns a deep copy safe to hand out to callers.
func (r *AnalysisRun) Clone() *AnalysisRun {
	if r == nil {
		return nil
	}
	out := *r
	out.Participants = append([]string(nil), r.Participants...)
	if r.Warnings != nil {
		out.Warnings = append([]string(nil), r.Warnings...)
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// Synthesizer returns the participant that authors the final summary.
// By convention it is the first roster entry.
func (r *AnalysisRun) Synthesizer() string {
	if len(r.Participants) == 0 {
		return ""
	}
	return r.Participants[0]
}
