// Package domain defines the core domain models for the analysis orchestrator.
package domain

// RunStatus represents the status of an analysis run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether no further transition is permitted.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal step:
// queued -> running -> {completed | failed}, and queued|running -> cancelled.
func (s RunStatus) CanTransition(next RunStatus) bool {
	switch s {
	case RunStatusQueued:
		return next == RunStatusRunning || next == RunStatusCancelled
	case RunStatusRunning:
		return next == RunStatusCompleted || next == RunStatusFailed || next == RunStatusCancelled
	}
	return false
}

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusQueued, RunStatusRunning, RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// EventKind represents the kind of an analysis event.
type EventKind string

const (
	EventKindStatus        EventKind = "status"
	EventKindStageUpdate   EventKind = "stage_update"
	EventKindCitationAdded EventKind = "citation_added"
	EventKindClaimAdded    EventKind = "claim_added"
	EventKindSummary       EventKind = "summary"
)

// ActivityType represents the type of a live activity feed entry.
type ActivityType string

const (
	ActivityRunStarted         ActivityType = "run_started"
	ActivityRunCompleted       ActivityType = "run_completed"
	ActivityRunFailed          ActivityType = "run_failed"
	ActivityRunCancelled       ActivityType = "run_cancelled"
	ActivityContributionPosted ActivityType = "contribution_posted"
	ActivitySideEffectFailed   ActivityType = "side_effect_failed"
)
