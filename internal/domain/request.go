package domain

// RunEventsResponse represents the response for listing a run's events.
type RunEventsResponse struct {
	RunID  string          `json:"run_id"`
	Events []AnalysisEvent `json:"events"`
}

// ListRunsResponse represents the response for listing a subject's runs.
type ListRunsResponse struct {
	SubjectID string        `json:"subject_id"`
	Runs      []AnalysisRun `json:"runs"`
}

// ActivityResponse represents the response for reading the activity feed.
type ActivityResponse struct {
	Entries []ActivityEntry `json:"entries"`
}

// ThreadResponse represents a thread together with its posts.
type ThreadResponse struct {
	Thread Thread `json:"thread"`
	Posts  []Post `json:"posts"`
}

// ListParticipantsResponse represents the response for listing participants.
type ListParticipantsResponse struct {
	Participants []Participant `json:"participants"`
}

// ErrorResponse represents an error body returned by the HTTP API.
type ErrorResponse struct {
	Error string `json:"error"`
}
