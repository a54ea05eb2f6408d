package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventBody is the kind-specific part of an AnalysisEvent. The set of
// implementations is closed: StatusBody, StageUpdateBody, CitationBody,
// ClaimBody and SummaryBody.
type EventBody interface {
	Kind() EventKind
	isEventBody()
}

// StatusBody is the body of a status event.
type StatusBody struct {
	Status RunStatus `json:"status"`
	Reason string    `json:"reason,omitempty"`
}

// StageUpdateBody is the body of a stage_update event.
type StageUpdateBody struct {
	Stage string `json:"stage"`
}

// CitationBody is the body of a citation_added event.
type CitationBody struct {
	Stage    string `json:"stage"`
	Citation string `json:"citation"`
	Verified bool   `json:"verified"`
}

// ClaimBody is the body of a claim_added event.
type ClaimBody struct {
	Stage           string  `json:"stage"`
	Claim           string  `json:"claim"`
	ConfidenceDelta float64 `json:"confidence_delta"`
}

// SummaryBody is the body of a summary event.
type SummaryBody struct {
	Summary string `json:"summary"`
}

func (StatusBody) Kind() EventKind      { return EventKindStatus }
func (StageUpdateBody) Kind() EventKind { return EventKindStageUpdate }
func (CitationBody) Kind() EventKind    { return EventKindCitationAdded }
func (ClaimBody) Kind() EventKind       { return EventKindClaimAdded }
func (SummaryBody) Kind() EventKind     { return EventKindSummary }

func (StatusBody) isEventBody()      {}
func (StageUpdateBody) isEventBody() {}
func (CitationBody) isEventBody()    {}
func (ClaimBody) isEventBody()       {}
func (SummaryBody) isEventBody()     {}

// AnalysisEvent is one immutable entry of a run's event log.
type AnalysisEvent struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	Seq         int64     `json:"seq"`
	Contributor string    `json:"contributor,omitempty"`
	Message     string    `json:"message"`
	Progress    int       `json:"progress"`
	Timestamp   time.Time `json:"timestamp"`
	Body        EventBody `json:"-"`
}

// Kind returns the event kind, derived from its body.
func (e AnalysisEvent) Kind() EventKind {
	if e.Body == nil {
		return ""
	}
	return e.Body.Kind()
}

// Status returns the status carried by a status event.
func (e AnalysisEvent) Status() (RunStatus, bool) {
	b, ok := e.Body.(StatusBody)
	if !ok {
		return "", false
	}
	return b.Status, true
}

type eventJSON struct {
	ID          string          `json:"id"`
	RunID       string          `json:"run_id"`
	Seq         int64           `json:"seq"`
	Kind        EventKind       `json:"kind"`
	Contributor string          `json:"contributor,omitempty"`
	Message     string          `json:"message"`
	Progress    int             `json:"progress"`
	Timestamp   time.Time       `json:"timestamp"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON encodes the event with its kind tag and kind-specific data.
func (e AnalysisEvent) MarshalJSON() ([]byte, error) {
	out := eventJSON{
		ID:          e.ID,
		RunID:       e.RunID,
		Seq:         e.Seq,
		Kind:        e.Kind(),
		Contributor: e.Contributor,
		Message:     e.Message,
		Progress:    e.Progress,
		Timestamp:   e.Timestamp,
	}
	if e.Body != nil {
		data, err := json.Marshal(e.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s body: %w", e.Kind(), err)
		}
		out.Data = data
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes an event, selecting the body type from its kind.
func (e *AnalysisEvent) UnmarshalJSON(b []byte) error {
	var in eventJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	var body EventBody
	switch in.Kind {
	case EventKindStatus:
		var v StatusBody
		if err := unmarshalData(in.Data, &v); err != nil {
			return err
		}
		body = v
	case EventKindStageUpdate:
		var v StageUpdateBody
		if err := unmarshalData(in.Data, &v); err != nil {
			return err
		}
		body = v
	case EventKindCitationAdded:
		var v CitationBody
		if err := unmarshalData(in.Data, &v); err != nil {
			return err
		}
		body = v
	case EventKindClaimAdded:
		var v ClaimBody
		if err := unmarshalData(in.Data, &v); err != nil {
			return err
		}
		body = v
	case EventKindSummary:
		var v SummaryBody
		if err := unmarshalData(in.Data, &v); err != nil {
			return err
		}
		body = v
	default:
		return fmt.Errorf("unknown event kind %q", in.Kind)
	}

	*e = AnalysisEvent{
		ID:          in.ID,
		RunID:       in.RunID,
		Seq:         in.Seq,
		Contributor: in.Contributor,
		Message:     in.Message,
		Progress:    in.Progress,
		Timestamp:   in.Timestamp,
		Body:        body,
	}
	return nil
}

func unmarshalData(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
