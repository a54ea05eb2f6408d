package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xiaot623/quorum/internal/domain"
	"github.com/xiaot623/quorum/internal/protocol"
)

// Since returns the payloads of a live channel with a sequence number above
// afterSeq, in order. Run channels carry AnalysisEvents; the activity
// channel carries ActivityEntries.
func (s *Service) Since(ctx context.Context, channel string, afterSeq int64) ([]protocol.Payload, error) {
	if channel == protocol.ActivityChannel {
		entries := s.activity.Since(afterSeq, 0)
		payloads := make([]protocol.Payload, 0, len(entries))
		for _, entry := range entries {
			p, err := newPayload(channel, entry.Seq, entry)
			if err != nil {
				return nil, err
			}
			payloads = append(payloads, p)
		}
		return payloads, nil
	}

	runID, ok := protocol.ParseRunEventsChannel(channel)
	if !ok {
		return nil, fmt.Errorf("unknown channel %q: %w", channel, domain.ErrInvalidArgument)
	}
	e, err := s.registry.Lookup(runID)
	if err != nil {
		return nil, err
	}

	e.RLock()
	events, err := s.events.Since(runID, afterSeq)
	e.RUnlock()
	if err != nil {
		return nil, err
	}

	payloads := make([]protocol.Payload, 0, len(events))
	for _, ev := range events {
		p, err := newPayload(channel, ev.Seq, ev)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, p)
	}
	return payloads, nil
}

// Changed returns a channel closed when the live channel may have new payloads.
func (s *Service) Changed(channel string) (<-chan struct{}, error) {
	if channel == protocol.ActivityChannel {
		return s.activity.Changed(), nil
	}
	runID, ok := protocol.ParseRunEventsChannel(channel)
	if !ok {
		return nil, fmt.Errorf("unknown channel %q: %w", channel, domain.ErrInvalidArgument)
	}
	return s.events.Changed(runID)
}

func newPayload(channel string, seq int64, v interface{}) (protocol.Payload, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return protocol.Payload{}, fmt.Errorf("encode payload %s/%d: %w", channel, seq, err)
	}
	return protocol.Payload{Channel: channel, Seq: seq, Data: data}, nil
}

// EventsSince returns the run's events with a sequence number above afterSeq.
func (s *Service) EventsSince(ctx context.Context, runID string, afterSeq int64) ([]domain.AnalysisEvent, error) {
	e, err := s.registry.Lookup(runID)
	if err != nil {
		return nil, err
	}
	e.RLock()
	defer e.RUnlock()
	return s.events.Since(runID, afterSeq)
}

// Activity returns retained activity entries after afterSeq, oldest first.
// A limit <= 0 returns all of them.
func (s *Service) Activity(afterSeq int64, limit int) []domain.ActivityEntry {
	return s.activity.Since(afterSeq, limit)
}

// PollInterval is the interval polling clients are asked to use.
func (s *Service) PollInterval() time.Duration {
	return s.config.LivePollInterval
}
