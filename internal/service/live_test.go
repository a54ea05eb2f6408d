package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaot623/quorum/internal/domain"
	"github.com/xiaot623/quorum/internal/protocol"
)

func TestSinceRunChannelMatchesListEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	run, err := f.svc.Start(ctx, "thread-42")
	require.NoError(t, err)
	f.clock.Advance(10 * time.Second)

	channel := protocol.RunEventsChannel(run.ID)
	payloads, err := f.svc.Since(ctx, channel, 0)
	require.NoError(t, err)

	events, err := f.svc.ListEvents(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, payloads, len(events))

	for i, p := range payloads {
		assert.Equal(t, channel, p.Channel)
		assert.Equal(t, events[i].Seq, p.Seq)

		var ev domain.AnalysisEvent
		require.NoError(t, json.Unmarshal(p.Data, &ev))
		assert.Equal(t, events[i].ID, ev.ID)
		assert.Equal(t, events[i].Kind(), ev.Kind())
	}

	tail, err := f.svc.Since(ctx, channel, int64(len(events)-2))
	require.NoError(t, err)
	assert.Len(t, tail, 2)
}

func TestSinceActivityChannel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Start(ctx, "thread-42")
	require.NoError(t, err)

	payloads, err := f.svc.Since(ctx, protocol.ActivityChannel, 0)
	require.NoError(t, err)
	require.Len(t, payloads, 1)

	var entry domain.ActivityEntry
	require.NoError(t, json.Unmarshal(payloads[0].Data, &entry))
	assert.Equal(t, domain.ActivityRunStarted, entry.Type)
	assert.Equal(t, "thread-42", entry.SubjectID)
}

func TestSinceErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Since(ctx, "bogus", 0)
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	_, err = f.svc.Since(ctx, protocol.RunEventsChannel("missing"), 0)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = f.svc.Changed("bogus")
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
}

func TestChangedSignalsNewEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	run, err := f.svc.Start(ctx, "thread-42")
	require.NoError(t, err)

	runChanged, err := f.svc.Changed(protocol.RunEventsChannel(run.ID))
	require.NoError(t, err)
	activityChanged, err := f.svc.Changed(protocol.ActivityChannel)
	require.NoError(t, err)

	f.clock.Advance(time.Second)

	select {
	case <-runChanged:
	default:
		t.Fatal("run channel not signalled")
	}

	select {
	case <-activityChanged:
		t.Fatal("activity signalled without a new entry")
	default:
	}

	_, err = f.svc.Cancel(ctx, run.ID)
	require.NoError(t, err)
	select {
	case <-activityChanged:
	default:
		t.Fatal("activity channel not signalled")
	}
}
