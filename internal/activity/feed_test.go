package activity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/xiaot623/quorum/internal/domain"
)

func TestAppendAndSince(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	f := New(10, func() time.Time { return now })

	first := f.Append(domain.ActivityEntry{Type: domain.ActivityRunStarted, RunID: "run_1"})
	f.Append(domain.ActivityEntry{Type: domain.ActivityRunCompleted, RunID: "run_1"})

	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, now.UnixMilli(), first.Ts)
	assert.Equal(t, int64(2), f.LastSeq())

	entries := f.Since(1, 0)
	if assert.Len(t, entries, 1) {
		assert.Equal(t, domain.ActivityRunCompleted, entries[0].Type)
	}
	assert.Len(t, f.Since(0, 1), 1)
	assert.Empty(t, f.Since(2, 0))
}

func TestRingDropsOldest(t *testing.T) {
	f := New(3, nil)
	for i := 0; i < 5; i++ {
		f.Append(domain.ActivityEntry{Type: domain.ActivityContributionPosted})
	}

	entries := f.Since(0, 0)
	if assert.Len(t, entries, 3) {
		assert.Equal(t, int64(3), entries[0].Seq)
		assert.Equal(t, int64(5), entries[2].Seq)
	}
}

func TestChangedClosesOnAppend(t *testing.T) {
	f := New(3, nil)
	ch := f.Changed()

	select {
	case <-ch:
		t.Fatal("changed closed early")
	default:
	}

	f.Append(domain.ActivityEntry{Type: domain.ActivityRunStarted})

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("changed not closed")
	}
	assert.NotEqual(t, ch, f.Changed())
}
