package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h, cancel
}

func TestRegisterSubscribeUnregister(t *testing.T) {
	h, _ := startHub(t)

	a := h.NewConnection(nil)
	b := h.NewConnection(nil)
	require.NoError(t, h.Register(a))
	require.NoError(t, h.Register(b))
	assert.Eventually(t, func() bool { return h.GetConnectionCount() == 2 }, time.Second, 5*time.Millisecond)

	h.Subscribe(a, "activity")
	h.Subscribe(b, "activity")
	h.Subscribe(b, "runs/run_1/events")
	assert.Equal(t, 2, h.GetSubscriberCount("activity"))
	assert.Equal(t, 2, h.GetChannelCount())

	h.Unsubscribe(b, "runs/run_1/events")
	assert.Equal(t, 1, h.GetChannelCount())

	h.Unregister(a)
	select {
	case <-a.Done:
	case <-time.After(time.Second):
		t.Fatal("connection not closed")
	}
	assert.Error(t, a.Context().Err())
	assert.Equal(t, 1, h.GetConnectionCount())
	assert.Equal(t, 1, h.GetSubscriberCount("activity"))

	// Unregistering twice is harmless and late subscriptions are ignored.
	h.Unregister(a)
	h.Subscribe(a, "activity")
	assert.Equal(t, 1, h.GetSubscriberCount("activity"))
}

func TestHubShutdownClosesConnections(t *testing.T) {
	h, cancel := startHub(t)

	conn := h.NewConnection(nil)
	require.NoError(t, h.Register(conn))
	assert.Eventually(t, func() bool { return h.GetConnectionCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-conn.Done:
	case <-time.After(time.Second):
		t.Fatal("connection not closed on shutdown")
	}

	assert.True(t, errors.Is(h.Register(h.NewConnection(nil)), ErrClosed))
	h.Unregister(conn)
}

func TestEnqueue(t *testing.T) {
	h, _ := startHub(t)
	conn := h.NewConnection(nil)
	require.NoError(t, h.Register(conn))

	require.NoError(t, conn.Enqueue(context.Background(), map[string]string{"type": "subscribed"}))
	assert.JSONEq(t, `{"type":"subscribed"}`, string(<-conn.Send))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < cap(conn.Send); i++ {
		conn.Send <- []byte("{}")
	}
	assert.True(t, errors.Is(conn.Enqueue(ctx, "x"), context.Canceled))

	h.Unregister(conn)
	<-conn.Done
	assert.True(t, errors.Is(conn.Enqueue(context.Background(), "x"), ErrClosed))
}

func TestSubscriptions(t *testing.T) {
	conn := NewHub(nil).NewConnection(nil)

	cancelled := 0
	id, ok := conn.AddSubscription("activity", func() { cancelled++ })
	require.True(t, ok)
	_, ok = conn.AddSubscription("activity", func() {})
	assert.False(t, ok)
	assert.Equal(t, 1, conn.SubscriptionCount())

	assert.False(t, conn.RemoveSubscription("activity", id+1))
	assert.True(t, conn.RemoveSubscription("activity", id))
	assert.False(t, conn.RemoveSubscription("activity", 0))
	assert.Equal(t, 1, cancelled)
	assert.Equal(t, 0, conn.SubscriptionCount())
}
