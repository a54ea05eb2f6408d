package live

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/quorum/internal/protocol"
	transporthttp "github.com/xiaot623/quorum/internal/transport/http"
	"github.com/xiaot623/quorum/internal/transport/ws"
	"github.com/xiaot623/quorum/tests/harness"
	"github.com/xiaot623/quorum/tests/helpers"
)

type testServer struct {
	*harness.Harness
	URL   string
	polls atomic.Int64
}

func startServer(t *testing.T, withPush bool) *testServer {
	t.Helper()
	hs := harness.New(t)
	wsServer := ws.NewServer(hs.Config, hs.Hub, hs.Service, helpers.DiscardLogger())
	srv := transporthttp.NewServer(hs.Service, hs.Store, hs.Hub, wsServer, helpers.DiscardLogger())

	s := &testServer{Harness: hs}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/live/poll":
			s.polls.Add(1)
		case "/ws":
			if !withPush {
				http.NotFound(w, r)
				return
			}
		}
		srv.Echo().ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)
	s.URL = ts.URL
	return s
}

func newClient(t *testing.T, s *testServer, disablePush bool) *Client {
	t.Helper()
	c, err := New(context.Background(), Options{
		BaseURL:      s.URL,
		DisablePush:  disablePush,
		PollInterval: 10 * time.Millisecond,
		ProbeTimeout: time.Second,
		Logger:       helpers.DiscardLogger(),
	})
	require.NoError(t, err)
	return c
}

type collector struct {
	mu       sync.Mutex
	payloads []protocol.Payload
	errs     []error
}

func (c *collector) onPayload(p protocol.Payload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, p)
}

func (c *collector) onError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *collector) seqs() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, 0, len(c.payloads))
	for _, p := range c.payloads {
		out = append(out, p.Seq)
	}
	return out
}

func (c *collector) errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.errs...)
}

func TestNewSelectsMode(t *testing.T) {
	withPush := startServer(t, true)
	assert.Equal(t, ModePush, newClient(t, withPush, false).Mode())
	assert.Equal(t, ModePoll, newClient(t, withPush, true).Mode())

	withoutPush := startServer(t, false)
	assert.Equal(t, ModePoll, newClient(t, withoutPush, false).Mode())
}

func TestPollFollowsServerInterval(t *testing.T) {
	s := startServer(t, false)
	c, err := New(context.Background(), Options{
		BaseURL:      s.URL,
		DisablePush:  true,
		ProbeTimeout: time.Second,
		Logger:       helpers.DiscardLogger(),
	})
	require.NoError(t, err)

	var col collector
	unsubscribe := c.Subscribe(protocol.ActivityChannel, col.onPayload, col.onError)
	defer unsubscribe()

	// The client starts at one second; the server asks for 20ms.
	require.Eventually(t, func() bool { return s.polls.Load() >= 5 }, 800*time.Millisecond, 10*time.Millisecond)
	assert.Empty(t, col.errors())
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := New(context.Background(), Options{BaseURL: "ws://localhost:8080"})
	assert.Error(t, err)

	_, err = New(context.Background(), Options{BaseURL: "::"})
	assert.Error(t, err)
}

func TestWebSocketURL(t *testing.T) {
	c, err := New(context.Background(), Options{BaseURL: "http://127.0.0.1:1", DisablePush: true})
	require.NoError(t, err)
	assert.Equal(t, ModePoll, c.Mode())

	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws"},
		{"https://example.com/api/", "wss://example.com/api/ws"},
	}
	for _, tt := range tests {
		u, err := parseBase(tt.base)
		require.NoError(t, err)
		assert.Equal(t, tt.want, WebSocketURL(u))
	}
}

func TestRunEventsMatchListEventsInBothModes(t *testing.T) {
	for _, disablePush := range []bool{false, true} {
		name := "push"
		if disablePush {
			name = "poll"
		}
		t.Run(name, func(t *testing.T) {
			s := startServer(t, true)
			client := newClient(t, s, disablePush)

			run, err := s.Service.Start(context.Background(), "thread-42")
			require.NoError(t, err)
			s.Clock.Advance(2 * s.Config.StageInterval)

			var got collector
			unsubscribe := client.Subscribe(protocol.RunEventsChannel(run.ID), got.onPayload, got.onError)
			defer unsubscribe()

			assert.Eventually(t, func() bool { return len(got.seqs()) >= 3 }, 2*time.Second, 5*time.Millisecond)
			s.Finish()

			events, err := s.Service.ListEvents(context.Background(), run.ID)
			require.NoError(t, err)
			want := make([]int64, 0, len(events))
			for _, ev := range events {
				want = append(want, ev.Seq)
			}

			assert.Eventually(t, func() bool { return len(got.seqs()) == len(want) }, 2*time.Second, 5*time.Millisecond)
			assert.Equal(t, want, got.seqs())
			assert.Empty(t, got.errors())
		})
	}
}

func TestSubscribeFromSkipsSeenPayloads(t *testing.T) {
	s := startServer(t, true)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		run, err := s.Service.Start(ctx, "thread-42")
		require.NoError(t, err)
		_, err = s.Service.Cancel(ctx, run.ID)
		require.NoError(t, err)
	}

	for _, disablePush := range []bool{false, true} {
		var got collector
		unsubscribe := newClient(t, s, disablePush).SubscribeFrom(protocol.ActivityChannel, 4, got.onPayload, got.onError)
		assert.Eventually(t, func() bool { return len(got.seqs()) == 2 }, 2*time.Second, 5*time.Millisecond)
		unsubscribe()
		assert.Equal(t, []int64{5, 6}, got.seqs())
	}
}

func TestUnsubscribeStopsPolling(t *testing.T) {
	s := startServer(t, false)
	client := newClient(t, s, false)
	require.Equal(t, ModePoll, client.Mode())

	var got collector
	unsubscribe := client.Subscribe(protocol.ActivityChannel, got.onPayload, got.onError)
	assert.Eventually(t, func() bool { return s.polls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	unsubscribe()
	unsubscribe()
	time.Sleep(30 * time.Millisecond)
	settled := s.polls.Load()

	_, err := s.Service.Start(context.Background(), "thread-42")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, settled, s.polls.Load())
	assert.Empty(t, got.seqs())
	assert.Empty(t, got.errors())
}

func TestUnsubscribeClosesPushConnection(t *testing.T) {
	s := startServer(t, true)
	client := newClient(t, s, false)
	require.Equal(t, ModePush, client.Mode())
	assert.Eventually(t, func() bool { return s.Hub.GetConnectionCount() == 0 }, 2*time.Second, 5*time.Millisecond)

	var got collector
	unsubscribe := client.Subscribe(protocol.ActivityChannel, got.onPayload, got.onError)
	assert.Eventually(t, func() bool {
		return s.Hub.GetSubscriberCount(protocol.ActivityChannel) == 1
	}, 2*time.Second, 5*time.Millisecond)

	unsubscribe()
	unsubscribe()
	assert.Eventually(t, func() bool { return s.Hub.GetConnectionCount() == 0 }, 2*time.Second, 5*time.Millisecond)

	_, err := s.Service.Start(context.Background(), "thread-42")
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, got.seqs())
	assert.Empty(t, got.errors())
}

func TestUnknownRunReportsErrorOnce(t *testing.T) {
	for _, disablePush := range []bool{false, true} {
		s := startServer(t, true)
		var got collector
		unsubscribe := newClient(t, s, disablePush).Subscribe(protocol.RunEventsChannel("run_missing"), got.onPayload, got.onError)

		assert.Eventually(t, func() bool { return len(got.errors()) == 1 }, 2*time.Second, 5*time.Millisecond)
		time.Sleep(30 * time.Millisecond)
		unsubscribe()

		errs := got.errors()
		require.Len(t, errs, 1)
		var liveErr *Error
		require.True(t, errors.As(errs[0], &liveErr))
		assert.False(t, liveErr.Retryable)
		assert.Equal(t, protocol.RunEventsChannel("run_missing"), liveErr.Channel)
	}
}

func TestServerGoneIsRetryable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	base := ts.URL
	ts.Close()

	for _, transport := range []Transport{
		NewPollTransport(base, 10*time.Millisecond, nil, helpers.DiscardLogger()),
		NewPushTransport("ws"+base[len("http"):]+"/ws", nil, helpers.DiscardLogger()),
	} {
		var got collector
		unsubscribe := transport.Subscribe(protocol.ActivityChannel, got.onPayload, got.onError)
		assert.Eventually(t, func() bool { return len(got.errors()) == 1 }, 2*time.Second, 5*time.Millisecond)
		unsubscribe()

		var liveErr *Error
		require.True(t, errors.As(got.errors()[0], &liveErr))
		assert.True(t, liveErr.Retryable)
	}
}
