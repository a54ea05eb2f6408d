package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/quorum/internal/config"
	"github.com/xiaot623/quorum/internal/domain"
	"github.com/xiaot623/quorum/internal/hub"
	"github.com/xiaot623/quorum/internal/protocol"
	"github.com/xiaot623/quorum/tests/helpers"
)

type fakeSource struct {
	mu       sync.Mutex
	payloads map[string][]protocol.Payload
	changed  map[string]chan struct{}
}

func newFakeSource(channels ...string) *fakeSource {
	f := &fakeSource{payloads: map[string][]protocol.Payload{}, changed: map[string]chan struct{}{}}
	for _, ch := range channels {
		f.payloads[ch] = nil
		f.changed[ch] = make(chan struct{})
	}
	return f
}

func (f *fakeSource) append(channel string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		seq := int64(len(f.payloads[channel]) + 1)
		f.payloads[channel] = append(f.payloads[channel], protocol.Payload{
			Channel: channel,
			Seq:     seq,
			Data:    json.RawMessage(fmt.Sprintf(`{"n":%d}`, seq)),
		})
	}
	close(f.changed[channel])
	f.changed[channel] = make(chan struct{})
}

func (f *fakeSource) Since(_ context.Context, channel string, afterSeq int64) ([]protocol.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all, ok := f.payloads[channel]
	if !ok {
		return nil, fmt.Errorf("channel %s: %w", channel, domain.ErrNotFound)
	}
	var out []protocol.Payload
	for _, p := range all {
		if p.Seq > afterSeq {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeSource) Changed(channel string) (<-chan struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.changed[channel]
	if !ok {
		return nil, fmt.Errorf("channel %s: %w", channel, domain.ErrNotFound)
	}
	return ch, nil
}

func testConfig() *config.Config {
	return &config.Config{
		WSPingInterval:   time.Second,
		WSWriteTimeout:   time.Second,
		WSReadTimeout:    5 * time.Second,
		WSMaxMessageSize: 65536,
	}
}

func startServer(t *testing.T, source Source) (*hub.Hub, string) {
	t.Helper()
	h := hub.NewHub(helpers.DiscardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	srv := NewServer(testConfig(), h, source, helpers.DiscardLogger())
	e := echo.New()
	e.GET("/ws", srv.HandleWebSocket)
	ts := httptest.NewServer(e)
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return h, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Seq     int64           `json:"seq"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestSubscribeStreamsBacklogThenLive(t *testing.T) {
	channel := protocol.RunEventsChannel("run_1")
	source := newFakeSource(channel)
	source.append(channel, 3)
	h, url := startServer(t, source)

	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(protocol.SubscribeMessage{
		BaseMessage: protocol.BaseMessage{Type: protocol.TypeSubscribe, Channel: channel},
		AfterSeq:    1,
	}))

	ack := readFrame(t, conn)
	assert.Equal(t, protocol.TypeSubscribed, ack.Type)
	assert.Equal(t, channel, ack.Channel)

	assert.Equal(t, int64(2), readFrame(t, conn).Seq)
	assert.Equal(t, int64(3), readFrame(t, conn).Seq)

	source.append(channel, 2)
	for want := int64(4); want <= 5; want++ {
		f := readFrame(t, conn)
		assert.Equal(t, protocol.TypePayload, f.Type)
		assert.Equal(t, want, f.Seq)
		assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, want), string(f.Data))
	}
	assert.Eventually(t, func() bool { return h.GetSubscriberCount(channel) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(protocol.UnsubscribeMessage{
		BaseMessage: protocol.BaseMessage{Type: protocol.TypeUnsubscribe, Channel: channel},
	}))
	assert.Eventually(t, func() bool { return h.GetSubscriberCount(channel) == 0 }, time.Second, 5*time.Millisecond)
}

func TestSubscribeErrors(t *testing.T) {
	source := newFakeSource(protocol.ActivityChannel)
	_, url := startServer(t, source)
	conn := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, protocol.ErrorCodeInvalidMessage, readFrame(t, conn).Code)

	require.NoError(t, conn.WriteJSON(protocol.BaseMessage{Type: "hello"}))
	assert.Equal(t, protocol.ErrorCodeInvalidMessage, readFrame(t, conn).Code)

	require.NoError(t, conn.WriteJSON(protocol.SubscribeMessage{
		BaseMessage: protocol.BaseMessage{Type: protocol.TypeSubscribe, Channel: "weather"},
	}))
	f := readFrame(t, conn)
	assert.Equal(t, protocol.TypeError, f.Type)
	assert.Equal(t, protocol.ErrorCodeUnknownChannel, f.Code)

	require.NoError(t, conn.WriteJSON(protocol.SubscribeMessage{
		BaseMessage: protocol.BaseMessage{Type: protocol.TypeSubscribe, Channel: protocol.RunEventsChannel("missing")},
	}))
	f = readFrame(t, conn)
	assert.Equal(t, protocol.ErrorCodeNotFound, f.Code)
	assert.Equal(t, protocol.RunEventsChannel("missing"), f.Channel)
}

func TestDuplicateSubscribeIsRejected(t *testing.T) {
	source := newFakeSource(protocol.ActivityChannel)
	_, url := startServer(t, source)
	conn := dial(t, url)

	sub := protocol.SubscribeMessage{BaseMessage: protocol.BaseMessage{Type: protocol.TypeSubscribe, Channel: protocol.ActivityChannel}}
	require.NoError(t, conn.WriteJSON(sub))
	assert.Equal(t, protocol.TypeSubscribed, readFrame(t, conn).Type)

	require.NoError(t, conn.WriteJSON(sub))
	assert.Equal(t, protocol.ErrorCodeInvalidMessage, readFrame(t, conn).Code)
}

func TestDisconnectReleasesSubscriptions(t *testing.T) {
	source := newFakeSource(protocol.ActivityChannel)
	h, url := startServer(t, source)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(protocol.SubscribeMessage{
		BaseMessage: protocol.BaseMessage{Type: protocol.TypeSubscribe, Channel: protocol.ActivityChannel},
	}))
	assert.Equal(t, protocol.TypeSubscribed, readFrame(t, conn).Type)
	assert.Eventually(t, func() bool { return h.GetConnectionCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool {
		return h.GetConnectionCount() == 0 && h.GetChannelCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
