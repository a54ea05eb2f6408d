package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xiaot623/quorum/internal/protocol"
)

// PushTransport subscribes over the server's WebSocket endpoint. Each
// subscription owns one connection.
type PushTransport struct {
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewPushTransport creates a push transport for a ws:// or wss:// URL.
func NewPushTransport(url string, dialer *websocket.Dialer, logger *slog.Logger) *PushTransport {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PushTransport{url: url, dialer: dialer, logger: logger.With("component", "live.push")}
}

// Probe checks that the endpoint accepts a WebSocket handshake.
func (t *PushTransport) Probe(ctx context.Context) error {
	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return err
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return conn.Close()
}

// Subscribe implements Transport.
func (t *PushTransport) Subscribe(channel string, onPayload PayloadFunc, onError ErrorFunc) func() {
	return t.SubscribeFrom(channel, 0, onPayload, onError)
}

// SubscribeFrom implements Transport.
func (t *PushTransport) SubscribeFrom(channel string, afterSeq int64, onPayload PayloadFunc, onError ErrorFunc) func() {
	sub := newSubscription(channel, afterSeq, onPayload, onError)
	go t.run(sub)
	return sub.unsubscribe
}

// inbound is any server-to-client message.
type inbound struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Seq     int64           `json:"seq"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
}

func (t *PushTransport) run(sub *subscription) {
	conn, _, err := t.dialer.DialContext(sub.ctx, t.url, nil)
	if err != nil {
		sub.fail(&Error{Channel: sub.channel, Retryable: true, Err: fmt.Errorf("dial: %w", err)})
		return
	}
	defer conn.Close()

	// Unblock the read loop on unsubscribe.
	stop := context.AfterFunc(sub.ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	err = conn.WriteJSON(protocol.SubscribeMessage{
		BaseMessage: protocol.BaseMessage{
			Type:    protocol.TypeSubscribe,
			Ts:      time.Now().UnixMilli(),
			Channel: sub.channel,
		},
		AfterSeq: sub.lastSeq,
	})
	if err != nil {
		sub.fail(&Error{Channel: sub.channel, Retryable: true, Err: fmt.Errorf("write subscribe: %w", err)})
		return
	}

	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				t.logger.Warn("ignoring malformed message", "channel", sub.channel, "error", err)
				continue
			}
			sub.fail(&Error{Channel: sub.channel, Retryable: true, Err: fmt.Errorf("read: %w", err)})
			return
		}
		if msg.Channel != "" && msg.Channel != sub.channel {
			continue
		}

		switch msg.Type {
		case protocol.TypeSubscribed:
			t.logger.Debug("subscribed", "channel", sub.channel, "after_seq", sub.lastSeq)
		case protocol.TypePayload:
			sub.deliver(protocol.Payload{Channel: sub.channel, Seq: msg.Seq, Data: msg.Data})
		case protocol.TypeError:
			sub.fail(&Error{
				Channel:   sub.channel,
				Retryable: retryableCode(msg.Code),
				Err:       fmt.Errorf("%s: %s", msg.Code, msg.Message),
			})
			return
		}
	}
}

func retryableCode(code string) bool {
	switch code {
	case protocol.ErrorCodeUnknownChannel, protocol.ErrorCodeNotFound, protocol.ErrorCodeInvalidMessage:
		return false
	}
	return true
}
