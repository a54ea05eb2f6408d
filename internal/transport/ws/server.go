// Package ws serves live channels to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/metric"

	"github.com/xiaot623/quorum/internal/config"
	"github.com/xiaot623/quorum/internal/domain"
	"github.com/xiaot623/quorum/internal/hub"
	"github.com/xiaot623/quorum/internal/protocol"
	"github.com/xiaot623/quorum/internal/telemetry"
)

// Source provides the payloads of live channels.
type Source interface {
	Since(ctx context.Context, channel string, afterSeq int64) ([]protocol.Payload, error)
	Changed(channel string) (<-chan struct{}, error)
}

// Server handles WebSocket connections.
type Server struct {
	cfg           *config.Config
	hub           *hub.Hub
	source        Source
	upgrader      websocket.Upgrader
	logger        *slog.Logger
	subscriptions metric.Int64UpDownCounter
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, source Source, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	subs, err := telemetry.Meter("github.com/xiaot623/quorum/internal/transport/ws").Int64UpDownCounter(
		"quorum.live.subscriptions",
		metric.WithDescription("Open live channel subscriptions over WebSocket"))
	if err != nil {
		logger.Warn("failed to create subscriptions counter", "error", err)
	}
	return &Server{
		cfg:    cfg,
		hub:    h,
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:        logger.With("component", "ws"),
		subscriptions: subs,
	}
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", "error", err)
		return err
	}

	conn := s.hub.NewConnection(ws)
	if err := s.hub.Register(conn); err != nil {
		ws.Close()
		return nil
	}

	ws.SetReadLimit(s.cfg.WSMaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.WSReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.WSReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read failed", "conn_id", conn.ID, "error", err)
			}
			break
		}

		s.handleMessage(conn, message)
	}
}

// writePump writes queued messages and keepalive pings to the connection.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.WSPingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WSWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Warn("websocket write failed", "conn_id", conn.ID, "error", err)
				return
			}

		case <-conn.Done:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WSWriteTimeout))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WSWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming messages to appropriate handlers.
func (s *Server) handleMessage(conn *hub.Connection, data []byte) {
	var baseMsg protocol.BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch baseMsg.Type {
	case protocol.TypeSubscribe:
		s.handleSubscribe(conn, data)
	case protocol.TypeUnsubscribe:
		s.handleUnsubscribe(conn, data)
	default:
		s.sendError(conn, baseMsg.Channel, protocol.ErrorCodeInvalidMessage, "unknown message type: "+baseMsg.Type)
	}
}

// handleSubscribe starts a pump for the requested channel.
func (s *Server) handleSubscribe(conn *hub.Connection, data []byte) {
	var msg protocol.SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid subscribe message")
		return
	}
	if err := protocol.ValidateChannel(msg.Channel); err != nil {
		s.sendError(conn, msg.Channel, protocol.ErrorCodeUnknownChannel, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(conn.Context())
	id, ok := conn.AddSubscription(msg.Channel, cancel)
	if !ok {
		cancel()
		s.sendError(conn, msg.Channel, protocol.ErrorCodeInvalidMessage, "already subscribed")
		return
	}
	s.hub.Subscribe(conn, msg.Channel)
	s.addSubscriptions(1)

	go s.pump(ctx, conn, msg.Channel, id, msg.AfterSeq)
}

// handleUnsubscribe stops the pump of a channel, if any.
func (s *Server) handleUnsubscribe(conn *hub.Connection, data []byte) {
	var msg protocol.UnsubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid unsubscribe message")
		return
	}
	s.endSubscription(conn, msg.Channel, 0)
}

func (s *Server) endSubscription(conn *hub.Connection, channel string, id uint64) {
	if conn.RemoveSubscription(channel, id) {
		s.hub.Unsubscribe(conn, channel)
		s.addSubscriptions(-1)
	}
}

// pump streams one channel to one connection. It reads the source from a
// cursor and sleeps on the source's change signal, so payloads go out in
// source order with no gaps or repeats.
func (s *Server) pump(ctx context.Context, conn *hub.Connection, channel string, id uint64, afterSeq int64) {
	defer s.endSubscription(conn, channel, id)

	cursor := afterSeq
	acked := false
	for {
		// Take the signal before reading so an append between the read and
		// the wait still wakes us.
		changed, err := s.source.Changed(channel)
		if err != nil {
			s.sendSourceError(ctx, conn, channel, err)
			return
		}
		payloads, err := s.source.Since(ctx, channel, cursor)
		if err != nil {
			s.sendSourceError(ctx, conn, channel, err)
			return
		}

		if !acked {
			ack := protocol.SubscribedMessage{BaseMessage: protocol.BaseMessage{
				Type:    protocol.TypeSubscribed,
				Ts:      time.Now().UnixMilli(),
				Channel: channel,
			}}
			if err := conn.Enqueue(ctx, ack); err != nil {
				return
			}
			acked = true
		}

		for _, p := range payloads {
			msg := protocol.PayloadMessage{
				BaseMessage: protocol.BaseMessage{
					Type:    protocol.TypePayload,
					Ts:      time.Now().UnixMilli(),
					Channel: channel,
				},
				Seq:  p.Seq,
				Data: p.Data,
			}
			if err := conn.Enqueue(ctx, msg); err != nil {
				return
			}
			cursor = p.Seq
		}

		select {
		case <-ctx.Done():
			return
		case <-changed:
		}
	}
}

func (s *Server) sendSourceError(ctx context.Context, conn *hub.Connection, channel string, err error) {
	if ctx.Err() != nil {
		return
	}
	code := protocol.ErrorCodeInternalError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		code = protocol.ErrorCodeNotFound
	case errors.Is(err, domain.ErrInvalidArgument):
		code = protocol.ErrorCodeUnknownChannel
	default:
		s.logger.Error("live source failed", "channel", channel, "error", err)
	}
	s.sendError(conn, channel, code, err.Error())
}

// sendError sends an error message to a connection.
func (s *Server) sendError(conn *hub.Connection, channel, code, message string) {
	errMsg := protocol.ErrorMessage{
		BaseMessage: protocol.BaseMessage{
			Type:    protocol.TypeError,
			Ts:      time.Now().UnixMilli(),
			Channel: channel,
		},
		Code:    code,
		Message: message,
	}
	ctx, cancel := context.WithTimeout(conn.Context(), s.cfg.WSWriteTimeout)
	defer cancel()
	if err := conn.Enqueue(ctx, errMsg); err != nil {
		s.logger.Debug("dropped error message", "conn_id", conn.ID, "code", code, "error", err)
	}
}

func (s *Server) addSubscriptions(n int64) {
	if s.subscriptions != nil {
		s.subscriptions.Add(context.Background(), n)
	}
}
