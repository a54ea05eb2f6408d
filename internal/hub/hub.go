// Package hub provides connection management for WebSocket clients.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrClosed is returned when writing to a connection that has been unregistered.
var ErrClosed = errors.New("connection closed")

// Connection represents a single WebSocket connection.
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	// Done is closed once the hub has unregistered the connection.
	Done chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	subMu   sync.Mutex
	subs    map[string]subscription
	nextSub uint64
}

type subscription struct {
	id     uint64
	cancel context.CancelFunc
}

// Hub manages all WebSocket connections and the channels they follow.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// Channels maps a live channel to the set of subscribed connection IDs
	channels map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	quit       chan struct{}

	logger *slog.Logger
	mu     sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		connections: make(map[string]*Connection),
		channels:    make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		quit:        make(chan struct{}),
		logger:      logger.With("component", "hub"),
	}
}

// Run processes registrations until ctx is done, then closes every
// remaining connection.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.quit)
		h.mu.Lock()
		for id, conn := range h.connections {
			h.removeLocked(id, conn)
		}
		h.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			h.mu.Unlock()
			h.logger.Debug("connection registered", "conn_id", conn.ID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				h.removeLocked(conn.ID, conn)
			}
			h.mu.Unlock()
			h.logger.Debug("connection unregistered", "conn_id", conn.ID)
		}
	}
}

func (h *Hub) removeLocked(id string, conn *Connection) {
	delete(h.connections, id)
	for channel, ids := range h.channels {
		delete(ids, id)
		if len(ids) == 0 {
			delete(h.channels, channel)
		}
	}
	conn.cancel()
	close(conn.Done)
}

// NewConnection wraps a WebSocket in a connection. It is not tracked until
// Register is called.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		ID:     uuid.New().String(),
		Conn:   ws,
		Send:   make(chan []byte, 256),
		Done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]subscription),
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) error {
	select {
	case h.register <- conn:
		return nil
	case <-h.quit:
		return ErrClosed
	}
}

// Unregister unregisters a connection from the hub. It is safe to call more
// than once.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.quit:
	}
}

// Subscribe records that a connection follows a channel.
func (h *Hub) Subscribe(conn *Connection, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-conn.Done:
		return
	default:
	}
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[string]bool)
	}
	h.channels[channel][conn.ID] = true
}

// Unsubscribe records that a connection no longer follows a channel.
func (h *Hub) Unsubscribe(conn *Connection, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ids := h.channels[channel]; ids != nil {
		delete(ids, conn.ID)
		if len(ids) == 0 {
			delete(h.channels, channel)
		}
	}
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// GetChannelCount returns the number of channels with at least one subscriber.
func (h *Hub) GetChannelCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}

// GetSubscriberCount returns the number of connections following a channel.
func (h *Hub) GetSubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Context is cancelled when the connection is unregistered.
func (c *Connection) Context() context.Context {
	return c.ctx
}

// Enqueue queues a JSON message for the write pump, waiting for buffer
// space. Messages queued by one goroutine are written in order.
func (c *Connection) Enqueue(ctx context.Context, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.Send <- data:
		return nil
	case <-c.Done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddSubscription records a channel subscription and its cancel function.
// It returns false if the connection already follows the channel.
func (c *Connection) AddSubscription(channel string, cancel context.CancelFunc) (uint64, bool) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if _, ok := c.subs[channel]; ok {
		return 0, false
	}
	c.nextSub++
	c.subs[channel] = subscription{id: c.nextSub, cancel: cancel}
	return c.nextSub, true
}

// RemoveSubscription cancels and forgets a channel subscription. A non-zero
// id only removes that particular subscription.
func (c *Connection) RemoveSubscription(channel string, id uint64) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	sub, ok := c.subs[channel]
	if !ok || (id != 0 && sub.id != id) {
		return false
	}
	delete(c.subs, channel)
	sub.cancel()
	return true
}

// SubscriptionCount returns the number of channels the connection follows.
func (c *Connection) SubscriptionCount() int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.subs)
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the underlying socket.
func (c *Connection) Close() error {
	return c.Conn.Close()
}
