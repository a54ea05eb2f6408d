// Package protocol defines the live update wire protocol shared by the
// websocket server, the polling endpoint and the live transport client.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message types from client to server
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
)

// Message types from server to client
const (
	TypeSubscribed = "subscribed"
	TypePayload    = "payload"
	TypeError      = "error"
)

// ActivityChannel is the channel name of the live activity feed.
const ActivityChannel = "activity"

const runChannelPrefix = "runs/"
const runChannelSuffix = "/events"

// RunEventsChannel returns the channel name carrying a run's events.
func RunEventsChannel(runID string) string {
	return runChannelPrefix + runID + runChannelSuffix
}

// ParseRunEventsChannel extracts the run id from a run events channel name.
func ParseRunEventsChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, runChannelPrefix) || !strings.HasSuffix(channel, runChannelSuffix) {
		return "", false
	}
	runID := strings.TrimSuffix(strings.TrimPrefix(channel, runChannelPrefix), runChannelSuffix)
	if runID == "" || strings.Contains(runID, "/") {
		return "", false
	}
	return runID, true
}

// ValidateChannel checks that a channel name is one the server can serve.
func ValidateChannel(channel string) error {
	if channel == ActivityChannel {
		return nil
	}
	if _, ok := ParseRunEventsChannel(channel); ok {
		return nil
	}
	return fmt.Errorf("unknown channel %q", channel)
}

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type    string `json:"type"`
	Ts      int64  `json:"ts"`
	Channel string `json:"channel,omitempty"`
}

// SubscribeMessage is sent by the client to start receiving a channel.
// Payloads with seq <= AfterSeq are not replayed.
type SubscribeMessage struct {
	BaseMessage
	AfterSeq int64 `json:"after_seq"`
}

// UnsubscribeMessage is sent by the client to stop receiving a channel.
type UnsubscribeMessage struct {
	BaseMessage
}

// SubscribedMessage acknowledges a subscription.
type SubscribedMessage struct {
	BaseMessage
}

// Payload is one item of a channel, in source order.
type Payload struct {
	Channel string          `json:"channel"`
	Seq     int64           `json:"seq"`
	Data    json.RawMessage `json:"data"`
}

// PayloadMessage carries a single payload to the client.
type PayloadMessage struct {
	BaseMessage
	Seq  int64           `json:"seq"`
	Data json.RawMessage `json:"data"`
}

// ErrorMessage is sent by the server when an error occurs.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PollResponse is the body returned by the polling endpoint.
type PollResponse struct {
	Channel  string    `json:"channel"`
	Payloads []Payload `json:"payloads"`
	// PollIntervalMs is the polling interval the server asks clients to use.
	PollIntervalMs int64 `json:"poll_interval_ms,omitempty"`
}

// Error codes
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeUnknownChannel = "unknown_channel"
	ErrorCodeNotFound       = "not_found"
	ErrorCodeInternalError  = "internal_error"
)
