// Package live delivers the payloads of a live channel to a subscriber,
// over a WebSocket push stream when the server offers one and by polling
// at a fixed interval otherwise.
package live

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/xiaot623/quorum/internal/protocol"
)

// PayloadFunc receives payloads in source order.
type PayloadFunc func(protocol.Payload)

// ErrorFunc receives the error that ended a subscription.
type ErrorFunc func(error)

// Transport delivers live channel payloads.
//
// onPayload is called from a single goroutine per subscription, in sequence
// order and never twice for the same seq. onError is called at most once,
// after which the subscription is torn down; resubscribing is up to the
// caller. The returned unsubscribe function stops all underlying work, is
// safe to call more than once and suppresses further callbacks.
type Transport interface {
	Subscribe(channel string, onPayload PayloadFunc, onError ErrorFunc) (unsubscribe func())
	// SubscribeFrom is Subscribe starting after a known sequence number,
	// used to resume without replaying payloads already seen.
	SubscribeFrom(channel string, afterSeq int64, onPayload PayloadFunc, onError ErrorFunc) (unsubscribe func())
}

// Error is delivered to onError when a subscription ends.
type Error struct {
	Channel string
	// Retryable reports whether subscribing again may succeed. Network
	// failures and server errors are retryable; an unknown channel is not.
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("live %s: %v", e.Channel, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// subscription is the state shared by both transports. lastSeq is owned by
// the worker goroutine.
type subscription struct {
	channel   string
	lastSeq   int64
	onPayload PayloadFunc
	onError   ErrorFunc

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	once   sync.Once
}

func newSubscription(channel string, afterSeq int64, onPayload PayloadFunc, onError ErrorFunc) *subscription {
	ctx, cancel := context.WithCancel(context.Background())
	if onPayload == nil {
		onPayload = func(protocol.Payload) {}
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &subscription{
		channel:   channel,
		lastSeq:   afterSeq,
		onPayload: onPayload,
		onError:   onError,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// deliver hands p to the subscriber unless it was already delivered or the
// subscription is closed.
func (s *subscription) deliver(p protocol.Payload) {
	if s.closed.Load() || p.Seq <= s.lastSeq {
		return
	}
	s.lastSeq = p.Seq
	s.onPayload(p)
}

// fail reports err and tears the subscription down. Errors caused by
// unsubscribing are not reported.
func (s *subscription) fail(err *Error) {
	if s.ctx.Err() != nil {
		return
	}
	first := false
	s.once.Do(func() {
		first = true
		s.closed.Store(true)
		s.cancel()
	})
	if first {
		s.onError(err)
	}
}

func (s *subscription) unsubscribe() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
	})
}
