package live

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xiaot623/quorum/internal/domain"
	"github.com/xiaot623/quorum/internal/protocol"
)

// PollTransport reads a channel from the polling endpoint at a fixed
// interval.
type PollTransport struct {
	baseURL  string
	interval time.Duration
	// followServer adopts the interval advertised in poll responses.
	followServer bool
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewPollTransport creates a poll transport for an http:// or https:// base URL.
func NewPollTransport(baseURL string, interval time.Duration, httpClient *http.Client, logger *slog.Logger) *PollTransport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PollTransport{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		interval:   interval,
		httpClient: httpClient,
		logger:     logger.With("component", "live.poll"),
	}
}

// Subscribe implements Transport.
func (t *PollTransport) Subscribe(channel string, onPayload PayloadFunc, onError ErrorFunc) func() {
	return t.SubscribeFrom(channel, 0, onPayload, onError)
}

// SubscribeFrom implements Transport.
func (t *PollTransport) SubscribeFrom(channel string, afterSeq int64, onPayload PayloadFunc, onError ErrorFunc) func() {
	sub := newSubscription(channel, afterSeq, onPayload, onError)
	go t.run(sub)
	return sub.unsubscribe
}

func (t *PollTransport) run(sub *subscription) {
	interval := t.interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		resp, err := t.poll(sub.ctx, sub.channel, sub.lastSeq)
		if err != nil {
			sub.fail(err)
			return
		}
		for _, p := range resp.Payloads {
			sub.deliver(p)
		}
		if advertised := time.Duration(resp.PollIntervalMs) * time.Millisecond; t.followServer && advertised > 0 && advertised != interval {
			t.logger.Debug("adopting server poll interval", "channel", sub.channel, "interval", advertised)
			interval = advertised
			ticker.Reset(interval)
		}

		select {
		case <-sub.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll fetches one page of payloads after afterSeq.
func (t *PollTransport) poll(ctx context.Context, channel string, afterSeq int64) (*protocol.PollResponse, *Error) {
	q := url.Values{}
	q.Set("channel", channel)
	q.Set("after_seq", strconv.FormatInt(afterSeq, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/v1/live/poll?"+q.Encode(), nil)
	if err != nil {
		return nil, &Error{Channel: channel, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Channel: channel, Retryable: true, Err: fmt.Errorf("poll: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(body))
		var errResp domain.ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		return nil, &Error{
			Channel:   channel,
			Retryable: resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests,
			Err:       fmt.Errorf("poll returned status %d: %s", resp.StatusCode, msg),
		}
	}

	var pollResp protocol.PollResponse
	if err := json.NewDecoder(resp.Body).Decode(&pollResp); err != nil {
		return nil, &Error{Channel: channel, Retryable: true, Err: fmt.Errorf("failed to decode poll response: %w", err)}
	}
	return &pollResp, nil
}
