package live

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Mode is the delivery mechanism selected for a Client.
type Mode string

const (
	ModePush Mode = "push"
	ModePoll Mode = "poll"
)

// Options configures New.
type Options struct {
	// BaseURL is the server's http:// or https:// address.
	BaseURL string
	// DisablePush forces polling.
	DisablePush bool
	// PollInterval fixes the polling interval. When zero the client starts
	// at one second and then follows the interval the server advertises.
	PollInterval time.Duration
	// ProbeTimeout bounds the push capability probe. Defaults to five seconds.
	ProbeTimeout time.Duration

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *slog.Logger
}

// Client is a Transport whose mode was chosen by a capability probe.
type Client struct {
	Transport
	mode Mode
}

// New probes the server for WebSocket support and returns a client using
// push when the handshake succeeds and polling otherwise.
func New(ctx context.Context, opts Options) (*Client, error) {
	base, err := parseBase(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	followServer := opts.PollInterval <= 0
	if followServer {
		opts.PollInterval = time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pollTransport := NewPollTransport(base.String(), opts.PollInterval, opts.HTTPClient, logger)
	pollTransport.followServer = followServer
	poll := &Client{Transport: pollTransport, mode: ModePoll}
	if opts.DisablePush {
		return poll, nil
	}

	push := NewPushTransport(WebSocketURL(base), opts.Dialer, logger)
	probeCtx, cancel := context.WithTimeout(ctx, opts.ProbeTimeout)
	defer cancel()
	if err := push.Probe(probeCtx); err != nil {
		logger.Info("push unavailable, falling back to polling", "error", err, "interval", opts.PollInterval)
		return poll, nil
	}
	return &Client{Transport: push, mode: ModePush}, nil
}

// Mode returns the selected delivery mechanism.
func (c *Client) Mode() Mode {
	return c.mode
}

func parseBase(raw string) (*url.URL, error) {
	base, err := url.Parse(strings.TrimSuffix(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", raw)
	}
	return base, nil
}

// WebSocketURL returns the push endpoint for a server base URL.
func WebSocketURL(base *url.URL) string {
	u := *base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = ""
	return u.String()
}
