// Package client provides an HTTP client for the orchestrator API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xiaot623/quorum/internal/domain"
)

// Client is an HTTP client for the orchestrator API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new orchestrator client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// BaseURL returns the server address the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError is returned for non-2xx responses. It unwraps to
// domain.ErrInvalidArgument or domain.ErrNotFound where the status maps.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("orchestrator returned status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return domain.ErrInvalidArgument
	case http.StatusNotFound:
		return domain.ErrNotFound
	}
	return nil
}

// Analyze calls POST /v1/subjects/:subject_id/analyze.
func (c *Client) Analyze(ctx context.Context, subjectID string) (*domain.AnalysisRun, error) {
	var run domain.AnalysisRun
	if err := c.do(ctx, http.MethodPost, "/v1/subjects/"+url.PathEscape(subjectID)+"/analyze", nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun calls GET /v1/runs/:run_id.
func (c *Client) GetRun(ctx context.Context, runID string) (*domain.AnalysisRun, error) {
	var run domain.AnalysisRun
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(runID), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListEvents calls GET /v1/runs/:run_id/events.
func (c *Client) ListEvents(ctx context.Context, runID string, afterSeq int64) ([]domain.AnalysisEvent, error) {
	path := "/v1/runs/" + url.PathEscape(runID) + "/events"
	if afterSeq > 0 {
		path += "?after_seq=" + strconv.FormatInt(afterSeq, 10)
	}
	var resp domain.RunEventsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// ListRuns calls GET /v1/subjects/:subject_id/runs.
func (c *Client) ListRuns(ctx context.Context, subjectID string) ([]domain.AnalysisRun, error) {
	var resp domain.ListRunsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/subjects/"+url.PathEscape(subjectID)+"/runs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// CancelRun calls POST /v1/runs/:run_id/cancel.
func (c *Client) CancelRun(ctx context.Context, runID string) (*domain.AnalysisRun, error) {
	var run domain.AnalysisRun
	if err := c.do(ctx, http.MethodPost, "/v1/runs/"+url.PathEscape(runID)+"/cancel", nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Activity calls GET /v1/activity.
func (c *Client) Activity(ctx context.Context, afterSeq int64) ([]domain.ActivityEntry, error) {
	var resp domain.ActivityResponse
	path := "/v1/activity?after_seq=" + strconv.FormatInt(afterSeq, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// CreateThread calls POST /v1/threads.
func (c *Client) CreateThread(ctx context.Context, subjectID, title string) (*domain.Thread, error) {
	req := map[string]string{"subject_id": subjectID, "title": title}
	var thread domain.Thread
	if err := c.do(ctx, http.MethodPost, "/v1/threads", req, &thread); err != nil {
		return nil, err
	}
	return &thread, nil
}

// GetThread calls GET /v1/threads/:subject_id.
func (c *Client) GetThread(ctx context.Context, subjectID string) (*domain.ThreadResponse, error) {
	var resp domain.ThreadResponse
	if err := c.do(ctx, http.MethodGet, "/v1/threads/"+url.PathEscape(subjectID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListParticipants calls GET /v1/participants.
func (c *Client) ListParticipants(ctx context.Context) ([]domain.Participant, error) {
	var resp domain.ListParticipantsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/participants", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Participants, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to call orchestrator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		var errResp domain.ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
