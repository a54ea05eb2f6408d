package v1

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/quorum/internal/domain"
	"github.com/xiaot623/quorum/internal/protocol"
)

// sseKeepalive is how often an idle event stream writes a comment line.
const sseKeepalive = 15 * time.Second

// Analyze starts an analysis run for a subject.
// POST /v1/subjects/:subject_id/analyze
func (h *Handler) Analyze(c echo.Context) error {
	run, err := h.service.Start(c.Request().Context(), c.Param("subject_id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, run)
}

// ListRuns lists a subject's runs, newest first.
// GET /v1/subjects/:subject_id/runs
func (h *Handler) ListRuns(c echo.Context) error {
	subjectID := c.Param("subject_id")
	runs, err := h.service.ListRuns(c.Request().Context(), subjectID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, domain.ListRunsResponse{SubjectID: subjectID, Runs: runs})
}

// GetRun retrieves a run.
// GET /v1/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.service.Get(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// GetRunEvents retrieves events for a run, optionally after a sequence number.
// GET /v1/runs/:run_id/events?after_seq=
func (h *Handler) GetRunEvents(c echo.Context) error {
	runID := c.Param("run_id")
	afterSeq, ok := queryInt64(c, "after_seq")
	if !ok {
		return badRequest(c, "after_seq must be a non-negative integer")
	}

	events, err := h.service.EventsSince(c.Request().Context(), runID, afterSeq)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, domain.RunEventsResponse{RunID: runID, Events: events})
}

// CancelRun cancels a run. Cancelling a finished run returns it unchanged.
// POST /v1/runs/:run_id/cancel
func (h *Handler) CancelRun(c echo.Context) error {
	run, err := h.service.Cancel(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// StreamRunEvents streams a run's events via SSE.
// GET /v1/runs/:run_id/events/stream
//
// The stream ends once the run is terminal and every one of its events has
// been sent. Clients resume with after_seq or the Last-Event-ID header.
func (h *Handler) StreamRunEvents(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	cursor, ok := queryInt64(c, "after_seq")
	if !ok {
		return badRequest(c, "after_seq must be a non-negative integer")
	}
	if last := c.Request().Header.Get("Last-Event-ID"); last != "" {
		if v, err := strconv.ParseInt(last, 10, 64); err == nil && v > cursor {
			cursor = v
		}
	}

	// Validate run exists
	if _, err := h.service.Get(ctx, runID); err != nil {
		return h.writeError(c, err)
	}

	// Set SSE headers
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	flush(c)

	channel := protocol.RunEventsChannel(runID)
	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		// Status first: once it reads terminal, the log below is complete.
		run, err := h.service.Get(ctx, runID)
		if err != nil {
			h.logger.Info("event stream ended, run no longer retained", "run_id", runID)
			return nil
		}
		changed, err := h.service.Changed(channel)
		if err != nil {
			return nil
		}
		events, err := h.service.EventsSince(ctx, runID, cursor)
		if err != nil {
			return nil
		}

		for _, event := range events {
			if err := writeSSEEvent(c, event); err != nil {
				h.logger.Warn("failed to send SSE event", "run_id", runID, "error", err)
				return nil
			}
			cursor = event.Seq
		}
		flush(c)

		if run.Status.IsTerminal() {
			h.logger.Info("run reached terminal state", "run_id", runID, "status", run.Status)
			return nil
		}

		select {
		case <-ctx.Done():
			// Client disconnected
			return nil
		case <-changed:
		case <-keepalive.C:
			if _, err := fmt.Fprint(c.Response().Writer, ": keepalive\n\n"); err != nil {
				return nil
			}
			flush(c)
		}
	}
}

// writeSSEEvent writes a single event in SSE format.
func writeSSEEvent(c echo.Context, event domain.AnalysisEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(c.Response().Writer, "id: %d\nevent: %s\ndata: %s\n\n", event.Seq, event.Kind(), data)
	return err
}

func flush(c echo.Context) {
	if flusher, ok := c.Response().Writer.(http.Flusher); ok {
		flusher.Flush()
	}
}
