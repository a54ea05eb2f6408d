package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/quorum/internal/domain"
	"github.com/xiaot623/quorum/internal/protocol"
)

// GetActivity reads the live activity feed.
// GET /v1/activity?after_seq=&limit=
func (h *Handler) GetActivity(c echo.Context) error {
	afterSeq, ok := queryInt64(c, "after_seq")
	if !ok {
		return badRequest(c, "after_seq must be a non-negative integer")
	}
	limit, ok := queryInt64(c, "limit")
	if !ok {
		return badRequest(c, "limit must be a non-negative integer")
	}
	return c.JSON(http.StatusOK, domain.ActivityResponse{
		Entries: h.service.Activity(afterSeq, int(limit)),
	})
}

// PollChannel returns the payloads of a live channel after a sequence
// number. It backs the polling mode of the live update transport.
// GET /v1/live/poll?channel=&after_seq=
func (h *Handler) PollChannel(c echo.Context) error {
	channel := c.QueryParam("channel")
	if channel == "" {
		return badRequest(c, "channel is required")
	}
	afterSeq, ok := queryInt64(c, "after_seq")
	if !ok {
		return badRequest(c, "after_seq must be a non-negative integer")
	}

	payloads, err := h.service.Since(c.Request().Context(), channel, afterSeq)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, protocol.PollResponse{
		Channel:        channel,
		Payloads:       payloads,
		PollIntervalMs: h.service.PollInterval().Milliseconds(),
	})
}
