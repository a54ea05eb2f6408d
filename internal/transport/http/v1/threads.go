package v1

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/quorum/internal/domain"
)

// CreateThreadRequest represents the request body for POST /v1/threads.
type CreateThreadRequest struct {
	SubjectID string `json:"subject_id"`
	Title     string `json:"title"`
}

// CreateThread creates a discussion thread that runs can publish to.
// POST /v1/threads
func (h *Handler) CreateThread(c echo.Context) error {
	var req CreateThreadRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(req.SubjectID) == "" {
		return badRequest(c, "subject_id is required")
	}

	thread := &domain.Thread{SubjectID: strings.TrimSpace(req.SubjectID), Title: req.Title}
	if err := h.store.CreateThread(c.Request().Context(), thread); err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, thread)
}

// GetThread retrieves a thread together with its posts.
// GET /v1/threads/:subject_id
func (h *Handler) GetThread(c echo.Context) error {
	ctx := c.Request().Context()
	subjectID := c.Param("subject_id")

	thread, err := h.store.GetThread(ctx, subjectID)
	if err != nil {
		return h.writeError(c, err)
	}
	posts, err := h.store.ListPosts(ctx, subjectID)
	if err != nil {
		return h.writeError(c, err)
	}
	if posts == nil {
		posts = []domain.Post{}
	}
	return c.JSON(http.StatusOK, domain.ThreadResponse{Thread: *thread, Posts: posts})
}

// UpsertParticipantRequest represents the request body for PUT /v1/participants/:name.
type UpsertParticipantRequest struct {
	Role   string `json:"role"`
	Active *bool  `json:"active"`
}

// UpsertParticipant registers or updates a participant.
// PUT /v1/participants/:name
func (h *Handler) UpsertParticipant(c echo.Context) error {
	var req UpsertParticipantRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	name := strings.TrimSpace(c.Param("name"))
	if name == "" {
		return badRequest(c, "name is required")
	}

	p := &domain.Participant{Name: name, Role: req.Role, Active: true}
	if p.Role == "" {
		p.Role = "reviewer"
	}
	if req.Active != nil {
		p.Active = *req.Active
	}
	if err := h.store.UpsertParticipant(c.Request().Context(), p); err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

// ListParticipants lists all registered participants.
// GET /v1/participants
func (h *Handler) ListParticipants(c echo.Context) error {
	participants, err := h.store.ListParticipants(c.Request().Context())
	if err != nil {
		return h.writeError(c, err)
	}
	if participants == nil {
		participants = []domain.Participant{}
	}
	return c.JSON(http.StatusOK, domain.ListParticipantsResponse{Participants: participants})
}
