package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/domain"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/service"
)

const (
	maxImageSize = 5 * 1024 * 1024 // 5MB
)

var validImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// SessionService is the use-case layer. *service.SessionService satisfies it.
type SessionService interface {
	Create(ctx context.Context, in service.CreateSessionInput) (*service.SessionView, error)
	Get(ctx context.Context, id uuid.UUID) (*service.SessionView, error)
	SetGesture(ctx context.Context, id uuid.UUID, gesture string) (*service.SessionView, error)
	CompleteCountdown(ctx context.Context, id uuid.UUID) (*service.SessionView, error)
	Close(ctx context.Context, id uuid.UUID) error
	Attempts(ctx context.Context, id uuid.UUID) ([]domain.Attempt, error)
}

// SessionHandler handles capture session requests
type SessionHandler struct {
	service SessionService
	logger  *slog.Logger
}

func NewSessionHandler(service SessionService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		service: service,
		logger:  logger,
	}
}

// SessionResponse is the JSON form of a session.
type SessionResponse struct {
	SessionID   string  `json:"session_id"`
	Phase       string  `json:"phase"`
	Gesture     string  `json:"gesture"`
	Prompt      string  `json:"prompt"`
	RetryCount  int     `json:"retry_count"`
	Status      string  `json:"status"`
	HasStill    bool    `json:"has_still"`
	HasClip     bool    `json:"has_clip"`
	Live        bool    `json:"live"`
	CountdownMs int64   `json:"countdown_ms,omitempty"`
	RecordMs    int64   `json:"record_ms,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	FinishedAt  *string `json:"finished_at,omitempty"`
	StreamPath  string  `json:"stream_path,omitempty"`
}

// AttemptResponse is one verification call of a session.
type AttemptResponse struct {
	Kind      string `json:"kind"`
	Attempt   int    `json:"attempt"`
	Passed    bool   `json:"passed"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
	CreatedAt string `json:"created_at"`
}

// AttemptsResponse lists the attempts of a session.
type AttemptsResponse struct {
	SessionID string            `json:"session_id"`
	Attempts  []AttemptResponse `json:"attempts"`
}

type setGestureRequest struct {
	Gesture string `json:"gesture"`
}

// Create POST /v1/sessions
func (h *SessionHandler) Create(c *fiber.Ctx) error {
	reference, err := extractReferenceImage(c)
	if err != nil {
		return err
	}

	view, err := h.service.Create(c.UserContext(), service.CreateSessionInput{
		Gesture:        c.FormValue("gesture"),
		ReferenceImage: reference,
		SupportedTypes: splitList(c.FormValue("supported_types")),
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(toSessionResponse(view))
}

// Get GET /v1/sessions/:id
func (h *SessionHandler) Get(c *fiber.Ctx) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}

	view, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(toSessionResponse(view))
}

// SetGesture PUT /v1/sessions/:id/gesture
func (h *SessionHandler) SetGesture(c *fiber.Ctx) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}

	var req setGestureRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.ErrBadRequest.WithError(err)
	}
	if strings.TrimSpace(req.Gesture) == "" {
		return domain.ErrInvalidGesture
	}

	view, err := h.service.SetGesture(c.UserContext(), id, req.Gesture)
	if err != nil {
		return err
	}
	return c.JSON(toSessionResponse(view))
}

// CompleteCountdown POST /v1/sessions/:id/countdown
func (h *SessionHandler) CompleteCountdown(c *fiber.Ctx) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}

	view, err := h.service.CompleteCountdown(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(toSessionResponse(view))
}

// Close DELETE /v1/sessions/:id
func (h *SessionHandler) Close(c *fiber.Ctx) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}

	if err := h.service.Close(c.UserContext(), id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Attempts GET /v1/sessions/:id/attempts
func (h *SessionHandler) Attempts(c *fiber.Ctx) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}

	attempts, err := h.service.Attempts(c.UserContext(), id)
	if err != nil {
		return err
	}

	out := AttemptsResponse{
		SessionID: id.String(),
		Attempts:  make([]AttemptResponse, 0, len(attempts)),
	}
	for _, a := range attempts {
		out.Attempts = append(out.Attempts, AttemptResponse{
			Kind:      string(a.Kind),
			Attempt:   a.Number,
			Passed:    a.Passed,
			Error:     a.Error,
			LatencyMs: a.LatencyMs,
			CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(out)
}

func sessionID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, domain.ErrValidationFailed.WithError(errors.New("invalid session id"))
	}
	return id, nil
}

// extractReferenceImage reads the optional reference_image part.
func extractReferenceImage(c *fiber.Ctx) ([]byte, error) {
	file, err := c.FormFile("reference_image")
	if err != nil {
		// Absent part or non-multipart body.
		return nil, nil
	}

	if file.Size == 0 || file.Size > maxImageSize {
		return nil, domain.ErrInvalidImage
	}

	if !validImageTypes[file.Header.Get("Content-Type")] {
		return nil, domain.ErrInvalidImage
	}

	f, err := file.Open()
	if err != nil {
		return nil, domain.ErrInvalidImage.WithError(err)
	}
	defer func() {
		_ = f.Close()
	}()

	imageBytes, err := io.ReadAll(f)
	if err != nil {
		return nil, domain.ErrInvalidImage.WithError(err)
	}

	return imageBytes, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func toSessionResponse(v *service.SessionView) SessionResponse {
	resp := SessionResponse{
		SessionID:  v.ID.String(),
		Phase:      string(v.Phase),
		Gesture:    string(v.Gesture),
		Prompt:     "Please " + v.Gesture.Label(),
		RetryCount: v.RetryCount,
		Status:     v.Status,
		HasStill:   v.HasStill,
		HasClip:    v.HasClip,
		Live:       v.Live,
		CreatedAt:  v.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  v.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if v.Live {
		resp.CountdownMs = v.CountdownDuration.Milliseconds()
		resp.RecordMs = v.RecordDuration.Milliseconds()
		resp.StreamPath = "/v1/sessions/" + v.ID.String() + "/ws"
	}
	if v.FinishedAt != nil {
		s := v.FinishedAt.UTC().Format(time.RFC3339)
		resp.FinishedAt = &s
	}
	return resp
}
