package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/database"
)

// Version is stamped at build time.
var Version = "0.1.0"

// LiveCounter reports the number of running sessions.
type LiveCounter interface {
	Len() int
}

type HealthHandler struct {
	db       database.Pinger
	sessions LiveCounter
}

// NewHealthHandler creates a handler. db and sessions may be nil.
func NewHealthHandler(db database.Pinger, sessions LiveCounter) *HealthHandler {
	return &HealthHandler{db: db, sessions: sessions}
}

type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version,omitempty"`
	LiveSessions *int   `json:"live_sessions,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:  "ok",
		Version: Version,
	})
}

// Ready reports 503 while the database is unreachable.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	if h.db != nil {
		if err := database.HealthCheck(c.UserContext(), h.db); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(HealthResponse{
				Status: "unavailable",
				Error:  err.Error(),
			})
		}
	}

	resp := HealthResponse{Status: "ready"}
	if h.sessions != nil {
		n := h.sessions.Len()
		resp.LiveSessions = &n
	}
	return c.JSON(resp)
}
