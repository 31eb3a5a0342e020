package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/domain"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/metrics"
)

// MetricsSource serves the latest verification metrics snapshot.
type MetricsSource interface {
	Snapshot(ctx context.Context) (*metrics.Snapshot, error)
}

// MetricsHandler handles GET /v1/metrics
type MetricsHandler struct {
	source   MetricsSource
	sessions LiveCounter
	logger   *slog.Logger
}

func NewMetricsHandler(source MetricsSource, sessions LiveCounter, logger *slog.Logger) *MetricsHandler {
	return &MetricsHandler{source: source, sessions: sessions, logger: logger}
}

type MetricsResponse struct {
	Window       string                 `json:"window"`
	Since        string                 `json:"since"`
	GeneratedAt  string                 `json:"generated_at"`
	LiveSessions int                    `json:"live_sessions"`
	Sessions     *metrics.SessionStats  `json:"sessions"`
	Attempts     []metrics.AttemptStats `json:"attempts"`
}

func (h *MetricsHandler) Get(c *fiber.Ctx) error {
	snap, err := h.source.Snapshot(c.UserContext())
	if err != nil {
		h.logger.Error("failed to load metrics", "error", err)
		return domain.ErrInternal.WithError(err)
	}

	resp := MetricsResponse{
		Window:      snap.Window.String(),
		Since:       snap.Since.UTC().Format(time.RFC3339),
		GeneratedAt: snap.GeneratedAt.UTC().Format(time.RFC3339),
		Sessions:    snap.Sessions,
		Attempts:    snap.Attempts,
	}
	if h.sessions != nil {
		resp.LiveSessions = h.sessions.Len()
	}

	return c.JSON(resp)
}
