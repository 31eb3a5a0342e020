package ws

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// Lookup resolves the live session a connection attaches to.
type Lookup func(sessionID uuid.UUID) (Port, bool)

// Handler upgrades /sessions/:id/ws and pumps messages between the browser
// and the live session.
func Handler(hub *Hub, lookup Lookup, logger *slog.Logger) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		sessionID, err := uuid.Parse(c.Params("id"))
		if err != nil {
			_ = c.Close()
			return
		}

		port, ok := lookup(sessionID)
		if !ok {
			_ = c.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session not found"))
			_ = c.Close()
			return
		}

		client := &Client{
			hub:       hub,
			conn:      c,
			sessionID: sessionID,
			port:      port,
			send:      make(chan []byte, 256),
			logger:    logger.With("component", "ws", "session_id", sessionID),
		}

		hub.Register(client)
		port.Connected()

		go client.WritePump()
		client.ReadPump()

		port.Disconnected()
	})
}

func UpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}
