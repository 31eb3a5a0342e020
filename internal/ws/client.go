package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// maxMessageSize bounds one inbound message: a camera frame or a recorder
// segment.
const maxMessageSize = 8 << 20

var (
	errShortMessage   = errors.New("binary message without payload")
	errUnknownTag     = errors.New("unknown binary tag")
	errUnknownControl = errors.New("unknown control message")
)

// Port is the live session a client feeds.
type Port interface {
	PublishFrame(data []byte) error
	WriteSegment(data []byte)
	RecorderFlushed()
	CountdownComplete()
	Connected()
	Disconnected()
}

type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	sessionID uuid.UUID
	port      Port
	send      chan []byte
	logger    *slog.Logger
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		mt, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if err := c.dispatch(mt, msg); err != nil {
			c.logger.Debug("inbound message rejected", slog.Any("error", err))
		}
	}
}

func (c *Client) dispatch(messageType int, msg []byte) error {
	switch messageType {
	case websocket.BinaryMessage:
		if len(msg) < 2 {
			return errShortMessage
		}
		switch msg[0] {
		case TagFrame:
			return c.port.PublishFrame(msg[1:])
		case TagSegment:
			c.port.WriteSegment(msg[1:])
			return nil
		default:
			return fmt.Errorf("%w: 0x%02x", errUnknownTag, msg[0])
		}

	case websocket.TextMessage:
		var ctl ControlMessage
		if err := json.Unmarshal(msg, &ctl); err != nil {
			return fmt.Errorf("decode control message: %w", err)
		}
		switch ctl.Type {
		case ControlCountdownComplete:
			c.port.CountdownComplete()
		case ControlRecorderFlushed:
			c.port.RecorderFlushed()
		default:
			return fmt.Errorf("%w: %q", errUnknownControl, ctl.Type)
		}
	}
	return nil
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}
