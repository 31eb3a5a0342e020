package ws

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Outbound events.
const (
	EventSessionState  EventType = "session.state"
	EventRecorderStart EventType = "recorder.start"
	EventRecorderStop  EventType = "recorder.stop"
)

type Event struct {
	SessionID uuid.UUID `json:"-"`
	Type      EventType `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RecorderCommand is the data of recorder.start.
type RecorderCommand struct {
	MimeType string `json:"mime_type"`
	Bitrate  int    `json:"bitrate"`
}

// Inbound control messages, sent as JSON text frames.
const (
	ControlCountdownComplete = "countdown.complete"
	ControlRecorderFlushed   = "recorder.flushed"
)

type ControlMessage struct {
	Type string `json:"type"`
}

// Inbound binary frames carry a one-byte tag before the payload.
const (
	TagFrame   byte = 0x01
	TagSegment byte = 0x02
)
