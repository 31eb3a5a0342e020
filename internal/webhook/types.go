package webhook

import (
	"time"

	"github.com/google/uuid"
)

// Event types emitted when a capture session reaches a terminal phase.
const (
	EventSessionSucceeded = "session.succeeded"
	EventSessionFailed    = "session.failed"
)

// Job is a queued delivery awaiting retry.
type Job struct {
	ID          uuid.UUID  `json:"id"`
	URL         string     `json:"url"`
	EventType   string     `json:"event_type"`
	Payload     []byte     `json:"payload"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	Status      string     `json:"status"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// EventPayload is the JSON body POSTed to the receiver.
type EventPayload struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	SessionID uuid.UUID `json:"session_id"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionOutcome is the data carried by session.* events.
type SessionOutcome struct {
	Phase      string    `json:"phase"`
	Gesture    string    `json:"gesture"`
	RetryCount int       `json:"retry_count"`
	Status     string    `json:"status"`
	FinishedAt time.Time `json:"finished_at"`
}
