package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Phase is a step of the capture flow. Exactly one phase is active per session.
type Phase string

const (
	PhaseInitializing             Phase = "initializing"
	PhaseAwaitingFace             Phase = "awaiting_face"
	PhaseCapturing                Phase = "capturing"
	PhaseVerifyingMatch           Phase = "verifying_match"
	PhaseAwaitingGestureCountdown Phase = "awaiting_gesture_countdown"
	PhaseRecording                Phase = "recording"
	PhaseVerifyingLiveness        Phase = "verifying_liveness"
	PhaseRetrying                 Phase = "retrying"
	PhaseSuccess                  Phase = "success"
	PhaseFailed                   Phase = "failed"
)

// IsTerminal reports whether no further transition can leave the phase.
func (p Phase) IsTerminal() bool {
	return p == PhaseSuccess || p == PhaseFailed
}

// BeforeRecording reports whether a face loss in this phase resets the flow.
func (p Phase) BeforeRecording() bool {
	switch p {
	case PhaseCapturing, PhaseVerifyingMatch, PhaseAwaitingGestureCountdown:
		return true
	}
	return false
}

// Gesture is the action the subject performs while the clip is recorded.
type Gesture string

const (
	GestureBlink Gesture = "blink"
	GestureMouth Gesture = "mouth"
	GestureYaw   Gesture = "yaw"
	GestureNod   Gesture = "nod"
)

// DefaultGesture is used when a session is created without a selection.
const DefaultGesture = GestureBlink

var gestures = []Gesture{GestureBlink, GestureMouth, GestureYaw, GestureNod}

// Gestures returns the selectable gestures in display order.
func Gestures() []Gesture {
	out := make([]Gesture, len(gestures))
	copy(out, gestures)
	return out
}

// ParseGesture maps user input to a Gesture. Empty input yields the default.
func ParseGesture(s string) (Gesture, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultGesture, nil
	}
	for _, g := range gestures {
		if string(g) == s {
			return g, nil
		}
	}
	return "", ErrInvalidGesture
}

// Label is the text shown in the "Please {gesture}" prompt.
func (g Gesture) Label() string {
	return string(g)
}

// Session is the persisted record of one verification attempt cycle.
type Session struct {
	ID         uuid.UUID  `json:"id"`
	Gesture    Gesture    `json:"gesture"`
	Phase      Phase      `json:"phase"`
	RetryCount int        `json:"retry_count"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// AttemptKind distinguishes the two remote checks of a session.
type AttemptKind string

const (
	AttemptFaceMatch AttemptKind = "face_match"
	AttemptLiveness  AttemptKind = "liveness"
)

// Attempt records the outcome of one remote verification call.
type Attempt struct {
	ID        uuid.UUID   `json:"id"`
	SessionID uuid.UUID   `json:"session_id"`
	Kind      AttemptKind `json:"kind"`
	Number    int         `json:"attempt"`
	Passed    bool        `json:"passed"`
	Error     string      `json:"error,omitempty"`
	LatencyMs int64       `json:"latency_ms"`
	CreatedAt time.Time   `json:"created_at"`
}
