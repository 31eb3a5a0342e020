package capture

import (
	"fmt"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/domain"
)

// Displayed status strings.
const (
	StatusInitializing = "Initializing..."
	StatusInFrame      = "Please be in frame"
	StatusHoldStill    = "Hold your camera still"
	StatusProcessing   = "Processing..."
	StatusFailed       = "Face comparison failed, Please redo everything again"
	StatusSuccess      = "Success"
)

// Status returns the single message shown for a state. The first matching
// rule wins, so a countdown reached with retries exhausted shows the failure
// message rather than the gesture prompt. Success is ranked above the
// exhausted-retries message since the last allowed attempt can pass.
func Status(s State, maxRetries int) string {
	switch {
	case s.Phase == domain.PhaseInitializing:
		return StatusInitializing
	case s.Phase == domain.PhaseAwaitingFace:
		return StatusInFrame
	case s.Phase == domain.PhaseCapturing:
		return StatusHoldStill
	case prompting(s.Phase) && s.RetryCount < maxRetries:
		return fmt.Sprintf("Please %s", s.Gesture.Label())
	case verifying(s.Phase):
		return StatusProcessing
	case s.Phase == domain.PhaseSuccess:
		return StatusSuccess
	case s.RetryCount >= maxRetries, s.Phase == domain.PhaseFailed:
		return StatusFailed
	default:
		return StatusProcessing
	}
}

func prompting(p domain.Phase) bool {
	return p == domain.PhaseAwaitingGestureCountdown || p == domain.PhaseRecording
}

func verifying(p domain.Phase) bool {
	switch p {
	case domain.PhaseVerifyingMatch, domain.PhaseVerifyingLiveness, domain.PhaseRetrying:
		return true
	}
	return false
}
