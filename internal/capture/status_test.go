package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/domain"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		name    string
		phase   domain.Phase
		retries int
		gesture domain.Gesture
		want    string
	}{
		{name: "initializing", phase: domain.PhaseInitializing, want: "Initializing..."},
		{name: "awaiting face", phase: domain.PhaseAwaitingFace, want: "Please be in frame"},
		{name: "capturing", phase: domain.PhaseCapturing, want: "Hold your camera still"},
		{name: "verifying match", phase: domain.PhaseVerifyingMatch, want: "Processing..."},
		{name: "countdown", phase: domain.PhaseAwaitingGestureCountdown, gesture: domain.GestureYaw, want: "Please yaw"},
		{name: "recording", phase: domain.PhaseRecording, retries: 2, gesture: domain.GestureNod, want: "Please nod"},
		{name: "verifying liveness", phase: domain.PhaseVerifyingLiveness, retries: 3, want: "Processing..."},
		{name: "retrying", phase: domain.PhaseRetrying, retries: 1, want: "Processing..."},
		{name: "countdown with retries exhausted", phase: domain.PhaseAwaitingGestureCountdown, retries: 3, gesture: domain.GestureBlink, want: "Face comparison failed, Please redo everything again"},
		{name: "failed", phase: domain.PhaseFailed, retries: 3, want: "Face comparison failed, Please redo everything again"},
		{name: "success", phase: domain.PhaseSuccess, retries: 1, want: "Success"},
		{name: "success after exhausted retries", phase: domain.PhaseSuccess, retries: 3, want: "Success"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := State{Phase: tt.phase, RetryCount: tt.retries, Gesture: tt.gesture}
			assert.Equal(t, tt.want, Status(s, 3))
		})
	}
}

func TestStatus_IsPure(t *testing.T) {
	s := State{Phase: domain.PhaseRecording, Gesture: domain.GestureMouth}
	assert.Equal(t, Status(s, 3), Status(s, 3))
	assert.Equal(t, "Please mouth", Status(s, 3))
}
