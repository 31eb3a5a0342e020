package provider

import (
	"context"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/domain"
)

// FaceDetector finds candidate faces in a single encoded image.
type FaceDetector interface {
	// DetectFaces returns every candidate face with its detection confidence.
	// An image without faces yields an empty slice, not an error.
	DetectFaces(ctx context.Context, image []byte) ([]DetectedFace, error)
}

// Warmer is implemented by detectors whose model must be loaded before use.
type Warmer interface {
	Warmup(ctx context.Context) error
}

// FaceMatcher compares a captured still against the identity bound to the matcher.
type FaceMatcher interface {
	VerifyFaceMatch(ctx context.Context, still []byte) (*MatchResult, error)
}

// LivenessVerifier checks that a clip shows a live person performing a gesture.
type LivenessVerifier interface {
	VerifyLiveness(ctx context.Context, clip *domain.Clip, gesture domain.Gesture) (*LivenessResult, error)
}

// DetectedFace represents a detected face in the image
type DetectedFace struct {
	BoundingBox BoundingBox `json:"bounding_box"`
	Confidence  float64     `json:"confidence"`
	Pose        *Pose       `json:"pose,omitempty"`
}

// Pose represents face orientation angles
type Pose struct {
	Pitch float64 `json:"pitch"` // up/down rotation
	Roll  float64 `json:"roll"`  // tilted rotation
	Yaw   float64 `json:"yaw"`   // left/right rotation
}

// BoundingBox represents the face area in the image
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// BestConfidence returns the highest confidence among faces, or 0 when empty.
func BestConfidence(faces []DetectedFace) float64 {
	best := 0.0
	for _, f := range faces {
		if f.Confidence > best {
			best = f.Confidence
		}
	}
	return best
}

// MatchResult is the outcome of a face comparison.
type MatchResult struct {
	Pass       bool    `json:"pass"`
	Similarity float64 `json:"similarity"`
}

// LivenessResult is the outcome of a liveness check.
type LivenessResult struct {
	Pass bool `json:"pass"`
}
