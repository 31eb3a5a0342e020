package deepface

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/provider"
)

const (
	// minFaceArea is the minimum face area (in pixels²) for reliable detection
	minFaceArea = 2500 // 50x50 pixels
	// maxFaceArea is used for confidence scaling
	maxFaceArea = 250000 // 500x500 pixels
)

// Detector finds faces with POST /represent.
type Detector struct {
	client *Client
}

// NewDetector creates a DeepFace-backed face detector
func NewDetector(config Config) *Detector {
	return &Detector{client: NewClient(config)}
}

// Warmup blocks until the DeepFace service answers.
func (d *Detector) Warmup(ctx context.Context) error {
	if err := d.client.Ping(ctx); err != nil {
		return fmt.Errorf("deepface warmup: %w", err)
	}
	return nil
}

// DetectFaces detects faces in the image. A response with no results means
// no face, not an error.
func (d *Detector) DetectFaces(ctx context.Context, image []byte) ([]provider.DetectedFace, error) {
	resp, err := d.client.Represent(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	faces := make([]provider.DetectedFace, 0, len(resp.Results))
	for _, result := range resp.Results {
		confidence := result.FaceConfidence
		if confidence <= 0 {
			confidence = calculateConfidence(float64(result.FacialArea.W * result.FacialArea.H))
		}

		faces = append(faces, provider.DetectedFace{
			BoundingBox: provider.BoundingBox{
				X:      float64(result.FacialArea.X),
				Y:      float64(result.FacialArea.Y),
				Width:  float64(result.FacialArea.W),
				Height: float64(result.FacialArea.H),
			},
			Confidence: confidence,
		})
	}

	return faces, nil
}

// calculateConfidence estimates confidence based on face area
// Older DeepFace releases don't return face_confidence, so we estimate
// based on face size. Larger faces are more likely to be accurately detected
func calculateConfidence(faceArea float64) float64 {
	if faceArea < minFaceArea {
		return 0.5 // Low confidence for very small faces
	}
	// Scale from 0.7 to 0.99 based on face area
	normalized := math.Min(1.0, (faceArea-minFaceArea)/(maxFaceArea-minFaceArea))
	return 0.7 + (normalized * 0.29)
}

// Matcher compares stills against one reference image with POST /verify.
type Matcher struct {
	client    *Client
	reference []byte
	threshold float64
}

// NewMatcher binds a matcher to a reference image. A positive threshold is
// a minimum cosine similarity (1 - distance) that replaces the model's own
// verdict; zero defers to DeepFace.
func NewMatcher(config Config, reference []byte, threshold float64) *Matcher {
	return &Matcher{
		client:    NewClient(config),
		reference: reference,
		threshold: threshold,
	}
}

func (m *Matcher) VerifyFaceMatch(ctx context.Context, still []byte) (*provider.MatchResult, error) {
	if len(m.reference) == 0 {
		return nil, ErrNoReference
	}

	resp, err := m.client.Verify(ctx, m.reference, still)
	if err != nil {
		// DeepFace answers 400 when either image has no detectable face.
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusBadRequest {
			return nil, fmt.Errorf("verify face: %w", ErrNoFaceInResponse)
		}
		return nil, fmt.Errorf("verify face: %w", err)
	}

	similarity := math.Max(0, 1-resp.Distance)
	pass := resp.Verified
	if m.threshold > 0 {
		pass = similarity >= m.threshold
	}

	return &provider.MatchResult{
		Pass:       pass,
		Similarity: similarity,
	}, nil
}

var (
	_ provider.FaceDetector = (*Detector)(nil)
	_ provider.Warmer       = (*Detector)(nil)
	_ provider.FaceMatcher  = (*Matcher)(nil)
)
