package rekognition

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/audit"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/provider"
)

const (
	// maxImageSize is the maximum image size supported by AWS Rekognition (5MB)
	maxImageSize = 5 * 1024 * 1024
	// minImageSize is the minimum image size for valid processing
	minImageSize = 100

	providerName = "rekognition"
)

// Option defines optional configuration for Detector and Matcher
type Option func(*base)

// WithAudit records every call in the audit trail of a session.
func WithAudit(logger audit.Logger, sessionID uuid.UUID) Option {
	return func(b *base) {
		b.auditLogger = logger
		b.sessionID = sessionID
	}
}

type base struct {
	api         API
	auditLogger audit.Logger
	sessionID   uuid.UUID
}

// logAudit logs an audit event if an audit logger is configured
// Audit failure does not affect the operation (fire-and-forget)
func (b *base) logAudit(ctx context.Context, eventType audit.EventType, success bool, err error, metadata map[string]string) {
	if b.auditLogger == nil {
		return
	}

	event := audit.Event{
		SessionID: b.sessionID,
		EventType: eventType,
		Provider:  providerName,
		Success:   success,
		Metadata:  metadata,
	}

	if err != nil {
		event.Error = err.Error()
	}

	_ = b.auditLogger.Log(ctx, event)
}

// validateImage checks if image data is valid for Rekognition processing
func validateImage(image []byte) error {
	if len(image) == 0 {
		return ErrInvalidImage
	}
	if len(image) < minImageSize {
		return fmt.Errorf("%w: image too small (%d bytes, minimum %d)", ErrInvalidImage, len(image), minImageSize)
	}
	if len(image) > maxImageSize {
		return fmt.Errorf("%w: image too large (%d bytes, maximum %d)", ErrInvalidImage, len(image), maxImageSize)
	}
	return nil
}

// Detector finds faces with the DetectFaces API.
type Detector struct {
	base
}

// NewDetector creates a Rekognition-backed face detector
func NewDetector(api API, opts ...Option) *Detector {
	d := &Detector{base: base{api: api}}
	for _, opt := range opts {
		opt(&d.base)
	}
	return d
}

// DetectFaces detects faces in an image using AWS Rekognition DetectFaces API
// Returns an empty slice if no faces are detected (not an error).
// Confidence is normalized from 0-100 to 0-1.
func (d *Detector) DetectFaces(ctx context.Context, image []byte) ([]provider.DetectedFace, error) {
	if err := validateImage(image); err != nil {
		return nil, err
	}

	input := &rekognition.DetectFacesInput{
		Image: &types.Image{
			Bytes: image,
		},
		Attributes: []types.Attribute{types.AttributeDefault},
	}

	output, err := d.api.DetectFaces(ctx, input)
	if err != nil {
		err = parseAPIError(err)
		d.logAudit(ctx, audit.EventFaceDetected, false, err, map[string]string{
			"image_size": strconv.Itoa(len(image)),
		})
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	faces := make([]provider.DetectedFace, 0, len(output.FaceDetails))
	for _, detail := range output.FaceDetails {
		face := provider.DetectedFace{
			Confidence: float64(aws.ToFloat32(detail.Confidence)) / 100.0,
		}
		if bb := detail.BoundingBox; bb != nil {
			face.BoundingBox = provider.BoundingBox{
				X:      float64(aws.ToFloat32(bb.Left)),
				Y:      float64(aws.ToFloat32(bb.Top)),
				Width:  float64(aws.ToFloat32(bb.Width)),
				Height: float64(aws.ToFloat32(bb.Height)),
			}
		}
		if pose := detail.Pose; pose != nil {
			face.Pose = &provider.Pose{
				Pitch: float64(aws.ToFloat32(pose.Pitch)),
				Roll:  float64(aws.ToFloat32(pose.Roll)),
				Yaw:   float64(aws.ToFloat32(pose.Yaw)),
			}
		}
		faces = append(faces, face)
	}

	return faces, nil
}

// Matcher compares stills with a reference image using CompareFaces.
type Matcher struct {
	base
	reference []byte
	threshold float64
}

// NewMatcher binds a matcher to the reference image of one session.
func NewMatcher(api API, reference []byte, threshold float64, opts ...Option) *Matcher {
	m := &Matcher{base: base{api: api}, reference: reference, threshold: threshold}
	for _, opt := range opts {
		opt(&m.base)
	}
	return m
}

// VerifyFaceMatch compares the still (target) against the reference (source).
// A still without a face is a failed match, not an error.
func (m *Matcher) VerifyFaceMatch(ctx context.Context, still []byte) (*provider.MatchResult, error) {
	if len(m.reference) == 0 {
		return nil, ErrNoReference
	}
	if err := validateImage(still); err != nil {
		return nil, fmt.Errorf("still: %w", err)
	}

	metadata := map[string]string{
		"source_image_size": strconv.Itoa(len(m.reference)),
		"target_image_size": strconv.Itoa(len(still)),
	}

	input := &rekognition.CompareFacesInput{
		SourceImage:         &types.Image{Bytes: m.reference},
		TargetImage:         &types.Image{Bytes: still},
		SimilarityThreshold: aws.Float32(float32(m.threshold * 100)), // Convert 0-1 to 0-100
	}

	output, err := m.api.CompareFaces(ctx, input)
	if err != nil {
		err = parseAPIError(err)
		if errors.Is(err, ErrNoFaceDetected) {
			metadata["matched"] = "false"
			m.logAudit(ctx, audit.EventFaceCompared, true, err, metadata)
			return &provider.MatchResult{Pass: false}, nil
		}
		m.logAudit(ctx, audit.EventFaceCompared, false, err, metadata)
		return nil, fmt.Errorf("compare faces: %w", err)
	}

	// If no matches found, return 0 similarity
	if len(output.FaceMatches) == 0 {
		metadata["similarity"] = "0"
		metadata["matched"] = "false"
		m.logAudit(ctx, audit.EventFaceCompared, true, nil, metadata)
		return &provider.MatchResult{Pass: false}, nil
	}

	best := 0.0
	for _, match := range output.FaceMatches {
		if s := float64(aws.ToFloat32(match.Similarity)) / 100.0; s > best {
			best = s
		}
	}
	pass := best >= m.threshold

	metadata["similarity"] = fmt.Sprintf("%.4f", best)
	metadata["matched"] = strconv.FormatBool(pass)
	m.logAudit(ctx, audit.EventFaceCompared, true, nil, metadata)

	return &provider.MatchResult{Pass: pass, Similarity: best}, nil
}

var (
	_ provider.FaceDetector = (*Detector)(nil)
	_ provider.FaceMatcher  = (*Matcher)(nil)
)
