package face

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/audit"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/config"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/provider"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/provider/deepface"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/provider/liveness"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/provider/mock"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/provider/rekognition"
)

// ProviderType defines supported face provider types
type ProviderType string

const (
	// ProviderTypeMock always finds a face and always matches (dev/test)
	ProviderTypeMock ProviderType = "mock"
	// ProviderTypeDeepFace is the DeepFace provider (local, for dev/test)
	ProviderTypeDeepFace ProviderType = "deepface"
	// ProviderTypeRekognition is the AWS Rekognition provider (cloud, for prod)
	ProviderTypeRekognition ProviderType = "rekognition"
)

// ErrReferenceRequired is returned when a comparing matcher has no reference image.
var ErrReferenceRequired = errors.New("reference image required for face comparison")

// Factory builds the collaborators of a capture session from configuration.
// The detector and the liveness client are shared; matchers are built per
// session because each is bound to that session's reference image.
//
// Environment variables:
//   - DETECTOR_PROVIDER, MATCH_PROVIDER: "mock", "deepface" or "rekognition"
//   - DEEPFACE_URL: DeepFace API URL (default: "http://localhost:5005")
//   - AWS_REGION: AWS region for Rekognition (default: "us-east-1")
//   - AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY: via AWS SDK credential chain
type Factory struct {
	cfg         *config.Config
	auditLogger audit.Logger

	// newRekognitionAPI is replaced in tests.
	newRekognitionAPI func(ctx context.Context, cfg rekognition.Config) (rekognition.API, error)

	mu       sync.Mutex
	rekogAPI rekognition.API
	detector provider.FaceDetector
	mock     *mock.Provider
	liveness provider.LivenessVerifier
}

// NewFactory creates a Factory. auditLogger may be nil.
func NewFactory(cfg *config.Config, auditLogger audit.Logger) *Factory {
	return &Factory{
		cfg:               cfg,
		auditLogger:       auditLogger,
		newRekognitionAPI: rekognition.NewAPI,
		mock:              mock.New(),
	}
}

// Detector returns the shared face detector used for presence polling.
func (f *Factory) Detector(ctx context.Context) (provider.FaceDetector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.detector != nil {
		return f.detector, nil
	}

	switch ProviderType(f.cfg.DetectorProvider) {
	case ProviderTypeMock:
		f.detector = f.mock
	case ProviderTypeDeepFace, "":
		f.detector = deepface.NewDetector(f.deepfaceConfig())
	case ProviderTypeRekognition:
		api, err := f.rekognition(ctx)
		if err != nil {
			return nil, err
		}
		f.detector = rekognition.NewDetector(api)
	default:
		return nil, unknownProvider(f.cfg.DetectorProvider)
	}

	return f.detector, nil
}

// Matcher returns a face matcher bound to the reference image of a session.
func (f *Factory) Matcher(ctx context.Context, sessionID uuid.UUID, reference []byte) (provider.FaceMatcher, error) {
	providerType := ProviderType(f.cfg.MatchProvider)
	if providerType == ProviderTypeMock || providerType == "" {
		return f.mock, nil
	}

	if len(reference) == 0 {
		return nil, ErrReferenceRequired
	}

	switch providerType {
	case ProviderTypeDeepFace:
		return deepface.NewMatcher(f.deepfaceConfig(), reference, f.cfg.MatchThreshold), nil
	case ProviderTypeRekognition:
		f.mu.Lock()
		api, err := f.rekognition(ctx)
		f.mu.Unlock()
		if err != nil {
			return nil, err
		}
		var opts []rekognition.Option
		if f.auditLogger != nil {
			opts = append(opts, rekognition.WithAudit(f.auditLogger, sessionID))
		}
		return rekognition.NewMatcher(api, reference, f.cfg.MatchThreshold, opts...), nil
	default:
		return nil, unknownProvider(f.cfg.MatchProvider)
	}
}

// Liveness returns the shared liveness verifier.
func (f *Factory) Liveness() provider.LivenessVerifier {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.liveness == nil {
		lc := liveness.DefaultConfig()
		if f.cfg.LivenessURL != "" {
			lc.BaseURL = f.cfg.LivenessURL
		}
		if f.cfg.LivenessTimeout > 0 {
			lc.Timeout = f.cfg.LivenessTimeout
		}
		lc.APIKey = f.cfg.LivenessAPIKey
		lc.ReferenceNumber = f.cfg.LivenessReferenceNumber
		f.liveness = liveness.NewClient(lc)
	}
	return f.liveness
}

// rekognition returns the shared AWS client. Callers hold f.mu.
func (f *Factory) rekognition(ctx context.Context) (rekognition.API, error) {
	if f.rekogAPI != nil {
		return f.rekogAPI, nil
	}

	rc := rekognition.DefaultConfig()
	if f.cfg.AWSRegion != "" {
		rc.Region = f.cfg.AWSRegion
	}

	api, err := f.newRekognitionAPI(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("create rekognition client: %w", err)
	}
	f.rekogAPI = api
	return api, nil
}

// deepfaceConfig uses defaults for everything but the URL.
func (f *Factory) deepfaceConfig() deepface.Config {
	dc := deepface.DefaultConfig()
	if f.cfg.DeepFaceURL != "" {
		dc.BaseURL = f.cfg.DeepFaceURL
	}
	return dc
}

func unknownProvider(name string) error {
	return fmt.Errorf("unknown provider type: %s (supported: %s, %s, %s)",
		name, ProviderTypeMock, ProviderTypeDeepFace, ProviderTypeRekognition)
}
