package mock

import (
	"context"
	"sync"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/domain"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/provider"
)

// minFrameSize abaixo disso o frame é tratado como vazio (câmera ainda sem imagem)
const minFrameSize = 1000

// Provider implementa detector, matcher e liveness para testes e desenvolvimento
type Provider struct {
	mu       sync.Mutex
	liveness []bool
}

// New cria uma nova instância do MockProvider
func New() *Provider {
	return &Provider{}
}

// WithLivenessResults define os resultados das próximas verificações de liveness.
// Quando a fila acaba, todas passam.
func (p *Provider) WithLivenessResults(results ...bool) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.liveness = append(p.liveness, results...)
	return p
}

// Warmup não tem modelo para carregar
func (p *Provider) Warmup(ctx context.Context) error {
	return ctx.Err()
}

// DetectFaces simula detecção: qualquer frame com tamanho mínimo contém um rosto
func (p *Provider) DetectFaces(ctx context.Context, image []byte) ([]provider.DetectedFace, error) {
	if len(image) < minFrameSize {
		return []provider.DetectedFace{}, nil
	}

	return []provider.DetectedFace{
		{
			BoundingBox: provider.BoundingBox{
				X:      0.1,
				Y:      0.1,
				Width:  0.8,
				Height: 0.8,
			},
			Confidence: 0.99,
		},
	}, nil
}

// VerifyFaceMatch sempre aprova
func (p *Provider) VerifyFaceMatch(ctx context.Context, still []byte) (*provider.MatchResult, error) {
	if len(still) == 0 {
		return nil, domain.ErrInvalidImage
	}
	return &provider.MatchResult{Pass: true, Similarity: 1}, nil
}

// VerifyLiveness consome a fila de resultados configurada
func (p *Provider) VerifyLiveness(ctx context.Context, clip *domain.Clip, gesture domain.Gesture) (*provider.LivenessResult, error) {
	if clip.Size() == 0 {
		return nil, domain.ErrInvalidImage
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pass := true
	if len(p.liveness) > 0 {
		pass = p.liveness[0]
		p.liveness = p.liveness[1:]
	}
	return &provider.LivenessResult{Pass: pass}, nil
}

var (
	_ provider.FaceDetector     = (*Provider)(nil)
	_ provider.Warmer           = (*Provider)(nil)
	_ provider.FaceMatcher      = (*Provider)(nil)
	_ provider.LivenessVerifier = (*Provider)(nil)
)
