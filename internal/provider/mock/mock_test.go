package mock

import (
	"context"
	"testing"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/domain"
)

func TestProvider_DetectFaces(t *testing.T) {
	p := New()
	ctx := context.Background()

	tests := []struct {
		name      string
		image     []byte
		wantFaces int
	}{
		{
			name:      "valid frame",
			image:     make([]byte, 5000),
			wantFaces: 1,
		},
		{
			name:      "frame too small",
			image:     make([]byte, 100),
			wantFaces: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			faces, err := p.DetectFaces(ctx, tt.image)
			if err != nil {
				t.Fatalf("DetectFaces() error = %v", err)
			}
			if len(faces) != tt.wantFaces {
				t.Errorf("DetectFaces() got %d faces, want %d", len(faces), tt.wantFaces)
			}
			if tt.wantFaces > 0 && faces[0].Confidence <= 0.95 {
				t.Errorf("mock face confidence %v must clear the presence threshold", faces[0].Confidence)
			}
		})
	}
}

func TestProvider_VerifyFaceMatch(t *testing.T) {
	p := New()

	res, err := p.VerifyFaceMatch(context.Background(), []byte("still"))
	if err != nil {
		t.Fatalf("VerifyFaceMatch() error = %v", err)
	}
	if !res.Pass {
		t.Error("mock matcher must always pass")
	}

	if _, err := p.VerifyFaceMatch(context.Background(), nil); err == nil {
		t.Error("expected error for empty still")
	}
}

func TestProvider_VerifyLiveness(t *testing.T) {
	p := New().WithLivenessResults(false, false)
	clip := &domain.Clip{Data: []byte("clip")}
	ctx := context.Background()

	want := []bool{false, false, true, true}
	for i, w := range want {
		res, err := p.VerifyLiveness(ctx, clip, domain.GestureYaw)
		if err != nil {
			t.Fatalf("call %d: VerifyLiveness() error = %v", i, err)
		}
		if res.Pass != w {
			t.Errorf("call %d: pass = %v, want %v", i, res.Pass, w)
		}
	}

	if _, err := p.VerifyLiveness(ctx, &domain.Clip{}, domain.GestureYaw); err == nil {
		t.Error("expected error for empty clip")
	}
}

func TestProvider_Warmup(t *testing.T) {
	if err := New().Warmup(context.Background()); err != nil {
		t.Errorf("Warmup() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := New().Warmup(ctx); err == nil {
		t.Error("Warmup() must report a cancelled context")
	}
}
