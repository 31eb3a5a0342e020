package frame

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"time"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/domain"
)

// MaxDimension is the largest accepted frame width or height.
const MaxDimension = 4096

var (
	// ErrNoFrame is returned when the source is not streaming yet.
	ErrNoFrame = errors.New("no frame available")
	// ErrUndecodable is returned when the latest frame cannot be decoded.
	ErrUndecodable = errors.New("frame could not be decoded")
)

// Capturer produces still images from a live source. It does no I/O
// beyond encoding and is safe to call from any goroutine.
type Capturer struct {
	now func() time.Time
}

// NewCapturer creates a Capturer.
func NewCapturer() *Capturer {
	return &Capturer{now: time.Now}
}

// CaptureStill draws the current frame into an off-screen bitmap of the
// source's native resolution and serializes it as PNG.
func (c *Capturer) CaptureStill(src Source) (*domain.Still, error) {
	f := src.Latest()
	if f == nil || f.Width <= 0 || f.Height <= 0 || len(f.Data) == 0 {
		return nil, ErrNoFrame
	}

	if err := checkSize(f.Width, f.Height); err != nil {
		return nil, err
	}
	// The header is checked again since it sizes the decode buffer.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(f.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if err := checkSize(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	draw.Draw(canvas, canvas.Bounds(), img, img.Bounds().Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("encode still: %w", err)
	}

	return &domain.Still{
		Data:       buf.Bytes(),
		MimeType:   "image/png",
		Width:      f.Width,
		Height:     f.Height,
		CapturedAt: c.now(),
	}, nil
}

// Decode reads the dimensions of an encoded JPEG or PNG frame without
// decoding its pixels.
func Decode(data []byte, at time.Time) (*Frame, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, ErrNoFrame
	}
	if err := checkSize(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	return &Frame{Data: data, Width: cfg.Width, Height: cfg.Height, Timestamp: at}, nil
}

func checkSize(width, height int) error {
	if width > MaxDimension || height > MaxDimension {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels per side", ErrUndecodable, width, height, MaxDimension)
	}
	return nil
}
