// Package recorder assembles segmented media from a live stream into a
// single clip.
package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/domain"
)

// DefaultBitrate is 2 Mbit/s.
const DefaultBitrate = 2 * 1000 * 1000

// PreferredTypes lists container types in order of preference.
var PreferredTypes = []string{"video/webm", "video/mp4"}

var (
	ErrAlreadyRecording = errors.New("recording already in progress")
	ErrNoSupportedType  = errors.New("stream supports none of the preferred container types")
	ErrStreamNotReady   = errors.New("media stream not ready")
)

// Sink receives the segments of one recording. Flush is called once after
// the last segment, when the stream has drained its buffers.
type Sink interface {
	WriteSegment(data []byte)
	Flush()
}

// MediaStream is a live camera stream that can be captured.
type MediaStream interface {
	// Ready reports whether the device is acquired and streaming.
	Ready() bool
	// IsTypeSupported reports whether the runtime can encode mimeType.
	IsTypeSupported(mimeType string) bool
	// StartCapture begins delivering encoded segments to sink.
	StartCapture(mimeType string, bitrate int, sink Sink) error
	// StopCapture requests the end of the capture. Remaining data is
	// delivered to the sink asynchronously, followed by Flush.
	StopCapture() error
	// AbortCapture detaches the sink without waiting for Flush.
	AbortCapture()
}

// Recorder moves between idle and recording. At most one take is open.
type Recorder struct {
	mu      sync.Mutex
	stream  MediaStream
	current *take

	logger *slog.Logger
	now    func() time.Time
}

// New creates an idle recorder.
func New(logger *slog.Logger) *Recorder {
	return &Recorder{
		logger: logger.With("component", "recorder"),
		now:    time.Now,
	}
}

// SelectType returns the first preferred container type the stream supports.
func SelectType(stream MediaStream) (string, error) {
	for _, t := range PreferredTypes {
		if stream.IsTypeSupported(t) {
			return t, nil
		}
	}
	return "", ErrNoSupportedType
}

// Recording reports whether a take is open.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil
}

// Start opens a take on stream. The container type is negotiated now, not
// when the stream was attached.
func (r *Recorder) Start(stream MediaStream, bitrate int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		return ErrAlreadyRecording
	}
	if !stream.Ready() {
		return ErrStreamNotReady
	}
	if bitrate <= 0 {
		bitrate = DefaultBitrate
	}

	mimeType, err := SelectType(stream)
	if err != nil {
		return err
	}

	t := newTake(mimeType, r.now())
	if err := stream.StartCapture(mimeType, bitrate, t); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}

	r.stream = stream
	r.current = t
	r.logger.Info("record started", slog.String("mime_type", mimeType), slog.Int("bitrate", bitrate))
	return nil
}

// Stop closes the open take and waits until the stream has flushed, then
// returns the assembled clip. Stopping an idle recorder is a no-op and
// returns (nil, nil). When the stop command or the flush fails the capture
// is aborted, leaving both the recorder and the stream free for a new take.
func (r *Recorder) Stop(ctx context.Context) (*domain.Clip, error) {
	r.mu.Lock()
	t, stream := r.current, r.stream
	r.current = nil
	r.stream = nil
	r.mu.Unlock()

	if t == nil {
		return nil, nil
	}

	if err := stream.StopCapture(); err != nil {
		stream.AbortCapture()
		return nil, fmt.Errorf("stop capture: %w", err)
	}

	select {
	case <-t.done:
	case <-ctx.Done():
		stream.AbortCapture()
		r.logger.Warn("record aborted", slog.Any("error", ctx.Err()))
		return nil, fmt.Errorf("wait for flush: %w", ctx.Err())
	}

	clip := t.assemble()
	r.logger.Info("record ended",
		slog.String("mime_type", clip.MimeType),
		slog.Int("segments", clip.Segments),
		slog.Int("bytes", clip.Size()),
	)
	return clip, nil
}

// take collects the segments of a single recording.
type take struct {
	mu        sync.Mutex
	mimeType  string
	startedAt time.Time
	segments  [][]byte
	flushed   bool
	done      chan struct{}
}

func newTake(mimeType string, startedAt time.Time) *take {
	return &take{
		mimeType:  mimeType,
		startedAt: startedAt,
		done:      make(chan struct{}),
	}
}

func (t *take) WriteSegment(data []byte) {
	if len(data) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.flushed {
		return
	}
	t.segments = append(t.segments, data)
}

func (t *take) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.flushed {
		return
	}
	t.flushed = true
	close(t.done)
}

func (t *take) assemble() *domain.Clip {
	t.mu.Lock()
	defer t.mu.Unlock()

	data := bytes.Join(t.segments, nil)
	return &domain.Clip{
		Data:       data,
		MimeType:   t.mimeType,
		Filename:   fmt.Sprintf("%d%s", t.startedAt.UnixMilli(), extension(t.mimeType)),
		Segments:   len(t.segments),
		RecordedAt: t.startedAt,
	}
}

func extension(mimeType string) string {
	switch mimeType {
	case "video/webm":
		return ".webm"
	case "video/mp4":
		return ".mp4"
	default:
		return ".bin"
	}
}
