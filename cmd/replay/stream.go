package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/recorder"
)

const segmentSize = 64 * 1024

// fileStream is a recorder.MediaStream that replays a clip file: each
// recording delivers the whole file to the sink in segments.
type fileStream struct {
	data     []byte
	mimeType string

	mu   sync.Mutex
	sink recorder.Sink
}

var _ recorder.MediaStream = (*fileStream)(nil)

func openClip(path string) (*fileStream, error) {
	var mimeType string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".webm":
		mimeType = "video/webm"
	case ".mp4":
		mimeType = "video/mp4"
	default:
		return nil, fmt.Errorf("clip %s: unsupported container (use .webm or .mp4)", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read clip: %w", err)
	}
	return &fileStream{data: data, mimeType: mimeType}, nil
}

func (s *fileStream) Ready() bool { return true }

func (s *fileStream) IsTypeSupported(mimeType string) bool {
	return mimeType == s.mimeType
}

func (s *fileStream) StartCapture(mimeType string, _ int, sink recorder.Sink) error {
	if !s.IsTypeSupported(mimeType) {
		return recorder.ErrNoSupportedType
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink != nil {
		return recorder.ErrAlreadyRecording
	}
	s.sink = sink
	return nil
}

func (s *fileStream) StopCapture() error {
	s.mu.Lock()
	sink := s.sink
	s.sink = nil
	s.mu.Unlock()

	if sink == nil {
		return nil
	}

	go func() {
		for off := 0; off < len(s.data); off += segmentSize {
			end := off + segmentSize
			if end > len(s.data) {
				end = len(s.data)
			}
			sink.WriteSegment(s.data[off:end])
		}
		sink.Flush()
	}()
	return nil
}

// AbortCapture is a no-op: StopCapture already released the sink.
func (s *fileStream) AbortCapture() {}
