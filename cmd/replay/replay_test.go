package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/capture"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/domain"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/recorder"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestLoadFrames(t *testing.T) {
	t.Run("reads images in name order", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "002.png", []byte("second"))
		writeFile(t, dir, "001.JPG", []byte("first"))
		writeFile(t, dir, "notes.txt", []byte("ignored"))
		require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0o700))

		frames, err := loadFrames(dir)
		require.NoError(t, err)
		require.Len(t, frames, 2)
		assert.Equal(t, "first", string(frames[0]))
		assert.Equal(t, "second", string(frames[1]))
	})

	t.Run("empty directory", func(t *testing.T) {
		_, err := loadFrames(t.TempDir())
		assert.ErrorContains(t, err, "no frames")
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := loadFrames(filepath.Join(t.TempDir(), "missing"))
		assert.Error(t, err)
	})
}

func TestOpenClip(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		file     string
		wantMIME string
		wantErr  bool
	}{
		{name: "webm", file: "clip.webm", wantMIME: "video/webm"},
		{name: "mp4 upper case", file: "clip.MP4", wantMIME: "video/mp4"},
		{name: "unsupported", file: "clip.avi", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.file, []byte("clip"))

			s, err := openClip(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, s.Ready())
			assert.True(t, s.IsTypeSupported(tt.wantMIME))
			assert.False(t, s.IsTypeSupported("video/ogg"))
		})
	}
}

type collectSink struct {
	mu       sync.Mutex
	segments [][]byte
	flushed  chan struct{}
}

func (s *collectSink) WriteSegment(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = append(s.segments, data)
}

func (s *collectSink) Flush() { close(s.flushed) }

func TestFileStream_DeliversClipInSegments(t *testing.T) {
	data := bytes.Repeat([]byte{7}, segmentSize*2+10)
	s := &fileStream{data: data, mimeType: "video/webm"}
	sink := &collectSink{flushed: make(chan struct{})}

	require.ErrorIs(t, s.StartCapture("video/mp4", 0, sink), recorder.ErrNoSupportedType)
	require.NoError(t, s.StartCapture("video/webm", 0, sink))
	require.ErrorIs(t, s.StartCapture("video/webm", 0, sink), recorder.ErrAlreadyRecording)
	require.NoError(t, s.StopCapture())

	select {
	case <-sink.flushed:
	case <-time.After(time.Second):
		t.Fatal("sink never flushed")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.segments, 3)
	assert.Len(t, sink.segments[2], 10)
	assert.Equal(t, data, bytes.Join(sink.segments, nil))

	assert.NoError(t, s.StopCapture(), "stop without a recording is a no-op")
}

func TestPrinter(t *testing.T) {
	var out bytes.Buffer
	p := newPrinter(&out, time.Now())

	p.state(capture.State{Phase: domain.PhaseAwaitingFace, Status: "Please position your face"})
	p.state(capture.State{Phase: domain.PhaseAwaitingFace, Status: "Please position your face"})
	p.outcome(capture.Outcome{Kind: domain.AttemptFaceMatch, Number: 1, Passed: true})

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 2, "repeated phase prints once")
	assert.Contains(t, string(lines[0]), string(domain.PhaseAwaitingFace))
	assert.Contains(t, string(lines[1]), "#1 pass")
}

func TestRunReplay_RejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "001.png", pngBytes(t))
	clip := writeFile(t, t.TempDir(), "clip.webm", []byte("clip"))

	tests := []struct {
		name string
		opts options
	}{
		{name: "zero fps", opts: options{FramesDir: dir, ClipPath: clip, Gesture: "blink", FPS: 0}},
		{name: "unknown gesture", opts: options{FramesDir: dir, ClipPath: clip, Gesture: "wink", FPS: 5}},
		{name: "unknown providers", opts: options{FramesDir: dir, ClipPath: clip, Gesture: "blink", FPS: 5, Providers: "cloud", Timeout: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runReplay(t.Context(), &bytes.Buffer{}, tt.opts)
			assert.Error(t, err)
		})
	}
}

func TestRootCmd_RequiresFramesAndClip(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--gesture", "yaw"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	assert.ErrorContains(t, err, "required flag")
}
