package ws

import (
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/recorder"
)

// Broadcaster is the part of Hub a RemoteStream needs. Broadcast may drop
// events; Command reports whether a client received it.
type Broadcaster interface {
	Broadcast(sessionID uuid.UUID, eventType EventType, data any)
	Command(sessionID uuid.UUID, eventType EventType, data any) error
	ConnectedClients(sessionID uuid.UUID) int
}

// RemoteStream is the browser's camera as a recorder.MediaStream. Capture
// runs client-side: StartCapture and StopCapture become recorder commands
// and the segments come back as tagged binary messages.
type RemoteStream struct {
	hub       Broadcaster
	sessionID uuid.UUID
	supported []string

	mu   sync.Mutex
	sink recorder.Sink
}

// NewRemoteStream creates a stream for a session. supported lists the MIME
// types the browser reported; an empty list means webm only.
func NewRemoteStream(hub Broadcaster, sessionID uuid.UUID, supported []string) *RemoteStream {
	if len(supported) == 0 {
		supported = []string{recorder.PreferredTypes[0]}
	}
	return &RemoteStream{hub: hub, sessionID: sessionID, supported: supported}
}

func (s *RemoteStream) Ready() bool {
	return s.hub.ConnectedClients(s.sessionID) > 0
}

func (s *RemoteStream) IsTypeSupported(mime string) bool {
	return slices.Contains(s.supported, mime)
}

func (s *RemoteStream) StartCapture(mime string, bitrate int, sink recorder.Sink) error {
	if !s.Ready() {
		return recorder.ErrStreamNotReady
	}

	s.mu.Lock()
	if s.sink != nil {
		s.mu.Unlock()
		return recorder.ErrAlreadyRecording
	}
	s.sink = sink
	s.mu.Unlock()

	if err := s.hub.Command(s.sessionID, EventRecorderStart, RecorderCommand{MimeType: mime, Bitrate: bitrate}); err != nil {
		s.release(sink)
		return err
	}
	return nil
}

// StopCapture asks the browser to stop. The sink stays attached until the
// client reports recorder.flushed so trailing segments are kept.
func (s *RemoteStream) StopCapture() error {
	return s.hub.Command(s.sessionID, EventRecorderStop, nil)
}

// AbortCapture drops the active sink without flushing it. The recorder calls
// it when the flush never arrives so the next take can start.
func (s *RemoteStream) AbortCapture() {
	s.mu.Lock()
	s.sink = nil
	s.mu.Unlock()
}

func (s *RemoteStream) release(sink recorder.Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink == sink {
		s.sink = nil
	}
}

// WriteSegment forwards a segment to the active recording, if any.
func (s *RemoteStream) WriteSegment(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink != nil {
		s.sink.WriteSegment(data)
	}
}

// Flushed ends the active recording.
func (s *RemoteStream) Flushed() {
	s.mu.Lock()
	sink := s.sink
	s.sink = nil
	s.mu.Unlock()

	if sink != nil {
		sink.Flush()
	}
}

// Detached flushes the active recording once the last client has gone, so a
// pending Stop does not wait out its timeout.
func (s *RemoteStream) Detached() {
	if s.hub.ConnectedClients(s.sessionID) == 0 {
		s.Flushed()
	}
}
