package session

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/capture"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/domain"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/frame"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/ws"
)

// Live is one running session. It implements ws.Port.
type Live struct {
	ID        uuid.UUID
	CreatedAt time.Time

	orch    *capture.Orchestrator
	mailbox *frame.Mailbox
	stream  *ws.RemoteStream
	hub     ws.Broadcaster
	clock   capture.Clock
	cancel  context.CancelFunc

	lastActive atomic.Int64

	mu        sync.Mutex
	lastPhase domain.Phase
}

// State returns the orchestrator snapshot.
func (l *Live) State() capture.State {
	return l.orch.State()
}

// Timings returns the flow timings, which the client needs for its countdown.
func (l *Live) Timings() capture.Timings {
	return l.orch.Timings()
}

// LastActive is the time of the last inbound message or state change.
func (l *Live) LastActive() time.Time {
	return time.Unix(0, l.lastActive.Load())
}

// FrameStats exposes the mailbox counters.
func (l *Live) FrameStats() frame.Stats {
	return l.mailbox.Stats()
}

func (l *Live) SetGesture(g domain.Gesture) error {
	return l.orch.SetGesture(g)
}

func (l *Live) CountdownComplete() {
	l.touch()
	l.orch.CountdownComplete()
}

func (l *Live) PublishFrame(data []byte) error {
	f, err := frame.Decode(data, l.clock.Now())
	if err != nil {
		return err
	}
	l.touch()
	l.mailbox.Publish(f)
	return nil
}

func (l *Live) WriteSegment(data []byte) {
	l.touch()
	l.stream.WriteSegment(data)
}

func (l *Live) RecorderFlushed() {
	l.stream.Flushed()
}

// Connected sends the current state to a newly attached client.
func (l *Live) Connected() {
	l.touch()
	l.hub.Broadcast(l.ID, ws.EventSessionState, l.State())
}

func (l *Live) Disconnected() {
	l.stream.Detached()
}

func (l *Live) touch() {
	l.lastActive.Store(l.clock.Now().UnixNano())
}

// swapPhase records the phase last seen by the subscribers and returns the
// previous one.
func (l *Live) swapPhase(p domain.Phase) domain.Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.lastPhase
	l.lastPhase = p
	return prev
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

var _ ws.Port = (*Live)(nil)
