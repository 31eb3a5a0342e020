package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/domain"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/frame"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/provider"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/recorder"
)

// fakeClock fires timers only when Advance moves past their deadline.
type fakeClock struct {
	mu        sync.Mutex
	now       time.Time
	timers    []*fakeTimer
	durations []time.Duration
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	c.durations = append(c.durations, d)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) Durations() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.durations))
	copy(out, c.durations)
	return out
}

func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type stubCapturer struct {
	fail  atomic.Bool
	calls atomic.Int32
}

func (c *stubCapturer) CaptureStill(frame.Source) (*domain.Still, error) {
	c.calls.Add(1)
	if c.fail.Load() {
		return nil, frame.ErrNoFrame
	}
	return &domain.Still{Data: []byte("png"), MimeType: "image/png", Width: 4, Height: 4}, nil
}

type stubStream struct {
	ready atomic.Bool
}

func (s *stubStream) Ready() bool                                   { return s.ready.Load() }
func (s *stubStream) IsTypeSupported(string) bool                   { return true }
func (s *stubStream) StartCapture(string, int, recorder.Sink) error { return nil }
func (s *stubStream) StopCapture() error                            { return nil }
func (s *stubStream) AbortCapture()                                 {}

type stubRecorder struct {
	mu       sync.Mutex
	startErr error
	starts   int
	stops    int
	bitrate  int
}

func (r *stubRecorder) Start(_ recorder.MediaStream, bitrate int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.starts++
	r.bitrate = bitrate
	return nil
}

func (r *stubRecorder) Stop(context.Context) (*domain.Clip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return &domain.Clip{Data: []byte("clip"), MimeType: "video/webm", Filename: "clip.webm"}, nil
}

func (r *stubRecorder) counts() (starts, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops
}

// inFlight tracks concurrent remote calls across both verifiers.
type inFlight struct {
	active atomic.Int32
	max    atomic.Int32
}

func (g *inFlight) enter() {
	n := g.active.Add(1)
	for {
		m := g.max.Load()
		if n <= m || g.max.CompareAndSwap(m, n) {
			return
		}
	}
}

func (g *inFlight) leave() { g.active.Add(-1) }

type reply struct {
	pass bool
	err  error
}

var errTransport = errors.New("connection reset")

type stubMatcher struct {
	gate    *inFlight
	replies chan reply
	calls   atomic.Int32
}

func (m *stubMatcher) VerifyFaceMatch(ctx context.Context, _ []byte) (*provider.MatchResult, error) {
	m.calls.Add(1)
	m.gate.enter()
	defer m.gate.leave()

	select {
	case r := <-m.replies:
		if r.err != nil {
			return nil, r.err
		}
		return &provider.MatchResult{Pass: r.pass}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type stubLiveness struct {
	gate     *inFlight
	replies  chan reply
	calls    atomic.Int32
	mu       sync.Mutex
	gestures []domain.Gesture
	clips    []*domain.Clip
}

func (l *stubLiveness) VerifyLiveness(ctx context.Context, clip *domain.Clip, g domain.Gesture) (*provider.LivenessResult, error) {
	l.calls.Add(1)
	l.mu.Lock()
	l.gestures = append(l.gestures, g)
	l.clips = append(l.clips, clip)
	l.mu.Unlock()

	l.gate.enter()
	defer l.gate.leave()

	select {
	case r := <-l.replies:
		if r.err != nil {
			return nil, r.err
		}
		return &provider.LivenessResult{Pass: r.pass}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *stubLiveness) lastGesture() domain.Gesture {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.gestures) == 0 {
		return ""
	}
	return l.gestures[len(l.gestures)-1]
}
