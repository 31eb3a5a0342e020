package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/audit"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/capture"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/domain"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/provider"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/provider/mock"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/ws"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// faceFrame returns a noisy JPEG large enough for the mock detector.
func faceFrame(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 96, 96))
	seed := uint32(7)
	for y := 0; y < 96; y++ {
		for x := 0; x < 96; x++ {
			seed = seed*1664525 + 1013904223
			img.Set(x, y, color.RGBA{R: uint8(seed >> 24), G: uint8(seed >> 16), B: uint8(seed >> 8), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	require.Greater(t, buf.Len(), 1000)
	return buf.Bytes()
}

type memSessions struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]domain.Session
	finished  map[uuid.UUID]bool
	createErr error
}

func newMemSessions() *memSessions {
	return &memSessions{rows: map[uuid.UUID]domain.Session{}, finished: map[uuid.UUID]bool{}}
}

func (r *memSessions) Create(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	r.rows[s.ID] = *s
	return nil
}

func (r *memSessions) GetByID(_ context.Context, id uuid.UUID) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return &s, nil
}

func (r *memSessions) UpdateState(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[s.ID]; !ok {
		return domain.ErrSessionNotFound
	}
	r.rows[s.ID] = *s
	return nil
}

func (r *memSessions) Finish(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished[id] = true
	return nil
}

func (r *memSessions) phase(id uuid.UUID) domain.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id].Phase
}

func (r *memSessions) isFinished(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished[id]
}

type memAttempts struct {
	mu   sync.Mutex
	list []domain.Attempt
}

func (r *memAttempts) Create(_ context.Context, a *domain.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = append(r.list, *a)
	return nil
}

func (r *memAttempts) ListBySession(_ context.Context, id uuid.UUID) ([]domain.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Attempt
	for _, a := range r.list {
		if a.SessionID == id {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memAttempts) all() []domain.Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Attempt(nil), r.list...)
}

type stubProviders struct {
	mock       *mock.Provider
	detectErr  error
	references [][]byte
	mu         sync.Mutex
}

func (p *stubProviders) Detector(context.Context) (provider.FaceDetector, error) {
	if p.detectErr != nil {
		return nil, p.detectErr
	}
	return p.mock, nil
}

func (p *stubProviders) Matcher(_ context.Context, _ uuid.UUID, reference []byte) (provider.FaceMatcher, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.references = append(p.references, reference)
	return p.mock, nil
}

func (p *stubProviders) Liveness() provider.LivenessVerifier { return p.mock }

// fakeHub stands in for the browser: it reports one connected client and
// answers recorder.stop with a segment and a flush.
type fakeHub struct {
	mu      sync.Mutex
	clients int
	events  map[uuid.UUID][]ws.EventType
	lives   map[uuid.UUID]*Live
}

func newFakeHub() *fakeHub {
	return &fakeHub{clients: 1, events: map[uuid.UUID][]ws.EventType{}, lives: map[uuid.UUID]*Live{}}
}

func (h *fakeHub) attach(l *Live) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lives[l.ID] = l
}

func (h *fakeHub) Broadcast(id uuid.UUID, eventType ws.EventType, _ any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[id] = append(h.events[id], eventType)
}

func (h *fakeHub) Command(id uuid.UUID, eventType ws.EventType, _ any) error {
	h.mu.Lock()
	h.events[id] = append(h.events[id], eventType)
	live := h.lives[id]
	h.mu.Unlock()

	if eventType == ws.EventRecorderStop && live != nil {
		go func() {
			live.WriteSegment([]byte("webm-bytes"))
			live.RecorderFlushed()
		}()
	}
	return nil
}

func (h *fakeHub) ConnectedClients(uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients
}

func (h *fakeHub) sent(id uuid.UUID) []ws.EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ws.EventType(nil), h.events[id]...)
}

type memAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *memAudit) Log(_ context.Context, e audit.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
	return nil
}

func (a *memAudit) types() []audit.EventType {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]audit.EventType, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.EventType)
	}
	return out
}

type dispatched struct {
	eventType string
	sessionID uuid.UUID
	data      any
}

type memNotifier struct {
	mu   sync.Mutex
	sent []dispatched
}

func (n *memNotifier) Dispatch(_ context.Context, eventType string, id uuid.UUID, data any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, dispatched{eventType: eventType, sessionID: id, data: data})
	return nil
}

func (n *memNotifier) all() []dispatched {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]dispatched(nil), n.sent...)
}

// stillClock has a settable Now and never fires timers.
type stillClock struct {
	mu  sync.Mutex
	now time.Time
}

type noTimer struct{}

func (noTimer) Stop() bool { return true }

func (c *stillClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stillClock) AfterFunc(time.Duration, func()) capture.Timer { return noTimer{} }

func (c *stillClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errDB = errors.New("db unavailable")
