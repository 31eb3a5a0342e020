// Package session hosts live capture sessions. Each session owns a frame
// mailbox, a presence monitor, a recorder bound to the browser stream and a
// capture orchestrator; the manager persists what they report.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/audit"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/capture"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/domain"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/frame"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/presence"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/provider"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/recorder"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/repository"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/ws"
)

const (
	defaultIdleTimeout   = 10 * time.Minute
	defaultSweepInterval = 30 * time.Second
	defaultMaxLive       = 100
	persistQueueSize     = 256
	closeTimeout         = 15 * time.Second
)

// Providers builds the verification backends of a session. *face.Factory
// satisfies it.
type Providers interface {
	Detector(ctx context.Context) (provider.FaceDetector, error)
	Matcher(ctx context.Context, sessionID uuid.UUID, reference []byte) (provider.FaceMatcher, error)
	Liveness() provider.LivenessVerifier
}

// Notifier delivers terminal outcomes. *webhook.Notifier satisfies it.
type Notifier interface {
	Dispatch(ctx context.Context, eventType string, sessionID uuid.UUID, data any) error
}

type Config struct {
	Timings       capture.Timings
	Presence      presence.Config
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	MaxLive       int
}

// Deps are the collaborators of a Manager. Audit and Notifier may be nil.
type Deps struct {
	Sessions  repository.SessionRepositoryInterface
	Attempts  repository.AttemptRepositoryInterface
	Providers Providers
	Hub       ws.Broadcaster
	Audit     audit.Logger
	Notifier  Notifier
	Clock     capture.Clock
	Logger    *slog.Logger
}

// CreateParams describe a new session.
type CreateParams struct {
	Gesture        string
	ReferenceImage []byte
	// SupportedTypes are the recording MIME types the browser reported.
	SupportedTypes []string
}

// Manager owns every live session of the process.
type Manager struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger

	mu   sync.RWMutex
	live map[uuid.UUID]*Live

	persist chan job
	wg      sync.WaitGroup
}

func NewManager(deps Deps, cfg Config) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.MaxLive <= 0 {
		cfg.MaxLive = defaultMaxLive
	}
	if cfg.Timings == (capture.Timings{}) {
		cfg.Timings = capture.DefaultTimings()
	}
	if deps.Clock == nil {
		deps.Clock = capture.SystemClock()
	}
	if deps.Audit == nil {
		deps.Audit = &audit.NoOpLogger{}
	}

	return &Manager{
		deps:    deps,
		cfg:     cfg,
		logger:  deps.Logger.With("component", "session"),
		live:    make(map[uuid.UUID]*Live),
		persist: make(chan job, persistQueueSize),
	}
}

// Run persists session activity and closes idle sessions until ctx is done.
// On return every live session has been closed and queued writes drained.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return
		case j := <-m.persist:
			m.runJob(ctx, j)
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// Create starts a new live session.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*Live, error) {
	gesture, err := domain.ParseGesture(p.Gesture)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	full := len(m.live) >= m.cfg.MaxLive
	m.mu.RUnlock()
	if full {
		return nil, domain.ErrSessionLimit
	}

	id := uuid.New()
	logger := m.deps.Logger.With("session_id", id)

	detector, err := m.deps.Providers.Detector(ctx)
	if err != nil {
		return nil, fmt.Errorf("session %s: detector: %w", id, err)
	}
	matcher, err := m.deps.Providers.Matcher(ctx, id, p.ReferenceImage)
	if err != nil {
		return nil, fmt.Errorf("session %s: matcher: %w", id, err)
	}

	mailbox := frame.NewMailbox()
	monitor := presence.NewMonitor(detector, mailbox, m.cfg.Presence, logger)
	stream := ws.NewRemoteStream(m.deps.Hub, id, p.SupportedTypes)

	orch := capture.New(capture.Deps{
		Presence: monitor.Signals(),
		Source:   mailbox,
		Capturer: frame.NewCapturer(),
		Stream:   stream,
		Recorder: recorder.New(logger),
		Matcher:  matcher,
		Liveness: m.deps.Providers.Liveness(),
		Clock:    m.deps.Clock,
		Logger:   logger,
	}, m.cfg.Timings, gesture)

	st := orch.State()
	record := &domain.Session{
		ID:         id,
		Gesture:    st.Gesture,
		Phase:      st.Phase,
		RetryCount: st.RetryCount,
		Status:     st.Status,
	}
	if err := m.deps.Sessions.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}

	live := &Live{
		ID:        id,
		CreatedAt: record.CreatedAt,
		orch:      orch,
		mailbox:   mailbox,
		stream:    stream,
		hub:       m.deps.Hub,
		clock:     m.deps.Clock,
		lastPhase: st.Phase,
	}
	live.touch()

	orch.Subscribe(func(s capture.State) { m.onState(live, s) })
	orch.SubscribeOutcomes(func(o capture.Outcome) { m.onOutcome(live, o) })

	m.mu.Lock()
	if len(m.live) >= m.cfg.MaxLive {
		m.mu.Unlock()
		m.enqueue(func(ctx context.Context) error { return m.deps.Sessions.Finish(ctx, id) })
		return nil, domain.ErrSessionLimit
	}
	m.live[id] = live
	m.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	live.cancel = cancel
	go monitor.Run(runCtx)
	go func() {
		orch.Run(runCtx)
		// the monitor has no consumer once the orchestrator stops
		cancel()
	}()

	m.audit(id, audit.EventSessionCreated, true, "", map[string]string{"gesture": string(gesture)})
	logger.Info("session created", slog.String("gesture", string(gesture)))

	return live, nil
}

// Get returns a live session.
func (m *Manager) Get(id uuid.UUID) (*Live, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	live, ok := m.live[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return live, nil
}

// Lookup adapts Get for the websocket handler.
func (m *Manager) Lookup(id uuid.UUID) (ws.Port, bool) {
	live, err := m.Get(id)
	if err != nil {
		return nil, false
	}
	return live, true
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.live)
}

// Close stops a session. A session that had not reached a terminal phase is
// recorded as abandoned.
func (m *Manager) Close(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	live, ok := m.live[id]
	delete(m.live, id)
	m.mu.Unlock()

	if !ok {
		return domain.ErrSessionNotFound
	}

	live.cancel()
	select {
	case <-live.orch.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	if live.State().Phase.IsTerminal() {
		return nil
	}

	m.enqueue(func(ctx context.Context) error { return m.deps.Sessions.Finish(ctx, id) })
	m.audit(id, audit.EventSessionAbandoned, false, "", nil)
	m.deps.Logger.Info("session abandoned", slog.String("session_id", id.String()))
	return nil
}

func (m *Manager) sweep(ctx context.Context) {
	cutoff := m.deps.Clock.Now().Add(-m.cfg.IdleTimeout)

	m.mu.RLock()
	var idle []uuid.UUID
	for id, live := range m.live {
		if live.LastActive().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range idle {
		closeCtx, cancel := context.WithTimeout(ctx, closeTimeout)
		err := m.Close(closeCtx, id)
		cancel()
		if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			m.logger.Warn("idle session close failed", slog.String("session_id", id.String()), slog.Any("error", err))
			continue
		}
		m.logger.Info("idle session closed", slog.String("session_id", id.String()))
	}
}

func (m *Manager) shutdown() {
	m.mu.RLock()
	ids := make([]uuid.UUID, 0, len(m.live))
	for id := range m.live {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	for _, id := range ids {
		if err := m.Close(ctx, id); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			m.logger.Warn("session close on shutdown failed", slog.String("session_id", id.String()), slog.Any("error", err))
		}
	}

	m.drain(ctx)
	m.wg.Wait()
}
