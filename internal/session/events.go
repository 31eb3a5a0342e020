package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/audit"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/capture"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/domain"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/webhook"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/ws"
)

const (
	jobTimeout      = 5 * time.Second
	dispatchTimeout = 30 * time.Second
)

// job is a queued write. Jobs run one at a time in submission order so the
// stored phase never goes backwards.
type job func(ctx context.Context) error

// enqueue never blocks the orchestrator goroutine; a full queue drops the
// write and says so.
func (m *Manager) enqueue(j job) {
	select {
	case m.persist <- j:
	default:
		m.logger.Warn("persist queue full, dropping write")
	}
}

func (m *Manager) runJob(ctx context.Context, j job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), jobTimeout)
	defer cancel()

	if err := j(ctx); err != nil {
		m.logger.Error("persist failed", slog.Any("error", err))
	}
}

func (m *Manager) drain(ctx context.Context) {
	for {
		select {
		case j := <-m.persist:
			m.runJob(ctx, j)
		default:
			return
		}
	}
}

// onState runs on the orchestrator goroutine, or on the caller of
// SetGesture, for every published snapshot.
func (m *Manager) onState(live *Live, s capture.State) {
	live.touch()
	m.deps.Hub.Broadcast(live.ID, ws.EventSessionState, s)

	record := &domain.Session{
		ID:         live.ID,
		Gesture:    s.Gesture,
		Phase:      s.Phase,
		RetryCount: s.RetryCount,
		Status:     s.Status,
		UpdatedAt:  s.UpdatedAt,
	}
	m.enqueue(func(ctx context.Context) error { return m.deps.Sessions.UpdateState(ctx, record) })

	prev := live.swapPhase(s.Phase)
	if prev == s.Phase {
		return
	}

	switch s.Phase {
	case domain.PhaseCapturing:
		m.audit(live.ID, audit.EventFaceDetected, true, "", nil)
	case domain.PhaseSuccess:
		m.audit(live.ID, audit.EventSessionSucceeded, true, "", retryMeta(s))
		m.notify(live.ID, webhook.EventSessionSucceeded, s)
	case domain.PhaseFailed:
		m.audit(live.ID, audit.EventSessionFailed, false, s.Status, retryMeta(s))
		m.notify(live.ID, webhook.EventSessionFailed, s)
	}
}

func (m *Manager) onOutcome(live *Live, o capture.Outcome) {
	live.touch()

	attempt := &domain.Attempt{
		SessionID: live.ID,
		Kind:      o.Kind,
		Number:    o.Number,
		Passed:    o.Passed,
		LatencyMs: o.Latency.Milliseconds(),
	}
	errMsg := ""
	if o.Err != nil {
		errMsg = o.Err.Error()
		attempt.Error = errMsg
	}
	m.enqueue(func(ctx context.Context) error { return m.deps.Attempts.Create(ctx, attempt) })

	eventType := audit.EventFaceCompared
	if o.Kind == domain.AttemptLiveness {
		eventType = audit.EventLivenessVerified
	}
	m.audit(live.ID, eventType, o.Passed, errMsg, map[string]string{
		"attempt":    itoa(o.Number),
		"latency_ms": itoa(int(o.Latency.Milliseconds())),
	})
}

func (m *Manager) notify(id uuid.UUID, eventType string, s capture.State) {
	if m.deps.Notifier == nil {
		return
	}

	data := webhook.SessionOutcome{
		Phase:      string(s.Phase),
		Gesture:    string(s.Gesture),
		RetryCount: s.RetryCount,
		Status:     s.Status,
		FinishedAt: s.UpdatedAt,
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		if err := m.deps.Notifier.Dispatch(ctx, eventType, id, data); err != nil {
			m.logger.Error("webhook dispatch failed", slog.String("session_id", id.String()), slog.Any("error", err))
		}
	}()
}

func (m *Manager) audit(id uuid.UUID, eventType audit.EventType, success bool, errMsg string, meta map[string]string) {
	_ = m.deps.Audit.Log(context.Background(), audit.Event{
		Timestamp: m.deps.Clock.Now(),
		SessionID: id,
		EventType: eventType,
		Success:   success,
		Error:     errMsg,
		Metadata:  meta,
	})
}

func retryMeta(s capture.State) map[string]string {
	return map[string]string{
		"gesture":     string(s.Gesture),
		"retry_count": itoa(s.RetryCount),
	}
}
