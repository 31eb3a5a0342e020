package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/domain"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/repository"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/session"
)

// LiveRegistry is the in-process set of running sessions. *session.Manager
// satisfies it.
type LiveRegistry interface {
	Create(ctx context.Context, p session.CreateParams) (*session.Live, error)
	Get(id uuid.UUID) (*session.Live, error)
	Close(ctx context.Context, id uuid.UUID) error
}

// CreateSessionInput is the request to open a capture session.
type CreateSessionInput struct {
	Gesture        string
	ReferenceImage []byte
	SupportedTypes []string
}

// SessionView is a point-in-time picture of a session. Live sessions are
// read from memory, finished ones from the database.
type SessionView struct {
	ID                uuid.UUID
	Phase             domain.Phase
	Gesture           domain.Gesture
	RetryCount        int
	Status            string
	HasStill          bool
	HasClip           bool
	Live              bool
	CountdownDuration time.Duration
	RecordDuration    time.Duration
	CreatedAt         time.Time
	UpdatedAt         time.Time
	FinishedAt        *time.Time
}

// SessionService is the use-case layer behind the HTTP API.
type SessionService struct {
	live     LiveRegistry
	sessions repository.SessionRepositoryInterface
	attempts repository.AttemptRepositoryInterface
	logger   *slog.Logger
}

func NewSessionService(
	live LiveRegistry,
	sessions repository.SessionRepositoryInterface,
	attempts repository.AttemptRepositoryInterface,
	logger *slog.Logger,
) *SessionService {
	return &SessionService{
		live:     live,
		sessions: sessions,
		attempts: attempts,
		logger:   logger,
	}
}

// Create opens a session and starts its capture flow.
func (s *SessionService) Create(ctx context.Context, in CreateSessionInput) (*SessionView, error) {
	live, err := s.live.Create(ctx, session.CreateParams{
		Gesture:        in.Gesture,
		ReferenceImage: in.ReferenceImage,
		SupportedTypes: in.SupportedTypes,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("session created",
		slog.String("session_id", live.ID.String()),
		slog.Bool("has_reference", len(in.ReferenceImage) > 0),
	)
	return liveView(live), nil
}

// Get returns the live state when the session is running, otherwise the
// persisted record.
func (s *SessionService) Get(ctx context.Context, id uuid.UUID) (*SessionView, error) {
	if live, err := s.live.Get(id); err == nil {
		return liveView(live), nil
	}

	stored, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, err
		}
		return nil, domain.ErrInternal.WithError(fmt.Errorf("get session: %w", err))
	}
	return storedView(stored), nil
}

// SetGesture changes the gesture of a session that has not started capturing.
func (s *SessionService) SetGesture(ctx context.Context, id uuid.UUID, gesture string) (*SessionView, error) {
	g, err := domain.ParseGesture(gesture)
	if err != nil || gesture == "" {
		return nil, domain.ErrInvalidGesture
	}

	live, err := s.live.Get(id)
	if err != nil {
		return nil, s.notLive(ctx, id)
	}
	if err := live.SetGesture(g); err != nil {
		return nil, err
	}
	return liveView(live), nil
}

// CompleteCountdown signals that the client finished the countdown
// animation. Outside the countdown phase it is a no-op.
func (s *SessionService) CompleteCountdown(ctx context.Context, id uuid.UUID) (*SessionView, error) {
	live, err := s.live.Get(id)
	if err != nil {
		return nil, s.notLive(ctx, id)
	}
	live.CountdownComplete()
	return liveView(live), nil
}

// Close stops a live session.
func (s *SessionService) Close(ctx context.Context, id uuid.UUID) error {
	if err := s.live.Close(ctx, id); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return s.notLive(ctx, id)
		}
		return err
	}
	return nil
}

// Attempts lists the verification calls of a session, oldest first.
func (s *SessionService) Attempts(ctx context.Context, id uuid.UUID) ([]domain.Attempt, error) {
	if _, err := s.live.Get(id); err != nil {
		if _, err := s.sessions.GetByID(ctx, id); err != nil {
			if errors.Is(err, domain.ErrSessionNotFound) {
				return nil, err
			}
			return nil, domain.ErrInternal.WithError(fmt.Errorf("get session: %w", err))
		}
	}

	attempts, err := s.attempts.ListBySession(ctx, id)
	if err != nil {
		return nil, domain.ErrInternal.WithError(fmt.Errorf("list attempts: %w", err))
	}
	return attempts, nil
}

// notLive distinguishes a finished session from an unknown one.
func (s *SessionService) notLive(ctx context.Context, id uuid.UUID) error {
	if _, err := s.sessions.GetByID(ctx, id); err == nil {
		return domain.ErrSessionTerminal
	}
	return domain.ErrSessionNotFound
}

func liveView(l *session.Live) *SessionView {
	st := l.State()
	t := l.Timings()
	return &SessionView{
		ID:                l.ID,
		Phase:             st.Phase,
		Gesture:           st.Gesture,
		RetryCount:        st.RetryCount,
		Status:            st.Status,
		HasStill:          st.HasStill,
		HasClip:           st.HasClip,
		Live:              true,
		CountdownDuration: t.CountdownDuration,
		RecordDuration:    t.RecordDuration,
		CreatedAt:         l.CreatedAt,
		UpdatedAt:         st.UpdatedAt,
	}
}

func storedView(s *domain.Session) *SessionView {
	return &SessionView{
		ID:         s.ID,
		Phase:      s.Phase,
		Gesture:    s.Gesture,
		RetryCount: s.RetryCount,
		Status:     s.Status,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
		FinishedAt: s.FinishedAt,
	}
}
