package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/domain"
)

// ErrDuplicateSession is returned when a session id is inserted twice.
var ErrDuplicateSession = errors.New("session already exists")

type SessionRepository struct {
	pool PgxPool
}

func NewSessionRepository(pool PgxPool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) error {
	query := `
		INSERT INTO sessions (id, gesture, phase, retry_count, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	err := r.pool.QueryRow(ctx, query,
		s.ID,
		string(s.Gesture),
		string(s.Phase),
		s.RetryCount,
		s.Status,
	).Scan(&s.CreatedAt, &s.UpdatedAt)

	if isUniqueViolation(err) {
		return ErrDuplicateSession
	}
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	query := `
		SELECT id, gesture, phase, retry_count, status, created_at, updated_at, finished_at
		FROM sessions
		WHERE id = $1
	`

	var (
		s       domain.Session
		gesture string
		phase   string
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&s.ID,
		&gesture,
		&phase,
		&s.RetryCount,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.FinishedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session by id: %w", err)
	}

	s.Gesture = domain.Gesture(gesture)
	s.Phase = domain.Phase(phase)
	return &s, nil
}

// UpdateState writes the latest phase snapshot. Reaching a terminal phase
// also stamps finished_at, once.
func (r *SessionRepository) UpdateState(ctx context.Context, s *domain.Session) error {
	query := `
		UPDATE sessions
		SET gesture = $2,
		    phase = $3,
		    retry_count = $4,
		    status = $5,
		    updated_at = $6,
		    finished_at = CASE WHEN $7 THEN COALESCE(finished_at, $6) ELSE finished_at END
		WHERE id = $1
	`

	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}

	result, err := r.pool.Exec(ctx, query,
		s.ID,
		string(s.Gesture),
		string(s.Phase),
		s.RetryCount,
		s.Status,
		s.UpdatedAt,
		s.Phase.IsTerminal(),
	)
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}

	return nil
}

// Finish marks an abandoned session as closed without touching its phase.
func (r *SessionRepository) Finish(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE sessions
		SET finished_at = COALESCE(finished_at, NOW()),
		    updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}

	return nil
}
