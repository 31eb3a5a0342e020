package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/domain"
)

type AttemptRepository struct {
	pool PgxPool
}

func NewAttemptRepository(pool PgxPool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

func (r *AttemptRepository) Create(ctx context.Context, a *domain.Attempt) error {
	query := `
		INSERT INTO verification_attempts (id, session_id, kind, attempt, passed, error, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING created_at
	`

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	err := r.pool.QueryRow(ctx, query,
		a.ID,
		a.SessionID,
		string(a.Kind),
		a.Number,
		a.Passed,
		a.Error,
		a.LatencyMs,
	).Scan(&a.CreatedAt)

	if err != nil {
		return fmt.Errorf("create attempt: %w", err)
	}

	return nil
}

func (r *AttemptRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]domain.Attempt, error) {
	query := `
		SELECT id, session_id, kind, attempt, passed, error, latency_ms, created_at
		FROM verification_attempts
		WHERE session_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.Attempt
	for rows.Next() {
		var (
			a    domain.Attempt
			kind string
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &kind, &a.Number, &a.Passed, &a.Error, &a.LatencyMs, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Kind = domain.AttemptKind(kind)
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}

	return attempts, nil
}
