package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/domain"
)

// PgxPool is the subset of *pgxpool.Pool the repositories use. pgxmock's
// PgxPoolIface satisfies it as well.
type PgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SessionRepositoryInterface defines operations for capture session data access
type SessionRepositoryInterface interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	UpdateState(ctx context.Context, s *domain.Session) error
	Finish(ctx context.Context, id uuid.UUID) error
}

// AttemptRepositoryInterface defines operations for verification attempt data access
type AttemptRepositoryInterface interface {
	Create(ctx context.Context, a *domain.Attempt) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]domain.Attempt, error)
}
