package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Querier is the subset of *pgxpool.Pool the metrics queries need.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AttemptStats summarizes the remote verification calls of one kind.
type AttemptStats struct {
	Kind         string  `json:"kind"`
	Total        int64   `json:"total"`
	Passed       int64   `json:"passed"`
	Errored      int64   `json:"errored"`
	PassRate     float64 `json:"pass_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	P99LatencyMs float64 `json:"p99_latency_ms"`
}

// SessionStats counts sessions by outcome.
type SessionStats struct {
	Started     int64   `json:"started"`
	Succeeded   int64   `json:"succeeded"`
	Failed      int64   `json:"failed"`
	Abandoned   int64   `json:"abandoned"`
	InProgress  int64   `json:"in_progress"`
	SuccessRate float64 `json:"success_rate"`
	AvgRetries  float64 `json:"avg_retries"`
}

// Repository reads verification metrics straight from the session tables.
type Repository struct {
	db Querier
}

// NewRepository creates a new metrics repository
func NewRepository(db Querier) *Repository {
	return &Repository{db: db}
}

// AttemptStats aggregates verification attempts created since the given time,
// one row per attempt kind.
func (r *Repository) AttemptStats(ctx context.Context, since time.Time) ([]AttemptStats, error) {
	query := `
		SELECT kind,
		       COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE passed) AS passed,
		       COUNT(*) FILTER (WHERE error <> '') AS errored,
		       COALESCE(AVG(latency_ms), 0)::float8 AS avg_latency,
		       COALESCE(PERCENTILE_CONT(0.99) WITHIN GROUP (ORDER BY latency_ms), 0)::float8 AS p99_latency
		FROM verification_attempts
		WHERE created_at >= $1
		GROUP BY kind
		ORDER BY kind
	`

	rows, err := r.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query attempt stats: %w", err)
	}
	defer rows.Close()

	var stats []AttemptStats
	for rows.Next() {
		var s AttemptStats
		if err := rows.Scan(&s.Kind, &s.Total, &s.Passed, &s.Errored, &s.AvgLatencyMs, &s.P99LatencyMs); err != nil {
			return nil, fmt.Errorf("scan attempt stats: %w", err)
		}
		s.PassRate = ratio(s.Passed, s.Total)
		stats = append(stats, s)
	}

	return stats, rows.Err()
}

// SessionStats counts sessions created since the given time. A finished
// session that reached neither terminal phase was abandoned.
func (r *Repository) SessionStats(ctx context.Context, since time.Time) (*SessionStats, error) {
	query := `
		SELECT COUNT(*) AS started,
		       COUNT(*) FILTER (WHERE phase = 'success') AS succeeded,
		       COUNT(*) FILTER (WHERE phase = 'failed') AS failed,
		       COUNT(*) FILTER (WHERE finished_at IS NOT NULL AND phase NOT IN ('success', 'failed')) AS abandoned,
		       COUNT(*) FILTER (WHERE finished_at IS NULL) AS in_progress,
		       COALESCE(AVG(retry_count), 0)::float8 AS avg_retries
		FROM sessions
		WHERE created_at >= $1
	`

	var s SessionStats
	err := r.db.QueryRow(ctx, query, since).Scan(
		&s.Started,
		&s.Succeeded,
		&s.Failed,
		&s.Abandoned,
		&s.InProgress,
		&s.AvgRetries,
	)
	if err != nil {
		return nil, fmt.Errorf("query session stats: %w", err)
	}

	s.SuccessRate = ratio(s.Succeeded, s.Succeeded+s.Failed)
	return &s, nil
}

func ratio(n, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}
