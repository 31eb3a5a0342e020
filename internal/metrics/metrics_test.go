package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sessionCols = []string{"started", "succeeded", "failed", "abandoned", "in_progress", "avg_retries"}
var attemptCols = []string{"kind", "total", "passed", "errored", "avg_latency", "p99_latency"}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRepository_AttemptStats(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("computes pass rate per kind", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT kind, COUNT\(\*\) AS total`).
			WithArgs(since).
			WillReturnRows(pgxmock.NewRows(attemptCols).
				AddRow("face_match", int64(10), int64(9), int64(1), 120.5, 480.0).
				AddRow("liveness", int64(4), int64(0), int64(0), 900.0, 1500.0))

		stats, err := NewRepository(mock).AttemptStats(context.Background(), since)
		require.NoError(t, err)
		require.Len(t, stats, 2)

		assert.Equal(t, "face_match", stats[0].Kind)
		assert.InDelta(t, 0.9, stats[0].PassRate, 1e-9)
		assert.Equal(t, int64(1), stats[0].Errored)
		assert.Equal(t, 480.0, stats[0].P99LatencyMs)
		assert.Zero(t, stats[1].PassRate)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error is wrapped", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`FROM verification_attempts`).
			WithArgs(since).
			WillReturnError(errors.New("connection reset"))

		_, err = NewRepository(mock).AttemptStats(context.Background(), since)
		assert.EqualError(t, err, "query attempt stats: connection reset")
	})
}

func TestRepository_SessionStats(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		row         []any
		wantSuccess float64
	}{
		{
			name:        "success rate over finished verdicts",
			row:         []any{int64(10), int64(6), int64(2), int64(1), int64(1), 0.8},
			wantSuccess: 0.75,
		},
		{
			name:        "no verdicts yet",
			row:         []any{int64(2), int64(0), int64(0), int64(0), int64(2), 0.0},
			wantSuccess: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			mock.ExpectQuery(`FROM sessions WHERE created_at >= \$1`).
				WithArgs(since).
				WillReturnRows(pgxmock.NewRows(sessionCols).AddRow(tt.row...))

			stats, err := NewRepository(mock).SessionStats(context.Background(), since)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantSuccess, stats.SuccessRate, 1e-9)
			assert.Equal(t, tt.row[0], stats.Started)
		})
	}
}

func TestAggregator_SnapshotComputesOnceThenCaches(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	since := now.Add(-time.Hour)

	mock.ExpectQuery(`FROM sessions`).
		WithArgs(since).
		WillReturnRows(pgxmock.NewRows(sessionCols).AddRow(int64(1), int64(1), int64(0), int64(0), int64(0), 0.0))
	mock.ExpectQuery(`FROM verification_attempts`).
		WithArgs(since).
		WillReturnRows(pgxmock.NewRows(attemptCols))

	agg := NewAggregator(NewRepository(mock), testLogger(), time.Minute, time.Hour)
	agg.now = func() time.Time { return now }

	first, err := agg.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, since, first.Since)
	assert.Equal(t, 1.0, first.Sessions.SuccessRate)
	assert.NotNil(t, first.Attempts, "empty attempts serialize as []")

	second, err := agg.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregator_RefreshError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM sessions`).WillReturnError(errors.New("down"))

	agg := NewAggregator(NewRepository(mock), testLogger(), 0, 0)
	_, err = agg.Snapshot(context.Background())
	assert.ErrorContains(t, err, "down")

	assert.Equal(t, time.Minute, agg.interval)
	assert.Equal(t, 24*time.Hour, agg.window)
}

func TestAggregator_RunStopsOnCancel(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM sessions`).WillReturnError(context.Canceled)

	agg := NewAggregator(NewRepository(mock), testLogger(), time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		agg.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("aggregator did not stop")
	}
}
