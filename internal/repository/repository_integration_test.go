//go:build integration

package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/database"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/domain"
)

func setupIntegrationTest(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "ekyc_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connStr := fmt.Sprintf("postgres://test:test@%s:%s/ekyc_test?sslmode=disable", host, port.Port())

	migrator, err := database.Open(connStr)
	require.NoError(t, err)
	require.NoError(t, migrator.Up())
	require.NoError(t, migrator.Close())

	db, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	return db
}

func TestSessionLifecycle_Integration(t *testing.T) {
	db := setupIntegrationTest(t)
	ctx := context.Background()

	sessions := NewSessionRepository(db)
	attempts := NewAttemptRepository(db)

	s := &domain.Session{
		Gesture: domain.GestureMouth,
		Phase:   domain.PhaseInitializing,
		Status:  "Position your face in the frame",
	}
	require.NoError(t, sessions.Create(ctx, s))
	require.NotEqual(t, uuid.Nil, s.ID)

	t.Run("duplicate create is rejected", func(t *testing.T) {
		dup := &domain.Session{ID: s.ID, Gesture: domain.GestureMouth, Phase: domain.PhaseInitializing}
		assert.ErrorIs(t, sessions.Create(ctx, dup), ErrDuplicateSession)
	})

	t.Run("transitions are persisted", func(t *testing.T) {
		s.Phase = domain.PhaseRecording
		s.RetryCount = 1
		s.Status = "Recording..."
		s.UpdatedAt = time.Now()
		require.NoError(t, sessions.UpdateState(ctx, s))

		got, err := sessions.GetByID(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PhaseRecording, got.Phase)
		assert.Equal(t, 1, got.RetryCount)
		assert.Nil(t, got.FinishedAt)
	})

	t.Run("retry count beyond the default is stored", func(t *testing.T) {
		other := &domain.Session{Gesture: domain.GestureNod, Phase: domain.PhaseInitializing}
		require.NoError(t, sessions.Create(ctx, other))

		other.Phase = domain.PhaseFailed
		other.RetryCount = 5
		other.UpdatedAt = time.Now()
		require.NoError(t, sessions.UpdateState(ctx, other))

		got, err := sessions.GetByID(ctx, other.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, got.RetryCount)
		assert.NotNil(t, got.FinishedAt)
	})

	t.Run("attempts are recorded in order", func(t *testing.T) {
		require.NoError(t, attempts.Create(ctx, &domain.Attempt{SessionID: s.ID, Kind: domain.AttemptFaceMatch, Number: 1, Passed: true, LatencyMs: 40}))
		require.NoError(t, attempts.Create(ctx, &domain.Attempt{SessionID: s.ID, Kind: domain.AttemptLiveness, Number: 1, Passed: false, Error: "timeout"}))

		list, err := attempts.ListBySession(ctx, s.ID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, domain.AttemptFaceMatch, list[0].Kind)
		assert.Equal(t, "timeout", list[1].Error)
	})

	t.Run("terminal phase stamps finished_at once", func(t *testing.T) {
		s.Phase = domain.PhaseSuccess
		s.UpdatedAt = time.Now()
		require.NoError(t, sessions.UpdateState(ctx, s))

		got, err := sessions.GetByID(ctx, s.ID)
		require.NoError(t, err)
		require.NotNil(t, got.FinishedAt)
		first := *got.FinishedAt

		require.NoError(t, sessions.Finish(ctx, s.ID))
		got, err = sessions.GetByID(ctx, s.ID)
		require.NoError(t, err)
		assert.True(t, first.Equal(*got.FinishedAt))
	})

	t.Run("unknown session", func(t *testing.T) {
		_, err := sessions.GetByID(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})
}
