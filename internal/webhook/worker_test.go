package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jobColumns = []string{"id", "url", "event_type", "payload", "attempts", "max_attempts"}

func TestWorker_ProcessQueue(t *testing.T) {
	ok := &countingHandler{status: http.StatusOK}
	okSrv := httptest.NewServer(ok)
	defer okSrv.Close()

	bad := &countingHandler{status: http.StatusInternalServerError}
	badSrv := httptest.NewServer(bad)
	defer badSrv.Close()

	delivered, retried, exhausted := uuid.New(), uuid.New(), uuid.New()

	n, mock := newTestNotifier(t, okSrv.URL)
	w := NewWorker(n, time.Second, testLogger())

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, url, event_type, payload, attempts, max_attempts FROM webhook_queue WHERE status = 'pending'.* LIMIT 10 FOR UPDATE SKIP LOCKED`).
		WillReturnRows(pgxmock.NewRows(jobColumns).
			AddRow(delivered, okSrv.URL, EventSessionSucceeded, []byte(`{}`), 1, 3).
			AddRow(retried, badSrv.URL, EventSessionFailed, []byte(`{}`), 0, 3).
			AddRow(exhausted, badSrv.URL, EventSessionFailed, []byte(`{}`), 2, 3))
	mock.ExpectExec(`SET status = 'delivered'`).
		WithArgs(delivered).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`SET attempts = \$1, next_retry_at = \$2`).
		WithArgs(1, time.Unix(1700000000, 0).Add(2*time.Second), "HTTP 500", retried).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`SET status = 'failed'`).
		WithArgs(3, "HTTP 500", exhausted).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	count, err := w.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, int32(1), ok.calls.Load())
	assert.Equal(t, int32(2), bad.calls.Load())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorker_ProcessQueueEmpty(t *testing.T) {
	n, mock := newTestNotifier(t, "http://unused")
	w := NewWorker(n, 0, testLogger())
	assert.Equal(t, defaultPollInterval, w.interval)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM webhook_queue`).WillReturnRows(pgxmock.NewRows(jobColumns))
	mock.ExpectCommit()

	count, err := w.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorker_ProcessQueueQueryError(t *testing.T) {
	n, mock := newTestNotifier(t, "http://unused")
	w := NewWorker(n, time.Second, testLogger())

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM webhook_queue`).WillReturnError(errors.New("relation does not exist"))
	mock.ExpectRollback()

	_, err := w.ProcessQueue(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query webhook queue")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorker_StopsOnContextCancel(t *testing.T) {
	n, _ := newTestNotifier(t, "http://unused")
	w := NewWorker(n, time.Hour, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_Stop(t *testing.T) {
	n, _ := newTestNotifier(t, "http://unused")
	w := NewWorker(n, time.Hour, testLogger())

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	w.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
