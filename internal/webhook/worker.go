package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	defaultPollInterval = 5 * time.Second
	batchSize           = 10
)

// Worker redelivers queued events with exponential backoff.
type Worker struct {
	notifier *Notifier
	interval time.Duration
	logger   *slog.Logger
	stopCh   chan struct{}
}

func NewWorker(notifier *Notifier, interval time.Duration, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Worker{
		notifier: notifier,
		interval: interval,
		logger:   logger.With("component", "webhook_worker"),
		stopCh:   make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("webhook worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("webhook worker stopped")
			return
		case <-w.stopCh:
			w.logger.Info("webhook worker stopped")
			return
		case <-ticker.C:
			if _, err := w.ProcessQueue(ctx); err != nil {
				w.logger.Error("failed to process webhook queue", "error", err)
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
}

// ProcessQueue claims one batch of due jobs and attempts each. Row locks are
// held for the duration of the batch so concurrent workers skip them.
func (w *Worker) ProcessQueue(ctx context.Context) (int, error) {
	query := `
		SELECT id, url, event_type, payload, attempts, max_attempts
		FROM webhook_queue
		WHERE status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		ORDER BY created_at ASC
		LIMIT 10
		FOR UPDATE SKIP LOCKED
	`

	tx, err := w.notifier.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("query webhook queue: %w", err)
	}

	jobs := make([]Job, 0, batchSize)
	for rows.Next() {
		var job Job
		if err := rows.Scan(&job.ID, &job.URL, &job.EventType, &job.Payload, &job.Attempts, &job.MaxAttempts); err != nil {
			w.logger.Error("failed to scan webhook job", "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate webhook queue: %w", err)
	}

	for i := range jobs {
		if err := w.processJob(ctx, tx, &jobs[i]); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	return len(jobs), nil
}

func (w *Worker) processJob(ctx context.Context, tx pgx.Tx, job *Job) error {
	if err := w.notifier.send(ctx, job.URL, job.EventType, job.Payload); err != nil {
		return w.scheduleRetry(ctx, tx, job, err.Error())
	}
	return w.markComplete(ctx, tx, job.ID)
}

func (w *Worker) scheduleRetry(ctx context.Context, tx pgx.Tx, job *Job, errorMsg string) error {
	attempts := job.Attempts + 1
	if attempts >= job.MaxAttempts {
		return w.markFailed(ctx, tx, job.ID, attempts, errorMsg)
	}

	delay := time.Duration(1<<attempts) * time.Second
	nextRetry := w.notifier.now().Add(delay)

	query := `
		UPDATE webhook_queue
		SET attempts = $1,
		    next_retry_at = $2,
		    last_error = $3,
		    status = 'pending',
		    updated_at = NOW()
		WHERE id = $4
	`

	if _, err := tx.Exec(ctx, query, attempts, nextRetry, errorMsg, job.ID); err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}

	w.logger.Info("webhook job scheduled for retry",
		"job_id", job.ID,
		"attempts", attempts,
		"next_retry", nextRetry,
	)

	return nil
}

func (w *Worker) markComplete(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) error {
	query := `
		UPDATE webhook_queue
		SET status = 'delivered',
		    updated_at = NOW()
		WHERE id = $1
	`

	if _, err := tx.Exec(ctx, query, jobID); err != nil {
		return fmt.Errorf("mark complete: %w", err)
	}

	w.logger.Info("webhook job completed", "job_id", jobID)
	return nil
}

func (w *Worker) markFailed(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, attempts int, errorMsg string) error {
	query := `
		UPDATE webhook_queue
		SET status = 'failed',
		    attempts = $1,
		    last_error = $2,
		    updated_at = NOW()
		WHERE id = $3
	`

	if _, err := tx.Exec(ctx, query, attempts, errorMsg, jobID); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}

	w.logger.Warn("webhook job failed", "job_id", jobID, "error", errorMsg)
	return nil
}
