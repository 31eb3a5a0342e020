package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/repository"
)

const (
	defaultMaxAttempts = 5
	userAgent          = "Ekyc-Webhook/1.0"
)

// Config configures outbound delivery. An empty URL disables webhooks.
type Config struct {
	URL         string
	Secret      string
	Timeout     time.Duration
	MaxAttempts int
}

// Notifier posts signed events and falls back to the retry queue when the
// receiver is unreachable or rejects the delivery.
type Notifier struct {
	db     repository.PgxPool
	client *http.Client
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewNotifier(db repository.PgxPool, cfg Config, logger *slog.Logger) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &Notifier{
		db:     db,
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		logger: logger.With("component", "webhook"),
		now:    time.Now,
	}
}

// Enabled reports whether a receiver URL is configured.
func (n *Notifier) Enabled() bool {
	return n.cfg.URL != ""
}

// Dispatch delivers one event. A failed delivery is queued for the worker;
// only a failure to queue is returned.
func (n *Notifier) Dispatch(ctx context.Context, eventType string, sessionID uuid.UUID, data any) error {
	if !n.Enabled() {
		return nil
	}

	event := EventPayload{
		ID:        uuid.New(),
		Type:      eventType,
		SessionID: sessionID,
		Data:      data,
		Timestamp: n.now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := n.send(ctx, n.cfg.URL, eventType, payload); err != nil {
		n.logger.Warn("webhook delivery failed, queueing",
			"event", eventType,
			"session_id", sessionID,
			"error", err,
		)
		return n.enqueue(ctx, eventType, payload, err.Error())
	}

	n.logger.Info("webhook delivered", "event", eventType, "session_id", sessionID)
	return nil
}

func (n *Notifier) send(ctx context.Context, url, eventType string, payload []byte) error {
	ts := n.now().Unix()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(n.cfg.Secret, ts, payload))
	req.Header.Set(TimestampHeader, strconv.FormatInt(ts, 10))
	req.Header.Set(EventHeader, eventType)
	req.Header.Set("User-Agent", userAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	return nil
}

func (n *Notifier) enqueue(ctx context.Context, eventType string, payload []byte, errorMsg string) error {
	query := `
		INSERT INTO webhook_queue (url, event_type, payload, max_attempts, next_retry_at, last_error)
		VALUES ($1, $2, $3, $4, NOW() + INTERVAL '1 second', $5)
	`

	_, err := n.db.Exec(ctx, query, n.cfg.URL, eventType, payload, n.cfg.MaxAttempts, errorMsg)
	if err != nil {
		return fmt.Errorf("enqueue webhook: %w", err)
	}

	return nil
}
