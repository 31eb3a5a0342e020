package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Snapshot is one computed view of the verification metrics.
type Snapshot struct {
	Window      time.Duration  `json:"-"`
	Since       time.Time      `json:"since"`
	GeneratedAt time.Time      `json:"generated_at"`
	Sessions    *SessionStats  `json:"sessions"`
	Attempts    []AttemptStats `json:"attempts"`
}

// Aggregator periodically recomputes a Snapshot over a trailing window so
// readers never hit the database directly.
type Aggregator struct {
	repo     *Repository
	logger   *slog.Logger
	interval time.Duration
	window   time.Duration
	now      func() time.Time

	mu   sync.RWMutex
	last *Snapshot
}

// NewAggregator creates a new metrics aggregator worker
func NewAggregator(repo *Repository, logger *slog.Logger, interval, window time.Duration) *Aggregator {
	if interval == 0 {
		interval = 1 * time.Minute
	}
	if window == 0 {
		window = 24 * time.Hour
	}

	return &Aggregator{
		repo:     repo,
		logger:   logger.With("component", "metrics"),
		interval: interval,
		window:   window,
		now:      time.Now,
	}
}

// Run refreshes the snapshot immediately and then on every interval until
// ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info("metrics aggregator started", "interval", a.interval, "window", a.window)
	a.refreshLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("metrics aggregator stopped")
			return
		case <-ticker.C:
			a.refreshLogged(ctx)
		}
	}
}

// Snapshot returns the most recent snapshot. When none has been computed yet
// it computes one synchronously.
func (a *Aggregator) Snapshot(ctx context.Context) (*Snapshot, error) {
	a.mu.RLock()
	last := a.last
	a.mu.RUnlock()

	if last != nil {
		return last, nil
	}
	return a.Refresh(ctx)
}

// Refresh recomputes and stores the snapshot.
func (a *Aggregator) Refresh(ctx context.Context) (*Snapshot, error) {
	now := a.now()
	since := now.Add(-a.window)

	sessions, err := a.repo.SessionStats(ctx, since)
	if err != nil {
		return nil, err
	}
	attempts, err := a.repo.AttemptStats(ctx, since)
	if err != nil {
		return nil, err
	}
	if attempts == nil {
		attempts = []AttemptStats{}
	}

	snap := &Snapshot{
		Window:      a.window,
		Since:       since,
		GeneratedAt: now,
		Sessions:    sessions,
		Attempts:    attempts,
	}

	a.mu.Lock()
	a.last = snap
	a.mu.Unlock()

	return snap, nil
}

func (a *Aggregator) refreshLogged(ctx context.Context) {
	snap, err := a.Refresh(ctx)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Error("failed to aggregate metrics", "error", err)
		}
		return
	}
	a.logger.Debug("metrics aggregated",
		"sessions", snap.Sessions.Started,
		"success_rate", snap.Sessions.SuccessRate,
	)
}
