// Package presence polls a face detector against the live feed and reports
// whether a face is currently in frame.
package presence

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/frame"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/provider"
)

const (
	DefaultInterval  = 200 * time.Millisecond
	DefaultThreshold = 0.95

	defaultDetectTimeout = 2 * time.Second
	defaultWarmupRetry   = 2 * time.Second
)

// Signal is one presence observation. Only the latest value matters.
type Signal struct {
	// Ready is false until the detector finished initializing.
	Ready bool
	// Present is meaningful only when Ready is true.
	Present    bool
	Confidence float64
	At         time.Time
}

// Config tunes the polling loop.
type Config struct {
	Interval      time.Duration
	Threshold     float64
	DetectTimeout time.Duration
	WarmupRetry   time.Duration
}

// DefaultConfig returns the 200ms / 0.95 polling setup.
func DefaultConfig() Config {
	return Config{
		Interval:      DefaultInterval,
		Threshold:     DefaultThreshold,
		DetectTimeout: defaultDetectTimeout,
		WarmupRetry:   defaultWarmupRetry,
	}
}

// Monitor emits a Signal on every tick, whether or not the value changed.
type Monitor struct {
	detector provider.FaceDetector
	source   frame.Source
	cfg      Config
	logger   *slog.Logger

	ready atomic.Bool
	out   chan Signal
}

// NewMonitor creates a monitor. Zero config fields fall back to defaults.
func NewMonitor(detector provider.FaceDetector, source frame.Source, cfg Config, logger *slog.Logger) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.DetectTimeout <= 0 {
		cfg.DetectTimeout = def.DetectTimeout
	}
	if cfg.WarmupRetry <= 0 {
		cfg.WarmupRetry = def.WarmupRetry
	}

	return &Monitor{
		detector: detector,
		source:   source,
		cfg:      cfg,
		logger:   logger.With("component", "presence"),
		out:      make(chan Signal, 1),
	}
}

// Signals returns the feed of observations. The channel holds at most one
// pending value; an unread value is replaced by the next one.
func (m *Monitor) Signals() <-chan Signal {
	return m.out
}

// Ready reports whether detector initialization has completed.
func (m *Monitor) Ready() bool {
	return m.ready.Load()
}

// Run initializes the detector in the background and polls until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	go m.warmup(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.emit(m.observe(ctx, now))
		}
	}
}

func (m *Monitor) warmup(ctx context.Context) {
	w, ok := m.detector.(provider.Warmer)
	if !ok {
		m.ready.Store(true)
		return
	}

	for {
		err := w.Warmup(ctx)
		if err == nil {
			m.ready.Store(true)
			m.logger.Info("face detector ready")
			return
		}

		m.logger.Warn("face detector warmup failed", slog.Any("error", err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.cfg.WarmupRetry):
		}
	}
}

func (m *Monitor) observe(ctx context.Context, now time.Time) Signal {
	if !m.ready.Load() {
		return Signal{At: now}
	}

	sig := Signal{Ready: true, At: now}

	f := m.source.Latest()
	if f == nil || len(f.Data) == 0 {
		return sig
	}

	detectCtx, cancel := context.WithTimeout(ctx, m.cfg.DetectTimeout)
	defer cancel()

	faces, err := m.detector.DetectFaces(detectCtx, f.Data)
	if err != nil {
		m.logger.Debug("detection pass failed", slog.Any("error", err), slog.Uint64("seq", f.Seq))
		return sig
	}
	if len(faces) == 0 {
		return sig
	}

	sig.Confidence = provider.BestConfidence(faces)
	sig.Present = sig.Confidence > m.cfg.Threshold
	return sig
}

// emit replaces any unread value so the consumer always sees the newest one.
func (m *Monitor) emit(s Signal) {
	for {
		select {
		case m.out <- s:
			return
		default:
		}
		select {
		case <-m.out:
		default:
		}
	}
}
