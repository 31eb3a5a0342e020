package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/api"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/audit"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/config"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/database"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/face"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/metrics"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/repository"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/session"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/webhook"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	logger := config.NewLogger(cfg.Environment, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting eKYC capture API",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.Port),
		slog.String("detector", cfg.DetectorProvider),
		slog.String("matcher", cfg.MatchProvider),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.AutoMigrate {
		if err := migrate(cfg.DatabaseURL, logger); err != nil {
			return err
		}
	}

	pool, err := database.NewPool(ctx, cfg.Pool())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	sessionRepo := repository.NewSessionRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)

	auditLogger := audit.NewSlogLogger(logger)
	providers := face.NewFactory(cfg, auditLogger)

	notifier := webhook.NewNotifier(pool, cfg.Webhook(), logger)
	worker := webhook.NewWorker(notifier, cfg.WebhookRetryInterval, logger)

	hub := ws.NewHub()
	manager := session.NewManager(session.Deps{
		Sessions:  sessionRepo,
		Attempts:  attemptRepo,
		Providers: providers,
		Hub:       hub,
		Audit:     auditLogger,
		Notifier:  notifier,
		Logger:    logger,
	}, session.Config{
		Timings:     cfg.Capture(),
		Presence:    cfg.Presence(),
		IdleTimeout: cfg.SessionIdleTimeout,
		MaxLive:     cfg.MaxLiveSessions,
	})

	// Setup router
	router := api.NewRouter(logger, &api.Dependencies{
		DB:            pool,
		SessionRepo:   sessionRepo,
		AttemptRepo:   attemptRepo,
		Sessions:      manager,
		Hub:           hub,
		WebhookWorker: worker,
		Metrics:       metrics.NewAggregator(metrics.NewRepository(pool), logger, cfg.MetricsInterval, cfg.MetricsWindow),
		APIKey:        cfg.APIKeySecret,
		RateLimit: middleware.RateLimiterConfig{
			Max:    cfg.RateLimitMax,
			Window: cfg.RateLimitWindow,
		},
	})
	router.Setup()

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info("server listening", slog.String("addr", addr))
		if err := router.Listen(addr); err != nil {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		serveErr = fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := router.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.Any("error", err))
	}

	logger.Info("server stopped")
	return serveErr
}

func migrate(dsn string, logger *slog.Logger) error {
	migrator, err := database.Open(dsn)
	if err != nil {
		return fmt.Errorf("failed to open migrator: %w", err)
	}
	defer func() { _ = migrator.Close() }()

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}

	version, dirty, err := migrator.Version()
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	logger.Info("database migrated", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
	return nil
}
