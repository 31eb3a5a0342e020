package api

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	swagger "github.com/go-swagno/swagno-fiber/swagger"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/api/docs"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/api/handler"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/database"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/metrics"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/repository"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/service"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/session"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/webhook"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/ws"
)

type Dependencies struct {
	DB            database.Pinger
	SessionRepo   repository.SessionRepositoryInterface
	AttemptRepo   repository.AttemptRepositoryInterface
	Sessions      *session.Manager
	Hub           *ws.Hub
	WebhookWorker *webhook.Worker
	Metrics       *metrics.Aggregator
	APIKey        string
	RateLimit     middleware.RateLimiterConfig
}

type Router struct {
	app         *fiber.App
	logger      *slog.Logger
	deps        *Dependencies
	rateLimiter *middleware.RateLimiter

	cancelSessions context.CancelFunc
	cancelHub      context.CancelFunc
	cancelWorker   context.CancelFunc
	cancelMetrics  context.CancelFunc
	sessionsDone   chan struct{}
	wg             sync.WaitGroup
}

func NewRouter(logger *slog.Logger, deps *Dependencies) *Router {
	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(logger),
		AppName:      "eKYC Capture API",
		BodyLimit:    8 * 1024 * 1024,
	})

	return &Router{
		app:    app,
		logger: logger,
		deps:   deps,
	}
}

func (r *Router) Setup() {
	// Global middlewares
	r.app.Use(requestid.New())
	r.app.Use(middleware.Recover(r.logger))
	r.app.Use(middleware.Logger(r.logger, "/health", "/ready"))
	r.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-API-Key",
	}))

	// Swagger documentation (no auth required)
	sw := docs.NewSwagger()
	swagger.SwaggerHandler(r.app, sw.MustToJson())

	var (
		db       database.Pinger
		counter  handler.LiveCounter
		sessions *session.Manager
	)
	if r.deps != nil {
		db = r.deps.DB
		sessions = r.deps.Sessions
		if sessions != nil {
			counter = sessions
		}
	}

	// Health check endpoints (no auth required)
	healthHandler := handler.NewHealthHandler(db, counter)
	r.app.Get("/health", healthHandler.Health)
	r.app.Get("/ready", healthHandler.Ready)

	if sessions == nil {
		return
	}

	r.startBackground()

	v1 := r.app.Group("/v1")
	v1.Use(middleware.Auth(r.deps.APIKey))

	r.rateLimiter = middleware.NewRateLimiter(r.deps.RateLimit)
	v1.Use(r.rateLimiter.Handler())

	sessionService := service.NewSessionService(sessions, r.deps.SessionRepo, r.deps.AttemptRepo, r.logger)
	sessionHandler := handler.NewSessionHandler(sessionService, r.logger)

	v1.Post("/sessions", sessionHandler.Create)
	v1.Get("/sessions/:id", sessionHandler.Get)
	v1.Put("/sessions/:id/gesture", sessionHandler.SetGesture)
	v1.Post("/sessions/:id/countdown", sessionHandler.CompleteCountdown)
	v1.Get("/sessions/:id/attempts", sessionHandler.Attempts)
	v1.Delete("/sessions/:id", sessionHandler.Close)

	if r.deps.Metrics != nil {
		metricsHandler := handler.NewMetricsHandler(r.deps.Metrics, sessions, r.logger)
		v1.Get("/metrics", metricsHandler.Get)
	}

	// Frames, recorder segments and state events
	v1.Get("/sessions/:id/ws", ws.UpgradeMiddleware(), ws.Handler(r.deps.Hub, sessions.Lookup, r.logger))
}

// startBackground runs the hub, the session manager and the optional workers
// until Shutdown.
func (r *Router) startBackground() {
	if r.deps.Hub != nil {
		ctx, cancel := context.WithCancel(context.Background())
		r.cancelHub = cancel
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.deps.Hub.Run(ctx)
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancelSessions = cancel
	r.sessionsDone = make(chan struct{})
	go func() {
		defer close(r.sessionsDone)
		r.deps.Sessions.Run(ctx)
	}()

	if r.deps.WebhookWorker != nil {
		ctx, cancel := context.WithCancel(context.Background())
		r.cancelWorker = cancel
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.deps.WebhookWorker.Run(ctx)
		}()
	}

	if r.deps.Metrics != nil {
		ctx, cancel := context.WithCancel(context.Background())
		r.cancelMetrics = cancel
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.deps.Metrics.Run(ctx)
		}()
	}
}

func (r *Router) App() *fiber.App {
	return r.app
}

func (r *Router) Listen(addr string) error {
	return r.app.Listen(addr)
}

// Shutdown stops accepting requests, closes live sessions and waits for their
// writes before stopping the hub and the webhook worker.
func (r *Router) Shutdown(ctx context.Context) error {
	err := r.app.ShutdownWithContext(ctx)

	if r.cancelSessions != nil {
		r.cancelSessions()
		select {
		case <-r.sessionsDone:
		case <-ctx.Done():
			r.logger.Warn("session shutdown timed out")
		}
	}

	if r.cancelHub != nil {
		r.cancelHub()
	}
	if r.cancelWorker != nil {
		r.cancelWorker()
	}
	if r.cancelMetrics != nil {
		r.cancelMetrics()
	}

	// Stop rate limiter cleanup goroutine
	if r.rateLimiter != nil {
		r.rateLimiter.Stop()
	}

	r.wg.Wait()
	return err
}
