package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/capture"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/database"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/presence"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/webhook"
)

type Config struct {
	// Server
	Port        int    `envconfig:"PORT" default:"3000"`
	Environment string `envconfig:"ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL"`

	// Database
	DatabaseURL    string        `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns     int           `envconfig:"DB_MAX_CONNS" default:"16"`
	DBConnLifetime time.Duration `envconfig:"DB_CONN_LIFETIME" default:"30m"`
	AutoMigrate    bool          `envconfig:"AUTO_MIGRATE" default:"true"`

	// Security
	APIKeySecret    string        `envconfig:"API_KEY_SECRET" required:"true"`
	RateLimitMax    int           `envconfig:"RATE_LIMIT_MAX" default:"300"`
	RateLimitWindow time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	// Providers
	DetectorProvider string  `envconfig:"DETECTOR_PROVIDER" default:"deepface"`
	MatchProvider    string  `envconfig:"MATCH_PROVIDER" default:"mock"`
	MatchThreshold   float64 `envconfig:"MATCH_THRESHOLD" default:"0.8"`
	DeepFaceURL      string  `envconfig:"DEEPFACE_URL" default:"http://localhost:5005"`
	AWSRegion        string  `envconfig:"AWS_REGION" default:"us-east-1"`

	// Liveness service
	LivenessURL             string        `envconfig:"LIVENESS_URL" default:"https://ml-uat.appman.co.th"`
	LivenessAPIKey          string        `envconfig:"LIVENESS_API_KEY" required:"true"`
	LivenessReferenceNumber string        `envconfig:"LIVENESS_REFERENCE_NUMBER" required:"true"`
	LivenessTimeout         time.Duration `envconfig:"LIVENESS_TIMEOUT" default:"30s"`

	// Capture flow
	PresenceInterval  time.Duration `envconfig:"PRESENCE_INTERVAL" default:"200ms"`
	PresenceThreshold float64       `envconfig:"PRESENCE_THRESHOLD" default:"0.95"`
	SettleDelay       time.Duration `envconfig:"SETTLE_DELAY" default:"1200ms"`
	CountdownDuration time.Duration `envconfig:"COUNTDOWN_DURATION" default:"1500ms"`
	RecordDuration    time.Duration `envconfig:"RECORD_DURATION" default:"5s"`
	MaxRetries        int           `envconfig:"MAX_RETRIES" default:"3"`
	RecorderBitrate   int           `envconfig:"RECORDER_BITRATE" default:"2000000"`

	// Sessions
	SessionIdleTimeout time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"10m"`
	MaxLiveSessions    int           `envconfig:"MAX_LIVE_SESSIONS" default:"100"`

	// Webhooks
	WebhookURL           string        `envconfig:"WEBHOOK_URL"`
	WebhookSecret        string        `envconfig:"WEBHOOK_SECRET"`
	WebhookTimeout       time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
	WebhookMaxAttempts   int           `envconfig:"WEBHOOK_MAX_ATTEMPTS" default:"5"`
	WebhookRetryInterval time.Duration `envconfig:"WEBHOOK_RETRY_INTERVAL" default:"5s"`

	// Metrics
	MetricsInterval time.Duration `envconfig:"METRICS_INTERVAL" default:"1m"`
	MetricsWindow   time.Duration `envconfig:"METRICS_WINDOW" default:"24h"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.PresenceThreshold <= 0 || c.PresenceThreshold > 1 {
		return fmt.Errorf("PRESENCE_THRESHOLD must be in (0, 1], got %v", c.PresenceThreshold)
	}
	if c.PresenceInterval <= 0 {
		return fmt.Errorf("PRESENCE_INTERVAL must be positive, got %v", c.PresenceInterval)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative, got %d", c.MaxRetries)
	}
	if c.RateLimitMax <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX must be positive, got %d", c.RateLimitMax)
	}
	if c.WebhookURL != "" && c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required when WEBHOOK_URL is set")
	}
	return nil
}

// Capture projects the flow timings for the orchestrator.
func (c *Config) Capture() capture.Timings {
	return capture.Timings{
		SettleDelay:       c.SettleDelay,
		CountdownDuration: c.CountdownDuration,
		RecordDuration:    c.RecordDuration,
		MaxRetries:        c.MaxRetries,
		Bitrate:           c.RecorderBitrate,
	}
}

// Presence projects the polling settings for the presence monitor.
func (c *Config) Presence() presence.Config {
	pc := presence.DefaultConfig()
	pc.Interval = c.PresenceInterval
	pc.Threshold = c.PresenceThreshold
	return pc
}

// Pool projects the database settings.
func (c *Config) Pool() database.PoolConfig {
	pc := database.DefaultPoolConfig(c.DatabaseURL)
	if c.DBMaxConns > 0 {
		pc.MaxOpenConns = c.DBMaxConns
	}
	if c.DBConnLifetime > 0 {
		pc.ConnMaxLifetime = c.DBConnLifetime
	}
	return pc
}

// Webhook projects the outbound notification settings.
func (c *Config) Webhook() webhook.Config {
	return webhook.Config{
		URL:         c.WebhookURL,
		Secret:      c.WebhookSecret,
		Timeout:     c.WebhookTimeout,
		MaxAttempts: c.WebhookMaxAttempts,
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
