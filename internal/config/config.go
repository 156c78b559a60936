// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Remote scorer
	RemoteScorerURL     string // External trust scorer endpoint (optional, local-only if not set)
	RemoteScorerTimeout time.Duration
	SyncInterval        time.Duration // Scoring tick interval
	SlowSyncInterval    time.Duration // Interval while the scorer is rate limiting us
	HeartbeatInterval   time.Duration
	SyncFailureLimit    int // Consecutive failures before falling back to local scoring

	// Alerts
	AlertWebhookURL    string // Alert sink endpoint (optional)
	AlertWebhookSecret string // HMAC secret for signing alert payloads

	// Security
	RateLimitRPM int

	// Tracing
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultScorerTimeout     = 8 * time.Second
	DefaultSyncInterval      = 5 * time.Second
	DefaultSlowSyncInterval  = 15 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultSyncFailureLimit  = 3
	DefaultRateLimit         = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RemoteScorerURL:     os.Getenv("REMOTE_SCORER_URL"),
		RemoteScorerTimeout: getEnvDuration("REMOTE_SCORER_TIMEOUT", DefaultScorerTimeout),
		SyncInterval:        getEnvDuration("SYNC_INTERVAL", DefaultSyncInterval),
		SlowSyncInterval:    getEnvDuration("SLOW_SYNC_INTERVAL", DefaultSlowSyncInterval),
		HeartbeatInterval:   getEnvDuration("HEARTBEAT_INTERVAL", DefaultHeartbeatInterval),
		SyncFailureLimit:    int(getEnvInt64("SYNC_FAILURE_LIMIT", DefaultSyncFailureLimit)),
		AlertWebhookURL:     os.Getenv("ALERT_WEBHOOK_URL"),
		AlertWebhookSecret:  os.Getenv("ALERT_WEBHOOK_SECRET"),
		RateLimitRPM:        int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all configuration values are usable
func (c *Config) Validate() error {
	if c.RemoteScorerURL != "" {
		if _, err := url.ParseRequestURI(c.RemoteScorerURL); err != nil {
			return fmt.Errorf("REMOTE_SCORER_URL is not a valid URL: %w", err)
		}
	}
	if c.AlertWebhookURL != "" {
		if _, err := url.ParseRequestURI(c.AlertWebhookURL); err != nil {
			return fmt.Errorf("ALERT_WEBHOOK_URL is not a valid URL: %w", err)
		}
	}
	if c.SyncInterval < time.Second {
		return fmt.Errorf("SYNC_INTERVAL must be at least 1s, got %s", c.SyncInterval)
	}
	if c.SyncFailureLimit < 1 {
		return fmt.Errorf("SYNC_FAILURE_LIMIT must be at least 1, got %d", c.SyncFailureLimit)
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
