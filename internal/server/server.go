// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/shxrxn/nethra-trust/internal/alerts"
	"github.com/shxrxn/nethra-trust/internal/baseline"
	"github.com/shxrxn/nethra-trust/internal/circuitbreaker"
	"github.com/shxrxn/nethra-trust/internal/config"
	"github.com/shxrxn/nethra-trust/internal/health"
	"github.com/shxrxn/nethra-trust/internal/idgen"
	"github.com/shxrxn/nethra-trust/internal/logging"
	"github.com/shxrxn/nethra-trust/internal/metrics"
	"github.com/shxrxn/nethra-trust/internal/ratelimit"
	"github.com/shxrxn/nethra-trust/internal/realtime"
	"github.com/shxrxn/nethra-trust/internal/remote"
	"github.com/shxrxn/nethra-trust/internal/security"
	"github.com/shxrxn/nethra-trust/internal/session"
	"github.com/shxrxn/nethra-trust/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	store        baseline.Store
	sessions     *session.Manager
	emitter      *alerts.Emitter
	realtimeHub  *realtime.Hub
	remoteClient *remote.Client
	breaker      *circuitbreaker.Breaker
	rateLimiter  *ratelimit.Limiter
	checks       *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithBaselineStore sets a custom baseline store (for testing)
func WithBaselineStore(store baseline.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithEmitter sets a custom alert emitter (for testing)
func WithEmitter(e *alerts.Emitter) Option {
	return func(s *Server) {
		s.emitter = e
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		checks: health.NewRegistry(),
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set store/logger/emitter)
	for _, opt := range opts {
		opt(s)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if s.store == nil {
		if cfg.DatabaseURL != "" {
			db, err := sql.Open("postgres", cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("failed to open database: %w", err)
			}

			// Configure connection pool
			db.SetMaxOpenConns(25)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(5 * time.Minute)

			// Test connection
			if err := db.Ping(); err != nil {
				return nil, fmt.Errorf("failed to connect to database: %w", err)
			}

			s.db = db
			s.store = baseline.NewPostgresStore(db)
			s.logger.Info("using PostgreSQL baseline storage", "url", maskDSN(cfg.DatabaseURL))
		} else {
			s.store = baseline.NewMemoryStore()
			s.logger.Info("using in-memory baseline storage (profiles will not persist)")
		}
	}

	s.checks.Register("baseline_store", func(ctx context.Context) health.Status {
		st := health.Status{Name: "baseline_store", Healthy: true}
		if s.db != nil {
			if err := s.db.PingContext(ctx); err != nil {
				st.Healthy = false
				st.Detail = err.Error()
			}
		}
		return st
	})

	// Remote scorer (optional, local-only scoring when unset)
	if cfg.RemoteScorerURL != "" {
		s.remoteClient = remote.NewClient(cfg.RemoteScorerURL, cfg.RemoteScorerTimeout)
		s.breaker = circuitbreaker.New(cfg.SyncFailureLimit, cfg.SlowSyncInterval)
		s.logger.Info("remote scorer enabled", "url", cfg.RemoteScorerURL, "timeout", cfg.RemoteScorerTimeout)

		s.checks.Register("remote_scorer", func(ctx context.Context) health.Status {
			st := health.Status{Name: "remote_scorer", Healthy: true}
			if !s.breaker.Allow(cfg.RemoteScorerURL) {
				st.Healthy = false
				st.Detail = "circuit open"
			}
			return st
		})
	} else {
		s.logger.Info("remote scorer not configured, scoring locally")
	}

	// Alert emitter (log sink always, Postgres and webhook sinks when configured)
	if s.emitter == nil {
		sinks := []alerts.Sink{alerts.NewLogSink(s.logger)}
		if s.db != nil {
			sinks = append(sinks, alerts.NewPostgresSink(s.db, s.logger))
		}
		if cfg.AlertWebhookURL != "" {
			if err := security.ValidateEndpointURL(cfg.AlertWebhookURL); err != nil {
				return nil, fmt.Errorf("alert webhook URL rejected: %w", err)
			}
			sinks = append(sinks, alerts.NewWebhookSink(cfg.AlertWebhookURL, cfg.AlertWebhookSecret, s.logger))
			s.logger.Info("alert webhook enabled", "url", cfg.AlertWebhookURL)
		}
		s.emitter = alerts.NewEmitter(sinks...)
	}

	// Create realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)

	// Session manager owns the per-session monitoring loops
	mgrOpts := []session.Option{
		session.WithEmitter(s.emitter),
		session.WithMonitorConfig(session.MonitorConfig{
			SyncInterval:      cfg.SyncInterval,
			SlowSyncInterval:  cfg.SlowSyncInterval,
			HeartbeatInterval: cfg.HeartbeatInterval,
			Countdown:         session.CountdownDuration,
			SyncFailureLimit:  cfg.SyncFailureLimit,
		}),
		session.WithUpdateHook(s.realtimeHub.BroadcastSnapshot),
	}
	if s.remoteClient != nil {
		mgrOpts = append(mgrOpts, session.WithRemote(s.remoteClient, s.breaker))
	}
	s.sessions = session.NewManager(s.store, s.logger, mgrOpts...)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limiterCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		limiterCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(limiterCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.WithPrefix("req_")
		}

		// Add to context
		ctx := logging.WithLogger(c.Request.Context(), s.logger.With("request_id", requestID))
		if sid := c.Param("id"); sid != "" {
			ctx = logging.WithSessionID(ctx, sid)
		}
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time trust streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :id URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.SessionIDParamMiddleware())

	// Session lifecycle
	v1.POST("/sessions", s.startSession)
	v1.GET("/sessions/:id", s.getSession)
	v1.DELETE("/sessions/:id", s.stopSession)

	// Behavioral telemetry ingestion
	events := v1.Group("/sessions/:id/events")
	{
		events.POST("/tap", s.recordTap)
		events.POST("/swipe", s.recordSwipe)
		events.POST("/motion", s.recordMotion)
		events.POST("/keystroke", s.recordKeystroke)
		events.POST("/navigation", s.recordNavigation)
	}

	// Trust state and threat response
	v1.GET("/sessions/:id/trust", s.getTrust)
	v1.POST("/sessions/:id/challenge", s.completeChallenge)
	v1.POST("/sessions/:id/simulate-threat", s.simulateThreat)
	v1.POST("/sessions/:id/reset-trust", s.resetTrust)

	// Aggregate stats for dashboards
	v1.GET("/stats", s.statsHandler)
}

// -----------------------------------------------------------------------------
// Health handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ok, statuses := s.checks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Nethra",
		"description": "Continuous behavioral trust for mobile banking",
		"version":     "0.1.0",
	})
}

func (s *Server) statsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"activeSessions": s.sessions.Count(),
		"realtime":       s.realtimeHub.Stats(),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Sample DB pool stats into Prometheus
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for background goroutines (realtime hub)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop all monitoring sessions (flushes baselines before exit)
	s.sessions.StopAll()
	s.logger.Info("monitoring sessions stopped")

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Sessions returns the session manager for testing
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}
