// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
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
	"github.com/plateful/doorman/internal/auth"
	"github.com/plateful/doorman/internal/breadcrumb"
	"github.com/plateful/doorman/internal/config"
	"github.com/plateful/doorman/internal/device"
	"github.com/plateful/doorman/internal/fraud"
	"github.com/plateful/doorman/internal/guard"
	"github.com/plateful/doorman/internal/health"
	"github.com/plateful/doorman/internal/logging"
	"github.com/plateful/doorman/internal/metrics"
	"github.com/plateful/doorman/internal/moderation"
	"github.com/plateful/doorman/internal/monitor"
	"github.com/plateful/doorman/internal/netinfo"
	"github.com/plateful/doorman/internal/ratelimit"
	"github.com/plateful/doorman/internal/realtime"
	"github.com/plateful/doorman/internal/sanitize"
	"github.com/plateful/doorman/internal/security"
	"github.com/plateful/doorman/internal/traces"
	"github.com/plateful/doorman/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	authMgr      *auth.Manager
	sanitizer    *sanitize.Sanitizer
	moderator    *moderation.Moderator
	rateLimiter  *ratelimit.Limiter
	detector     *fraud.Detector
	fraudStore   fraud.HistoryStore
	devices      *device.Manager
	monitor      *monitor.Monitor
	eventWriter  *monitor.EventWriter
	auditStore   monitor.AuditStore
	escStore     monitor.EscalationStore
	guard        *guard.Guard
	netinfo      *netinfo.Collector
	realtimeHub  *realtime.Hub
	checks       *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	stopTraces   func(context.Context) error
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

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	// Tracing (no-op when OTLP_ENDPOINT is unset)
	stopTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.stopTraces = stopTraces
	}

	// Content moderation and sanitization (pure, no storage)
	s.moderator = moderation.New()
	s.sanitizer = sanitize.New(s.moderator)

	var escalationStore monitor.EscalationStore
	var deviceStore device.FingerprintStore

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
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
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		// API keys with Postgres
		authStore := auth.NewPostgresStore(db)
		if err := authStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate auth store", "error", err)
		}
		s.authMgr = auth.NewManager(authStore)

		// Audit trail with Postgres
		pgAudit := monitor.NewPostgresAuditStore(db)
		if err := pgAudit.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate audit store", "error", err)
		}
		s.auditStore = pgAudit

		pgEsc := monitor.NewPostgresEscalationStore(db)
		if err := pgEsc.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate escalation store", "error", err)
		}
		escalationStore = pgEsc

		// Booking history with Postgres, behind a circuit breaker so a
		// struggling database degrades fraud checks instead of piling up
		pgFraud := fraud.NewPostgresStore(db)
		if err := pgFraud.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate booking history store", "error", err)
		}
		s.fraudStore = fraud.NewBreakerStore(pgFraud)

		// Device fingerprints with Postgres
		pgDevice := device.NewPostgresStore(db)
		if err := pgDevice.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate device store", "error", err)
		}
		deviceStore = pgDevice
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")

		s.authMgr = auth.NewManager(auth.NewMemoryStore())
		s.auditStore = monitor.NewMemoryAuditStore()
		escalationStore = monitor.NewMemoryEscalationStore()
		s.fraudStore = fraud.NewMemoryStore()
		deviceStore = device.NewMemoryStore()
	}

	// Realtime hub for WebSocket streaming of security activity
	s.realtimeHub = realtime.NewHub(s.logger)

	// Audit writer: batches entries and mirrors them onto the live feed
	s.eventWriter = monitor.NewEventWriter(
		&broadcastAuditStore{store: s.auditStore, hub: s.realtimeHub},
		s.logger,
	)

	// Security monitor
	s.escStore = escalationStore
	s.monitor = monitor.New(s.eventWriter, escalationStore,
		monitor.WithLogger(s.logger),
		monitor.WithAlerter(&slogAlerter{logger: s.logger}),
		monitor.WithRecorder(breadcrumb.NewSlogRecorder()),
	)

	// Rate limiter reports violations to the monitor
	rlCfg := ratelimit.DefaultConfig()
	if cfg.RateLimitRPS > 0 {
		rlCfg.DefaultLimit = cfg.RateLimitRPS
	}
	s.rateLimiter = ratelimit.New(rlCfg, s.monitor)

	// Fraud detector
	s.detector = fraud.NewDetector(s.fraudStore, fraud.Config{
		MaxBookingsPerDay:       cfg.Fraud.MaxBookingsPerDay,
		MaxCancellationsPerWeek: cfg.Fraud.MaxCancellationsPerWeek,
		MaxNoShowsPerMonth:      cfg.Fraud.MaxNoShowsPerMonth,
		Threshold:               cfg.Fraud.SuspiciousPatternThreshold,
		RapidWindow:             cfg.Fraud.RapidBookingWindow,
		MaxRapidBookings:        cfg.Fraud.MaxRapidBookings,
	}, fraud.WithLogger(s.logger))

	// Device account limits
	s.devices = device.NewManager(deviceStore,
		device.WithLogger(s.logger),
		device.WithMaxAccounts(cfg.MaxAccountsPerDevice),
	)

	// Guard pipeline for protected operations
	s.guard = guard.New(s.rateLimiter, s.monitor, s.sanitizer)

	// Network info collector (client IP / user agent)
	s.netinfo = netinfo.New()

	// Health checks
	s.checks = health.NewRegistry()
	if s.db != nil {
		db := s.db
		s.checks.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}
	s.checks.Register("event_writer", func(ctx context.Context) health.Status {
		if !s.eventWriter.Running() {
			return health.Status{Name: "event_writer", Healthy: false, Detail: "not running"}
		}
		return health.Status{Name: "event_writer", Healthy: true}
	})

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

	// Global per-client rate limiting
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
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
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
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Live security event feed (operator view)
	s.router.GET("/", eventsPageHandler)

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")

	// WebSocket for real-time streaming
	v1.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// PUBLIC ROUTES (no auth required)
	v1.POST("/moderation/check", s.moderationCheckHandler)
	v1.POST("/moderation/validate", s.moderationValidateHandler)

	// AUTH INFO (public)
	authHandler := auth.NewHandler(s.authMgr)
	v1.GET("/auth/info", authHandler.Info)

	// Soft auth on everything below: resolves the caller identity when an
	// API key is presented, without rejecting anonymous requests.
	v1.Use(auth.Middleware(s.authMgr))

	// Rate limit introspection
	v1.GET("/ratelimit/:identifier/status", s.rateLimitStatusHandler)
	v1.POST("/ratelimit/check", s.rateLimitCheckHandler)

	// Fraud assessment (read-only; does not record a booking)
	v1.POST("/fraud/check", s.fraudCheckHandler)

	// Device fingerprinting
	v1.POST("/devices/fingerprint", s.deviceFingerprintHandler)
	v1.GET("/devices/:fingerprint/check", s.deviceCheckHandler)

	// User flag lookup
	v1.GET("/users/:id/flags", validation.UserIDParamMiddleware(), s.userFlagsHandler)

	// PROTECTED ROUTES (require API key)
	protected := v1.Group("")
	protected.Use(auth.RequireAuth(s.authMgr))
	{
		// Booking lifecycle runs through the full guard pipeline
		protected.POST("/bookings", s.createBookingHandler)
		protected.POST("/bookings/:id/status", s.updateBookingStatusHandler)

		// Device-to-account registration
		protected.POST("/devices/register", s.deviceRegisterHandler)

		// Activity reporting
		protected.POST("/events", s.reportEventHandler)

		// API key management
		protected.GET("/auth/keys", authHandler.ListKeys)
		protected.POST("/auth/keys", authHandler.CreateKey)
		protected.DELETE("/auth/keys/:keyId", authHandler.RevokeKey)
		protected.GET("/auth/me", authHandler.Whoami)
	}

	// ADMIN ROUTES (require the admin key)
	admin := v1.Group("/admin")
	admin.Use(auth.RequireAdmin(s.cfg.AdminKey))
	{
		admin.GET("/audit", s.auditRecentHandler)
		admin.GET("/audit/users/:id", validation.UserIDParamMiddleware(), s.auditByUserHandler)
		admin.GET("/escalations/:id", validation.UserIDParamMiddleware(), s.escalationsHandler)
		admin.POST("/ratelimit/reset", s.rateLimitResetHandler)
		admin.POST("/blacklist", s.blacklistHandler)
		admin.GET("/stats", s.statsHandler)
	}
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

	// Start audit event writer
	go s.eventWriter.Start(runCtx)

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Export DB pool stats to Prometheus
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

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Flush queued audit entries before the store goes away
	s.eventWriter.Stop()
	for i := 0; i < 50 && s.eventWriter.Running(); i++ {
		time.Sleep(20 * time.Millisecond)
	}
	s.logger.Info("event writer stopped")

	// Cancel the context for remaining background goroutines (hub)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush traces
	if s.stopTraces != nil {
		if err := s.stopTraces(ctx); err != nil {
			s.logger.Warn("trace shutdown error", "error", err)
		}
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

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// -----------------------------------------------------------------------------
// Adapters
// -----------------------------------------------------------------------------

// broadcastAuditStore mirrors persisted audit entries onto the realtime feed.
type broadcastAuditStore struct {
	store monitor.AuditStore
	hub   *realtime.Hub
}

func (b *broadcastAuditStore) AppendBatch(ctx context.Context, entries []*monitor.AuditEntry) error {
	err := b.store.AppendBatch(ctx, entries)
	if err != nil {
		return err
	}
	for _, e := range entries {
		b.hub.BroadcastSecurityEvent(map[string]interface{}{
			"id":           e.ID,
			"userId":       e.UserID,
			"restaurantId": e.RestaurantID,
			"activityType": string(e.ActivityType),
			"riskScore":    float64(e.RiskScore),
			"createdAt":    e.CreatedAt,
		})
	}
	return nil
}

func (b *broadcastAuditStore) ListByUser(ctx context.Context, userID string, limit int, opts ...monitor.ListOption) ([]*monitor.AuditEntry, error) {
	return b.store.ListByUser(ctx, userID, limit, opts...)
}

func (b *broadcastAuditStore) ListRecent(ctx context.Context, limit int, opts ...monitor.ListOption) ([]*monitor.AuditEntry, error) {
	return b.store.ListRecent(ctx, limit, opts...)
}

// slogAlerter surfaces high-severity alerts in the service log. A production
// deployment would swap in a pager or push-notification backend here.
type slogAlerter struct {
	logger *slog.Logger
}

func (a *slogAlerter) Alert(ctx context.Context, userID, message string) {
	a.logger.Warn("security alert", "user_id", userID, "message", message)
}
