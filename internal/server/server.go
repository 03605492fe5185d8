// Package server wires the reputation, auth, realtime and webhook
// components into one HTTP server.
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

	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/auth"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/circuitbreaker"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/config"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/health"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/idgen"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/logging"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/metrics"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/otp"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/ratelimit"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/realtime"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/reputation"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/security"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/tontine"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/traces"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/validation"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/webhooks"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/rueidis"
)

const (
	defaultDrainDelay  = 5 * time.Second
	dbStatsInterval    = 15 * time.Second
	eventRetryDelay    = 10 * time.Millisecond
	otpSweepInterval   = time.Minute
	otpResendInterval  = 30 * time.Second
	otpMaxAttempts     = 5
	gatewayTimeout     = 10 * time.Second
	gatewayAttempts    = 3
	gatewayBreakerTrip = 5
	gatewayBreakerWait = 30 * time.Second
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg     *config.Config
	version string

	db        *sql.DB        // nil if using in-memory
	redis     rueidis.Client // nil if using the in-memory code store
	ownsRedis bool           // created from REDIS_URL rather than injected
	directory tontine.Directory
	sender    otp.Sender
	codes     otp.Store

	reputation  *reputation.Service
	worker      *reputation.Worker
	realtimeHub *realtime.Hub
	webhooks    webhooks.Store
	emitter     *webhooks.Emitter
	issuer      *auth.Issuer
	users       auth.UserStore
	otpManager  *otp.Manager
	health      *health.Registry
	rateLimiter *ratelimit.Limiter

	router          *gin.Engine
	httpSrv         *http.Server
	logger          *slog.Logger
	cancelRunCtx    context.CancelFunc // cancels background goroutines started in Run
	shutdownTracing func(context.Context) error
	drainDelay      time.Duration

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

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithDirectory sets the tontine directory used for membership checks.
// Without it the Postgres directory is used when a database is configured,
// and checks are skipped otherwise.
func WithDirectory(d tontine.Directory) Option {
	return func(s *Server) {
		s.directory = d
	}
}

// WithSMSSender overrides how one-time codes are delivered.
func WithSMSSender(sender otp.Sender) Option {
	return func(s *Server) {
		s.sender = sender
	}
}

// WithRedis supplies the Redis client for the one-time code store. The
// caller keeps ownership and closes it.
func WithRedis(client rueidis.Client) Option {
	return func(s *Server) {
		s.redis = client
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers to stop
// routing traffic before closing listeners.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		version:    "dev",
		drainDelay: defaultDrainDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	}

	ctx := logging.WithLogger(context.Background(), s.logger)

	if err := s.openDatabase(ctx); err != nil {
		return nil, err
	}
	if err := s.openCodeStore(); err != nil {
		s.closeStores()
		return nil, err
	}
	if err := s.setupServices(ctx); err != nil {
		s.closeStores()
		return nil, err
	}
	s.setupHealth()

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// openDatabase connects to Postgres when DATABASE_URL is set and migrates
// every table the stores own.
func (s *Server) openDatabase(ctx context.Context) error {
	if s.cfg.DatabaseURL == "" {
		s.logger.Info("using in-memory storage (no DATABASE_URL)")
		return nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	s.db = db
	s.logger.Info("connected to PostgreSQL", "url", maskDSN(s.cfg.DatabaseURL))
	return nil
}

// openCodeStore picks the one-time code store: Redis when a client or
// REDIS_URL is available, memory otherwise.
func (s *Server) openCodeStore() error {
	if s.redis == nil && s.cfg.RedisURL != "" {
		opt, err := rueidis.ParseURL(s.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client, err := rueidis.NewClient(opt)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.redis = client
		s.ownsRedis = true
	}

	if s.redis != nil {
		s.codes = otp.NewRedisStore(s.redis)
		s.logger.Info("one-time codes stored in redis")
		return nil
	}
	s.codes = otp.NewMemoryStore(otpSweepInterval)
	s.logger.Info("one-time codes stored in memory (no REDIS_URL)")
	return nil
}

func (s *Server) setupServices(ctx context.Context) error {
	var (
		records reputation.Store
		users   auth.UserStore
		hooks   webhooks.Store
	)

	if s.db != nil {
		repStore := reputation.NewPostgresStore(s.db)
		dirStore := tontine.NewPostgresDirectory(s.db)
		userStore := auth.NewPostgresUserStore(s.db)
		hookStore := webhooks.NewPostgresStore(s.db)
		migrations := []struct {
			name  string
			store interface{ Migrate(context.Context) error }
		}{
			{"tontines", dirStore},
			{"reputation", repStore},
			{"users", userStore},
			{"webhooks", hookStore},
		}
		for _, m := range migrations {
			if err := m.store.Migrate(ctx); err != nil {
				s.logger.Warn("failed to migrate store", "store", m.name, "error", err)
			}
		}
		records, users, hooks = repStore, userStore, hookStore
		if s.directory == nil {
			s.directory = dirStore
		}
	} else {
		records, users, hooks = reputation.NewMemoryStore(), auth.NewMemoryUserStore(), webhooks.NewMemoryStore()
	}
	if s.directory == nil {
		s.logger.Warn("no tontine directory configured, membership checks disabled")
	}

	engine, err := reputation.NewEngine(reputation.DefaultConfig())
	if err != nil {
		return err
	}

	s.realtimeHub = realtime.NewHub(s.logger)
	s.webhooks = hooks
	s.emitter = webhooks.NewEmitter(webhooks.NewDispatcher(hooks), webhooks.DefaultQueueSize, s.logger)
	s.reputation = reputation.NewService(records, engine, s.directory).
		WithRetry(s.cfg.MaxEventRetries, eventRetryDelay).
		WithNotifier(reputation.Notifiers{s.realtimeHub, s.emitter})
	if s.cfg.RefreshInterval > 0 {
		s.worker = reputation.NewWorker(s.reputation, s.cfg.RefreshInterval, s.logger)
	}

	sender, err := s.codeSender()
	if err != nil {
		return err
	}
	s.otpManager = otp.NewManager(s.codes, sender, otp.Config{
		Length:         s.cfg.OTPLength,
		TTL:            s.cfg.OTPTTL,
		MaxAttempts:    otpMaxAttempts,
		ResendInterval: otpResendInterval,
	})
	s.issuer = auth.NewIssuer(s.cfg.JWTSecret, s.cfg.SessionTTL)
	s.users = users
	return nil
}

// codeSender returns the injected sender, the SMS gateway when configured,
// or a sender that only logs codes.
func (s *Server) codeSender() (otp.Sender, error) {
	if s.sender != nil {
		return s.sender, nil
	}
	if s.cfg.SMSGatewayURL == "" {
		s.logger.Warn("no SMS_GATEWAY_URL, one-time codes are written to the log")
		return otp.NewLogSender(s.logger), nil
	}
	if err := security.ValidateGatewayURL(s.cfg.SMSGatewayURL, s.cfg.IsProduction()); err != nil {
		return nil, fmt.Errorf("invalid SMS_GATEWAY_URL: %w", err)
	}
	gw, err := otp.NewGatewaySender(otp.GatewayConfig{
		URL:      s.cfg.SMSGatewayURL,
		Token:    s.cfg.SMSGatewayToken,
		Timeout:  gatewayTimeout,
		Attempts: gatewayAttempts,
	})
	if err != nil {
		return nil, err
	}
	breaker := circuitbreaker.New(gatewayBreakerTrip, gatewayBreakerWait)
	s.logger.Info("SMS gateway enabled", "url", maskDSN(s.cfg.SMSGatewayURL))
	return gw.WithBreaker(breaker), nil
}

func (s *Server) setupHealth() {
	s.health = health.NewRegistry()
	if s.db != nil {
		s.health.Register("database", health.DatabaseChecker(s.db))
	}
	if s.redis != nil {
		s.health.Register("redis", health.RedisChecker(s.redis))
	}
	if s.worker != nil {
		s.health.Register("refresh_worker", health.WorkerChecker("refresh_worker", s.worker.Running))
	}
}

func (s *Server) closeStores() {
	if m, ok := s.codes.(*otp.MemoryStore); ok {
		m.Stop()
	}
	if s.redis != nil && s.ownsRedis {
		s.redis.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

// maskDSN hides the password in connection strings and gateway URLs.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	u.RawQuery = ""
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

	s.router.Use(security.HeadersMiddleware(security.HeaderOptions{HSTS: s.cfg.IsProduction()}))
	s.router.Use(security.CORSMiddleware(security.ParseOrigins(s.cfg.CORSOrigins)))
	s.router.Use(security.BodyLimit(validation.MaxRequestSize))

	// A quarter of the per-minute budget may arrive at once.
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         s.cfg.RateLimitRPM / 4,
	})
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(traces.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Keep an ID set by a load balancer if it is usable.
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || !validation.IsValidID(requestID) {
			requestID = idgen.New()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)
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
			logger.Debug("request completed",
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
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	v1 := s.router.Group("/v1")
	v1.Use(validation.IDParamMiddleware("tontineId", "userId", "webhookId"))
	v1.Use(auth.Middleware(s.issuer))

	repHandler := reputation.NewHandler(s.reputation, reputation.NewSigner(s.cfg.ReputationHMACSecret))
	repHandler.RegisterRoutes(v1)

	authHandler := auth.NewHandler(s.otpManager, s.issuer, s.users)
	authHandler.RegisterRoutes(v1)

	session := v1.Group("")
	session.Use(auth.RequireAuth())
	authHandler.RegisterProtectedRoutes(session)

	// Event ingestion comes from the contribution ledger, not end users.
	admin := v1.Group("")
	admin.Use(auth.RequireAdmin(s.cfg.AdminSecret))
	repHandler.RegisterProtectedRoutes(admin)
	webhooks.NewHandler(s.webhooks, s.cfg.IsProduction()).RegisterRoutes(admin)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.health.CheckAll(c.Request.Context())

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
		}
	}

	status, httpStatus := "healthy", http.StatusOK
	if !healthy {
		status, httpStatus = "degraded", http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   s.version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	health.LiveHandler()(c)
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	s.health.ReadyHandler()(c)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and background loops, and blocks until ctx is
// cancelled or a termination signal arrives.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	shutdownTracing, err := traces.Init(runCtx, traces.Options{
		ServiceName: logging.ServiceName,
		Version:     s.version,
		Endpoint:    s.cfg.OTLPEndpoint,
		SampleRatio: s.cfg.TraceSampleRatio,
	}, s.logger)
	if err != nil {
		s.logger.Warn("tracing unavailable", "error", err)
	} else {
		s.shutdownTracing = shutdownTracing
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env, "version", s.version)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)
	go s.emitter.Run(runCtx)

	if s.worker != nil {
		go s.worker.Start(runCtx)
		s.logger.Info("reputation refresh worker started", "interval", s.cfg.RefreshInterval)
	}

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, dbStatsInterval)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		cancel()
		s.closeStores()
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

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}
	if s.worker != nil {
		s.worker.Stop()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.shutdownTracing != nil {
		if err := s.shutdownTracing(ctx); err != nil {
			s.logger.Warn("tracing shutdown error", "error", err)
		}
	}

	s.closeStores()
	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
