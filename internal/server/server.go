// Package server wires the risk engine, the audit ledger and the
// operational endpoints into a gin HTTP service.
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
	"github.com/redis/go-redis/v9"

	"github.com/mbd888/sentinel/internal/auth"
	"github.com/mbd888/sentinel/internal/circuitbreaker"
	"github.com/mbd888/sentinel/internal/config"
	"github.com/mbd888/sentinel/internal/detection"
	"github.com/mbd888/sentinel/internal/health"
	"github.com/mbd888/sentinel/internal/idgen"
	"github.com/mbd888/sentinel/internal/logging"
	"github.com/mbd888/sentinel/internal/metrics"
	"github.com/mbd888/sentinel/internal/ratelimit"
	"github.com/mbd888/sentinel/internal/realtime"
	"github.com/mbd888/sentinel/internal/reconciliation"
	"github.com/mbd888/sentinel/internal/risk"
	"github.com/mbd888/sentinel/internal/security"
	"github.com/mbd888/sentinel/internal/traces"
	"github.com/mbd888/sentinel/internal/validation"
	"github.com/mbd888/sentinel/internal/velocity"
	"github.com/mbd888/sentinel/internal/webhooks"
	"github.com/mbd888/sentinel/internal/witness"
)

// Version is reported by /health.
const Version = "2.0.0"

const (
	shutdownDrainDelay = 2 * time.Second
	shutdownTimeout    = 30 * time.Second
	dbStatsInterval    = 15 * time.Second
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	engineCfg   *config.EngineConfig
	engine      *risk.Engine
	witness     *witness.Service
	chain       *reconciliation.Runner
	chainTimer  *reconciliation.Timer
	hub         *realtime.Hub
	hooks       webhooks.Store
	endpoints   security.EndpointPolicy
	dispatcher  *webhooks.Dispatcher
	health      *health.Registry
	rateLimiter *ratelimit.Limiter
	velocity    *velocity.MemoryStore // in-process window, pruned in the background
	db          *sql.DB               // nil if using in-memory
	redis       *redis.Client         // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger
	now         func() time.Time

	stopTracing  func(context.Context) error
	cancelRunCtx context.CancelFunc

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

// WithEngineConfig uses cfg instead of loading the engine document from
// disk.
func WithEngineConfig(cfg *config.EngineConfig) Option {
	return func(s *Server) {
		s.engineCfg = cfg
	}
}

// WithClock sets the time source for assessments, velocity windows and
// sealing.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		health: health.NewRegistry(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	}
	if s.engineCfg == nil {
		s.engineCfg = config.LoadEngine(cfg.EngineConfigPath, s.logger)
	}

	stop, err := traces.Init(context.Background(), traces.Config{
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
		SampleRatio:    cfg.TraceSampleRatio,
		ServiceVersion: Version,
		Environment:    cfg.Env,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.stopTracing = stop

	if cfg.DatabaseURL != "" {
		if err := s.openDatabase(); err != nil {
			return nil, err
		}
	}

	store, err := s.velocityStore()
	if err != nil {
		s.closeStores()
		return nil, err
	}

	s.hub = realtime.NewHub(s.logger, cfg.CORSAllowedOrigins...)

	var webhookStore webhooks.Store = webhooks.NewMemoryStore()
	if s.db != nil {
		webhookStore = webhooks.NewPostgresStore(s.db)
	}
	s.hooks = webhookStore
	s.endpoints = security.EndpointPolicy{AllowPrivate: cfg.WebhookAllowPrivateURLs}
	if cfg.WebhookAllowPrivateURLs {
		s.logger.Warn("WEBHOOK_ALLOW_PRIVATE_URLS enabled, webhooks may target internal networks")
	}
	s.dispatcher = webhooks.NewDispatcher(webhookStore, s.logger, webhooks.WithEndpointPolicy(s.endpoints))
	if cfg.AdminAPIKey == "" {
		s.logger.Warn("ADMIN_API_KEY not set, operator endpoints will reject every request")
	}

	riskOpts := []risk.Option{
		risk.WithLogger(s.logger),
		risk.WithNotifier(s.hub),
		risk.WithNotifier(s.dispatcher),
		risk.WithClock(s.now),
	}
	var witnessStore witness.Store = witness.NewMemoryStore()
	if s.db != nil {
		riskOpts = append(riskOpts, risk.WithStore(risk.NewPostgresStore(s.db)))
		witnessStore = witness.NewPostgresStore(s.db)
	} else {
		riskOpts = append(riskOpts, risk.WithStore(risk.NewMemoryStore()))
	}

	detector := detection.FromConfig(s.engineCfg, store, velocity.WithClock(s.now))
	s.engine = risk.NewEngine(detector, s.engineCfg, riskOpts...)
	report := detector.Report()
	s.logger.Info("risk engine ready",
		"trees", report.Trees,
		"trained_on", report.TrainedOn,
		"graph_nodes", report.GraphNodes,
		"graph_edges", report.GraphEdges,
		"profiles", report.Profiles,
	)

	signer, err := s.signer()
	if err != nil {
		s.closeStores()
		return nil, err
	}
	s.witness, err = witness.NewService(witnessStore, signer,
		witness.WithBatchSize(cfg.MerkleBatchSize),
		witness.WithNotifier(s.hub),
		witness.WithNotifier(s.dispatcher),
		witness.WithLogger(s.logger),
		witness.WithClock(s.now),
	)
	if err != nil {
		s.closeStores()
		return nil, fmt.Errorf("failed to create witness service: %w", err)
	}
	s.logger.Info("audit ledger ready", "signer", signer.Address(), "batch_size", cfg.MerkleBatchSize)

	s.chain = reconciliation.NewRunner(s.witness,
		reconciliation.WithLogger(s.logger),
		reconciliation.WithClock(s.now),
	)
	s.chainTimer = reconciliation.NewTimer(s.chain, cfg.ChainCheckEvery, s.logger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func (s *Server) openDatabase() error {
	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	s.db = db
	s.health.Register("database", health.PingChecker("database", db))
	s.logger.Info("connected to PostgreSQL", "dsn", maskDSN(s.cfg.DatabaseURL))
	return nil
}

// velocityStore returns the in-memory window, fronted by Redis behind a
// circuit breaker when REDIS_URL is set.
func (s *Server) velocityStore() (velocity.Store, error) {
	s.velocity = velocity.NewMemoryStore()
	if s.cfg.RedisURL == "" {
		s.logger.Info("velocity windows kept in memory")
		return s.velocity, nil
	}

	client, err := velocity.NewRedisClient(s.cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	s.redis = client

	rs := velocity.NewRedisStore(client, velocity.DefaultKeyPrefix)
	s.health.RegisterOptional("redis", health.PingChecker("redis", rs))

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:      "redis",
		Threshold: 5,
		Cooldown:  30 * time.Second,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			s.logger.Warn("velocity store breaker changed state", "breaker", name, "from", from, "to", to)
		},
	})
	s.logger.Info("velocity windows kept in Redis", "url", maskDSN(s.cfg.RedisURL))
	return velocity.NewFallbackStore(rs, s.velocity, breaker, s.logger), nil
}

func (s *Server) signer() (*witness.Signer, error) {
	if s.cfg.WitnessSigningKey != "" {
		return witness.NewSigner(s.cfg.WitnessSigningKey)
	}
	s.logger.Warn("WITNESS_SIGNING_KEY not set, using an ephemeral key; signatures will not verify after restart")
	return witness.GenerateSigner()
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
	s.router.Use(gin.CustomRecovery(s.recoverPanic))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSAllowedOrigins))
	s.router.Use(validation.RequestSizeMiddleware(s.cfg.MaxRequestSize))

	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         s.cfg.RateLimitBurst,
		CleanupInterval:   time.Minute,
		IdleTTL:           10 * time.Minute,
	})
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

// recoverPanic answers a handler panic with a 500. /analyze keeps its
// ERROR assessment body.
func (s *Server) recoverPanic(c *gin.Context, recovered any) {
	logging.L(c.Request.Context()).Error("panic recovered",
		"error", recovered,
		"path", c.Request.URL.Path,
	)
	if c.Request.URL.Path == "/analyze" {
		c.AbortWithStatusJSON(http.StatusInternalServerError, risk.ErrorAssessment(fmt.Errorf("%v", recovered)))
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "An unexpected error occurred",
	})
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = idgen.Hex(16)
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
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
		}

		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// timeoutMiddleware bounds the request context. Handlers observe the
// deadline through ctx; the WebSocket route is registered without it.
func (s *Server) timeoutMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.RequestTimeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
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

	s.router.GET("/feed", feedPageHandler)
	s.router.GET("/ws", auth.RequireOperator(s.cfg.AdminAPIKey, auth.WithQueryParam("api_key")), func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	api := s.router.Group("", s.timeoutMiddleware())
	api.GET("/config", s.configHandler)
	api.POST("/analyze", s.analyzeHandler)

	v1 := api.Group("/v1")
	operator := v1.Group("", auth.RequireOperator(s.cfg.AdminAPIKey))
	operator.GET("/assessments/:account", validation.AccountParamMiddleware(), s.listAssessmentsHandler)

	audit := v1.Group("/audit")
	audit.POST("/payment", s.auditPaymentHandler)
	audit.GET("/blocks", s.listBlocksHandler)
	audit.GET("/witness/:id", s.getWitnessHandler)
	audit.GET("/chain", s.checkChainHandler)

	webhooks.NewHandler(s.hooks, s.endpoints).RegisterRoutes(operator)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)
	go s.pruneVelocity(runCtx)
	go s.chainTimer.Start(runCtx)
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, dbStatsInterval)
	}

	s.ready.Store(true)
	s.logger.Info("server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// pruneVelocity drops expired in-memory velocity entries so idle accounts
// do not accumulate.
func (s *Server) pruneVelocity(ctx context.Context) {
	window := time.Duration(s.engineCfg.Model.TransactionVelocity.WindowMinutes) * time.Minute
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.velocity.Prune(s.now(), window); n > 0 {
				s.logger.Debug("pruned idle velocity windows", "accounts", n)
			}
		}
	}
}

// Shutdown gracefully stops the server. Buffered Merkle events are sealed
// before the stores close.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	time.Sleep(shutdownDrainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}
	s.chainTimer.Stop()

	if n := s.witness.Pending(); n > 0 {
		if err := s.witness.Flush(ctx); err != nil {
			s.logger.Error("failed to seal pending audit batch", "pending", n, "error", err)
		} else {
			s.logger.Info("sealed pending audit batch", "transactions", n)
		}
	}

	if err := s.dispatcher.Wait(ctx); err != nil {
		s.logger.Warn("webhook deliveries still in flight at shutdown", "error", err)
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			s.logger.Warn("tracer shutdown error", "error", err)
		}
	}

	s.closeStores()
	s.healthy.Store(false)
	s.logger.Info("server stopped")
	return shutdownErr
}

func (s *Server) closeStores() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
		s.redis = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
		s.db = nil
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Engine returns the risk engine.
func (s *Server) Engine() *risk.Engine {
	return s.engine
}

// Witness returns the audit ledger service.
func (s *Server) Witness() *witness.Service {
	return s.witness
}
