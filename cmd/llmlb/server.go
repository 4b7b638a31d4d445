// Package main provides the llmlb server implementation.
package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/llmlb/llmlb/api/handlers"
	"github.com/llmlb/llmlb/internal/audit"
	"github.com/llmlb/llmlb/internal/auth"
	"github.com/llmlb/llmlb/internal/config"
	"github.com/llmlb/llmlb/internal/detector"
	"github.com/llmlb/llmlb/internal/drain"
	"github.com/llmlb/llmlb/internal/health"
	"github.com/llmlb/llmlb/internal/history"
	"github.com/llmlb/llmlb/internal/livefeed"
	"github.com/llmlb/llmlb/internal/metrics"
	"github.com/llmlb/llmlb/internal/proxy"
	"github.com/llmlb/llmlb/internal/ratelimit"
	"github.com/llmlb/llmlb/internal/registry"
	"github.com/llmlb/llmlb/internal/router"
	"github.com/llmlb/llmlb/internal/server"
	"github.com/llmlb/llmlb/internal/store"
	"github.com/llmlb/llmlb/internal/telemetry"
	"github.com/llmlb/llmlb/internal/tlsutil"
	"github.com/llmlb/llmlb/types"
)

// proberHandle breaks the construction cycle between registry.New (which
// needs a Prober up front) and health.New (the only real Prober, which
// needs an already-built *registry.Registry). It is handed to registry.New
// as a live-but-empty Prober, then populated once the Supervisor exists.
type proberHandle struct {
	supervisor atomic.Pointer[health.Supervisor]
}

func (p *proberHandle) ScheduleProbe(endpointID string) {
	if s := p.supervisor.Load(); s != nil {
		s.ScheduleProbe(endpointID)
	}
}

func (p *proberHandle) set(s *health.Supervisor) {
	p.supervisor.Store(s)
}

// Server is llmlb's main process: it owns every domain component, the two
// HTTP listeners (API + metrics), and their graceful shutdown.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	version   string
	buildTime string
	gitCommit string

	telemetry *telemetry.Providers

	pool       *store.PoolManager
	store      *store.Store
	registry   *registry.Registry
	supervisor *health.Supervisor
	gate       *drain.Gate
	history    *history.Ring
	metrics    *metrics.Collector

	systemHandler *handlers.SystemHandler

	httpManager    *server.Manager
	metricsManager *server.Manager

	wg sync.WaitGroup

	updateCancel context.CancelFunc
}

// NewServer wires every domain component together in dependency order and
// returns a Server ready to Start. db must already be open; NewServer runs
// the store's AutoMigrate on it before building anything that reads it.
func NewServer(cfg *config.Config, logger *zap.Logger, providers *telemetry.Providers, db *gorm.DB, version, buildTime, gitCommit string) (*Server, error) {
	pool, err := store.NewPoolManager(db, store.DefaultPoolConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("store pool: %w", err)
	}
	st := store.New(pool, logger)
	if err := st.AutoMigrate(context.Background()); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	auditLog := audit.NewLogger(st)
	feed := livefeed.NewHub(logger)
	auditLog.OnAppend(feed.PublishAuditEntry)

	handle := &proberHandle{}
	reg, err := registry.New(context.Background(), st, handle, logger)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	upstreamClient := tlsutil.SecureHTTPClient(cfg.Proxy.UpstreamTimeout)
	det := detector.New(upstreamClient, logger)

	supervisor := health.New(reg, det, upstreamClient, health.Config{
		DefaultInterval:  cfg.Health.DefaultInterval,
		FailureThreshold: cfg.Health.FailureThreshold,
	}, logger)
	supervisor.OnTransition(feed.PublishHealthTransition)
	handle.set(supervisor)

	rtr := router.New(reg, router.Config{
		QueueCap:         cfg.Router.QueueCap,
		AdmissionTimeout: cfg.Router.AdmissionTimeout,
		MaxPerTenant:     cfg.Router.MaxPerTenant,
	})

	ring := history.New(history.Config{Capacity: cfg.History.Capacity})
	gate := drain.New(logger)

	engine := proxy.New(rtr, reg, supervisor, ring, upstreamClient, proxy.Config{
		FailureThreshold:  cfg.Proxy.FailureThreshold,
		FailureWindow:     cfg.Proxy.FailureWindow,
		Cooldown:          cfg.Proxy.Cooldown,
		MaxMultipartBytes: cfg.Proxy.MaxMultipartBytes,
	}, logger)

	collector := metrics.NewCollector("llmlb", logger)

	limiter, err := newRateLimiter(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	issuer := auth.NewSessionIssuer(cfg.Auth.JWTSecret)
	authMW := auth.NewMiddleware(issuer, st, logger)

	systemHandler := handlers.NewSystemHandler(gate, auditLog, logger, version, version, buildTime, gitCommit)

	s := &Server{
		cfg:           cfg,
		logger:        logger,
		version:       version,
		buildTime:     buildTime,
		gitCommit:     gitCommit,
		telemetry:     providers,
		pool:          pool,
		store:         st,
		registry:      reg,
		supervisor:    supervisor,
		gate:          gate,
		history:       ring,
		metrics:       collector,
		systemHandler: systemHandler,
	}

	mux := s.buildMux(authMW, engine, reg, det, ring, gate, limiter, auditLog, issuer, st, feed)
	handler := s.wrapMiddleware(mux)

	s.httpManager = server.NewManager(handler, server.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.metricsManager = server.NewManager(metricsMux, server.Config{
		Addr:            ":9090",
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	return s, nil
}

func newRateLimiter(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ratelimit.Limiter, error) {
	rlCfg := ratelimit.Config{
		RPS:             cfg.RateLimit.RPS,
		Burst:           cfg.RateLimit.Burst,
		CleanupInterval: cfg.RateLimit.CleanupInterval,
		IdleTimeout:     cfg.RateLimit.IdleTimeout,
	}

	if cfg.RateLimit.Backend != "redis" {
		return ratelimit.NewLocalLimiter(ctx, rlCfg), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis rate limit backend: %w", err)
	}
	logger.Info("rate limiter backed by redis", zap.String("addr", cfg.Redis.Addr))
	return ratelimit.NewRedisLimiter(client, rlCfg), nil
}

// buildMux registers every route named by spec §6, wrapping each with the
// auth requirement its row in the permission matrix names. /v1/* routes are
// additionally gated by the drain Gate (reject new work while draining) and
// the admission rate limiter; /api/* routes have no rate limiter, only their
// auth wrapper (RequireAPI, which takes a session or an API key;
// RequireRole for /api/system; RequireDashboard for /api/dashboard).
func (s *Server) buildMux(
	authMW *auth.Middleware,
	engine *proxy.Engine,
	reg *registry.Registry,
	det *detector.Detector,
	ring *history.Ring,
	gate *drain.Gate,
	limiter ratelimit.Limiter,
	auditLog *audit.Logger,
	issuer *auth.SessionIssuer,
	st *store.Store,
	feed *livefeed.Hub,
) *http.ServeMux {
	mux := http.NewServeMux()
	rateLimit := RateLimitMiddleware(limiter, s.logger)

	healthHandler := handlers.NewHealthHandler(s.logger)
	healthHandler.RegisterCheck(handlers.NewDatabaseHealthCheck("database", s.pool.Ping))
	mux.HandleFunc("GET /health", healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", healthHandler.HandleReady)
	mux.HandleFunc("GET /version", healthHandler.HandleVersion(s.version, s.buildTime, s.gitCommit))

	inferenceHandler := handlers.NewInferenceHandler(engine)
	registerInference := func(path string, perm types.Permission, fn http.HandlerFunc) {
		wrapped := rateLimit(authMW.RequireInference(perm, fn))
		mux.Handle(path, gate.Wrap(wrapped))
	}
	registerInference("POST /v1/chat/completions", types.PermOpenAIInference, inferenceHandler.HandleChatCompletions)
	registerInference("POST /v1/completions", types.PermOpenAIInference, inferenceHandler.HandleCompletions)
	registerInference("POST /v1/embeddings", types.PermOpenAIInference, inferenceHandler.HandleEmbeddings)
	registerInference("POST /v1/responses", types.PermOpenAIInference, inferenceHandler.HandleResponses)
	registerInference("POST /v1/audio/transcriptions", types.PermOpenAIInference, inferenceHandler.HandleAudioTranscriptions)
	registerInference("POST /v1/audio/speech", types.PermOpenAIInference, inferenceHandler.HandleAudioSpeech)
	registerInference("POST /v1/images/generations", types.PermOpenAIInference, inferenceHandler.HandleImageGenerations)
	registerInference("POST /v1/images/edits", types.PermOpenAIInference, inferenceHandler.HandleImageEdits)
	registerInference("POST /v1/images/variations", types.PermOpenAIInference, inferenceHandler.HandleImageVariations)

	modelHandler := handlers.NewModelHandler(reg, auditLog, s.logger)
	mux.Handle("GET /v1/models", rateLimit(authMW.RequireInference(types.PermOpenAIModelsRead, http.HandlerFunc(modelHandler.HandleList))))

	// /api/endpoints*, /api/models*, /api/users*, /api/api-keys*, and
	// /api/invitations* are API-key-reachable per spec §4.6's matrix:
	// RequireAPI accepts either a session of minRole or a Bearer key
	// carrying perm.
	endpointHandler := handlers.NewEndpointHandler(reg, det, auditLog, s.logger)
	mux.Handle("GET /api/endpoints", authMW.RequireAPI(types.PermEndpointsRead, types.RoleViewer, http.HandlerFunc(endpointHandler.HandleList)))
	mux.Handle("POST /api/endpoints", authMW.RequireAPI(types.PermEndpointsManage, types.RoleAdmin, http.HandlerFunc(endpointHandler.HandleCreate)))
	mux.Handle("GET /api/endpoints/{id}", authMW.RequireAPI(types.PermEndpointsRead, types.RoleViewer, http.HandlerFunc(endpointHandler.HandleGet)))
	mux.Handle("PUT /api/endpoints/{id}", authMW.RequireAPI(types.PermEndpointsManage, types.RoleAdmin, http.HandlerFunc(endpointHandler.HandleUpdate)))
	mux.Handle("DELETE /api/endpoints/{id}", authMW.RequireAPI(types.PermEndpointsManage, types.RoleAdmin, http.HandlerFunc(endpointHandler.HandleDelete)))
	mux.Handle("POST /api/endpoints/{id}/test", authMW.RequireAPI(types.PermEndpointsManage, types.RoleAdmin, http.HandlerFunc(endpointHandler.HandleTest)))
	mux.Handle("POST /api/endpoints/{id}/sync", authMW.RequireAPI(types.PermEndpointsManage, types.RoleAdmin, http.HandlerFunc(endpointHandler.HandleSync)))

	mux.Handle("GET /api/models/registered", authMW.RequireAPI(types.PermRegistryRead, types.RoleViewer, http.HandlerFunc(modelHandler.HandleListRegistered)))
	mux.Handle("POST /api/models/register", authMW.RequireAPI(types.PermModelsManage, types.RoleAdmin, http.HandlerFunc(modelHandler.HandleRegister)))
	mux.Handle("POST /v0/models/register", authMW.RequireAPI(types.PermModelsManage, types.RoleAdmin, http.HandlerFunc(modelHandler.HandleRegisterGone)))

	userHandler := handlers.NewUserHandler(st, auditLog, s.logger)
	mux.Handle("GET /api/users", authMW.RequireAPI(types.PermUsersManage, types.RoleAdmin, http.HandlerFunc(userHandler.HandleList)))
	mux.Handle("POST /api/users", authMW.RequireAPI(types.PermUsersManage, types.RoleAdmin, http.HandlerFunc(userHandler.HandleCreate)))
	mux.Handle("PUT /api/users/{id}", authMW.RequireAPI(types.PermUsersManage, types.RoleAdmin, http.HandlerFunc(userHandler.HandleUpdate)))
	mux.Handle("DELETE /api/users/{id}", authMW.RequireAPI(types.PermUsersManage, types.RoleAdmin, http.HandlerFunc(userHandler.HandleDelete)))

	apiKeyHandler := handlers.NewAPIKeyHandler(st, auditLog, s.logger)
	mux.Handle("GET /api/api-keys", authMW.RequireAPI(types.PermAPIKeysManage, types.RoleAdmin, http.HandlerFunc(apiKeyHandler.HandleList)))
	mux.Handle("POST /api/api-keys", authMW.RequireAPI(types.PermAPIKeysManage, types.RoleAdmin, http.HandlerFunc(apiKeyHandler.HandleCreate)))
	mux.Handle("PUT /api/api-keys/{id}", authMW.RequireAPI(types.PermAPIKeysManage, types.RoleAdmin, http.HandlerFunc(apiKeyHandler.HandleUpdate)))
	mux.Handle("DELETE /api/api-keys/{id}", authMW.RequireAPI(types.PermAPIKeysManage, types.RoleAdmin, http.HandlerFunc(apiKeyHandler.HandleDelete)))

	invitationHandler := handlers.NewInvitationHandler(st, auditLog, s.logger)
	mux.Handle("GET /api/invitations", authMW.RequireAPI(types.PermInvitationsManage, types.RoleAdmin, http.HandlerFunc(invitationHandler.HandleList)))
	mux.Handle("POST /api/invitations", authMW.RequireAPI(types.PermInvitationsManage, types.RoleAdmin, http.HandlerFunc(invitationHandler.HandleCreate)))
	mux.HandleFunc("POST /api/auth/register", invitationHandler.HandleRegister)

	authHandler := handlers.NewAuthHandler(st, issuer, auditLog, s.logger)
	mux.HandleFunc("POST /api/auth/login", authHandler.HandleLogin)
	mux.Handle("POST /api/auth/logout", authMW.RequireDashboard(http.HandlerFunc(authHandler.HandleLogout)))
	mux.Handle("GET /api/auth/me", authMW.RequireDashboard(http.HandlerFunc(authHandler.HandleMe)))
	mux.Handle("PUT /api/auth/change-password", authMW.RequireDashboard(http.HandlerFunc(authHandler.HandleChangePassword)))

	dashboardHandler := handlers.NewDashboardHandler(reg, ring, gate, feed, s.logger)
	mux.Handle("GET /api/dashboard/live", authMW.RequireDashboard(http.HandlerFunc(dashboardHandler.HandleLive)))
	mux.Handle("GET /api/dashboard/overview", authMW.RequireDashboard(http.HandlerFunc(dashboardHandler.HandleOverview)))
	mux.Handle("GET /api/dashboard/stats", authMW.RequireDashboard(http.HandlerFunc(dashboardHandler.HandleStats)))
	mux.Handle("GET /api/dashboard/nodes", authMW.RequireDashboard(http.HandlerFunc(dashboardHandler.HandleNodes)))
	mux.Handle("GET /api/dashboard/request-history", authMW.RequireDashboard(http.HandlerFunc(dashboardHandler.HandleRequestHistory)))
	mux.Handle("GET /api/dashboard/request-responses/{id}", authMW.RequireDashboard(http.HandlerFunc(dashboardHandler.HandleRequestResponse)))
	mux.Handle("GET /api/dashboard/stats/tokens", authMW.RequireDashboard(http.HandlerFunc(dashboardHandler.HandleTokenStats)))
	mux.Handle("GET /api/dashboard/stats/tokens/daily", authMW.RequireDashboard(http.HandlerFunc(dashboardHandler.HandleDailyTokenStats)))
	mux.Handle("GET /api/dashboard/stats/tokens/monthly", authMW.RequireDashboard(http.HandlerFunc(dashboardHandler.HandleMonthlyTokenStats)))

	mux.Handle("GET /api/system", authMW.RequireRole(types.RoleViewer, http.HandlerFunc(s.systemHandler.HandleInfo)))
	mux.Handle("POST /api/system/update/check", authMW.RequireRole(types.RoleAdmin, http.HandlerFunc(s.systemHandler.HandleUpdateCheck)))
	mux.Handle("POST /api/system/update/apply", authMW.RequireRole(types.RoleAdmin, http.HandlerFunc(s.systemHandler.HandleUpdateApply)))
	mux.Handle("POST /api/system/update/apply/force", authMW.RequireRole(types.RoleAdmin, http.HandlerFunc(s.systemHandler.HandleUpdateApplyForce)))
	mux.Handle("POST /api/system/update/rollback", authMW.RequireRole(types.RoleAdmin, http.HandlerFunc(s.systemHandler.HandleUpdateRollback)))
	mux.Handle("GET /api/system/update/schedule", authMW.RequireRole(types.RoleViewer, http.HandlerFunc(s.systemHandler.HandleGetSchedule)))
	mux.Handle("POST /api/system/update/schedule", authMW.RequireRole(types.RoleAdmin, http.HandlerFunc(s.systemHandler.HandleSetSchedule)))
	mux.Handle("DELETE /api/system/update/schedule", authMW.RequireRole(types.RoleAdmin, http.HandlerFunc(s.systemHandler.HandleDeleteSchedule)))

	return mux
}

func (s *Server) wrapMiddleware(mux http.Handler) http.Handler {
	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metrics),
		OTelTracing(),
		CORS(s.cfg.CORS.AllowedOrigins),
	)
}

// Start launches the HTTP and metrics listeners, the health supervisor, and
// the scheduled-update loop. Non-blocking; call WaitForShutdown to block
// until signaled.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.updateCancel = cancel

	s.supervisor.Start(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.systemHandler.RunScheduledUpdates(ctx)
	}()

	if s.cfg.TLS.Enabled {
		if err := s.httpManager.StartTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile); err != nil {
			return fmt.Errorf("https server: %w", err)
		}
	} else if err := s.httpManager.Start(); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	if err := s.metricsManager.Start(); err != nil {
		return fmt.Errorf("metrics server: %w", err)
	}

	s.logger.Info("llmlb started", zap.String("addr", s.cfg.Server.Addr))
	return nil
}

// WaitForShutdown blocks until an OS signal or server error triggers
// shutdown, then runs Shutdown.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops every component in reverse construction order.
func (s *Server) Shutdown() {
	s.logger.Info("shutting down")

	if s.updateCancel != nil {
		s.updateCancel()
	}

	ctx := context.Background()

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("http server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("database close error", zap.Error(err))
		}
	}

	s.wg.Wait()
	s.logger.Info("shutdown complete")
}
