// internal/app/server.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"membership-service/internal/config"
	authHandler "membership-service/internal/handlers/auth"
	catalogHandler "membership-service/internal/handlers/catalog"
	subscriptionHandler "membership-service/internal/handlers/subscription"
	wsHandler "membership-service/internal/handlers/websocket"
	"membership-service/internal/middleware"
	"membership-service/internal/pkg/jwt"
	authUsecase "membership-service/internal/service/auth"
	"membership-service/internal/service/expiry"
	"membership-service/internal/websocket"
	wsHandlers "membership-service/internal/websocket/handler"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	shutdownTimeout = 10 * time.Second
	rateLimiterIdle = 10 * time.Minute
)

type Server struct {
	cfg    config.AppConfig
	engine *gin.Engine
	logger *zap.Logger
	http   *http.Server
}

func NewServer(cfg config.AppConfig, logger *zap.Logger) *Server {
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	return &Server{cfg: cfg, engine: gin.New(), logger: logger}
}

// NewLogger builds the zap logger for the configured environment.
func NewLogger(cfg config.AppConfig) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Start wires every component and serves HTTP until ctx is cancelled, then
// drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	// ----- Storage, caches, lifecycle engine -----
	core, err := BuildCore(ctx, s.cfg, prometheus.DefaultRegisterer, s.logger)
	if err != nil {
		return fmt.Errorf("failed to initialise core: %w", err)
	}
	defer func() {
		if err := core.Close(); err != nil {
			s.logger.Warn("failed to close connections", zap.Error(err))
		}
	}()

	// ----- JWT Manager -----
	jwtManager, err := jwt.LoadAndBuild(s.cfg.JWT.ManagerConfig())
	if err != nil {
		return fmt.Errorf("failed to load JWT manager: %w", err)
	}

	// ----- WebSocket Hub -----
	hub := websocket.NewHub(jwtManager.Verifier, s.logger)
	hub.RegisterHandler(wsHandlers.NewMembershipHandler(core.Subscriptions, core.CatalogReader))
	core.Dispatcher.Register("websocket", hub)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	// ----- Expiry sweep -----
	if s.cfg.Expiry.Enabled {
		runner := expiry.NewRunner(core.Sweeper, s.cfg.Expiry.Interval, s.logger)
		go runner.Run(ctx)
	}

	// ----- Services -----
	var attempts authUsecase.AttemptLimiter
	if core.LoginLimiter != nil {
		attempts = core.LoginLimiter
	}
	authService := authUsecase.NewAuthService(core.Accounts, jwtManager, attempts, s.logger)

	// ----- Handlers -----
	handlers := &Handlers{
		AuthHandler:         authHandler.NewAuthHandler(authService, s.logger),
		CatalogHandler:      catalogHandler.NewCatalogHandler(core.CatalogReader),
		SubscriptionHandler: subscriptionHandler.NewSubscriptionHandler(core.Subscriptions, core.CatalogReader),
		WSHandler:           wsHandler.NewWebSocketHandler(hub, s.cfg.HTTP.AllowedOrigins, s.logger),
		AuthMiddleware:      middleware.NewAuthMiddleware(authService),
	}

	// ----- Middlewares -----
	limiter := middleware.NewRateLimiter(s.cfg.HTTP.RateLimitRPS, s.cfg.HTTP.RateLimitBurst, rateLimiterIdle)
	s.engine.Use(
		middleware.RecoveryMiddleware(s.logger),
		middleware.LoggingMiddleware(s.logger),
		middleware.CORSMiddleware(s.cfg.HTTP.AllowedOrigins),
		limiter.Middleware(),
	)

	SetupRouter(s.engine, handlers)

	// ----- Start HTTP -----
	s.http = &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server running", zap.String("addr", s.cfg.HTTPAddr), zap.String("storage", s.cfg.StorageMode))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	s.logger.Info("server stopped gracefully")
	return nil
}
