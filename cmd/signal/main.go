package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meshcall/internal/core/services"
	httphandlers "meshcall/internal/handlers/http"
	"meshcall/internal/infrastructure/middleware"
	"meshcall/internal/infrastructure/monitoring"
	"meshcall/internal/infrastructure/repositories"
	signalrelay "meshcall/internal/infrastructure/signal"
	"meshcall/pkg/config"
	"meshcall/pkg/logger"
	"meshcall/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const healthCheckTimeout = 2 * time.Second

func loadConfig() (*config.Config, string, error) {
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/meshcall/config.yaml",
		"config.yaml",
	}
	if path := os.Getenv("MESHCALL_CONFIG"); path != "" {
		configPaths = []string{path}
	}

	var lastErr error
	for _, path := range configPaths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := config.Load(path)
		if err == nil {
			return cfg, path, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, "", lastErr
	}

	// no file anywhere: defaults plus env overrides
	cfg, err := config.Load("")
	return cfg, "", err
}

func main() {
	cfg, configPath, err := loadConfig()
	if err != nil {
		// logger is not configured yet
		zapLogger := logger.New("info")
		zapLogger.Sugar().Fatalw("failed to load configuration", "error", err)
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()
	if configPath != "" {
		log.Infow("loaded configuration", "path", configPath)
	} else {
		log.Info("no configuration file found, using defaults")
	}

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.Enabled = cfg.Tracing.Enabled
	tracingCfg.ServiceName = cfg.Tracing.ServiceName
	tracingCfg.JaegerURL = cfg.Tracing.JaegerURL
	tracingCfg.Environment = cfg.Tracing.Environment
	tracingCfg.SampleRate = cfg.Tracing.SampleRate
	tp, err := tracing.Init(tracingCfg)
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	repoFactory := repositories.NewRepositoryFactory(context.Background(), cfg, log)
	historyRepo := repoFactory.CreateHistoryRepository()

	registry := services.NewRoomRegistry(cfg.Mesh.MaxParticipants, cfg.Mesh.ChatHistorySize)
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
	historyService := services.NewHistoryService(historyRepo)

	collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddHistoryCheck(historyRepo, healthCheckTimeout)
	if client := repoFactory.RedisClient(); client != nil {
		healthChecker.AddRedisCheck(client, healthCheckTimeout)
	}

	relay := signalrelay.NewWebSocketServer(cfg, registry, authService, historyService, collector, log)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	if tp.Enabled() {
		router.Use(middleware.TracingMiddleware())
	}
	router.Use(middleware.RequestLoggerMiddleware(logger.NewContextLogger(zapLogger)))
	router.Use(middleware.ErrorHandlerMiddleware(log))

	router.GET("/ws", middleware.NewWebSocketConnectionLimitMiddleware(cfg), gin.WrapF(relay.HandleWebSocket))

	users := router.Group("/api/v1/users")
	users.Use(middleware.NewHTTPRateLimitMiddleware(cfg), middleware.AuthMiddleware(authService))
	httphandlers.NewHistoryHandler(historyService, authService).SetupRoutes(users)

	httphandlers.NewHealthHandler(healthChecker, relay).SetupRoutes(router)

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	// WriteTimeout is left unset: hijacked websocket connections manage
	// their own deadlines.
	srv := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting meshcall signaling server", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// stop accepting first, then drain the relay sessions
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}
	if err := relay.Shutdown(shutdownCtx); err != nil {
		log.Warnw("relay sessions did not drain", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warnw("failed to flush traces", "error", err)
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repositories", "error", err)
	}

	log.Info("meshcall signaling server stopped")
}
