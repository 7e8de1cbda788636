// Package main is the Workspace Gateway entry point: it wires config,
// storage, the workspace actor registry, the reaper, authentication, the
// streaming proxy, and the subdomain router into one HTTP server.
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"

	"github.com/workspacehq/gateway/internal/appstub"
	"github.com/workspacehq/gateway/internal/audit"
	"github.com/workspacehq/gateway/internal/auth"
	"github.com/workspacehq/gateway/internal/gateway"
	"github.com/workspacehq/gateway/internal/platform/config"
	"github.com/workspacehq/gateway/internal/platform/logging"
	"github.com/workspacehq/gateway/internal/platform/metrics"
	"github.com/workspacehq/gateway/internal/platform/middleware"
	"github.com/workspacehq/gateway/internal/provider"
	"github.com/workspacehq/gateway/internal/proxy"
	"github.com/workspacehq/gateway/internal/store"
	"github.com/workspacehq/gateway/internal/workspace"
)

const serviceVersion = "0.1.0"

func main() {
	logger := logging.NewFromEnv("gateway")

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("failed to load config")
	}

	if cfg.MetricsEnabled {
		metrics.Init("gateway", serviceVersion)
	}

	baseStore := store.NewFileStore(cfg.DataDir)
	var st store.Store = baseStore
	var invalidator workspace.Invalidator

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			logger.WithError(parseErr).Fatal("invalid REDIS_URL")
		}
		redisClient = redis.NewClient(opts)
		cached := store.NewCachedStore(baseStore, redisClient, 30*time.Second, logger)
		st = cached
		invalidator = cached
	}

	var eventLogger *workspace.EventLogger
	if cfg.AuditEnabled {
		db, auditErr := audit.Open(cfg.AuditDatabaseURL)
		if auditErr != nil {
			logger.WithError(auditErr).Fatal("failed to connect to audit database")
		}
		if migrateErr := audit.Migrate(db); migrateErr != nil {
			logger.WithError(migrateErr).Fatal("failed to run audit migrations")
		}
		eventLogger = workspace.NewEventLoggerWithAudit(audit.NewLog(db, logger))
	} else {
		eventLogger = workspace.NewEventLogger()
	}

	newProviderClient := func() workspace.ProviderClient {
		return provider.NewClient(provider.ClientConfig{
			APIURL:  cfg.ProviderAPIURL,
			APIKey:  cfg.ProviderAPIKey,
			AppName: cfg.ProviderAppName,
		})
	}

	registry := workspace.NewRegistry(newProviderClient, st, invalidator, eventLogger, cfg.InactivityTimeout, cfg.ReapGrace)

	reaper, err := workspace.NewReaper(registry, "@every 5m", logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to build reaper")
	}
	reaper.Start()

	authenticator := auth.NewJWTAuthenticator(cfg.AuthCookieName, cfg.AuthJWTSecret)

	streamingProxy := proxy.NewStreamingProxy(registry, proxy.Config{
		AppName:          cfg.ProviderAppName,
		BodyLimit:        cfg.ProxyBodyLimit,
		ChunkIdleTimeout: cfg.ProxyChunkIdleTimeout,
	}, logger)

	gatewayHandler := gateway.NewHandler(authenticator, streamingProxy, appstub.NewRouter(), cfg.BaseDomain, logger)

	healthChecker := middleware.NewHealthChecker()
	healthChecker.RegisterCheck("workspace_registry", func(ctx context.Context) error {
		_ = registry.Len()
		return nil
	})
	if redisClient != nil {
		healthChecker.RegisterCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	controlRouter := mux.NewRouter()
	controlRouter.Handle("/healthz", healthChecker).Methods(http.MethodGet)
	if cfg.MetricsEnabled {
		controlRouter.Handle("/metrics", metrics.Global().Handler()).Methods(http.MethodGet)
	}
	corsMw := middleware.NewCORSMiddleware(middleware.CORSConfig{})
	rateLimitMw := middleware.NewRateLimitMiddleware(middleware.DefaultRateLimitConfig())
	securityHeadersMw := middleware.NewSecurityHeadersMiddleware(nil)
	controlRouter.Use(corsMw.Handler, rateLimitMw.Handler, securityHeadersMw.Handler)
	controlRouter.NotFoundHandler = gatewayHandler

	var topHandler http.Handler = controlRouter

	recoveryMw := middleware.NewRecoveryMiddleware(logger)
	loggingMw := middleware.NewLoggingMiddleware(logger)
	bodyLimitMw := middleware.NewBodyLimitMiddleware(cfg.ProxyBodyLimit)
	topHandler = recoveryMw.Handler(loggingMw.Handler(bodyLimitMw.Handler(topHandler)))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           topHandler,
		ReadHeaderTimeout: 10 * time.Second,
		// No overall ReadTimeout/WriteTimeout: spec §4.6 requires streaming
		// proxy responses to run with no total-duration cap.
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	shutdown := middleware.NewGracefulShutdown(server, logger, 30*time.Second)
	shutdown.OnShutdown(func() { reaper.Stop() })
	shutdown.ListenForSignals()

	logger.WithFields(map[string]interface{}{"port": cfg.Port, "base_domain": cfg.BaseDomain}).Info("gateway starting")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Fatal("server error")
	}

	shutdown.Wait()
}

func init() {
	if os.Getenv("TZ") == "" {
		_ = os.Setenv("TZ", "UTC")
	}
}
