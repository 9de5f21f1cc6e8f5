package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/sentinel/internal/audit"
	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/background"
	"github.com/BradenHooton/sentinel/internal/config"
	"github.com/BradenHooton/sentinel/internal/coordinator"
	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/handlers"
	middlewareCustom "github.com/BradenHooton/sentinel/internal/middleware"
	"github.com/BradenHooton/sentinel/internal/mfa"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/notify"
	"github.com/BradenHooton/sentinel/internal/repositories"
	"github.com/BradenHooton/sentinel/internal/routes"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// healthChecker is implemented by the database and Redis backends
type healthChecker func(ctx context.Context) error

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("storage", cfg.Storage.Backend))

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()

	// Storage backend
	var (
		store   repositories.EntityStore
		health  healthChecker
		sinks   []audit.Sink
		closers []func()
	)
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		db, err := database.NewConnection(startCtx, &cfg.Storage.Database, logger)
		if err != nil {
			logger.Error("failed to connect to database", slog.Any("error", err))
			os.Exit(1)
		}
		closers = append(closers, db.Close)
		if err := db.Migrate(startCtx); err != nil {
			logger.Error("failed to run migrations", slog.Any("error", err))
			os.Exit(1)
		}
		store = repositories.NewPostgresStore(db)
		auditRepo := repositories.NewAuditLogRepository(db)
		sinks = append(sinks, auditRepo)
		health = db.HealthCheck

		retention := cfg.Audit.DBRetention
		purge := background.NewRunner("audit_cleanup", time.Hour, func(ctx context.Context) {
			removed, err := auditRepo.Cleanup(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.ErrorContext(ctx, "failed to purge audit rows", slog.Any("error", err))
				return
			}
			if removed > 0 {
				logger.InfoContext(ctx, "purged audit rows", slog.Int64("removed", removed))
			}
		}, logger)
		go purge.Start(context.Background())
		// Closers run in reverse, so the purge stops before the pool closes
		closers = append(closers, purge.Stop)

	case config.BackendRedis:
		rcfg := cfg.Storage.Redis
		client, err := repositories.NewRedisClient(startCtx, rcfg.Addr, rcfg.Password, rcfg.DB)
		if err != nil {
			logger.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}
		closers = append(closers, func() { _ = client.Close() })
		redisStore := repositories.NewRedisStore(client, rcfg.KeyPrefix, rcfg.TTL)
		store = redisStore
		health = redisStore.HealthCheck

	default:
		store = repositories.NewMemoryStore()
	}

	// External audit sink
	if len(cfg.Audit.KafkaBrokers) > 0 {
		kafkaSink := audit.NewKafkaSink(cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic, logger)
		sinks = append(sinks, kafkaSink)
		closers = append(closers, func() {
			if err := kafkaSink.Close(); err != nil {
				logger.Error("failed to close kafka audit sink", slog.Any("error", err))
			}
		})
		logger.Info("kafka audit sink enabled", slog.String("topic", cfg.Audit.KafkaTopic))
	}

	// Notifications: SES for email when configured, log lines otherwise
	logNotifier := notify.NewLogNotifier(logger)
	notifier := notify.NewRouter().
		Handle(models.ChannelEmail, logNotifier).
		Handle(models.ChannelSMS, logNotifier).
		Handle(models.ChannelPush, logNotifier)
	if cfg.Notify.AWSRegion != "" && cfg.Notify.FromEmail != "" {
		ses, err := notify.NewSESNotifier(startCtx, cfg.Notify.AWSRegion, cfg.Notify.FromEmail, logger)
		if err != nil {
			logger.Error("failed to initialize SES notifier", slog.Any("error", err))
			os.Exit(1)
		}
		notifier.Handle(models.ChannelEmail, ses)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := coordinator.Options{
		Store:      store,
		Notifier:   notifier,
		AuditSinks: sinks,
		Registerer: registry,
	}
	// Credential kinds need a platform authenticator; the software one is
	// for development only
	if cfg.Server.Env != "production" {
		opts.Authenticator = mfa.NewSoftwareAuthenticator(cfg.MFA.BiometricAvailable)
	}

	security, err := coordinator.New(cfg, opts, logger)
	if err != nil {
		logger.Error("failed to build security coordinator", slog.Any("error", err))
		os.Exit(1)
	}

	monitorCtx, monitorCancel := context.WithCancel(context.Background())
	defer monitorCancel()
	security.Start(monitorCtx)

	// HTTP adapter
	tokenManager := auth.NewTokenManager(cfg.Identity.JWTSecret, cfg.Identity.Issuer, cfg.MFA.SetupTokenExpiry)
	clientIP := pkghttp.NewClientIPResolver(cfg.Server.TrustedProxies)
	httpMetrics := middlewareCustom.NewHTTPMetrics(registry)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(clientIP.Middleware)
	r.Use(httpMetrics.Handler)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	r.Use(middlewareCustom.SecureLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(r, routes.Handlers{
		MFA: handlers.NewMFAHandler(security, logger).WithFailureDelay(&auth.FailureDelay{
			Floor:  cfg.MFA.FailureFloor,
			Jitter: cfg.MFA.FailureJitter,
		}),
		Sessions: handlers.NewSessionHandler(security, logger),
		Security: handlers.NewSecurityHandler(security, logger),
	}, tokenManager, middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Server.MFAVerifyPerMinute})

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		body := map[string]string{
			"status":         "healthy",
			"storage":        cfg.Storage.Backend,
			"security_level": string(security.SecurityLevel()),
		}
		if health != nil {
			ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
			defer cancel()
			if err := health(ctx); err != nil {
				body["status"] = "unhealthy"
				pkghttp.WriteJSON(w, http.StatusServiceUnavailable, body)
				return
			}
		}
		pkghttp.WriteJSON(w, http.StatusOK, body)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := shutdown(shutdownCtx, server, security, closers); err != nil {
		logger.Error("shutdown error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("server stopped gracefully")
}

// shutdown stops accepting requests, drains the coordinator and releases
// the storage and sink connections in reverse order of creation
func shutdown(ctx context.Context, server *http.Server, security *coordinator.SecurityCoordinator, closers []func()) error {
	var errs []error
	if err := server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := security.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
	return errors.Join(errs...)
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
