package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/voltmoto/site/backend/internal/api"
	"github.com/voltmoto/site/backend/internal/auth"
	"github.com/voltmoto/site/backend/internal/catalog"
	"github.com/voltmoto/site/backend/internal/config"
	"github.com/voltmoto/site/backend/internal/directory"
	"github.com/voltmoto/site/backend/internal/health"
	"github.com/voltmoto/site/backend/internal/logger"
	"github.com/voltmoto/site/backend/internal/metrics"
	"github.com/voltmoto/site/backend/internal/middleware"
	"github.com/voltmoto/site/backend/internal/repository"
	"github.com/voltmoto/site/backend/internal/sanitizer"
	"github.com/voltmoto/site/backend/internal/session"
	"github.com/voltmoto/site/backend/internal/storage"
	"github.com/voltmoto/site/backend/internal/tasks"
)

var version = "dev"

func main() {
	cfg := config.Load()
	log := logger.New(logger.DefaultConfig())
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	codec, err := session.NewJWTCodec(cfg.Session.Secret, cfg.Session.Issuer)
	if err != nil {
		return fmt.Errorf("SESSION_SECRET: %w", err)
	}

	dbPool, err := setupDatabase(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbPool.Close()

	sqlDB := stdlib.OpenDBFromPool(dbPool)
	defer sqlDB.Close()
	db := sqlx.NewDb(sqlDB, "pgx")

	// Repositories
	addressRepo := repository.NewAddressRepository(dbPool)
	attemptRepo := repository.NewAttemptRepository(dbPool)
	principalRepo := repository.NewPrincipalRepository(dbPool)
	loginAttemptRepo := repository.NewLoginAttemptRepository(dbPool)
	productRepo := repository.NewProductRepo(db)

	runner := tasks.NewRunner(log, tasks.DefaultTimeout)

	// Lockout counters live in Redis when configured, otherwise in Postgres
	var lockout auth.LockoutStore
	var redisClient *redis.Client
	healthChecks := []health.Check{{Name: "database", Pinger: dbPool, Critical: true}}

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		lockout = auth.NewRedisLockout(redisClient, cfg.Security.LockoutDuration)
		healthChecks = append(healthChecks, health.Check{Name: "redis", Pinger: health.RedisPinger(redisClient)})
		log.Info("Using Redis for login lockout counters")
	} else {
		pgLockout := auth.NewPostgresLockout(loginAttemptRepo, cfg.Security.LockoutDuration)
		lockout = pgLockout
		stopPrune := startLockoutPrune(pgLockout, cfg.Security.LockoutDuration, log)
		defer stopPrune()
	}

	// Gate and login
	cookies := session.CookieConfig{
		Secure:     cfg.IsProduction(),
		SessionTTL: cfg.Session.Timeout,
		DeviceTTL:  cfg.Session.DeviceCookieTTL,
	}
	directorySvc := directory.NewService(addressRepo, attemptRepo, runner, log)
	authService := auth.NewService(
		directorySvc,
		principalRepo,
		lockout,
		codec,
		auth.NewPasswords(auth.DefaultBcryptCost),
		runner,
		auth.Config{
			MaxFailedAttempts: cfg.Security.MaxLoginAttempts,
			LockoutDuration:   cfg.Security.LockoutDuration,
		},
		log,
	)
	authHandler := auth.NewHandler(authService, directorySvc, cookies, cfg.Security.TrustedCIDRs, log)

	gate := middleware.NewGate(codec, middleware.GateConfig{
		ProtectedPrefix: cfg.Server.ProtectedPrefix,
		MaxAge:          cfg.Session.Timeout,
		Cookies:         cookies,
	}, log)

	rateLimiter := middleware.NewRateLimiter(cfg.Security.RateLimitPerSecond, cfg.Security.RateLimitBurst).
		TrustProxies(cfg.Security.TrustedProxies)
	defer rateLimiter.Stop()

	// Catalogue
	images := storage.NewImageStore(cfg.Storage)
	healthChecks = append(healthChecks, health.Check{Name: "storage", Pinger: images})

	catalogSvc := catalog.NewService(catalog.ServiceConfig{
		Products:      productRepo,
		Images:        images,
		Sanitizer:     sanitizer.NewDescriptionSanitizer(),
		Runner:        runner,
		MaxImageBytes: cfg.Storage.MaxImageBytes,
		Logger:        log,
	})
	productHandler := api.NewProductHandler(catalogSvc, log)
	attemptHandler := api.NewAttemptHandler(attemptRepo, log)

	cleanup := storage.NewOrphanCleanupJob(images, productRepo, storage.DefaultOrphanCleanupConfig(), log)
	if err := cleanup.Start(); err != nil {
		log.Warn("Image cleanup job not started", "error", err)
	}
	defer cleanup.Stop()

	// Observability
	healthHandler := health.NewHandler(health.Config{Checks: healthChecks, Version: version})
	dbCollector := metrics.NewDBStatsCollector(dbPool, sqlDB, log)
	dbCollector.Start(15 * time.Second)
	defer dbCollector.Stop()

	r := chi.NewRouter()

	// RealIP is deliberately absent: it rewrites RemoteAddr, which the trusted
	// address check reads as the connection address.
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(middleware.NewRequestLogger(log, cfg.Server.ProtectedPrefix).Handler)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(gate.Protect)

	r.Get("/health", healthHandler.Health)
	r.Get("/health/ready", healthHandler.Readiness)
	r.Get("/health/live", healthHandler.Liveness)
	r.Handle("/metrics", metrics.Handler())

	auth.RegisterRoutes(r, authHandler, rateLimiter.Limit)

	r.Route("/api/v1", func(r chi.Router) {
		api.RegisterPublicRoutes(r, productHandler)
	})

	r.Route(gate.LoginPath(), func(r chi.Router) {
		auth.RegisterAdminRoutes(r, authHandler, func(r chi.Router) {
			api.RegisterAdminRoutes(r, productHandler, attemptHandler)
		})
	})

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Starting server", "addr", addr, "env", cfg.Env, "protected_prefix", gate.LoginPath())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return err
	case sig := <-quit:
		log.Info("Shutting down server", "signal", sig.String())
	}

	healthHandler.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	if err := runner.Shutdown(ctx); err != nil {
		log.Warn("Background tasks did not finish", "error", err)
	}

	log.Info("Server exited")
	return nil
}

// setupDatabase creates and configures the database connection pool
func setupDatabase(cfg *config.Config, log *slog.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// A marketing site admin sees little traffic; keep the pool small for hosted Postgres
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 5 * time.Minute
	poolConfig.MaxConnIdleTime = 1 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := metrics.PingDatabase(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("Connected to database", "host", poolConfig.ConnConfig.Host, "database", poolConfig.ConnConfig.Database)
	return pool, nil
}

// startLockoutPrune deletes failed login rows older than the lockout window
func startLockoutPrune(l *auth.PostgresLockout, window time.Duration, log *slog.Logger) (stop func()) {
	interval := max(window, time.Minute)
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				n, err := l.Prune(ctx)
				cancel()
				if err != nil {
					log.Warn("Failed to prune login failures", "error", err)
				} else if n > 0 {
					log.Debug("Pruned login failures", "rows", n)
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(done)
	}
}
