package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medvault/medvault/internal/config"
	"github.com/medvault/medvault/internal/domain/access"
	"github.com/medvault/medvault/internal/domain/audit"
	"github.com/medvault/medvault/internal/domain/emergency"
	"github.com/medvault/medvault/internal/domain/identity"
	"github.com/medvault/medvault/internal/domain/profile"
	"github.com/medvault/medvault/internal/domain/records"
	"github.com/medvault/medvault/internal/domain/verification"
	"github.com/medvault/medvault/internal/platform/auth"
	"github.com/medvault/medvault/internal/platform/blobstore"
	"github.com/medvault/medvault/internal/platform/breakglass"
	"github.com/medvault/medvault/internal/platform/db"
	"github.com/medvault/medvault/internal/platform/middleware"
	"github.com/medvault/medvault/internal/platform/stream"
	"github.com/medvault/medvault/internal/platform/telemetry"
)

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", "medvault").Logger()
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	return rl
}

// newPublisher returns the audit stream publisher. Without brokers the
// ledger still commits; nothing is streamed.
func newPublisher(cfg *config.Config, metrics *telemetry.Metrics, logger zerolog.Logger) (stream.Publisher, []db.Check, error) {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Warn().Msg("KAFKA_BROKERS not set, audit stream disabled")
		return stream.Nop{}, nil, nil
	}
	pub, err := stream.NewKafkaPublisher(stream.KafkaConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaAuditTopic,
	}, logger, func(int, error) { metrics.ObservePublishFailure() })
	if err != nil {
		return nil, nil, err
	}
	brokers := cfg.KafkaBrokers
	check := db.Check{Name: "kafka", Probe: func(ctx context.Context) error { return stream.Ping(ctx, brokers) }}
	return pub, []db.Check{check}, nil
}

// newBreakGlass returns the emergency request limiter: shared through redis
// when REDIS_URL is set, per process otherwise.
func newBreakGlass(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (breakglass.Limiter, []db.Check, func(), error) {
	if cfg.RedisURL == "" {
		mem := breakglass.NewMemory(cfg.BreakGlassPerHour)
		go mem.RunCleanup(ctx)
		logger.Info().Msg("REDIS_URL not set, break-glass limiter is per process")
		return mem, nil, func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	check := db.Check{Name: "redis", Probe: func(ctx context.Context) error { return client.Ping(ctx).Err() }}
	return breakglass.NewRedis(client, cfg.BreakGlassPerHour), []db.Check{check}, func() { _ = client.Close() }, nil
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	signingKey, err := cfg.SigningKey()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid signing key")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Hour,
		ApplicationName: "medvault",
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")
	tx := db.NewTransactor(pool)

	// Metrics
	var metrics *telemetry.Metrics
	if cfg.MetricsEnabled {
		metrics = telemetry.New()
		metrics.RegisterPool(pool)
	}

	// Audit stream and break-glass limiter
	publisher, checks, err := newPublisher(cfg, metrics, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure audit stream")
	}
	defer publisher.Close()

	limiter, limiterChecks, closeLimiter, err := newBreakGlass(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure break-glass limiter")
	}
	defer closeLimiter()
	checks = append(checks, limiterChecks...)

	signer, err := emergency.NewSigner(signingKey, cfg.QRTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure credential signer")
	}
	blobs := blobstore.NewPGBlobStore(pool)

	// Domain services
	auditSvc := audit.NewService(audit.NewRepoPG(pool), publisher, metrics, logger)
	identitySvc := identity.NewService(identity.NewRepoPG(pool), tx, auditSvc, identity.Config{
		AdminWallets:   cfg.AdminWallets,
		StrictChecksum: cfg.WalletChecksumStrict,
	}, metrics, logger)

	recordRepo := records.NewRepoPG(pool)
	accessSvc := access.NewService(access.NewRepoPG(pool), tx, identitySvc, recordRepo, limiter, auditSvc, metrics, logger)
	recordsSvc := records.NewService(recordRepo, tx, blobs, accessSvc, auditSvc, logger)
	verificationSvc := verification.NewService(verification.NewRepoPG(pool), tx, identitySvc, blobs, auditSvc, logger)
	profileSvc := profile.NewService(profile.NewRepoPG(pool), tx, auditSvc, logger)
	emergencySvc := emergency.NewService(emergency.NewRepoPG(pool), tx, signer, emergency.Deps{
		Accounts:     identitySvc,
		Profiles:     profileSvc,
		Institutions: verificationSvc,
		Records:      recordsSvc,
		Ledger:       auditSvc,
	}, metrics, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderXRequestID, auth.WalletHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.UploadBodyLimit))
	if metrics != nil {
		e.Use(metrics.Middleware())
		e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	}

	e.GET("/health", db.HealthHandler(pool, checks...))

	api := e.Group("/api")
	api.Use(middleware.RateLimit(rateLimitConfig(cfg)))
	api.Use(auth.WalletMiddleware(identitySvc, auth.AuthSkipper))
	api.Use(audit.CaptureIP())
	api.Use(middleware.PHIAccess(logger))
	api.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	identity.NewHandler(identitySvc).RegisterRoutes(api)
	audit.NewHandler(auditSvc).RegisterRoutes(api)
	access.NewHandler(accessSvc).RegisterRoutes(api)
	records.NewHandler(recordsSvc).RegisterRoutes(api)
	verification.NewHandler(verificationSvc).RegisterRoutes(api)
	profile.NewHandler(profileSvc).RegisterRoutes(api)
	emergency.NewHandler(emergencySvc).RegisterRoutes(api)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
