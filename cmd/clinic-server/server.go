package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boltdb/bolt"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinic/scheduler/internal/config"
	"github.com/clinic/scheduler/internal/domain/directory"
	"github.com/clinic/scheduler/internal/domain/scheduling"
	"github.com/clinic/scheduler/internal/platform/auth"
	"github.com/clinic/scheduler/internal/platform/db"
	"github.com/clinic/scheduler/internal/platform/events"
	"github.com/clinic/scheduler/internal/platform/lock"
	"github.com/clinic/scheduler/internal/platform/middleware"
	"github.com/clinic/scheduler/internal/platform/telemetry"
	"github.com/clinic/scheduler/migrations"
)

const (
	serviceName    = "clinic-server"
	serviceVersion = "0.1.0"
)

// app is the assembled server and the resources it owns.
type app struct {
	echo    *echo.Echo
	metrics *telemetry.Metrics
	pool    *pgxpool.Pool
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type stores struct {
	appointments scheduling.AppointmentRepository
	patients     directory.PatientRepository
	providers    directory.ProviderRepository
}

// openStores connects the configured storage backend.
func openStores(ctx context.Context, cfg *config.Config, a *app) (stores, error) {
	if cfg.StoreDriver == config.StoreBolt {
		bdb, err := db.OpenBolt(cfg.BoltPath, 2*time.Second)
		if err != nil {
			return stores{}, err
		}
		a.closers = append(a.closers, bdb.Close)
		appts, err := scheduling.NewAppointmentRepoBolt(bdb)
		if err != nil {
			return stores{}, err
		}
		patients, err := directory.NewPatientRepoBolt(bdb)
		if err != nil {
			return stores{}, err
		}
		providers, err := directory.NewProviderRepoBolt(bdb)
		if err != nil {
			return stores{}, err
		}
		a.echo.GET("/health/db", boltHealth(bdb))
		return stores{appointments: appts, patients: patients, providers: providers}, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return stores{}, err
	}
	a.pool = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	a.echo.GET("/health/db", db.HealthHandler(pool))
	return stores{
		appointments: scheduling.NewAppointmentRepoPG(pool),
		patients:     directory.NewPatientRepoPG(pool),
		providers:    directory.NewProviderRepoPG(pool),
	}, nil
}

func boltHealth(bdb *bolt.DB) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := bdb.View(func(*bolt.Tx) error { return nil })
		if err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"path":   bdb.Path(),
		})
	}
}

// coordination picks the provider locker and rate limiter. With REDIS_URL
// set both are shared by every instance; otherwise they are in-process.
func coordination(cfg *config.Config, rl middleware.RateLimitConfig, logger zerolog.Logger, a *app) (scheduling.Locker, middleware.Limiter, error) {
	if cfg.RedisURL == "" {
		return lock.NewKeyedMutex(), middleware.NewMemoryLimiter(rl), nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	a.closers = append(a.closers, rdb.Close)
	locker := lock.NewRedisLocker(rdb, lock.RedisConfig{
		Prefix: "clinic:lock",
		TTL:    cfg.LockTTL,
		Wait:   cfg.LockWait,
	}, logger)
	return locker, middleware.NewRedisLimiter(rdb, rl, "clinic:ratelimit"), nil
}

func eventSink(cfg *config.Config, logger zerolog.Logger, a *app) (events.Publisher, error) {
	if cfg.KafkaBrokers == "" {
		return events.LogPublisher{Logger: logger.With().Str("component", "events").Logger()}, nil
	}
	pub, err := events.NewKafkaPublisher(events.KafkaConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pub.Close)
	return pub, nil
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
		Skipper:  auth.AuthSkipper,
	}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	}
	if cfg.ResolvedAuthMode() == "development" {
		return auth.DevAuthMiddleware(jwtCfg)
	}
	return auth.JWTMiddleware(jwtCfg)
}

// buildApp wires configuration into a ready-to-serve echo instance.
func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *app, err error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	a := &app{echo: e, metrics: telemetry.NewMetrics()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	hours, err := scheduling.NewBusinessHours(cfg.ClinicName, cfg.ClinicWorkdays, cfg.ClinicOpen, cfg.ClinicClose, cfg.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("business hours: %w", err)
	}

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-Clinic-ID"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(telemetry.TracingMiddleware(serviceName))
	e.Use(a.metrics.Middleware())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": serviceVersion,
		})
	})
	e.GET("/metrics", a.metrics.Handler())
	apiDocs(e).RegisterRoutes(e.Group("/api"))

	st, err := openStores(ctx, cfg, a)
	if err != nil {
		return nil, err
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	locker, limiter, err := coordination(cfg, rateLimitCfg, logger, a)
	if err != nil {
		return nil, err
	}
	pub, err := eventSink(cfg, logger, a)
	if err != nil {
		return nil, err
	}

	// API group: identity, clinic, audit and rate limiting apply here only.
	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	apiV1.Use(authMiddleware(cfg))
	apiV1.Use(db.ClinicMiddleware(a.pool, cfg.DefaultClinic))
	apiV1.Use(middleware.Audit(logger))
	apiV1.Use(middleware.RateLimit(rateLimitCfg, limiter, logger))

	dirSvc := directory.NewService(st.patients, st.providers)
	directory.NewHandler(dirSvc).RegisterRoutes(apiV1)

	policy := scheduling.NewPolicy(
		scheduling.DefaultCapabilities(scheduling.PolicyOptions{FrontDeskMayCancel: cfg.PolicyFrontDeskMayCancel}),
		hours.Location, nil)
	svc := scheduling.NewService(st.appointments, directoryAdapter{svc: dirSvc}, hours, policy,
		scheduling.WithLocker(locker),
		scheduling.WithEvents(&eventPublisher{pub: pub, counter: a.metrics}),
		scheduling.WithLogger(logger.With().Str("component", "scheduling").Logger()),
	)
	schedHandler := scheduling.NewHandler(svc)
	schedHandler.OnReject = a.metrics.SchedulingRejection
	schedHandler.RegisterRoutes(apiV1)

	return a, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer(migrate bool) error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		l := newLogger(nil)
		l.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		l := newLogger(cfg)
		l.Fatal().Err(err).Msg("invalid config")
	}

	// Logger
	logger := newLogger(cfg).With().Str("service", serviceName).Logger()
	if cfg.ResolvedAuthMode() == "development" {
		logger.Warn().Msg("development auth is active: requests without a token run as administrator")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:        cfg.OTelEnabled,
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTelEndpoint,
		SampleRatio:    cfg.OTelSamplingRatio,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up tracing")
	}

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}
	logger.Info().Str("store", cfg.StoreDriver).Msg("storage ready")

	if a.pool != nil {
		if migrate {
			n, err := db.NewMigrator(a.pool, migrations.FS).Up(ctx, db.SchemaName(cfg.DefaultClinic))
			if err != nil {
				logger.Fatal().Err(err).Msg("migration failed")
			}
			logger.Info().Int("applied", n).Str("clinic", cfg.DefaultClinic).Msg("migrations applied")
		}
		go db.ReportPoolStats(ctx, a.pool, a.metrics, 15*time.Second)
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = a.echo.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = a.echo.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.echo.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := a.Close(); err != nil {
		logger.Error().Err(err).Msg("closing resources failed")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracing shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
