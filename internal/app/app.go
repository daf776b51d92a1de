// Package app wires together all dependencies and runs the service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/fernwood/siteauth/pkg/database"
	"github.com/fernwood/siteauth/pkg/health"
	"github.com/fernwood/siteauth/pkg/httpclient"
	"github.com/fernwood/siteauth/pkg/tracing"

	"github.com/fernwood/siteauth/internal/config"
	"github.com/fernwood/siteauth/internal/email"
	"github.com/fernwood/siteauth/internal/event"
	handler "github.com/fernwood/siteauth/internal/handler/http"
	"github.com/fernwood/siteauth/internal/ratelimit"
	"github.com/fernwood/siteauth/internal/repository/postgres"
	"github.com/fernwood/siteauth/internal/service"
	"github.com/fernwood/siteauth/internal/token"
	"github.com/fernwood/siteauth/migrations"
)

// App holds the running components of the auth service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redisClient    *redis.Client
	producer       *event.Producer
	ledger         *token.Ledger
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// New creates a new application instance, initializing all dependencies.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "siteauth",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TracingSampleRate,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	pgCfg := database.DefaultPostgresConfig()
	pgCfg.Host = cfg.PostgresHost
	pgCfg.Port = cfg.PostgresPort
	pgCfg.User = cfg.PostgresUser
	pgCfg.Password = cfg.PostgresPass
	pgCfg.DBName = cfg.PostgresDB
	pgCfg.SSLMode = cfg.PostgresSSL

	pool, err := database.NewPostgresPoolWithLogger(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)

	if err := database.MigrateWithRetry(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Redis backs login rate limiting; without it logins are unthrottled.
	var redisClient *redis.Client
	var limiters service.Limiters
	if cfg.RedisAddr != "" {
		redisClient, err = database.NewRedisClient(ctx, &database.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		limiters = service.Limiters{
			Login: ratelimit.New(redisClient, "login", cfg.LoginRateLimit, cfg.LoginRateWindow, logger),
			Reset: ratelimit.New(redisClient, "reset", cfg.LoginRateLimit, cfg.LoginRateWindow, logger),
		}
		logger.Info("rate limiting enabled", slog.String("redis", cfg.RedisAddr))
	} else {
		logger.Warn("REDIS_ADDR not set, rate limiting disabled")
	}

	var producer *event.Producer
	if brokers := nonEmpty(cfg.KafkaBrokers); len(brokers) > 0 {
		producer = event.NewProducer(event.DefaultProducerConfig(brokers), logger)
		logger.Info("kafka producer initialized", slog.Any("brokers", brokers))
	} else {
		logger.Warn("KAFKA_BROKERS not set, lifecycle events disabled")
	}

	mailer := email.NewTemplateMailer(newSender(cfg, logger), email.LinkTTLs{
		Verification: cfg.VerificationTokenTTL,
		Reset:        cfg.ResetTokenTTL,
		Change:       cfg.ChangeTokenTTL,
	})

	siteRepo := postgres.NewSiteRepository(pool)
	userRepo := postgres.NewUserRepository(pool)
	tokenRepo := postgres.NewTokenRepository(pool)

	ledger := token.NewLedger(tokenRepo, token.TTLs{
		Session:      cfg.SessionTokenTTL,
		Verification: cfg.VerificationTokenTTL,
		Reset:        cfg.ResetTokenTTL,
		Change:       cfg.ChangeTokenTTL,
	})

	siteService := service.NewSiteService(siteRepo, logger)
	authService := service.NewAuthService(
		siteRepo, userRepo, ledger, mailer, publisherOrNoop(producer), limiters,
		service.AuthConfig{RequireVerifiedLogin: cfg.RequireVerifiedLogin},
		logger,
	)

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	if redisClient != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	if producer != nil {
		healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return producer.Ping(ctx)
		})
	}

	router := handler.NewRouter(authService, siteService, healthHandler, handler.RouterConfig{
		MasterKey:      cfg.MasterAPIKey,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Environment:    cfg.Environment,
	}, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redisClient:    redisClient,
		producer:       producer,
		ledger:         ledger,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// newSender picks the outbound mail transport: the HTTP provider behind a
// circuit breaker when configured, otherwise the logging fallback.
func newSender(cfg *config.Config, logger *slog.Logger) email.Sender {
	if cfg.EmailAPIURL == "" {
		logger.Warn("EMAIL_API_URL not set, emails are logged instead of sent")
		return email.NewLogSender(logger)
	}

	client := httpclient.NewCircuitBreakerClient(
		httpclient.New(httpclient.DefaultConfig()),
		httpclient.DefaultCircuitBreakerConfig("email-provider"),
		logger,
	)
	return email.NewAPISender(client, cfg.EmailAPIURL, cfg.EmailAPIKey)
}

// publisherOrNoop keeps the auth service unconditional about events.
func publisherOrNoop(p *event.Producer) service.Publisher {
	if p != nil {
		return p
	}
	return event.NoopPublisher{}
}

func nonEmpty(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Run starts the HTTP server and the token sweeper, blocking until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go a.sweepExpiredTokens(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// sweepExpiredTokens periodically purges expired token rows.
func (a *App) sweepExpiredTokens(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purgeCtx, cancel := context.WithTimeout(ctx, time.Minute)
			purged, err := a.ledger.PurgeExpired(purgeCtx, a.cfg.ResetRetention)
			cancel()
			if err != nil {
				a.logger.Error("token purge failed", slog.String("error", err.Error()))
				continue
			}
			if purged > 0 {
				a.logger.Info("purged expired tokens", slog.Int64("count", purged))
			}
		}
	}
}

// Shutdown gracefully stops all components: the HTTP server drains first,
// then the tracer flushes, then the outbound connections close.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
