package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cassiomorais/invoicing/internal/controller"
	"github.com/cassiomorais/invoicing/internal/infrastructure/config"
	"github.com/cassiomorais/invoicing/internal/infrastructure/observability"
	"github.com/cassiomorais/invoicing/internal/infrastructure/providers"
	infraRedis "github.com/cassiomorais/invoicing/internal/infrastructure/redis"
	"github.com/cassiomorais/invoicing/internal/repository/postgres"
	"github.com/cassiomorais/invoicing/internal/service"
	"github.com/cassiomorais/invoicing/pkg/keylock"
	"github.com/cassiomorais/invoicing/pkg/retry"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics
}

func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(cfg.Observability.LogLevel, serviceName, os.Stdout)
	log.Logger = logger
	logger.Info().Msg("Starting")

	if cfg.Observability.EnableTracing {
		tp, err := observability.InitTracer(serviceName, cfg.Observability.JaegerEndpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		} else {
			go func() {
				<-ctx.Done()
				observability.Shutdown(context.Background(), tp)
			}()
			logger.Info().Msg("Tracing enabled")
		}
	}

	metrics := observability.NewMetrics(metricsNamespace, nil)

	pool, err := postgres.NewPool(ctx, &cfg.Database, serviceName)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("Connected to PostgreSQL")

	redisClient, err := infraRedis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Msg("Connected to Redis")

	return &App{
		Config:  cfg,
		Logger:  logger,
		Pool:    pool,
		Redis:   redisClient,
		Metrics: metrics,
	}, nil
}

func (a *App) Close() {
	a.Redis.Close()
	a.Pool.Close()
}

// Services is the invoice core wired against Postgres, Redis and the gateway.
type Services struct {
	InvoiceRepo     *postgres.InvoiceRepository
	OutboxRepo      *postgres.OutboxRepository
	IdempotencyRepo *postgres.IdempotencyRepository
	TxManager       *postgres.TxManager
	Gateways        *providers.Factory

	Invoices   *service.InvoiceService
	Checkout   *service.CheckoutService
	Reconciler *service.ReconciliationService
}

func (a *App) Services() (*Services, error) {
	cfg := a.Config

	invoiceRepo := postgres.NewInvoiceRepository(a.Pool)
	logRepo := postgres.NewReconciliationRepository(a.Pool)
	outboxRepo := postgres.NewOutboxRepository(a.Pool)
	idempotencyRepo := postgres.NewIdempotencyRepository(a.Pool)
	txManager := postgres.NewTxManager(a.Pool)

	factory := a.gatewayFactory()
	gateway, err := factory.Get(providers.ChargilyName)
	if err != nil {
		return nil, err
	}

	locker := a.locker()

	reconciler := service.NewReconciliationService(
		invoiceRepo, logRepo, outboxRepo, txManager, locker, a.Metrics, a.Logger,
	)
	checkout := service.NewCheckoutService(
		invoiceRepo, outboxRepo, txManager, locker, gateway, reconciler,
		service.CheckoutConfig{
			Currency:       cfg.Chargily.Currency,
			GatewayTimeout: cfg.Chargily.Timeout,
			StatusRetry: retry.Config{
				MaxAttempts:  uint(max(cfg.Chargily.StatusRetries, 1)),
				InitialDelay: 200 * time.Millisecond,
				MaxDelay:     2 * time.Second,
			},
		},
		a.Metrics, a.Logger,
	)
	invoices := service.NewInvoiceService(
		invoiceRepo, logRepo, outboxRepo, txManager, cfg.Chargily.Currency, a.Metrics, a.Logger,
	)

	return &Services{
		InvoiceRepo:     invoiceRepo,
		OutboxRepo:      outboxRepo,
		IdempotencyRepo: idempotencyRepo,
		TxManager:       txManager,
		Gateways:        factory,
		Invoices:        invoices,
		Checkout:        checkout,
		Reconciler:      reconciler,
	}, nil
}

func (a *App) gatewayFactory() *providers.Factory {
	cfg := a.Config.Chargily
	settings := providers.BreakerSettings{
		Threshold: uint32(max(cfg.CircuitBreakerThreshold, 0)),
		Timeout:   cfg.CircuitBreakerTimeout,
	}

	if cfg.UseMock || cfg.APIKey == "" {
		a.Logger.Warn().Msg("Chargily API key not set, using mock gateway")
		return providers.NewFactory(settings, a.Metrics)
	}

	gateway := providers.NewChargilyGateway(cfg.BaseURL, cfg.APIKey, cfg.Timeout, providers.WithLocale(cfg.Locale))
	return providers.NewFactory(settings, a.Metrics, gateway)
}

func (a *App) locker() service.Locker {
	rc := a.Config.Reconciliation
	if rc.LockBackend == "local" {
		a.Logger.Warn().Msg("Using in-process invoice locks; run a single instance")
		return keylock.New()
	}

	return infraRedis.NewLocker(a.Redis, rc.LockTTL, rc.LockRetries, rc.LockRetryDelay, func(key string, err error) {
		a.Logger.Error().Err(err).Str("lock", key).Msg("Failed to release invoice lock")
	})
}

// HealthChecks are the dependencies /health/ready reports on.
func (a *App) HealthChecks() map[string]controller.HealthCheck {
	return map[string]controller.HealthCheck{
		"database": a.Pool.Ping,
		"redis": func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		},
	}
}
