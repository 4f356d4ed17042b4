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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	httpAdapter "github.com/iho/ledgerbridge/internal/adapter/http"
	"github.com/iho/ledgerbridge/internal/adapter/http/handler"
	"github.com/iho/ledgerbridge/internal/adapter/http/middleware"
	"github.com/iho/ledgerbridge/internal/adapter/ledger/bank"
	"github.com/iho/ledgerbridge/internal/adapter/ledger/brokerage"
	"github.com/iho/ledgerbridge/internal/adapter/ledger/memory"
	"github.com/iho/ledgerbridge/internal/adapter/ledger/transport"
	"github.com/iho/ledgerbridge/internal/adapter/lock"
	postgresRepo "github.com/iho/ledgerbridge/internal/adapter/repository/postgres"
	redisRepo "github.com/iho/ledgerbridge/internal/adapter/repository/redis"
	"github.com/iho/ledgerbridge/internal/domain"
	"github.com/iho/ledgerbridge/internal/infrastructure/config"
	"github.com/iho/ledgerbridge/internal/infrastructure/eventpublisher"
	"github.com/iho/ledgerbridge/internal/infrastructure/logger"
	"github.com/iho/ledgerbridge/internal/infrastructure/metrics"
	"github.com/iho/ledgerbridge/internal/infrastructure/postgres"
	"github.com/iho/ledgerbridge/internal/infrastructure/redis"
	"github.com/iho/ledgerbridge/internal/usecase"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "ledgerbridge"})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	m := metrics.New(prometheus.DefaultRegisterer)

	if cfg.MigrateOnStart {
		if err := postgres.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath, log); err != nil {
			return err
		}
	}

	// Connect to PostgreSQL
	pool, err := postgres.NewPoolWithConfig(ctx, postgres.PoolConfig{
		DatabaseURL:    cfg.DatabaseURL,
		MaxConns:       cfg.DatabaseMaxConns,
		MinConns:       cfg.DatabaseMinConns,
		ConnectTimeout: cfg.DatabaseTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()
	log.Info().Msg("connected to postgres")

	// Connect to Redis
	redisClient, err := redis.NewClient(ctx, redis.Config{URL: cfg.RedisURL})
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()
	log.Info().Msg("connected to redis")

	ledgers, err := buildLedgers(cfg, log, m)
	if err != nil {
		return err
	}

	// Initialize repositories
	idGen := postgresRepo.NewULIDGenerator()
	txManager := postgresRepo.NewTxManager(pool, postgresRepo.NewRetrier(log))
	transferRepo := postgresRepo.NewTransferRepository(pool, txManager, idGen)
	outboxRepo := postgresRepo.NewOutboxRepository(pool)
	idempotencyStore := redisRepo.NewIdempotencyStore(redisClient)

	// Initialize use cases
	coordinator := usecase.NewTransferCoordinator(
		ledgers,
		transferRepo,
		buildLocker(cfg, redisClient, log),
		idGen,
		usecase.WithLogger(log),
		usecase.WithMetrics(m),
		usecase.WithRetryPolicy(retryPolicy(cfg)),
	)
	recovery := usecase.NewReconciliationUseCase(coordinator, transferRepo, usecase.ReconciliationConfig{
		StaleAfter: cfg.RecoveryStaleAfter,
		BatchSize:  cfg.RecoveryBatchSize,
		Logger:     log,
		Metrics:    m,
	})

	publisher, closePublisher, err := buildOutboxPublisher(cfg, log)
	if err != nil {
		return err
	}
	defer closePublisher()

	var rateLimiter *middleware.RateLimiter
	if cfg.RateLimitRPS > 0 {
		rateLimiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		metricsHandler = promhttp.Handler()
	}

	// Create router
	router := httpAdapter.NewRouter(httpAdapter.RouterConfig{
		TransferHandler: handler.NewTransferHandler(coordinator, handler.TransferHandlerConfig{
			DefaultCurrency: cfg.DefaultCurrency,
			RequestIDBucket: cfg.RequestIDBucket,
		}),
		HealthHandler: handler.NewHealthHandler(
			handler.PostgresCheck(pool),
			handler.RedisCheck(redisClient),
		),
		IdempotencyStore: idempotencyStore,
		IdempotencyTTL:   cfg.IdempotencyTTL,
		RateLimiter:      rateLimiter,
		MetricsHandler:   metricsHandler,
		Logger:           log,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("port", cfg.HTTPPort).Str("ledger_mode", cfg.LedgerMode).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.RecoveryEnabled {
		g.Go(func() error {
			return ignoreCanceled(recovery.Start(gctx, cfg.RecoveryInterval))
		})
	}

	if cfg.OutboxEnabled {
		ep := eventpublisher.NewEventPublisher(eventpublisher.Config{
			OutboxRepo: outboxRepo,
			Publisher:  publisher,
			Logger:     log,
			Metrics:    m,
			BatchSize:  cfg.OutboxBatchSize,
			Interval:   cfg.OutboxInterval,
			Retention:  cfg.OutboxRetention,
		})
		g.Go(func() error {
			return ignoreCanceled(ep.Start(gctx))
		})
	}

	if rateLimiter != nil {
		g.Go(func() error {
			rateLimiter.StartCleanup(gctx, cfg.RateLimitIdle)
			return nil
		})
	}

	return g.Wait()
}

// buildLedgers returns the two ledger clients for cfg.LedgerMode.
func buildLedgers(cfg *config.Config, log zerolog.Logger, m *metrics.Metrics) (usecase.Ledgers, error) {
	if cfg.LedgerMode == config.LedgerModeSandbox {
		return sandboxLedgers(cfg, log)
	}

	breaker := transport.BreakerConfig{
		ConsecutiveFailures: cfg.BreakerFailures,
		OpenTimeout:         cfg.BreakerOpenTimeout,
		HalfOpenRequests:    cfg.BreakerHalfOpenRequests,
	}

	bankClient, err := bank.NewClient(bank.Config{
		BaseURL:  cfg.BankLedgerURL,
		APIKey:   cfg.BankLedgerAPIKey,
		Currency: cfg.DefaultCurrency,
		Timeout:  cfg.LedgerCallTimeout,
		Breaker:  breaker,
		Logger:   log,
		Metrics:  m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bank client: %w", err)
	}

	brokerageClient, err := brokerage.NewClient(brokerage.Config{
		BaseURL:   cfg.BrokerageLedgerURL,
		KeyID:     cfg.BrokerageAPIKeyID,
		SecretKey: cfg.BrokerageAPISecret,
		Currency:  cfg.DefaultCurrency,
		Timeout:   cfg.LedgerCallTimeout,
		Breaker:   breaker,
		Logger:    log,
		Metrics:   m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create brokerage client: %w", err)
	}

	return usecase.NewLedgers(bankClient, brokerageClient), nil
}

func sandboxLedgers(cfg *config.Config, log zerolog.Logger) (usecase.Ledgers, error) {
	seeds, err := cfg.SandboxSeeds()
	if err != nil {
		return nil, err
	}

	bankLedger := memory.New(domain.LedgerBank, memory.WithCurrency(cfg.DefaultCurrency))
	brokerageLedger := memory.New(domain.LedgerBrokerage, memory.WithCurrency(cfg.DefaultCurrency))
	for _, seed := range seeds {
		bankLedger.Open(seed.Identity, seed.Bank)
		brokerageLedger.Open(seed.Identity, seed.Brokerage)
	}

	log.Warn().Int("accounts", len(seeds)).Msg("using in-memory sandbox ledgers")
	return usecase.NewLedgers(bankLedger, brokerageLedger), nil
}

func buildLocker(cfg *config.Config, client goredis.UniversalClient, log zerolog.Logger) usecase.AccountLocker {
	if cfg.LockBackend == config.LockBackendRedis {
		return lock.NewRedis(client, lock.RedisConfig{TTL: cfg.LockTTL, Logger: log})
	}
	return lock.NewLocal()
}

func buildOutboxPublisher(cfg *config.Config, log zerolog.Logger) (eventpublisher.Publisher, func(), error) {
	if cfg.OutboxPublisher != config.OutboxPublisherKafka {
		return eventpublisher.NewLogPublisher(log), func() {}, nil
	}

	p, err := eventpublisher.NewKafkaPublisher(eventpublisher.KafkaConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
	})
	if err != nil {
		return nil, nil, err
	}
	return p, func() {
		if err := p.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close kafka writer")
		}
	}, nil
}

func retryPolicy(cfg *config.Config) usecase.RetryPolicy {
	return usecase.RetryPolicy{
		LegMaxAttempts:          cfg.LegMaxAttempts,
		CompensationMaxAttempts: cfg.CompensationMaxAttempts,
		CallTimeout:             cfg.LedgerCallTimeout,
		InitialInterval:         cfg.RetryInitialInterval,
		MaxInterval:             cfg.RetryMaxInterval,
		SagaTimeout:             cfg.SagaTimeout,
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
