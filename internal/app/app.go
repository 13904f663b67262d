// Package app wires the stores, the queue, the ledger and the services for the binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kursadbilgin/certanchor/internal/config"
	"github.com/kursadbilgin/certanchor/internal/events"
	"github.com/kursadbilgin/certanchor/internal/handler"
	"github.com/kursadbilgin/certanchor/internal/infra/postgresql"
	"github.com/kursadbilgin/certanchor/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/certanchor/internal/infra/redis"
	"github.com/kursadbilgin/certanchor/internal/jobqueue"
	"github.com/kursadbilgin/certanchor/internal/ledger"
	"github.com/kursadbilgin/certanchor/internal/observability"
	"github.com/kursadbilgin/certanchor/internal/ratelimit"
	"github.com/kursadbilgin/certanchor/internal/repository"
	"github.com/kursadbilgin/certanchor/internal/service"
	"github.com/kursadbilgin/certanchor/internal/validation"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App holds every long-lived dependency of a running process.
type App struct {
	DB      *gorm.DB
	SQLDB   *sql.DB
	Redis   *goredis.Client
	Broker  *events.RabbitMQ
	Metrics *observability.Metrics

	Ledger    *ledger.Client
	Simulated *ledger.Simulated

	Batches     *service.BatchService
	Resolver    *service.Resolver
	Lifecycle   *service.Lifecycle
	Sweeper     *service.NamespaceSweeper
	LogConsumer *events.LogConsumer
	LogStore    repository.VerificationLogRepository
	BatchStore  repository.BatchRepository

	checks  []handler.Check
	closers []func()
}

// New connects every backing service and builds the pipeline. On error, whatever was
// already opened is closed.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{Metrics: observability.NewMetrics()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.DB, err = postgresql.NewPostgres(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(a.DB); err != nil {
		return nil, fmt.Errorf("database migrations failed: %w", err)
	}
	a.SQLDB, err = a.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	a.closers = append(a.closers, func() { _ = a.SQLDB.Close() })
	a.checks = append(a.checks, handler.PostgresCheck(a.SQLDB))

	a.Redis, err = infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis initialization failed: %w", err)
	}
	a.closers = append(a.closers, func() { _ = a.Redis.Close() })
	a.checks = append(a.checks, handler.RedisCheck(a.Redis))

	a.Broker, err = events.NewRabbitMQ(ctx, cfg.RabbitMQURL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	a.closers = append(a.closers, func() { _ = a.Broker.Close() })
	a.checks = append(a.checks, handler.BrokerCheck(a.Broker.Connected))

	if err := a.connectLedger(ctx, cfg, logger); err != nil {
		return nil, err
	}

	if err := a.buildServices(cfg, logger); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) connectLedger(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	contract, err := a.dialContract(ctx, cfg)
	if err != nil {
		return err
	}

	limiter, err := newLedgerLimiter(cfg, a.Redis)
	if err != nil {
		return err
	}

	a.Ledger = ledger.NewClient(contract, ledger.Config{
		MaxAttempts: cfg.LedgerMaxAttempts,
		RetryDelay:  cfg.LedgerRetryDelay,
		CallTimeout: cfg.LedgerCallTimeout,
		MineTimeout: cfg.LedgerMineTimeout,
	}, limiter, logger.Named("ledger"))
	a.Ledger.SetMetrics(a.Metrics)
	return nil
}

func (a *App) dialContract(ctx context.Context, cfg *config.Config) (ledger.Contract, error) {
	if cfg.SimulatedLedger() {
		a.Simulated = ledger.NewSimulated()
		return a.Simulated, nil
	}

	eth, err := ledger.DialEth(ctx, ledger.EthConfig{
		RPCURL:          cfg.LedgerRPCURL,
		ContractAddress: cfg.LedgerContractAddress,
		ChainID:         cfg.LedgerChainID,
		PrivateKey:      cfg.LedgerPrivateKey,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger initialization failed: %w", err)
	}
	a.closers = append(a.closers, eth.Close)
	a.checks = append(a.checks, handler.LedgerCheck(eth.Ping))
	return eth, nil
}

// newLedgerLimiter shares the ledger budget through Redis across replicas, or paces calls
// in-process when sharing is disabled.
func newLedgerLimiter(cfg *config.Config, rdb *goredis.Client) (ledger.RateLimiter, error) {
	if !cfg.LedgerRateLimitShared {
		return ratelimit.NewLocalLimiter(cfg.LedgerRateLimitPerSec), nil
	}
	limiter, err := infraredis.NewLedgerRateLimiter(rdb, cfg.LedgerRateLimitPerSec)
	if err != nil {
		return nil, fmt.Errorf("ledger rate limiter initialization failed: %w", err)
	}
	return limiter, nil
}

func (a *App) buildServices(cfg *config.Config, logger *zap.Logger) error {
	certificates := repository.NewGormCertificateRepo(a.DB)
	batches := repository.NewGormBatchRepo(a.DB)
	a.BatchStore = batches
	a.LogStore = repository.NewGormVerificationLogRepo(a.DB)

	queue, err := jobqueue.NewRedisQueue(a.Redis, cfg.QueueJobAttempts, cfg.QueuePollInterval, logger.Named("jobqueue"))
	if err != nil {
		return err
	}
	queue.SetMetrics(a.Metrics)

	validator := validation.NewValidator(certificates)
	processor, err := service.NewChunkProcessor(validator, certificates)
	if err != nil {
		return err
	}
	dispatcher, err := service.NewDispatcher(queue, processor, logger.Named("dispatcher"))
	if err != nil {
		return err
	}

	a.Batches, err = service.NewBatchService(validator, dispatcher, batches, certificates, a.Ledger,
		service.BatchServiceConfig{Timeout: cfg.BatchTimeout}, logger.Named("batches"))
	if err != nil {
		return err
	}
	a.Batches.SetMetrics(a.Metrics)

	a.Resolver, err = service.NewResolver(certificates, a.Ledger, events.NewLogPublisher(a.Broker), logger.Named("resolver"))
	if err != nil {
		return err
	}
	a.Resolver.SetMetrics(a.Metrics)

	a.Lifecycle, err = service.NewLifecycle(certificates, a.Ledger, logger.Named("lifecycle"))
	if err != nil {
		return err
	}

	a.Sweeper, err = service.NewNamespaceSweeper(batches, queue, cfg.SweepInterval, cfg.SweepStaleAfter, cfg.SweepLimit, logger.Named("sweeper"))
	if err != nil {
		return err
	}
	a.Sweeper.SetMetrics(a.Metrics)

	a.LogConsumer = events.NewLogConsumer(a.Broker, cfg.LogConsumerPrefetch, logger.Named("verification-logs"))
	return nil
}

// Checks returns the readiness checks of every connected dependency.
func (a *App) Checks() []handler.Check {
	return a.checks
}

// Close waits for pending verification logs, then closes connections in reverse order.
func (a *App) Close() {
	if a.Resolver != nil {
		a.Resolver.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
