/**
 * @description
 * Shared wiring for the API and scheduler binaries: the ledger backend and its locks,
 * the settlement client, the event publisher and the metrics registry.
 */
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"

	"github.com/locallum/blockchain-subscription-service/internal/app"
	"github.com/locallum/blockchain-subscription-service/internal/config"
	"github.com/locallum/blockchain-subscription-service/internal/metrics"
	"github.com/locallum/blockchain-subscription-service/internal/store"
	"github.com/locallum/blockchain-subscription-service/pkg/rabbitmq"
	"github.com/locallum/blockchain-subscription-service/pkg/settlementclient"
)

const sweepLockKey = "subscriptions:sweep:lock"

// Runtime holds the long-lived dependencies of a process.
type Runtime struct {
	Ledger     *store.Ledger
	Settlement *settlementclient.Client
	Events     *app.Events
	Metrics    *metrics.Metrics

	redsync *redsync.Redsync
	cfg     config.Config
	closers []func()
}

// New connects every configured backend. Optional backends that are unreachable are
// logged and replaced by their fallbacks; the ledger and its locks are mandatory.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{cfg: cfg, Metrics: metrics.New()}

	repo, err := rt.openRepository(ctx, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	locker, err := rt.openLocker(ctx, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Ledger = store.NewLedger(repo, locker).WithLogger(logger)

	rt.Events = app.NewEvents(rt.openPublisher(logger), cfg.EventExchange, logger)

	if cfg.SettlementConfigured() {
		client, err := settlementclient.NewClient(ctx, settlementclient.Config{
			RPCURL:              cfg.RPCURL,
			PrivateKey:          cfg.PrivateKey,
			ContractAddress:     cfg.ContractAddress,
			ConfirmationTimeout: cfg.ConfirmationTimeout,
		}, logger)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to initialize settlement client: %w", err)
		}
		rt.Settlement = client
		rt.closers = append(rt.closers, client.Close)
		logger.Info("settlement client ready", "signer", client.SignerAddress(), "contract", cfg.ContractAddress)
	} else {
		logger.Warn("settlement credentials missing; chain-backed actions and renewals disabled")
	}

	return rt, nil
}

func (rt *Runtime) openRepository(ctx context.Context, logger *slog.Logger) (store.Repository, error) {
	if rt.cfg.LedgerBackend != config.LedgerBackendPostgres {
		logger.Info("using file ledger", "path", rt.cfg.LedgerFile)
		return store.NewFileRepository(afero.NewOsFs(), rt.cfg.LedgerFile), nil
	}

	poolConfig, err := pgxpool.ParseConfig(rt.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Use simple protocol to stay compatible with PgBouncer transaction pooling
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	rt.closers = append(rt.closers, pool.Close)

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}
	if err := store.Migrate(pool); err != nil {
		return nil, err
	}
	logger.Info("using postgres ledger")
	return store.NewPostgresRepository(pool), nil
}

func (rt *Runtime) openLocker(ctx context.Context, logger *slog.Logger) (store.Locker, error) {
	mutex := store.NewMutexLocker()
	if rt.cfg.RedisURL == "" {
		logger.Info("redis url missing; ledger lock is process-local", "env", "REDIS_URL")
		return mutex, nil
	}

	opts, err := redis.ParseURL(rt.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis url parse failed: %w", err)
	}
	client := redis.NewClient(opts)
	rt.closers = append(rt.closers, func() { _ = client.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	rt.redsync = store.NewRedsync(client)
	logger.Info("redis connected; ledger lock is distributed", "key", rt.cfg.LedgerLockKey)
	return store.ChainLocker{mutex, store.NewRedisLocker(rt.redsync, rt.cfg.LedgerLockKey, rt.cfg.LedgerLockTTL, 0)}, nil
}

func (rt *Runtime) openPublisher(logger *slog.Logger) app.EventPublisher {
	fallback := &rabbitmq.EventProducerFallback{Logger: logger}
	if rt.cfg.RabbitMQURL == "" {
		return fallback
	}

	producer, err := rabbitmq.NewEventProducer(rt.cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warn("rabbitmq producer unavailable; using fallback", "error", err)
		return fallback
	}
	rt.closers = append(rt.closers, producer.Close)
	logger.Info("rabbitmq producer connected", "exchange", rt.cfg.EventExchange)
	return producer
}

// SweepLock returns the cross-process sweep lock, or nil without Redis.
func (rt *Runtime) SweepLock() store.Locker {
	if rt.redsync == nil {
		return nil
	}
	return store.NewRedisLocker(rt.redsync, sweepLockKey, rt.cfg.SweepLockTTL, 1)
}

// NewJobs wires the renewal jobs, or returns nil when no settlement client exists.
func (rt *Runtime) NewJobs(logger *slog.Logger) *app.Jobs {
	if rt.Settlement == nil {
		return nil
	}
	return app.NewJobs(rt.Ledger, rt.Settlement, rt.Events, rt.Metrics, logger, rt.cfg).WithSweepLock(rt.SweepLock())
}

// Close releases every connection in reverse order of opening.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
