package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/kursadbilgin/broadcast-engine/internal/config"
	"github.com/kursadbilgin/broadcast-engine/internal/featureflag"
	"github.com/kursadbilgin/broadcast-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/broadcast-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/broadcast-engine/internal/infra/redis"
	"github.com/kursadbilgin/broadcast-engine/internal/invoker"
	"github.com/kursadbilgin/broadcast-engine/internal/observability"
	"github.com/kursadbilgin/broadcast-engine/internal/provider"
	"github.com/kursadbilgin/broadcast-engine/internal/queue"
	"github.com/kursadbilgin/broadcast-engine/internal/ratelimit"
	"github.com/kursadbilgin/broadcast-engine/internal/repository"
	"github.com/kursadbilgin/broadcast-engine/internal/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Infra holds the process-wide clients every binary needs.
type Infra struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics
	DB      *gorm.DB
	SQLDB   *sql.DB
	Redis   *redis.Client

	Broadcasts *repository.GormBroadcastRepo
	Recipients *repository.GormRecipientRepo

	flags   *featureflag.Cache
	closers []func() error
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	return config.Load()
}

// NewInfra connects Postgres and Redis and applies migrations.
func NewInfra(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Infra, error) {
	infra := &Infra{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(),
	}

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.PoolOptions{})
	if err != nil {
		return nil, fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := infra.attachDatabase(db, migrations.Migrate); err != nil {
		_ = infra.Close()
		return nil, err
	}

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		_ = infra.Close()
		return nil, fmt.Errorf("redis initialization failed: %w", err)
	}
	infra.Redis = rdb
	infra.closers = append(infra.closers, rdb.Close)

	infra.Broadcasts = repository.NewGormBroadcastRepo(db)
	infra.Recipients = repository.NewGormRecipientRepo(db)
	return infra, nil
}

// attachDatabase registers the pool closer before migrating, so a failed migration still
// releases the connections on Close.
func (i *Infra) attachDatabase(db *gorm.DB, migrate func(*gorm.DB) error) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	i.DB, i.SQLDB = db, sqlDB
	i.closers = append(i.closers, sqlDB.Close)

	if err := migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	return nil
}

// Close releases clients in reverse order of creation.
func (i *Infra) Close() error {
	var errs []error
	for idx := len(i.closers) - 1; idx >= 0; idx-- {
		if err := i.closers[idx](); err != nil {
			errs = append(errs, err)
		}
	}
	i.closers = nil
	return errors.Join(errs...)
}

// NewInvoker builds the dispatch worker transport selected by DISPATCH_TRANSPORT.
func (i *Infra) NewInvoker(ctx context.Context) (service.Invoker, error) {
	switch i.Config.DispatchTransport {
	case config.TransportRabbitMQ:
		mq, err := i.RabbitMQ(ctx)
		if err != nil {
			return nil, err
		}
		return invoker.NewQueueInvoker(queue.NewRabbitMQPublisher(mq))
	default:
		return invoker.NewHTTPInvoker(i.Config.BackendURL, i.Config.ServiceRoleKey, i.Config.InvokeTimeout)
	}
}

// RabbitMQ dials the broker and declares the dispatch topology.
func (i *Infra) RabbitMQ(ctx context.Context) (*queue.RabbitMQ, error) {
	mq, err := queue.NewRabbitMQ(ctx, i.Config.RabbitMQURL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	i.closers = append(i.closers, mq.Close)
	return mq, nil
}

// NewDispatchWorker wires the reference dispatch worker with the WhatsApp provider, the
// Redis-backed send limiter and the feature flag cache.
func (i *Infra) NewDispatchWorker() (*service.DispatchWorker, error) {
	sender, err := provider.NewWhatsAppProvider(i.Config.WhatsAppAPIURL, i.Config.WhatsAppAPIToken)
	if err != nil {
		return nil, fmt.Errorf("whatsapp provider initialization failed: %w", err)
	}

	var limiter ratelimit.RateLimiter
	redisLimiter, err := infraredis.NewRedisRateLimiter(i.Redis, i.Config.RateLimitPerSec)
	if err != nil {
		i.Logger.Warn("redis rate limiter unavailable, using in-process limiter", zap.Error(err))
		limiter = ratelimit.NewLocalRateLimiter(i.Config.RateLimitPerSec)
	} else {
		limiter = redisLimiter
	}

	worker, err := service.NewDispatchWorker(
		i.Broadcasts,
		i.Recipients,
		sender,
		limiter,
		i.FeatureFlags(),
		i.Config.DispatchBatchSize,
		i.Config.LeaseTTL,
		i.Logger,
	)
	if err != nil {
		return nil, err
	}
	worker.SetMetrics(i.Metrics)
	return worker, nil
}

// FeatureFlags returns the process-wide flag cache, creating it on first use.
func (i *Infra) FeatureFlags() *featureflag.Cache {
	if i.flags == nil {
		i.flags = featureflag.NewCache(repository.NewGormFeatureFlagRepo(i.DB), i.Config.FeatureCacheTTL, i.Logger)
	}
	return i.flags
}

// NewScheduler wires the scheduler trigger.
func (i *Infra) NewScheduler(inv service.Invoker) (*service.Scheduler, error) {
	scheduler, err := service.NewScheduler(i.Broadcasts, inv, i.Config.ScanLimit, i.Logger)
	if err != nil {
		return nil, err
	}
	scheduler.SetMetrics(i.Metrics)
	return scheduler, nil
}

// NewCoordinator wires the continuation coordinator.
func (i *Infra) NewCoordinator(inv service.Invoker) (*service.ContinuationCoordinator, error) {
	coordinator, err := service.NewContinuationCoordinator(
		i.Broadcasts,
		i.Recipients,
		inv,
		i.Config.LeaseTTL,
		i.Config.ScanLimit,
		i.Logger,
	)
	if err != nil {
		return nil, err
	}
	coordinator.SetMetrics(i.Metrics)
	return coordinator, nil
}
