// internal/app/deps.go
package app

import (
	"context"
	"fmt"

	"membership-service/internal/cache"
	"membership-service/internal/config"
	"membership-service/internal/db"
	"membership-service/internal/domain/membership"
	"membership-service/internal/events"
	"membership-service/internal/metrics"
	"membership-service/internal/pkg/ratelimit"
	"membership-service/internal/repository/memory"
	"membership-service/internal/repository/postgres"
	authUsecase "membership-service/internal/service/auth"
	catalogUsecase "membership-service/internal/service/catalog"
	"membership-service/internal/service/expiry"
	subscriptionUsecase "membership-service/internal/service/subscription"
	"membership-service/internal/service/tier"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Core holds the storage, caching and lifecycle components shared by the API
// server and the worker.
type Core struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client

	Store         membership.SubscriptionStore
	Catalog       membership.Catalog
	Accounts      authUsecase.AccountRepository
	SnapshotCache *cache.SubscriptionCache
	LoginLimiter  *ratelimit.LoginLimiter

	Dispatcher    *events.Dispatcher
	Metrics       *metrics.Metrics
	Subscriptions *subscriptionUsecase.SubscriptionService
	CatalogReader *catalogUsecase.CatalogService
	Sweeper       *expiry.Sweeper
}

// BuildCore connects the configured storage and wires the lifecycle engine.
// Redis is optional: when it cannot be reached the service runs without the
// snapshot cache and the login limiter.
func BuildCore(ctx context.Context, cfg config.AppConfig, reg prometheus.Registerer, logger *zap.Logger) (*Core, error) {
	core := &Core{
		Dispatcher: events.NewDispatcher(logger),
		Metrics:    metrics.New(reg),
	}

	switch cfg.StorageMode {
	case config.StorageModeMemory:
		store := memory.NewStore(cfg.Database.LockTimeout)
		core.Store = store
		core.Accounts = store
		core.Catalog = memory.DefaultCatalog()
		logger.Warn("running with in-memory storage; data is lost on restart")

	default:
		pool, err := db.ConnectDB(ctx, db.PostgresConfig{
			URL:      cfg.Database.URL,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		core.Pool = pool

		if err := db.Migrate(pool); err != nil {
			pool.Close()
			return nil, err
		}

		dbWrapper := postgres.NewDB(pool, cfg.Database.LockTimeout)
		core.Store = postgres.NewSubscriptionRepository(dbWrapper)
		core.Accounts = postgres.NewAuthRepository(pool)
		core.Catalog = postgres.NewCatalogRepository(pool)
		logger.Info("connected to PostgreSQL")
	}

	if cfg.Cache.CatalogTTL > 0 {
		core.Catalog = cache.NewCatalogCache(core.Catalog, cfg.Cache.CatalogTTL)
	}

	if cfg.Redis.Addr != "" {
		client, err := db.NewRedisClient(ctx, db.RedisConfig{
			Address:  cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			logger.Warn("redis unavailable, continuing without snapshot cache", zap.Error(err))
		} else {
			core.Redis = client
			core.LoginLimiter = ratelimit.NewLoginLimiter(client, ratelimit.DefaultLoginAttempts, ratelimit.DefaultLoginWindow)
			if cfg.Cache.SubscriptionTTL > 0 {
				core.SnapshotCache = cache.NewSubscriptionCache(client, cfg.Cache.SubscriptionTTL, cache.DefaultBreakerConfig(), logger)
				core.Dispatcher.Register("subscription-cache", core.SnapshotCache)
			}
			logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
		}
	}

	opts := []subscriptionUsecase.Option{subscriptionUsecase.WithMetrics(core.Metrics)}
	if core.SnapshotCache != nil {
		opts = append(opts, subscriptionUsecase.WithSnapshotCache(core.SnapshotCache))
	}

	core.Subscriptions = subscriptionUsecase.NewSubscriptionService(
		core.Store,
		core.Catalog,
		tier.NewResolver(core.Catalog),
		core.Dispatcher,
		logger,
		opts...,
	)
	core.CatalogReader = catalogUsecase.NewCatalogService(core.Catalog, logger)
	core.Sweeper = expiry.NewSweeper(core.Store, core.Dispatcher, logger,
		expiry.WithConcurrency(cfg.Expiry.Concurrency),
		expiry.WithMetrics(core.Metrics),
	)

	return core, nil
}

// Close releases the storage connections.
func (c *Core) Close() error {
	var firstErr error
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			firstErr = fmt.Errorf("failed to close redis: %w", err)
		}
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
	return firstErr
}
