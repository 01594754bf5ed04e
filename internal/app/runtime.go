package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/risk-thresholds/internal/authority"
	"github.com/ayo6706/risk-thresholds/internal/config"
	"github.com/ayo6706/risk-thresholds/internal/db"
	"github.com/ayo6706/risk-thresholds/internal/lock"
	"github.com/ayo6706/risk-thresholds/internal/notify"
	"github.com/ayo6706/risk-thresholds/internal/repository"
	"github.com/ayo6706/risk-thresholds/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Runtime holds the dependencies shared by the HTTP server and the operator CLI.
type Runtime struct {
	Config *config.Config
	// Pool is nil with the memory backend.
	Pool *pgxpool.Pool
	// Redis is nil when REDIS_URL is unset.
	Redis *redis.Client

	Store      service.QueryStore
	Locker     lock.Locker
	Oracle     service.CapabilityOracle
	FileOracle *authority.FileOracle
	Publisher  notify.Publisher

	Thresholds    *service.ThresholdService
	Approvals     *service.ApprovalService
	Audit         *service.AuditService
	Notifications *service.NotificationService
}

// NewRuntime connects the configured backends and builds the services.
func NewRuntime(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	rt := &Runtime{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	switch cfg.StorageBackend {
	case config.StoragePostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL, db.WithMaxConns(cfg.DBMaxConns))
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		rt.Pool = pool
		if err := db.EnsureSchema(ctx, pool); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		rt.Store = repository.NewStore(pool)
	default:
		rt.Store = repository.NewMemoryStore()
	}

	if cfg.RedisURL != "" {
		client, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		rt.Redis = client
	}

	switch cfg.LockBackend {
	case config.LockRedis:
		rt.Locker = lock.NewRedis(rt.Redis, cfg.LockTTL)
	default:
		rt.Locker = lock.NewLocal()
	}

	switch cfg.AuthoritySource {
	case config.AuthorityFile:
		oracle, err := authority.NewFileOracle(cfg.AuthorityFile)
		if err != nil {
			return nil, fmt.Errorf("load authority file: %w", err)
		}
		rt.FileOracle = oracle
		rt.Oracle = oracle
	default:
		rt.Oracle = authority.ClaimsOracle{}
	}

	if rt.Redis != nil {
		rt.Publisher = notify.NewRedisPublisher(rt.Redis, cfg.NotifyChannelPrefix)
	} else {
		rt.Publisher = notify.Nop{}
	}

	clock := service.SystemClock{}
	rt.Thresholds = service.NewThresholdService(rt.Store, rt.Locker, clock)
	rt.Notifications = service.NewNotificationService(rt.Store, rt.Publisher, clock)
	rt.Approvals = service.NewApprovalService(rt.Store, rt.Thresholds, rt.Notifications, rt.Oracle, rt.Locker, clock)
	rt.Audit = service.NewAuditService(rt.Store)

	ok = true
	return rt, nil
}

// RedisCmdable returns the Redis client as an interface, or nil when Redis is
// not configured.
func (rt *Runtime) RedisCmdable() redis.Cmdable {
	if rt.Redis == nil {
		return nil
	}
	return rt.Redis
}

// Close releases connections. It is safe on a partially built runtime.
func (rt *Runtime) Close() {
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			zap.L().Warn("redis close failed", zap.Error(err))
		}
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
