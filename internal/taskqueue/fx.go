package taskqueue

import (
	"context"

	"github.com/hamimul/order-fulfillment/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module wires the task queue. QUEUE_BACKEND selects redis for
// multi-instance deployments; the in-process pool is the default.
var Module = fx.Module("taskqueue",
	fx.Provide(NewRegistry),
	fx.Provide(newQueue),
)

func newQueue(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, registry *Registry) Queue {
	if cfg.QueueBackend == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		q := NewRedisQueue(log, rdb, registry, cfg.QueueWorkers, cfg.RedisKeyPrefix)
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := rdb.Ping(ctx).Err(); err != nil {
					return err
				}
				q.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				q.Stop()
				return rdb.Close()
			},
		})
		return q
	}

	pool := NewPool(log, registry, cfg.QueueWorkers, cfg.QueueBuffer)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			pool.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			pool.Stop()
			return nil
		},
	})
	return pool
}
