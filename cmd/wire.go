package main

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/dedup"
	"github.com/sells-group/prospector/internal/queue"
	"github.com/sells-group/prospector/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "prospector.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initRedis(ctx context.Context) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, eris.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, eris.Wrap(err, "ping redis")
	}
	return client, nil
}

// initQueue builds the candidate queue. The memory driver only makes sense
// for a single process that both enqueues and works.
func initQueue(ctx context.Context) (queue.Queue, func(), error) {
	switch cfg.Queue.Driver {
	case "memory":
		return queue.NewMemory(0), func() {}, nil
	case "redis":
		client, err := initRedis(ctx)
		if err != nil {
			return nil, nil, err
		}
		q := queue.NewRedis(client)
		closeFn := func() {
			if closeErr := client.Close(); closeErr != nil {
				zap.L().Warn("close redis client", zap.Error(closeErr))
			}
		}
		return q, closeFn, nil
	default:
		return nil, nil, eris.Errorf("unsupported queue driver: %s", cfg.Queue.Driver)
	}
}

func initDedupCache(client *redis.Client) dedup.Cache {
	if client == nil {
		return dedup.NewMemory(cfg.Dedup.ReservationTimeout())
	}
	return dedup.NewRedis(client, cfg.Dedup.ReservationTimeout())
}
