package later

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jdziat/simple-delayed-requests/pkg/config"
	"github.com/jdziat/simple-delayed-requests/pkg/core"
	"github.com/jdziat/simple-delayed-requests/pkg/storage"
	"github.com/jdziat/simple-delayed-requests/pkg/storage/redis"
)

type (
	// GormStorage implements Storage on SQLite or PostgreSQL.
	GormStorage = storage.GormStorage

	// RedisStorage implements Storage on Redis.
	RedisStorage = redis.Store
)

// OpenSQL opens a SQL store. postgres:// DSNs use PostgreSQL; anything
// else is a SQLite path. An empty dsn uses later.db.
func OpenSQL(dsn string) (*GormStorage, error) {
	return storage.Open(dsn)
}

// OpenRedis connects to a Redis server and returns a store whose keys
// carry prefix. An empty prefix uses "later:".
func OpenRedis(opts *goredis.Options, prefix string) *RedisStorage {
	var storeOpts []redis.Option
	if prefix != "" {
		storeOpts = append(storeOpts, redis.WithPrefix(prefix))
	}
	return redis.New(goredis.NewClient(opts), storeOpts...)
}

// OpenStorage opens and migrates the backend cfg names.
func OpenStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var s core.Storage
	switch cfg.Backend {
	case config.BackendRedis:
		opts := []redis.Option{redis.WithLogger(logger)}
		if cfg.Redis.Prefix != "" {
			opts = append(opts, redis.WithPrefix(cfg.Redis.Prefix))
		}
		s = redis.New(goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			DB:       cfg.Redis.DB,
			Password: cfg.Redis.Password,
		}), opts...)
	case config.BackendSQL, "":
		gs, err := storage.Open(cfg.Database, storage.DispatchPoolConfig(cfg.Worker.Concurrency)...)
		if err != nil {
			return nil, err
		}
		s = gs
	default:
		return nil, fmt.Errorf("later: unknown backend %q", cfg.Backend)
	}

	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	logger.Debug("storage ready", "backend", cfg.Backend)
	return s, nil
}
