package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/user/wiki-archiver/internal/adapter/filesystem"
	redis_adapter "github.com/user/wiki-archiver/internal/adapter/redis"
	"github.com/user/wiki-archiver/internal/repository"
	"github.com/user/wiki-archiver/pkg/config"
)

// openCheckpoints returns the configured checkpoint store and a func releasing it.
func openCheckpoints(ctx context.Context, cfg *config.Config, scope string, log *zap.Logger) (repository.CheckpointRepository, func(), error) {
	switch cfg.Checkpoint.Backend {
	case config.BackendRedis:
		if cfg.Redis.Key == "" && scope == "" {
			return nil, nil, errors.New("redis backend needs redis.key or base_url")
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if _, err := rdb.Ping(ctx).Result(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		repo := redis_adapter.NewCheckpointRepo(rdb, cfg.Redis.Key, scope)
		log.Info("Redis connection established", zap.String("key", repo.Key()))
		return repo, func() { rdb.Close() }, nil
	default:
		return filesystem.NewCheckpointRepo(cfg.ProgressFile, log), func() {}, nil
	}
}
