// Package factory 根据配置打开存储后端。
package factory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"cuckoopost/backend/internal/config"
	"cuckoopost/backend/internal/storage"
	"cuckoopost/backend/internal/storage/bolt"
	"cuckoopost/backend/internal/storage/memory"
	"cuckoopost/backend/internal/storage/redis"
	sqlstore "cuckoopost/backend/internal/storage/sql"
)

// Open 按 storage.driver 打开存储。SQL 后端会自动建表。
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	switch cfg.Storage.Driver {
	case "memory":
		log.Warn("using memory storage, tokens are lost on restart")
		return memory.NewStore(), nil

	case "bolt":
		store, err := bolt.Open(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		log.Info("bolt storage opened", zap.String("path", cfg.Storage.Path))
		return store, nil

	case "mysql", "postgres":
		if cfg.Database.DSN == "" {
			return nil, fmt.Errorf("database.dsn is required for storage driver %q", cfg.Storage.Driver)
		}
		store, err := sqlstore.NewStore(cfg.Storage.Driver, cfg.Database.DSN, sqlstore.Options{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		log.Info("database storage initialized", zap.String("driver", cfg.Storage.Driver))
		return store, nil

	case "redis":
		store, err := redis.NewStore(ctx, redis.Options{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		log.Info("redis storage connected", zap.String("address", cfg.Redis.Address))
		return store, nil
	}

	return nil, fmt.Errorf("unsupported storage driver: %q", cfg.Storage.Driver)
}
