package repository

import (
	"context"
	"fmt"

	"lexicon-go/internal/config"
	"lexicon-go/pkg/database"
	"lexicon-go/pkg/log"
)

// OpenRecordStore 按 storage.driver 打开记录存储。
func OpenRecordStore(cfg *config.Config) (RecordStore, error) {
	switch cfg.Storage.Driver {
	case "csv":
		return NewCSVStore(cfg.Labeler.OutputPath), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Storage.SQLitePath)
	case "mysql":
		db, err := database.NewMySQL(cfg.Database.MySQL.DSN)
		if err != nil {
			return nil, err
		}
		return NewGormStore(db)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// OpenFailureLog 配置了 Redis 时使用 Redis，否则使用输出文件旁边的 JSON 文件。
func OpenFailureLog(ctx context.Context, cfg *config.Config) (FailureLog, error) {
	if cfg.Database.Redis.Addr != "" {
		rdb, err := database.NewRedis(ctx, cfg.Database.Redis)
		if err != nil {
			return nil, err
		}
		log.Infof("失败记录保存在 Redis 哈希 %s 中", FailureHashKey)
		return NewRedisFailureLog(rdb), nil
	}
	return NewFileFailureLog(cfg.FailureLogPath())
}
