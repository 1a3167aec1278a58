package persistence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StoreConfig 运行记录存储配置
type StoreConfig struct {
	Type    StoreType        `json:"type" yaml:"type"`
	Gorm    GormStoreConfig  `json:"gorm" yaml:"gorm"`
	Mongo   MongoStoreConfig `json:"mongo" yaml:"mongo"`
	Cleanup CleanupConfig    `json:"cleanup" yaml:"cleanup"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:    StoreTypeMemory,
		Mongo:   DefaultMongoStoreConfig(),
		Cleanup: DefaultCleanupConfig(),
	}
}

// NewRecorder creates a Recorder based on the configuration.
// db is required only for StoreTypeGorm.
func NewRecorder(ctx context.Context, config StoreConfig, db *gorm.DB, logger *zap.Logger) (Recorder, error) {
	switch config.Type {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil
	case StoreTypeGorm:
		return NewGormStore(db, config.Gorm, logger)
	case StoreTypeMongo:
		return ConnectMongo(ctx, config.Mongo, logger)
	default:
		return nil, fmt.Errorf("unsupported run store type: %s", config.Type)
	}
}

// StartCleanup 周期性删除超过保留期的记录，ctx 结束时退出。
func StartCleanup(ctx context.Context, rec Recorder, config CleanupConfig, logger *zap.Logger) {
	if !config.Enabled || config.Interval <= 0 || config.Retention <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := rec.Prune(ctx, time.Now().Add(-config.Retention))
				if err != nil {
					logger.Warn("run cleanup failed", zap.Error(err))
					continue
				}
				if n > 0 {
					logger.Debug("pruned finished runs", zap.Int64("count", n))
				}
			}
		}
	}()
}
