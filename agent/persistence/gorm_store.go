package persistence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore 基于 GORM 的 Recorder，支持 postgres、mysql 与 sqlite。
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// GormStoreConfig GORM 存储配置
type GormStoreConfig struct {
	// AutoMigrate 为 true 时启动时自动建表；生产环境应使用 migrate 子命令
	AutoMigrate bool `json:"auto_migrate" yaml:"auto_migrate"`
}

// NewGormStore creates a run store on db.
func NewGormStore(db *gorm.DB, cfg GormStoreConfig, logger *zap.Logger) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AutoMigrate {
		if err := db.AutoMigrate(&RunRecord{}); err != nil {
			return nil, fmt.Errorf("auto migrate agent_runs: %w", err)
		}
	}
	return &GormStore{db: db, logger: logger.With(zap.String("component", "run_store"))}, nil
}

func (s *GormStore) RecordRun(ctx context.Context, rec RunRecord) error {
	if err := rec.validate(); err != nil {
		return err
	}
	rec.ID = 0
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "agent_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "output", "token_usage", "duration_ms", "reason", "error_code", "finished_at"}),
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("record run %s: %w", rec.AgentID, err)
	}
	return nil
}

func (s *GormStore) ListRuns(ctx context.Context, requestID string) ([]RunRecord, error) {
	var out []RunRecord
	err := s.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("started_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list runs %s: %w", requestID, err)
	}
	return out, nil
}

func (s *GormStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("finished_at < ?", before).Delete(&RunRecord{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
