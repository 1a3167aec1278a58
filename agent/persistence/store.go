// Package persistence 记录已结束的 Agent 运行（RunRecord），供追踪与成本分析使用。
//
// 支持的后端：
//   - Memory：开发与测试（默认）
//   - Gorm：postgres / mysql / sqlite，表名 agent_runs
//   - Mongo：文档存储，每次运行一个文档
//
// 记录失败只记日志，不影响编排结果。
package persistence

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeGorm   StoreType = "gorm"
	StoreTypeMongo  StoreType = "mongo"
)

// RunRecord 是一个 Agent Node 的终态快照。
type RunRecord struct {
	ID         uint      `gorm:"primaryKey" json:"-" bson:"-"`
	RequestID  string    `gorm:"size:64;index;index:idx_agent_runs_request_depth,priority:1;not null" json:"request_id" bson:"request_id"`
	AgentID    string    `gorm:"size:64;uniqueIndex;not null" json:"agent_id" bson:"agent_id"`
	ParentID   string    `gorm:"size:64" json:"parent_id,omitempty" bson:"parent_id,omitempty"`
	BotID      string    `gorm:"size:128" json:"bot_id,omitempty" bson:"bot_id,omitempty"`
	Depth      int       `gorm:"index:idx_agent_runs_request_depth,priority:2" json:"depth" bson:"depth"`
	Task       string    `gorm:"type:text" json:"task" bson:"task"`
	Status     string    `gorm:"size:32;index" json:"status" bson:"status"`
	Output     string    `gorm:"type:text" json:"output,omitempty" bson:"output,omitempty"`
	TokenUsage int64     `json:"token_usage" bson:"token_usage"`
	DurationMs int64     `json:"duration_ms" bson:"duration_ms"`
	Reason     string    `gorm:"size:255" json:"reason,omitempty" bson:"reason,omitempty"`
	ErrorCode  string    `gorm:"size:64" json:"error_code,omitempty" bson:"error_code,omitempty"`
	StartedAt  time.Time `json:"started_at" bson:"started_at"`
	FinishedAt time.Time `gorm:"index" json:"finished_at" bson:"finished_at"`
}

// TableName 与 internal/migration 中的 agent_runs 表对应
func (RunRecord) TableName() string { return "agent_runs" }

func (r RunRecord) validate() error {
	if r.RequestID == "" || r.AgentID == "" {
		return ErrInvalidInput
	}
	return nil
}

// Recorder 是编排引擎消费的持久化能力。
type Recorder interface {
	// RecordRun 保存一次运行；同一 AgentID 重复写入时覆盖。
	RecordRun(ctx context.Context, rec RunRecord) error

	// ListRuns 按 StartedAt 升序返回请求内的全部运行。
	ListRuns(ctx context.Context, requestID string) ([]RunRecord, error)

	// Prune 删除 FinishedAt 早于 before 的记录，返回删除数量。
	Prune(ctx context.Context, before time.Time) (int64, error)

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error

	// Close closes the store and releases resources
	Close() error
}

// CleanupConfig defines retention for finished runs
type CleanupConfig struct {
	Enabled   bool          `json:"enabled" yaml:"enabled"`
	Interval  time.Duration `json:"interval" yaml:"interval"`
	Retention time.Duration `json:"retention" yaml:"retention"`
}

// DefaultCleanupConfig returns the default cleanup configuration
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		Enabled:   false,
		Interval:  time.Hour,
		Retention: 7 * 24 * time.Hour,
	}
}
