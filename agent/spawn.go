package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/agenttree/llm/tools"
	"github.com/BaSui01/agenttree/types"
)

// ExecutionMode 子 Agent 的执行方式
type ExecutionMode string

const (
	ModeSequential ExecutionMode = "sequential"
	ModeParallel   ExecutionMode = "parallel"
)

// SpawnRequest 由解析 Agent 的委派决策产生。
type SpawnRequest struct {
	Task       string        `json:"task"`
	Mode       ExecutionMode `json:"mode"`
	Input      string        `json:"input,omitempty"`
	ChildCount int           `json:"child_count,omitempty"`
	// Shared 为 true 时子 Agent 加入请求的共享工作区
	Shared bool `json:"shared,omitempty"`
	// EstimatedTokens 每个子 Agent 的预留量，0 表示使用默认估算
	EstimatedTokens int64             `json:"estimated_tokens,omitempty"`
	Permissions     tools.Permissions `json:"permissions,omitempty"`
}

// Replicas returns ChildCount normalised to at least 1.
func (r SpawnRequest) Replicas() int {
	return max(r.ChildCount, 1)
}

// Validate checks a single request.
func (r SpawnRequest) Validate() error {
	if strings.TrimSpace(r.Task) == "" {
		return fmt.Errorf("empty task: %w", ErrInvalidSpawn)
	}
	switch r.Mode {
	case ModeSequential, ModeParallel:
	default:
		return fmt.Errorf("unknown execution mode %q: %w", r.Mode, ErrInvalidSpawn)
	}
	if r.ChildCount < 0 || r.EstimatedTokens < 0 {
		return fmt.Errorf("negative child count or estimate: %w", ErrInvalidSpawn)
	}
	return nil
}

// ResultStatus 子 Agent 的终态
type ResultStatus string

const (
	StatusSucceeded      ResultStatus = "succeeded"
	StatusFailed         ResultStatus = "failed"
	StatusCancelled      ResultStatus = "cancelled"
	StatusBudgetExceeded ResultStatus = "budget_exceeded"
)

// SubAgentResult 产生后不可变，按值返回给父节点。
type SubAgentResult struct {
	AgentID    string          `json:"agent_id"`
	Task       string          `json:"task"`
	Status     ResultStatus    `json:"status"`
	Output     string          `json:"output,omitempty"`
	TokenUsage int64           `json:"token_usage"`
	Duration   time.Duration   `json:"duration"`
	Reason     string          `json:"reason,omitempty"`
	ErrorCode  types.ErrorCode `json:"error_code,omitempty"`
}

// Succeeded reports whether the child produced an answer.
func (r SubAgentResult) Succeeded() bool { return r.Status == StatusSucceeded }
