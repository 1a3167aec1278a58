package api

import (
	"time"

	"github.com/BaSui01/agenttree/agent"
	"github.com/BaSui01/agenttree/agent/hierarchical"
	"github.com/BaSui01/agenttree/agent/persistence"
	"github.com/BaSui01/agenttree/llm/budget"
)

// =============================================================================
// 根请求
// =============================================================================

// CreateRequest 启动一个根请求。
// @Description 根请求创建参数
type CreateRequest struct {
	// 可选的请求 ID，默认生成 UUID
	RequestID string `json:"request_id,omitempty" example:"req-42"`
	// 发起请求的 Bot
	BotID string `json:"bot_id" example:"research-bot"`
	// 根 Agent 的任务
	Task string `json:"task" example:"summarise the quarterly report"`
	// 附加输入
	Input string `json:"input,omitempty"`
	// 覆盖默认的请求预算（Token）
	Budget int64 `json:"budget,omitempty" example:"200000"`
	// 根 Agent 的工具权限，后代只能收窄
	Permissions []string `json:"permissions,omitempty"`
}

// RequestState 请求的生命周期状态
type RequestState string

const (
	RequestRunning  RequestState = "running"
	RequestFinished RequestState = "finished"
)

// RequestView 是根请求的快照。
// @Description 根请求状态、节点树与结果
type RequestView struct {
	ID          string                  `json:"id"`
	RootAgentID string                  `json:"root_agent_id,omitempty"`
	State       RequestState            `json:"state"`
	Result      *agent.SubAgentResult   `json:"result,omitempty"`
	Tree        []hierarchical.NodeInfo `json:"tree,omitempty"`
	Budget      *budget.Status          `json:"budget,omitempty"`
	Workspace   map[string]string       `json:"workspace,omitempty"`
	Runs        []persistence.RunRecord `json:"runs,omitempty"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// =============================================================================
// 预算运维
// =============================================================================

// BudgetAction 运维调整预算：先按 RaiseBy 提高上限，再按 Resume 恢复暂停的账本。
// @Description 预算调整
type BudgetAction struct {
	RaiseBy int64 `json:"raise_by,omitempty" example:"50000"`
	Resume  bool  `json:"resume,omitempty"`
}
