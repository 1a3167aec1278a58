package agent

import (
	"slices"

	"github.com/BaSui01/agenttree/agent/workspace"
	"github.com/BaSui01/agenttree/llm/budget"
	"github.com/BaSui01/agenttree/llm/tools"
	"go.opentelemetry.io/otel/trace"
)

// MaxDepth 是平台不变量：根为 0，深度 3 的 Agent 不能再 spawn。
const MaxDepth = 3

// AgentContext 在 spawn 时创建，归单个节点独占，节点终止后丢弃。
// Budget 与 Workspace 是请求级共享资源的引用，从不拷贝。
type AgentContext struct {
	AgentID   string
	BotID     string
	RequestID string
	Depth     int
	ParentID  string
	// Ancestors 从根到父节点的 ID 链
	Ancestors []string

	Budget      *budget.Allowance
	Workspace   workspace.View // 未声明 shared 时为 nil
	Permissions tools.Permissions

	TraceContext trace.SpanContext
}

// CanSpawn reports whether this agent may create children.
func (c *AgentContext) CanSpawn() bool {
	return c.Depth < MaxDepth
}

// Lineage 返回包含自身的祖先链，用于循环检测。
func (c *AgentContext) Lineage() []string {
	out := make([]string, 0, len(c.Ancestors)+1)
	out = append(out, c.Ancestors...)
	return append(out, c.AgentID)
}

// IsRoot reports whether this is the request's root agent.
func (c *AgentContext) IsRoot() bool { return c.Depth == 0 }

// Child 派生子节点上下文。
func (c *AgentContext) Child(agentID string, allowance *budget.Allowance, view workspace.View, perms tools.Permissions) *AgentContext {
	return &AgentContext{
		AgentID:     agentID,
		BotID:       c.BotID,
		RequestID:   c.RequestID,
		Depth:       c.Depth + 1,
		ParentID:    c.AgentID,
		Ancestors:   slices.Clip(c.Lineage()),
		Budget:      allowance,
		Workspace:   view,
		Permissions: c.Permissions.Narrow(perms),
	}
}
