package hierarchical

import (
	"fmt"
	"time"

	"github.com/BaSui01/agenttree/agent/cycle"
	"github.com/BaSui01/agenttree/llm/budget"
	"github.com/BaSui01/agenttree/llm/circuitbreaker"
	"github.com/BaSui01/agenttree/llm/retry"
)

// SequentialPolicy 顺序执行中某个子 Agent 失败后的处理方式
type SequentialPolicy string

const (
	// PolicyContinue 继续执行后续兄弟
	PolicyContinue SequentialPolicy = "continue"
	// PolicyShortCircuit 跳过后续兄弟，它们以 cancelled 报告
	PolicyShortCircuit SequentialPolicy = "short_circuit"
)

// Config 编排器配置
type Config struct {
	MaxFanOut        int              `json:"max_fan_out"`       // 并行批次的最大并发子 Agent 数
	MaxChildren      int              `json:"max_children"`      // 单次 spawn 的最大子 Agent 数
	RequestBudget    int64            `json:"request_budget"`    // 每个根请求的 token 预算
	DefaultEstimate  int64            `json:"default_estimate"`  // 子 Agent 默认预留
	NodeTimeout      time.Duration    `json:"node_timeout"`      // 单个节点的执行时限
	MaxSteps         int              `json:"max_steps"`         // 单个节点的推理步数上限
	SequentialPolicy SequentialPolicy `json:"sequential_policy"` // 顺序执行失败策略
	PauseWait        time.Duration    `json:"pause_wait"`        // 预算暂停后等待运维恢复的时长，0 表示不等待

	Model        string         `json:"model"`
	MaxTokens    int            `json:"max_tokens"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Pricing      budget.Pricing `json:"-"`

	Cycle   cycle.Config           `json:"cycle"`
	Retry   *retry.RetryPolicy     `json:"-"`
	Breaker *circuitbreaker.Config `json:"-"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MaxFanOut:        5,
		MaxChildren:      10,
		RequestBudget:    200_000,
		DefaultEstimate:  20_000,
		NodeTimeout:      5 * time.Minute,
		MaxSteps:         8,
		SequentialPolicy: PolicyContinue,
		MaxTokens:        1024,
		Cycle:            cycle.DefaultConfig(),
		Retry:            retry.DefaultRetryPolicy(),
		Breaker:          circuitbreaker.DefaultConfig(),
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.MaxFanOut <= 0 {
		return fmt.Errorf("max_fan_out must be positive")
	}
	if c.MaxChildren < c.MaxFanOut {
		return fmt.Errorf("max_children (%d) must be at least max_fan_out (%d)", c.MaxChildren, c.MaxFanOut)
	}
	if c.RequestBudget <= 0 || c.DefaultEstimate <= 0 {
		return fmt.Errorf("request_budget and default_estimate must be positive")
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be positive")
	}
	switch c.SequentialPolicy {
	case PolicyContinue, PolicyShortCircuit:
	default:
		return fmt.Errorf("unknown sequential_policy %q", c.SequentialPolicy)
	}
	if c.PauseWait < 0 {
		return fmt.Errorf("pause_wait must not be negative")
	}
	return nil
}
