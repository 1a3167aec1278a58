package tokenizer

import (
	"github.com/BaSui01/agenttree/llm"
)

// Counter 统一的 Token 计数接口，用于在调用前估算预算预留量。
type Counter interface {
	// CountTokens 返回文本的 token 数
	CountTokens(text string) int

	// CountMessages 返回消息列表的总 token 数，包括每条消息的角色与分隔开销
	CountMessages(messages []llm.Message) int

	// Name 返回计数器名称
	Name() string
}

// 每条消息约 4 个 token 的角色/分隔开销，会话结尾约 3 个。
const (
	messageOverhead      = 4
	conversationOverhead = 3
)

// New 返回 model 对应的计数器：tiktoken 编码可用时精确计数，
// 否则退回 CJK 感知的字符估算。
func New(model string) Counter {
	return NewTiktoken(model)
}

// EstimateRequest 估算一次补全调用需要预留的 token：提示词 + 最大输出。
func EstimateRequest(c Counter, req *llm.ChatRequest) int64 {
	if req == nil {
		return 0
	}
	n := c.CountMessages(req.Messages) + req.MaxTokens
	return int64(max(n, 1))
}
