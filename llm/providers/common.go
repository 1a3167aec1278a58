package providers

import (
	"context"
	"strings"

	"github.com/BaSui01/agenttree/llm"
)

// MapHTTPError 将 HTTP 状态码映射为带有合适重试标记的 llm.Error
func MapHTTPError(status int, msg string, provider string) *llm.Error {
	return llm.ErrorFromStatus(provider, status, msg)
}

// TransportError 无状态码的失败（连接重置、流中断）按上游错误处理，可重试
func TransportError(provider string, err error) *llm.Error {
	return &llm.Error{
		Code:      llm.ErrUpstreamError,
		Message:   err.Error(),
		Retryable: true,
		Provider:  provider,
	}
}

// Send 向流通道发送一个块；ctx 取消时返回 false，调用方应停止并关闭通道
func Send(ctx context.Context, ch chan<- llm.StreamChunk, chunk llm.StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// SplitSystem 拆出 system 消息，多条以空行拼接
func SplitSystem(messages []llm.Message) (string, []llm.Message) {
	var (
		system []string
		rest   = make([]llm.Message, 0, len(messages))
	)
	for _, m := range messages {
		if m.Role == llm.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// ChooseModel 请求指定的模型优先，否则使用配置默认值
func ChooseModel(req *llm.ChatRequest, defaultModel, fallback string) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	if defaultModel != "" {
		return defaultModel
	}
	return fallback
}
