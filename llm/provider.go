package llm

import (
	"context"
	"errors"
	"strings"
)

// 统一的 LLM 错误码，用于对齐可重试性与熔断策略。
type ErrorCode string

const (
	ErrInvalidRequest      ErrorCode = "LLM_INVALID_REQUEST"      // 参数/格式错误
	ErrUnauthorized        ErrorCode = "LLM_UNAUTHORIZED"         // 未授权或密钥失效
	ErrRateLimited         ErrorCode = "LLM_RATE_LIMITED"         // 上游或本地限流
	ErrContextTooLong      ErrorCode = "LLM_CONTEXT_TOO_LONG"     // 上下文超长
	ErrModelOverloaded     ErrorCode = "LLM_MODEL_OVERLOADED"     // 模型过载
	ErrUpstreamTimeout     ErrorCode = "LLM_UPSTREAM_TIMEOUT"     // 上游超时
	ErrUpstreamError       ErrorCode = "LLM_UPSTREAM_ERROR"       // 上游 5xx/网络错误
	ErrProviderUnavailable ErrorCode = "LLM_PROVIDER_UNAVAILABLE" // Provider 不可用
)

// Error is the CompletionError surfaced by a Completer.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// ErrorFromStatus classifies an HTTP status code returned by a provider.
func ErrorFromStatus(provider string, status int, msg string) *Error {
	e := &Error{Message: msg, HTTPStatus: status, Provider: provider}
	switch {
	case status == 429:
		e.Code, e.Retryable = ErrRateLimited, true
	case status == 408 || status == 504:
		e.Code, e.Retryable = ErrUpstreamTimeout, true
	case status == 529 || status == 503:
		e.Code, e.Retryable = ErrModelOverloaded, true
	case status >= 500:
		e.Code, e.Retryable = ErrUpstreamError, true
	case status == 401 || status == 403:
		e.Code = ErrUnauthorized
	case status == 413 || strings.Contains(strings.ToLower(msg), "context length"):
		e.Code = ErrContextTooLong
	default:
		e.Code = ErrInvalidRequest
	}
	return e
}

// IsRetryable reports whether a completion failure may be retried. Anything
// that is not an *Error (transport failures, EOF) counts as transient unless
// it is a context cancellation.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return true
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
	Name    string `json:"name,omitempty"`
}

type ChatRequest struct {
	RequestID   string            `json:"request_id"`
	AgentID     string            `json:"agent_id"`
	Model       string            `json:"model"`
	Messages    []Message         `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float32           `json:"temperature,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// Add accumulates other into u.
func (u *ChatUsage) Add(other ChatUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Total returns TotalTokens, deriving it when a provider left it empty.
func (u ChatUsage) Total() int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.PromptTokens + u.CompletionTokens
}

// StreamChunk 流式响应的增量片段；最终 chunk 可带 usage。
type StreamChunk struct {
	Delta        string     `json:"delta"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        *ChatUsage `json:"usage,omitempty"`
	Err          *Error     `json:"error,omitempty"`
}

// Completer 是编排引擎消费的补全能力。
// Provider 选择、降级与内部重试都在此边界之后；编排器只区分可重试与终止错误。
type Completer interface {
	// Stream 发起流式补全请求，返回增量响应通道。ctx 取消时实现必须关闭通道。
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)

	// Name 返回能力实现的标识，用于熔断器分组与日志。
	Name() string
}
