// MockCompleter 的补全能力测试模拟实现。
//
// 支持固定响应、按请求脚本化响应、阻塞直到取消与错误注入。
package mocks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BaSui01/agenttree/llm"
)

// ReplyFunc 根据请求生成响应内容；返回 error 时流中发送错误块。
type ReplyFunc func(ctx context.Context, req *llm.ChatRequest) (string, error)

// MockCompleter 是 llm.Completer 的模拟实现
type MockCompleter struct {
	mu sync.RWMutex

	name     string
	response string
	err      error
	replyFn  ReplyFunc
	usage    *llm.ChatUsage
	delay    time.Duration
	chunkLen int

	calls []*llm.ChatRequest
}

// NewMockCompleter 创建新的 MockCompleter
func NewMockCompleter() *MockCompleter {
	return &MockCompleter{
		name:     "mock",
		response: "Mock response",
		chunkLen: 8,
	}
}

// WithName 设置能力名称（熔断器按名称分组）
func (m *MockCompleter) WithName(name string) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
	return m
}

// WithResponse 设置固定响应内容
func (m *MockCompleter) WithResponse(response string) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithError 设置返回错误
func (m *MockCompleter) WithError(err error) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithReplyFunc 设置按请求生成响应的函数
func (m *MockCompleter) WithReplyFunc(fn ReplyFunc) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replyFn = fn
	return m
}

// WithUsage 设置每次调用报告的 Token 用量；未设置时按字符数估算
func (m *MockCompleter) WithUsage(prompt, completion int) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = &llm.ChatUsage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
	return m
}

// WithDelay 设置首个块之前的延迟
func (m *MockCompleter) WithDelay(d time.Duration) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

func (m *MockCompleter) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

// Stream 实现 llm.Completer
func (m *MockCompleter) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	response, err, replyFn, usage, delay, chunkLen := m.response, m.err, m.replyFn, m.usage, m.delay, m.chunkLen
	m.mu.Unlock()

	if err != nil && replyFn == nil {
		return nil, err
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		send := func(c llm.StreamChunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if delay > 0 {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return
			}
		}

		content := response
		if replyFn != nil {
			var rerr error
			content, rerr = replyFn(ctx, req)
			if rerr != nil {
				if ctx.Err() != nil {
					return
				}
				send(llm.StreamChunk{Err: asLLMError(rerr)})
				return
			}
		}

		for start := 0; start < len(content); start += chunkLen {
			end := min(start+chunkLen, len(content))
			if !send(llm.StreamChunk{Delta: content[start:end]}) {
				return
			}
		}

		u := estimateUsage(req, content)
		if usage != nil {
			u = *usage
		}
		send(llm.StreamChunk{FinishReason: "stop", Usage: &u})
	}()
	return ch, nil
}

// Calls 返回全部调用记录
func (m *MockCompleter) Calls() []*llm.ChatRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*llm.ChatRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount 返回调用次数
func (m *MockCompleter) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

// Reset 清空调用记录
func (m *MockCompleter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func asLLMError(err error) *llm.Error {
	var le *llm.Error
	if errors.As(err, &le) {
		return le
	}
	return &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), Retryable: false, Provider: "mock"}
}

func estimateUsage(req *llm.ChatRequest, content string) llm.ChatUsage {
	prompt := 0
	for _, msg := range req.Messages {
		prompt += len(msg.Content) / 4
	}
	completion := max(len(content)/4, 1)
	return llm.ChatUsage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
}
