// MockInvoker 的工具调用能力测试模拟实现。
//
// 支持按工具名注册结果、错误注入与调用记录。
package mocks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/BaSui01/agenttree/llm/tools"
)

// ToolFunc 工具执行函数类型
type ToolFunc func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// ToolCall 记录单次工具调用
type ToolCall struct {
	Name        string
	Input       json.RawMessage
	Permissions tools.Permissions
}

// MockInvoker 是 tools.Invoker 的模拟实现
type MockInvoker struct {
	mu    sync.RWMutex
	funcs map[string]ToolFunc
	calls []ToolCall
}

// NewMockInvoker 创建新的 MockInvoker
func NewMockInvoker() *MockInvoker {
	return &MockInvoker{funcs: make(map[string]ToolFunc)}
}

// WithTool 注册工具及其执行函数
func (m *MockInvoker) WithTool(name string, fn ToolFunc) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs[name] = fn
	return m
}

// WithToolResult 注册返回固定结果的工具
func (m *MockInvoker) WithToolResult(name string, result string) *MockInvoker {
	return m.WithTool(name, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(result), nil
	})
}

// Invoke 实现 tools.Invoker
func (m *MockInvoker) Invoke(ctx context.Context, name string, input json.RawMessage, perms tools.Permissions) (*tools.ToolResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, ToolCall{Name: name, Input: input, Permissions: perms})
	fn, ok := m.funcs[name]
	m.mu.Unlock()

	if !ok {
		return nil, &tools.ToolError{Tool: name, Kind: tools.ToolNotFound, Message: "no such tool"}
	}
	start := time.Now()
	out, err := fn(ctx, input)
	if err != nil {
		return nil, &tools.ToolError{Tool: name, Kind: tools.ToolFailed, Message: err.Error()}
	}
	return &tools.ToolResult{Name: name, Output: out, Duration: time.Since(start)}, nil
}

// Calls 返回全部调用记录
func (m *MockInvoker) Calls() []ToolCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ToolCall, len(m.calls))
	copy(out, m.calls)
	return out
}
