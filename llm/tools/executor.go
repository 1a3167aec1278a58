package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	validator "github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"
)

// ToolFunc 工具函数签名
type ToolFunc func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// ToolMetadata 工具元数据
type ToolMetadata struct {
	Description string           // 工具说明，渲染进 Agent 的系统提示词
	Permission  string           // 调用所需权限（可选）
	RateLimit   *RateLimitConfig // 限流配置（可选）
	Timeout     time.Duration    // 执行超时（默认 30s）
	Schema      json.RawMessage  // 输入 JSON Schema（可选），见 SchemaFor
}

// ToolResult 工具执行结果
type ToolResult struct {
	Name     string          `json:"name"`
	Output   json.RawMessage `json:"output"`
	Duration time.Duration   `json:"duration"`
}

// ToolErrorKind 工具错误分类
type ToolErrorKind string

const (
	ToolNotFound         ToolErrorKind = "not_found"
	ToolPermissionDenied ToolErrorKind = "permission_denied"
	ToolRateLimited      ToolErrorKind = "rate_limited"
	ToolInvalidInput     ToolErrorKind = "invalid_input"
	ToolTimeout          ToolErrorKind = "timeout"
	ToolFailed           ToolErrorKind = "failed"
)

// ToolError 是 Invoker 返回的错误类型。
type ToolError struct {
	Tool      string
	Kind      ToolErrorKind
	Message   string
	Retryable bool
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %s: %s", e.Tool, e.Kind, e.Message)
}

// Invoker 是编排引擎消费的工具调用能力。沙箱与权限校验在此边界之后。
type Invoker interface {
	Invoke(ctx context.Context, tool string, input json.RawMessage, perms Permissions) (*ToolResult, error)
}

// Descriptor describes a registered tool.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Permission  string          `json:"permission,omitempty"`
	Schema      json.RawMessage `json:"input_schema,omitempty"`
}

// ====== Registry ======

// Registry 工具注册中心
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]ToolFunc
	metadata map[string]ToolMetadata
	schemas  map[string]*validator.Schema
	limits   *limiterSet
	logger   *zap.Logger
}

// NewRegistry 创建工具注册中心。
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tools:    make(map[string]ToolFunc),
		metadata: make(map[string]ToolMetadata),
		schemas:  make(map[string]*validator.Schema),
		limits:   newLimiterSet(),
		logger:   logger.With(zap.String("component", "tool_registry")),
	}
}

func (r *Registry) Register(name string, fn ToolFunc, metadata ToolMetadata) error {
	if name == "" || fn == nil {
		return errors.New("tool name and function are required")
	}

	var compiled *validator.Schema
	if len(metadata.Schema) > 0 {
		var err error
		if compiled, err = compileSchema(name, metadata.Schema); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	if metadata.Timeout == 0 {
		metadata.Timeout = 30 * time.Second
	}

	r.tools[name] = fn
	r.metadata[name] = metadata
	if compiled != nil {
		r.schemas[name] = compiled
	}
	r.limits.set(name, metadata.RateLimit)

	r.logger.Info("tool registered", zap.String("name", name), zap.Duration("timeout", metadata.Timeout))
	return nil
}

func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tools, name)
	delete(r.metadata, name)
	delete(r.schemas, name)
	r.limits.set(name, nil)
}

func (r *Registry) get(name string) (ToolFunc, ToolMetadata, *validator.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.tools[name]
	return fn, r.metadata[name], r.schemas[name], ok
}

// List returns registered tools sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.tools))
	for name, meta := range r.metadata {
		out = append(out, Descriptor{Name: name, Description: meta.Description, Permission: meta.Permission, Schema: meta.Schema})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ====== LocalInvoker ======

// LocalInvoker 在进程内执行注册中心中的工具。
type LocalInvoker struct {
	registry *Registry
	logger   *zap.Logger
}

// NewLocalInvoker 创建进程内工具调用器。
func NewLocalInvoker(registry *Registry, logger *zap.Logger) *LocalInvoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalInvoker{
		registry: registry,
		logger:   logger.With(zap.String("component", "tool_invoker")),
	}
}

// Invoke 实现 Invoker。工具函数的 panic 被转换为 ToolError。
func (e *LocalInvoker) Invoke(ctx context.Context, tool string, input json.RawMessage, perms Permissions) (*ToolResult, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fn, meta, schema, ok := e.registry.get(tool)
	if !ok {
		return nil, &ToolError{Tool: tool, Kind: ToolNotFound, Message: "no such tool"}
	}
	if !perms.Allows(meta.Permission) {
		e.logger.Warn("tool permission denied", zap.String("name", tool), zap.String("required", meta.Permission))
		return nil, &ToolError{Tool: tool, Kind: ToolPermissionDenied, Message: "requires " + meta.Permission}
	}
	if !e.registry.limits.allow(tool) {
		return nil, &ToolError{Tool: tool, Kind: ToolRateLimited, Message: "rate limit exceeded", Retryable: true}
	}
	if len(input) > 0 && !json.Valid(input) {
		return nil, &ToolError{Tool: tool, Kind: ToolInvalidInput, Message: "input is not valid JSON"}
	}
	if schema != nil {
		if err := validateInput(schema, input); err != nil {
			return nil, &ToolError{Tool: tool, Kind: ToolInvalidInput, Message: err.Error()}
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, meta.Timeout)
	defer cancel()

	type outcome struct {
		res json.RawMessage
		err error
	}
	// 缓冲为 1，超时后 goroutine 仍可退出
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		res, err := fn(execCtx, input)
		done <- outcome{res, err}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-execCtx.Done():
		o.err = execCtx.Err()
	}

	switch {
	case o.err == nil:
		return &ToolResult{Name: tool, Output: o.res, Duration: time.Since(start)}, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case execCtx.Err() != nil:
		e.logger.Warn("tool execution timeout", zap.String("name", tool), zap.Duration("timeout", meta.Timeout))
		return nil, &ToolError{Tool: tool, Kind: ToolTimeout, Message: fmt.Sprintf("execution timeout after %s", meta.Timeout), Retryable: true}
	default:
		e.logger.Warn("tool execution failed", zap.String("name", tool), zap.Error(o.err))
		return nil, &ToolError{Tool: tool, Kind: ToolFailed, Message: o.err.Error()}
	}
}
