package hierarchical

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/BaSui01/agenttree/agent"
	"github.com/BaSui01/agenttree/agent/cycle"
	"github.com/BaSui01/agenttree/agent/workspace"
	"github.com/BaSui01/agenttree/llm/budget"
	"github.com/BaSui01/agenttree/llm/tools"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrDuplicateRequest 请求 ID 已在运行
var ErrDuplicateRequest = errors.New("hierarchical: request already running")

// run 是一个根请求的全部运行时状态，在请求结束时整体丢弃。
type run struct {
	o        *Orchestrator
	id       string
	botID    string
	task     string
	ledger   *budget.Ledger
	detector *cycle.Detector
	tree     *Tree
	root     *Node

	ctx    context.Context
	cancel context.CancelCauseFunc

	wsMu    sync.Mutex
	ws      *workspace.Workspace
	wsFinal map[string]string

	done   chan struct{}
	result agent.SubAgentResult
}

func (r *run) publish(e agent.Event) {
	e.RequestID = r.id
	r.o.bus.Publish(e)
}

// workspace 在首个 shared spawn 时创建请求的工作区
func (r *run) workspace() *workspace.Workspace {
	r.wsMu.Lock()
	defer r.wsMu.Unlock()
	if r.ws == nil {
		r.ws = workspace.New(r.id, r.o.store, r.o.logger)
	}
	return r.ws
}

func (r *run) abort(err error) {
	r.o.logger.Error("aborting request",
		zap.String("request_id", r.id),
		zap.Error(err))
	r.cancel(err)
}

type runOptions struct {
	requestID   string
	budget      int64
	input       string
	permissions tools.Permissions
}

// RunOption 根请求选项
type RunOption func(*runOptions)

// WithRequestID 指定请求 ID，默认生成 UUID
func WithRequestID(id string) RunOption {
	return func(o *runOptions) { o.requestID = id }
}

// WithBudget 覆盖配置中的请求预算
func WithBudget(limit int64) RunOption {
	return func(o *runOptions) { o.budget = limit }
}

// WithInput 为根任务附加输入
func WithInput(input string) RunOption {
	return func(o *runOptions) { o.input = input }
}

// WithPermissions 设置根 Agent 的工具权限，后代只能收窄
func WithPermissions(perms ...string) RunOption {
	return func(o *runOptions) { o.permissions = tools.Permissions(perms) }
}

// RunRequest 启动一个根请求：创建账本、循环检测器与节点树，并在后台执行根 Agent。
//
// 根请求的生命周期与 ctx 解耦（仅继承其中的值），由 RootHandle.Cancel 结束。
func (o *Orchestrator) RunRequest(ctx context.Context, botID, task string, opts ...RunOption) (*RootHandle, error) {
	if strings.TrimSpace(task) == "" {
		return nil, fmt.Errorf("hierarchical: empty task")
	}
	ro := runOptions{budget: o.cfg.RequestBudget}
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.requestID == "" {
		ro.requestID = uuid.NewString()
	}
	if ro.budget <= 0 {
		return nil, fmt.Errorf("hierarchical: budget must be positive, got %d", ro.budget)
	}

	r := &run{
		o:     o,
		id:    ro.requestID,
		botID: botID,
		task:  task,
		ledger: budget.NewLedger(budget.LedgerConfig{
			RequestID: ro.requestID,
			Limit:     ro.budget,
			Pricing:   o.cfg.Pricing,
		}, o.logger),
		detector: cycle.NewDetector(o.cfg.Cycle, o.logger),
		tree:     newTree(),
		done:     make(chan struct{}),
	}
	if _, loaded := o.runs.LoadOrStore(r.id, r); loaded {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, r.id)
	}

	r.ledger.OnAlert(func(a budget.Alert) {
		kind := agent.EventBudgetWarning
		if a.Kind == budget.AlertExceeded {
			kind = agent.EventBudgetExceeded
		}
		status := a.Status
		r.publish(agent.Event{Kind: kind, Reason: fmt.Sprintf("%.0f%% of budget used", a.Threshold*100), Budget: &status})
	})

	r.ctx, r.cancel = context.WithCancelCause(context.WithoutCancel(ctx))

	rootID := uuid.NewString()
	r.root = newNode(rootID, "", task, 0, 0)
	r.tree.add(r.root)
	actx := &agent.AgentContext{
		AgentID:     rootID,
		BotID:       botID,
		RequestID:   r.id,
		Budget:      budget.NewRootAllowance(r.ledger),
		Permissions: ro.permissions,
	}
	r.publish(agent.Event{Kind: agent.EventSpawned, AgentID: rootID, Task: task})

	o.logger.Info("request started",
		zap.String("request_id", r.id),
		zap.String("bot_id", botID),
		zap.Int64("budget", ro.budget))

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		res := o.execute(r.ctx, r, r.root, actx, task, ro.input)
		o.conclude(r, res)
	}()

	return &RootHandle{run: r}, nil
}

// conclude 结束请求：释放工作区并从运行表中移除。
func (o *Orchestrator) conclude(r *run, res agent.SubAgentResult) {
	r.result = res
	r.cancel(context.Canceled)

	r.wsMu.Lock()
	if r.ws != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		final, err := r.ws.Snapshot(ctx)
		if err != nil {
			o.logger.Warn("failed to snapshot workspace", zap.String("request_id", r.id), zap.Error(err))
		}
		if final == nil {
			final = map[string]string{}
		}
		r.wsFinal = final
		if err := r.ws.Close(ctx); err != nil {
			o.logger.Warn("failed to drop workspace", zap.String("request_id", r.id), zap.Error(err))
		}
		cancel()
	}
	r.wsMu.Unlock()

	o.runs.Delete(r.id)
	st := r.ledger.Status()
	o.logger.Info("request finished",
		zap.String("request_id", r.id),
		zap.String("status", string(res.Status)),
		zap.Int64("consumed", st.Consumed),
		zap.Int("nodes", r.tree.Len()))
	close(r.done)
}

// RootHandle 是根请求的句柄。
type RootHandle struct {
	run *run
}

// ID returns the request id.
func (h *RootHandle) ID() string { return h.run.id }

// RootAgentID returns the root agent's id.
func (h *RootHandle) RootAgentID() string { return h.run.root.ID }

// Done 在请求结束时关闭
func (h *RootHandle) Done() <-chan struct{} { return h.run.done }

// Wait 等待根 Agent 结束并返回其结果
func (h *RootHandle) Wait(ctx context.Context) (agent.SubAgentResult, error) {
	select {
	case <-h.run.done:
		return h.run.result, nil
	case <-ctx.Done():
		return agent.SubAgentResult{}, ctx.Err()
	}
}

// Result 返回最终结果；请求未结束时 ok 为 false
func (h *RootHandle) Result() (agent.SubAgentResult, bool) {
	select {
	case <-h.run.done:
		return h.run.result, true
	default:
		return agent.SubAgentResult{}, false
	}
}

// Cancel 取消整棵树，取消之后不再创建新的子 Agent
func (h *RootHandle) Cancel() {
	h.run.cancel(agent.ErrCancelled)
}

// Budget returns the ledger status.
func (h *RootHandle) Budget() budget.Status { return h.run.ledger.Status() }

// RaiseLimit 运维操作：提高请求预算上限
func (h *RootHandle) RaiseLimit(by int64) (budget.Status, error) {
	return h.run.ledger.RaiseLimit(by)
}

// Resume 运维操作：恢复暂停的账本，唤醒等待中的节点
func (h *RootHandle) Resume() (budget.Status, error) {
	return h.run.ledger.Resume()
}

// Tree 返回节点树快照
func (h *RootHandle) Tree() []NodeInfo { return h.run.tree.Snapshot() }

// Subscribe 订阅本请求的事件；额外的过滤器需同时满足
func (h *RootHandle) Subscribe(filters ...agent.Filter) *agent.Subscription {
	id := h.run.id
	return h.run.o.bus.Subscribe(func(e agent.Event) bool {
		if e.RequestID != id {
			return false
		}
		for _, f := range filters {
			if f != nil && !f(e) {
				return false
			}
		}
		return true
	})
}

// Workspace 返回请求的工作区快照；请求结束后返回结束时的内容，未创建工作区时为 nil
func (h *RootHandle) Workspace(ctx context.Context) (map[string]string, error) {
	h.run.wsMu.Lock()
	defer h.run.wsMu.Unlock()
	if h.run.ws == nil {
		return nil, nil
	}
	if h.run.wsFinal != nil {
		return h.run.wsFinal, nil
	}
	return h.run.ws.Snapshot(ctx)
}
