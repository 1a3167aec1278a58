package hierarchical

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/agenttree/agent"
	"github.com/BaSui01/agenttree/agent/cycle"
	"github.com/BaSui01/agenttree/agent/persistence"
	"github.com/BaSui01/agenttree/agent/workspace"
	"github.com/BaSui01/agenttree/llm"
	"github.com/BaSui01/agenttree/llm/budget"
	"github.com/BaSui01/agenttree/llm/circuitbreaker"
	"github.com/BaSui01/agenttree/llm/retry"
	"github.com/BaSui01/agenttree/llm/tokenizer"
	"github.com/BaSui01/agenttree/llm/tools"
	"github.com/BaSui01/agenttree/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ErrBatchFailed 并行批次中所有子 Agent 都未成功
var ErrBatchFailed = errors.New("hierarchical: every child in the parallel batch failed")

const completionBreaker = "completion"

// Orchestrator 创建子 Agent、分配预算并调度其执行。
// 每个根请求由 RunRequest 启动，树上所有节点共享同一个 Orchestrator。
type Orchestrator struct {
	cfg       Config
	completer llm.Completer
	invoker   tools.Invoker
	catalog   tools.Catalog
	recorder  persistence.Recorder
	bus       *agent.Bus
	ownsBus   bool
	store     workspace.Store
	counter   tokenizer.Counter
	retryer   *retry.Retryer
	breakers  *circuitbreaker.Group
	tracer    trace.Tracer
	logger    *zap.Logger

	runs sync.Map // request id -> *run
	wg   sync.WaitGroup
}

// Option 编排器选项
type Option func(*Orchestrator)

// WithInvoker 设置工具调用能力；未设置时 tool 决策返回 not_found
func WithInvoker(inv tools.Invoker) Option {
	return func(o *Orchestrator) { o.invoker = inv }
}

// WithCatalog 在系统提示词中列出工具；节点只看到自身权限允许的工具
func WithCatalog(c tools.Catalog) Option {
	return func(o *Orchestrator) { o.catalog = c }
}

// WithRecorder 设置运行记录的持久化能力
func WithRecorder(rec persistence.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = rec }
}

// WithBus 使用外部事件总线；编排器不会关闭它
func WithBus(bus *agent.Bus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithWorkspaceStore 设置共享工作区的存储后端（默认内存）
func WithWorkspaceStore(store workspace.Store) Option {
	return func(o *Orchestrator) { o.store = store }
}

// WithCounter 设置预留估算使用的 Token 计数器
func WithCounter(c tokenizer.Counter) Option {
	return func(o *Orchestrator) { o.counter = c }
}

// WithTracer sets the tracer used for node spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithBreakers shares a breaker group with other components.
func WithBreakers(g *circuitbreaker.Group) Option {
	return func(o *Orchestrator) { o.breakers = g }
}

// New 创建编排器
func New(cfg Config, completer llm.Completer, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if completer == nil {
		return nil, fmt.Errorf("hierarchical: completer is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("hierarchical: invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		cfg:       cfg,
		completer: completer,
		logger:    logger.With(zap.String("component", "orchestrator")),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.bus == nil {
		o.bus = agent.NewBus(agent.DefaultBusConfig(), logger)
		o.ownsBus = true
	}
	if o.store == nil {
		o.store = workspace.NewMemoryStore()
	}
	if o.counter == nil {
		o.counter = tokenizer.New(cfg.Model)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer("github.com/BaSui01/agenttree/agent/hierarchical")
	}
	if o.breakers == nil {
		o.breakers = circuitbreaker.NewGroup(cfg.Breaker, logger)
	}

	policy := retry.DefaultRetryPolicy()
	if cfg.Retry != nil {
		p := *cfg.Retry
		policy = &p
	}
	policy.Classify = classifyCompletion
	o.retryer = retry.NewRetryer(policy, logger)

	return o, nil
}

// classifyCompletion 熔断打开不重试，其余交给 llm.IsRetryable
func classifyCompletion(err error) bool {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyCallsInHalfOpen) {
		return false
	}
	return llm.IsRetryable(err)
}

// Bus returns the event bus every run publishes on.
func (o *Orchestrator) Bus() *agent.Bus { return o.bus }

// Config returns the orchestrator configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Breakers returns the breaker group shared by every node.
func (o *Orchestrator) Breakers() *circuitbreaker.Group { return o.breakers }

// Lookup 返回运行中的请求
func (o *Orchestrator) Lookup(requestID string) (*RootHandle, bool) {
	v, ok := o.runs.Load(requestID)
	if !ok {
		return nil, false
	}
	return &RootHandle{run: v.(*run)}, true
}

// Close 取消全部运行中的请求并等待其结束。
func (o *Orchestrator) Close(ctx context.Context) error {
	o.runs.Range(func(_, v any) bool {
		v.(*run).cancel(agent.ErrCancelled)
		return true
	})

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if o.ownsBus {
		o.bus.Close()
	}
	return nil
}

// childSpec 是展开 ChildCount 后的单个子 Agent
type childSpec struct {
	req     agent.SpawnRequest
	replica int
}

// child 是已通过预算与循环检测、尚未执行的子 Agent
type child struct {
	spec    childSpec
	node    *Node
	actx    *agent.AgentContext
	overlay *workspace.OverlayView
}

// Spawn 为 parent 创建并执行一批子 Agent，返回每个子 Agent 的结果（顺序与请求一致）。
//
// 深度为 MaxDepth 的 parent 返回 ErrDepthLimitReached 且不创建节点。
// 声明 shared 的批次会为尚未加入工作区的 parent 绑定一个直接视图。
// 结果总是完整返回；error 仅表示整批失败或请求预算耗尽。
func (o *Orchestrator) Spawn(ctx context.Context, parent *agent.AgentContext, reqs []agent.SpawnRequest) ([]agent.SubAgentResult, error) {
	if parent == nil {
		return nil, fmt.Errorf("nil parent context: %w", agent.ErrInvalidSpawn)
	}
	v, ok := o.runs.Load(parent.RequestID)
	if !ok {
		return nil, fmt.Errorf("unknown request %q: %w", parent.RequestID, agent.ErrInvalidSpawn)
	}
	r := v.(*run)

	if !parent.CanSpawn() {
		r.publish(agent.Event{
			Kind:     agent.EventDepthLimitReached,
			AgentID:  parent.AgentID,
			ParentID: parent.ParentID,
			Depth:    parent.Depth,
			Reason:   types.Reason(agent.ErrDepthLimitReached),
		})
		return nil, fmt.Errorf("agent %s at depth %d: %w", parent.AgentID, parent.Depth, agent.ErrDepthLimitReached)
	}
	if ctx.Err() != nil || r.ctx.Err() != nil {
		return nil, fmt.Errorf("spawn after cancellation: %w", agent.ErrCancelled)
	}

	mode, err := o.validate(reqs)
	if err != nil {
		return nil, err
	}

	specs := make([]childSpec, 0, len(reqs))
	shared := false
	for _, req := range reqs {
		shared = shared || req.Shared
		for i := range req.Replicas() {
			specs = append(specs, childSpec{req: req, replica: i})
		}
	}
	if shared && parent.Workspace == nil {
		parent.Workspace = workspace.NewDirectView(r.workspace(), parent.AgentID)
	}

	// 请求级取消同样终止外部调用方发起的批次
	bctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(r.ctx, cancel)
	defer stop()

	o.logger.Debug("spawning children",
		zap.String("request_id", r.id),
		zap.String("parent_id", parent.AgentID),
		zap.String("mode", string(mode)),
		zap.Int("children", len(specs)))

	var results []agent.SubAgentResult
	if mode == agent.ModeParallel {
		results = o.runParallel(bctx, r, parent, specs)
	} else {
		results = o.runSequential(bctx, r, parent, specs)
	}
	return results, o.batchErr(r, mode, results)
}

func (o *Orchestrator) validate(reqs []agent.SpawnRequest) (agent.ExecutionMode, error) {
	if len(reqs) == 0 {
		return "", fmt.Errorf("no sub-tasks: %w", agent.ErrInvalidSpawn)
	}
	mode := reqs[0].Mode
	total := 0
	for _, req := range reqs {
		if err := req.Validate(); err != nil {
			return "", err
		}
		if req.Mode != mode {
			return "", fmt.Errorf("mixed execution modes %q and %q: %w", mode, req.Mode, agent.ErrInvalidSpawn)
		}
		total += req.Replicas()
	}
	if total > o.cfg.MaxChildren {
		return "", fmt.Errorf("%d children exceed the limit of %d: %w", total, o.cfg.MaxChildren, agent.ErrInvalidSpawn)
	}
	return mode, nil
}

func (o *Orchestrator) batchErr(r *run, mode agent.ExecutionMode, results []agent.SubAgentResult) error {
	if r.ledger.Paused() {
		return fmt.Errorf("batch stopped: %w", budget.ErrBudgetPaused)
	}
	if mode != agent.ModeParallel || len(results) == 0 {
		return nil
	}
	for _, res := range results {
		if res.Succeeded() {
			return nil
		}
	}
	return ErrBatchFailed
}

func (o *Orchestrator) runSequential(ctx context.Context, r *run, parent *agent.AgentContext, specs []childSpec) []agent.SubAgentResult {
	results := make([]agent.SubAgentResult, 0, len(specs))
	failed := false
	for _, spec := range specs {
		switch {
		case ctx.Err() != nil:
			results = append(results, skipped(spec, types.Reason(agent.ErrCancelled)))
			continue
		case failed && o.cfg.SequentialPolicy == PolicyShortCircuit:
			results = append(results, skipped(spec, "skipped: earlier sibling failed"))
			continue
		}

		c, rejected := o.prepare(ctx, r, parent, spec)
		if c == nil {
			results = append(results, rejected)
			failed = true
			continue
		}
		res := o.runChild(ctx, r, c)
		results = append(results, res)
		if !res.Succeeded() {
			failed = true
		}
	}
	return results
}

func (o *Orchestrator) runParallel(ctx context.Context, r *run, parent *agent.AgentContext, specs []childSpec) []agent.SubAgentResult {
	results := make([]agent.SubAgentResult, len(specs))
	children := make([]*child, len(specs))
	for i, spec := range specs {
		c, rejected := o.prepare(ctx, r, parent, spec)
		if c == nil {
			results[i] = rejected
			continue
		}
		children[i] = c
	}

	sem := semaphore.NewWeighted(int64(o.cfg.MaxFanOut))
	var g errgroup.Group
	for i, c := range children {
		if c == nil {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = o.abandon(r, c)
			continue
		}
		g.Go(func() error {
			defer sem.Release(1)
			results[i] = o.runChild(ctx, r, c)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// prepare 为子 Agent 预留预算并通过循环检测，成功后节点入树。
// 被拒绝时返回 nil 与对应的结果。
func (o *Orchestrator) prepare(ctx context.Context, r *run, parent *agent.AgentContext, spec childSpec) (*child, agent.SubAgentResult) {
	req := spec.req
	estimate := req.EstimatedTokens
	if estimate <= 0 {
		estimate = o.cfg.DefaultEstimate
	}

	res, err := r.ledger.Reserve(estimate)
	if err != nil {
		status := r.ledger.Status()
		r.publish(agent.Event{
			Kind:     agent.EventBudgetExceeded,
			ParentID: parent.AgentID,
			Depth:    parent.Depth + 1,
			Task:     req.Task,
			Status:   agent.StatusBudgetExceeded,
			Reason:   types.Reason(err),
			Budget:   &status,
		})
		o.logger.Info("child not started: budget",
			zap.String("request_id", r.id),
			zap.String("parent_id", parent.AgentID),
			zap.Int64("estimate", estimate),
			zap.Error(err))
		return nil, rejectedResult(req.Task, agent.StatusBudgetExceeded, err)
	}

	fp := cycle.NewFingerprint(req.Task, req.Input, spec.replica)
	if err := r.detector.Admit(parent.Lineage(), parent.AgentID, fp); err != nil {
		r.ledger.Release(res)
		r.publish(agent.Event{
			Kind:     agent.EventCycleDetected,
			ParentID: parent.AgentID,
			Depth:    parent.Depth + 1,
			Task:     req.Task,
			Reason:   types.Reason(err),
		})
		return nil, rejectedResult(req.Task, agent.StatusFailed, err)
	}

	id := uuid.NewString()
	view, overlay, err := o.childView(ctx, parent, id, req)
	if err != nil {
		r.ledger.Release(res)
		return nil, rejectedResult(req.Task, agent.StatusFailed, err)
	}

	node := newNode(id, parent.AgentID, req.Task, parent.Depth+1, spec.replica)
	r.tree.add(node)
	actx := parent.Child(id, budget.NewChildAllowance(r.ledger, res), view, req.Permissions)
	r.publish(agent.Event{
		Kind:     agent.EventSpawned,
		AgentID:  id,
		ParentID: parent.AgentID,
		Depth:    actx.Depth,
		Task:     req.Task,
	})
	return &child{spec: spec, node: node, actx: actx, overlay: overlay}, agent.SubAgentResult{}
}

// childView 选择子 Agent 的工作区视图：未声明 shared 时为 nil。
// 视图叠加在父视图之上：顺序执行经父视图直接读写，
// 并行执行读 spawn 时父视图的快照，完成时提交回父视图。
func (o *Orchestrator) childView(ctx context.Context, parent *agent.AgentContext, id string, req agent.SpawnRequest) (workspace.View, *workspace.OverlayView, error) {
	if !req.Shared {
		return nil, nil, nil
	}
	under := parent.Workspace
	if req.Mode == agent.ModeSequential {
		return workspace.NewDirectView(under, id), nil, nil
	}
	snapshot, err := under.Snapshot(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("workspace snapshot: %w", err)
	}
	ov := workspace.NewOverlayView(under, id, snapshot)
	return ov, ov, nil
}

func (o *Orchestrator) runChild(ctx context.Context, r *run, c *child) agent.SubAgentResult {
	res := o.execute(ctx, r, c.node, c.actx, c.spec.req.Task, c.spec.req.Input)
	if c.overlay == nil {
		return res
	}
	if !res.Succeeded() {
		c.overlay.Discard()
		return res
	}
	if err := c.overlay.Commit(context.WithoutCancel(ctx)); err != nil {
		o.logger.Warn("overlay commit failed",
			zap.String("request_id", r.id),
			zap.String("agent_id", c.node.ID),
			zap.Error(err))
	}
	return res
}

// abandon 结束一个因批次取消而未启动的子 Agent
func (o *Orchestrator) abandon(r *run, c *child) agent.SubAgentResult {
	if c.overlay != nil {
		c.overlay.Discard()
	}
	res := agent.SubAgentResult{
		AgentID:   c.node.ID,
		Task:      c.spec.req.Task,
		Status:    agent.StatusCancelled,
		Reason:    types.Reason(agent.ErrCancelled),
		ErrorCode: types.ErrCancelled,
	}
	o.finish(r, c.node, c.actx, agent.StateCancelled, res, time.Now())
	return res
}

func skipped(spec childSpec, reason string) agent.SubAgentResult {
	return agent.SubAgentResult{
		Task:      spec.req.Task,
		Status:    agent.StatusCancelled,
		Reason:    reason,
		ErrorCode: types.ErrCancelled,
	}
}

func rejectedResult(task string, status agent.ResultStatus, err error) agent.SubAgentResult {
	return agent.SubAgentResult{
		Task:      task,
		Status:    status,
		Reason:    types.Reason(err),
		ErrorCode: types.GetErrorCode(err),
	}
}
