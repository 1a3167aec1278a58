package hierarchical

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/BaSui01/agenttree/agent"
	"github.com/BaSui01/agenttree/agent/persistence"
	"github.com/BaSui01/agenttree/llm"
	"github.com/BaSui01/agenttree/llm/budget"
	"github.com/BaSui01/agenttree/llm/circuitbreaker"
	"github.com/BaSui01/agenttree/llm/retry"
	"github.com/BaSui01/agenttree/llm/tokenizer"
	"github.com/BaSui01/agenttree/llm/tools"
	"github.com/BaSui01/agenttree/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var errStepLimit = errors.New("step limit reached")

const recordTimeout = 5 * time.Second

// execute 运行一个节点直到终态，返回其结果。
// ctx 结束视为取消；节点自身的时限到期视为超时。
func (o *Orchestrator) execute(ctx context.Context, r *run, node *Node, actx *agent.AgentContext, task, input string) agent.SubAgentResult {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "agent.node", trace.WithAttributes(
		attribute.String("agent.request_id", r.id),
		attribute.String("agent.id", actx.AgentID),
		attribute.Int("agent.depth", actx.Depth),
	))
	defer span.End()
	actx.TraceContext = span.SpanContext()

	ctx = types.WithAgentID(types.WithRequestID(ctx, r.id), actx.AgentID)
	if actx.BotID != "" {
		ctx = types.WithBotID(ctx, actx.BotID)
	}

	node.markStarted(start)
	o.transition(node, agent.StateRunning)
	r.publish(agent.Event{
		Kind:     agent.EventStarted,
		AgentID:  actx.AgentID,
		ParentID: actx.ParentID,
		Depth:    actx.Depth,
		Task:     task,
	})

	nodeCtx, cancel := ctx, context.CancelFunc(func() {})
	if o.cfg.NodeTimeout > 0 {
		nodeCtx, cancel = context.WithTimeout(ctx, o.cfg.NodeTimeout)
	}
	defer cancel()

	output, err := o.loop(nodeCtx, r, node, actx, task, input)
	if errors.Is(err, budget.ErrLedgerInvariant) {
		r.abort(err)
	}

	state, res := outcome(ctx, nodeCtx, task, output, err)
	res.AgentID = actx.AgentID
	res.Duration = time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, res.Reason)
	}
	return o.finish(r, node, actx, state, res, time.Now())
}

// outcome 将循环的结束原因映射为节点状态与结果
func outcome(ctx, nodeCtx context.Context, task, output string, err error) (agent.NodeState, agent.SubAgentResult) {
	res := agent.SubAgentResult{Task: task}
	var state agent.NodeState

	switch {
	case err == nil:
		res.Status, res.Output = agent.StatusSucceeded, output
		return agent.StateCompleted, res
	case errors.Is(err, budget.ErrLedgerInvariant):
		state, res.Status = agent.StateFailed, agent.StatusFailed
	case ctx.Err() != nil:
		state, res.Status = agent.StateCancelled, agent.StatusCancelled
		err = agent.ErrCancelled
	case errors.Is(nodeCtx.Err(), context.DeadlineExceeded):
		state, res.Status = agent.StateFailed, agent.StatusFailed
		err = agent.ErrTimeout
	case errors.Is(err, budget.ErrBudgetPaused), errors.Is(err, budget.ErrBudgetExceeded):
		state, res.Status = agent.StateBudgetPaused, agent.StatusBudgetExceeded
	default:
		state, res.Status = agent.StateFailed, agent.StatusFailed
	}
	res.Reason = types.Reason(err)
	res.ErrorCode = types.GetErrorCode(err)
	return state, res
}

// finish 结清节点预算、推进终态、发布事件并记录运行。
func (o *Orchestrator) finish(r *run, node *Node, actx *agent.AgentContext, state agent.NodeState, res agent.SubAgentResult, at time.Time) agent.SubAgentResult {
	if err := actx.Budget.Close(); err != nil {
		o.logger.Error("closing node budget",
			zap.String("request_id", r.id),
			zap.String("agent_id", node.ID),
			zap.Error(err))
		if errors.Is(err, budget.ErrLedgerInvariant) {
			r.abort(err)
		}
	}
	res.TokenUsage = actx.Budget.Used()

	o.transition(node, state)
	node.setResult(res, at)

	kind := agent.EventFailed
	if res.Succeeded() {
		kind = agent.EventCompleted
	}
	e := agent.Event{
		Kind:     kind,
		AgentID:  node.ID,
		ParentID: node.ParentID,
		Depth:    node.Depth,
		Task:     node.Task,
		Status:   res.Status,
		Reason:   res.Reason,
		Tokens:   res.TokenUsage,
		Duration: res.Duration,
	}
	if node.ParentID == "" {
		// 根节点结束事件附带最终账本状态
		status := r.ledger.Status()
		e.Budget = &status
	}
	r.publish(e)

	o.logger.Debug("agent finished",
		zap.String("request_id", r.id),
		zap.String("agent_id", node.ID),
		zap.Int("depth", node.Depth),
		zap.String("status", string(res.Status)),
		zap.Int64("tokens", res.TokenUsage),
		zap.Duration("duration", res.Duration))

	o.record(r, node, actx.BotID, res)
	return res
}

func (o *Orchestrator) transition(node *Node, to agent.NodeState) {
	if node.State() == to && to != agent.StateRunning {
		return
	}
	if err := node.machine.Transition(to); err != nil {
		o.logger.Warn("rejected node transition", zap.String("agent_id", node.ID), zap.Error(err))
	}
}

func (o *Orchestrator) record(r *run, node *Node, botID string, res agent.SubAgentResult) {
	if o.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), recordTimeout)
	defer cancel()

	info := node.info()
	rec := persistence.RunRecord{
		RequestID:  r.id,
		AgentID:    node.ID,
		ParentID:   node.ParentID,
		BotID:      botID,
		Depth:      node.Depth,
		Task:       node.Task,
		Status:     string(res.Status),
		Output:     res.Output,
		TokenUsage: res.TokenUsage,
		DurationMs: res.Duration.Milliseconds(),
		Reason:     res.Reason,
		ErrorCode:  string(res.ErrorCode),
		StartedAt:  info.StartedAt,
		FinishedAt: info.FinishedAt,
	}
	if err := o.recorder.RecordRun(ctx, rec); err != nil {
		o.logger.Warn("failed to record run",
			zap.String("request_id", r.id),
			zap.String("agent_id", node.ID),
			zap.Error(err))
	}
}

// loop 是节点的推理循环：每一步一次补全调用，解析出的决策执行后
// 结果写回对话，直到给出答案或步数用尽。
func (o *Orchestrator) loop(ctx context.Context, r *run, node *Node, actx *agent.AgentContext, task, input string) (string, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt(o.cfg.SystemPrompt, actx, o.visibleTools(actx))},
		{Role: llm.RoleUser, Content: taskPrompt(task, input)},
	}

	for step := 1; step <= o.cfg.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if step > 1 {
			o.transition(node, agent.StateRunning)
		}
		if err := o.park(ctx, r, node); err != nil {
			return "", err
		}

		req := &llm.ChatRequest{
			RequestID: r.id,
			AgentID:   actx.AgentID,
			Model:     o.cfg.Model,
			Messages:  slices.Clone(messages),
			MaxTokens: o.cfg.MaxTokens,
			Metadata: map[string]string{
				"task":      task,
				"depth":     strconv.Itoa(actx.Depth),
				"agent_id":  actx.AgentID,
				"parent_id": actx.ParentID,
				"step":      strconv.Itoa(step),
			},
		}
		completion, err := o.complete(ctx, actx, req)
		if err != nil {
			return "", err
		}
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: completion.Content})

		d := ParseDecision(completion.Content)
		var feedback string
		switch d.Action {
		case ActionAnswer:
			return d.Answer, nil
		case ActionTool:
			feedback = o.useTool(ctx, actx, d)
		case ActionRead, ActionWrite:
			feedback = o.useWorkspace(ctx, actx, d)
		case ActionSpawn:
			feedback, err = o.delegate(ctx, actx, d)
			if err != nil {
				return "", err
			}
		}
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: feedback})
	}
	return "", errStepLimit
}

// complete 执行一次受预算、熔断与重试保护的补全调用。
func (o *Orchestrator) complete(ctx context.Context, actx *agent.AgentContext, req *llm.ChatRequest) (*llm.Completion, error) {
	grant, err := actx.Budget.Acquire(tokenizer.EstimateRequest(o.counter, req))
	if err != nil {
		return nil, err
	}

	breaker := o.breakers.Get(completionBreaker)
	completion, err := retry.Do(ctx, o.retryer, func(ctx context.Context) (*llm.Completion, error) {
		return circuitbreaker.Call(ctx, breaker, func(ctx context.Context) (*llm.Completion, error) {
			ch, err := o.completer.Stream(ctx, req)
			if err != nil {
				return nil, err
			}
			return llm.Collect(ctx, ch)
		})
	})
	if err != nil {
		actx.Budget.Abort(grant)
		return nil, completionErr(err)
	}

	used := int64(completion.Usage.Total())
	if used == 0 {
		used = int64(o.counter.CountMessages(req.Messages) + o.counter.CountTokens(completion.Content))
	}
	if err := actx.Budget.Settle(grant, used); err != nil {
		return nil, err
	}
	return completion, nil
}

func completionErr(err error) error {
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyCallsInHalfOpen):
		return types.NewError(types.ErrCircuitOpen, "completion dependency unavailable").WithCause(err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	if _, ok := types.AsError(err); ok {
		return err
	}
	return types.NewError(types.ErrCapability, "completion failed").WithCause(err)
}

// park 在账本暂停时等待运维恢复，最长 PauseWait；PauseWait 为 0 时不等待，
// 随后的预算申请会以 ErrBudgetPaused 结束节点。
func (o *Orchestrator) park(ctx context.Context, r *run, node *Node) error {
	if o.cfg.PauseWait <= 0 {
		return nil
	}
	resumed := r.ledger.Resumed()
	if !r.ledger.Paused() {
		return nil
	}

	o.transition(node, agent.StateBudgetPaused)
	o.logger.Info("agent parked on exhausted budget",
		zap.String("request_id", r.id),
		zap.String("agent_id", node.ID),
		zap.Duration("wait", o.cfg.PauseWait))

	t := time.NewTimer(o.cfg.PauseWait)
	defer t.Stop()
	select {
	case <-resumed:
		o.transition(node, agent.StateRunning)
		return nil
	case <-t.C:
		return fmt.Errorf("no resume within %s: %w", o.cfg.PauseWait, budget.ErrBudgetPaused)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) useTool(ctx context.Context, actx *agent.AgentContext, d Decision) string {
	if d.Tool == "" {
		return "Tool call rejected: missing tool name"
	}
	if o.invoker == nil {
		return renderToolError(d.Tool, &tools.ToolError{Tool: d.Tool, Kind: tools.ToolNotFound, Message: "no tools configured"})
	}
	input := d.Input
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}

	var callerErr error
	res, err := circuitbreaker.Call(ctx, o.breakers.Get("tool:"+d.Tool), func(ctx context.Context) (*tools.ToolResult, error) {
		res, err := o.invoker.Invoke(ctx, d.Tool, input, actx.Permissions)
		var te *tools.ToolError
		if errors.As(err, &te) && !te.Retryable {
			// 调用方错误不计入熔断
			callerErr = err
			return nil, nil
		}
		return res, err
	})
	if err == nil {
		err = callerErr
	}
	if err != nil {
		o.logger.Debug("tool call failed",
			zap.String("agent_id", actx.AgentID),
			zap.String("tool", d.Tool),
			zap.Error(err))
		return renderToolError(d.Tool, err)
	}
	return renderToolResult(res)
}

func (o *Orchestrator) useWorkspace(ctx context.Context, actx *agent.AgentContext, d Decision) string {
	if actx.Workspace == nil {
		return "Workspace unavailable: agent was not spawned in shared mode"
	}
	if d.Key == "" {
		return "Workspace request rejected: missing key"
	}

	if d.Action == ActionRead {
		value, ok, err := actx.Workspace.Read(ctx, d.Key)
		if err != nil {
			return fmt.Sprintf("Workspace read failed: %v", err)
		}
		return renderRead(d.Key, value, ok)
	}
	if err := actx.Workspace.Write(ctx, d.Key, d.Value); err != nil {
		return fmt.Sprintf("Workspace write failed: %v", err)
	}
	return fmt.Sprintf("Workspace %s written", d.Key)
}

// delegate 执行 spawn 决策并把结果渲染回对话。
// 只有父节点自身被取消时才返回错误。
func (o *Orchestrator) delegate(ctx context.Context, actx *agent.AgentContext, d Decision) (string, error) {
	results, err := o.Spawn(ctx, actx, d.SpawnRequests())
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if results == nil && err != nil {
		return renderSpawnRejected(err), nil
	}
	return renderSpawnResults(results, err), nil
}
