package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/BaSui01/agenttree/agent"
)

// TreeMetrics 把事件总线上的节点生命周期转成 OTLP 指标，
// 与 Prometheus collector 并行，面向集中式的 OTel 后端。
type TreeMetrics struct {
	executions metric.Int64Counter
	duration   metric.Float64Histogram
	tokens     metric.Int64Counter
	events     metric.Int64Counter
	budgetUsed metric.Float64Histogram
}

// NewTreeMetrics 在 meter 上注册树指标
func NewTreeMetrics(meter metric.Meter) (*TreeMetrics, error) {
	var (
		m   TreeMetrics
		err error
	)
	if m.executions, err = meter.Int64Counter("agenttree.agent.executions",
		metric.WithDescription("Finished agent nodes")); err != nil {
		return nil, fmt.Errorf("executions counter: %w", err)
	}
	if m.duration, err = meter.Float64Histogram("agenttree.agent.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Agent node wall-clock duration")); err != nil {
		return nil, fmt.Errorf("duration histogram: %w", err)
	}
	if m.tokens, err = meter.Int64Counter("agenttree.agent.tokens",
		metric.WithUnit("{token}"),
		metric.WithDescription("Tokens consumed by finished agent nodes")); err != nil {
		return nil, fmt.Errorf("tokens counter: %w", err)
	}
	if m.events, err = meter.Int64Counter("agenttree.tree.events",
		metric.WithDescription("Budget, cycle and depth events")); err != nil {
		return nil, fmt.Errorf("events counter: %w", err)
	}
	if m.budgetUsed, err = meter.Float64Histogram("agenttree.request.budget_used",
		metric.WithUnit("%"),
		metric.WithDescription("Ledger utilisation when a root request finishes")); err != nil {
		return nil, fmt.Errorf("budget histogram: %w", err)
	}
	return &m, nil
}

// Observe 记录一个事件
func (m *TreeMetrics) Observe(ctx context.Context, e agent.Event) {
	depth := attribute.Int("agent.depth", e.Depth)
	switch e.Kind {
	case agent.EventCompleted, agent.EventFailed:
		attrs := metric.WithAttributes(depth, attribute.String("agent.status", string(e.Status)))
		m.executions.Add(ctx, 1, attrs)
		m.duration.Record(ctx, e.Duration.Seconds(), metric.WithAttributes(depth))
		m.tokens.Add(ctx, e.Tokens, metric.WithAttributes(depth))
		if e.ParentID == "" && e.Budget != nil {
			m.budgetUsed.Record(ctx, e.Budget.PercentUsed)
		}
	case agent.EventSpawned, agent.EventStarted:
	default:
		m.events.Add(ctx, 1, metric.WithAttributes(attribute.String("event.kind", string(e.Kind))))
	}
}

// Attach 订阅总线，返回的订阅在关闭时取消
func (m *TreeMetrics) Attach(bus *agent.Bus) *agent.Subscription {
	return bus.SubscribeFunc(nil, func(e agent.Event) { m.Observe(context.Background(), e) })
}
