// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/agenttree/agent"
	"github.com/BaSui01/agenttree/llm"
	"github.com/BaSui01/agenttree/llm/circuitbreaker"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// LLM 指标
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec

	// Agent 树指标
	agentSpawnedTotal      *prometheus.CounterVec
	agentExecutionsTotal   *prometheus.CounterVec
	agentExecutionDuration *prometheus.HistogramVec
	agentTokensUsed        *prometheus.CounterVec
	agentsActive           prometheus.Gauge
	treeEventsTotal        *prometheus.CounterVec
	eventsDropped          prometheus.Counter
	budgetUtilisation      *prometheus.GaugeVec
	breakerState           *prometheus.GaugeVec

	// 数据库指标
	dbConnectionsOpen  *prometheus.GaugeVec
	dbConnectionsIdle  *prometheus.GaugeVec
	dbConnectionsInUse *prometheus.GaugeVec
	dbWaitTotal        *prometheus.GaugeVec
	dbUp               *prometheus.GaugeVec

	running sync.Map // agent id -> struct{}
	logger  *zap.Logger
}

// NewCollector 创建指标收集器并注册到 reg；reg 为 nil 时使用默认 Registerer。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return f.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}, labels)
	}
	slow := []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}

	c := &Collector{
		httpRequestsTotal:   counter("http_requests_total", "Total number of HTTP requests", "method", "path", "status"),
		httpRequestDuration: histogram("http_request_duration_seconds", "HTTP request duration in seconds", prometheus.DefBuckets, "method", "path"),

		llmRequestsTotal:   counter("llm_requests_total", "Total number of LLM completion calls", "provider", "model", "status"),
		llmRequestDuration: histogram("llm_request_duration_seconds", "LLM completion duration in seconds", slow, "provider", "model"),
		// type: prompt | completion
		llmTokensUsed: counter("llm_tokens_used_total", "Total number of tokens used", "provider", "model", "type"),

		agentSpawnedTotal:      counter("agent_spawned_total", "Total number of agents spawned", "depth"),
		agentExecutionsTotal:   counter("agent_executions_total", "Total number of finished agent executions", "depth", "status"),
		agentExecutionDuration: histogram("agent_execution_duration_seconds", "Agent execution duration in seconds", append(slow, 120, 300), "depth"),
		agentTokensUsed:        counter("agent_tokens_used_total", "Tokens consumed by finished agents", "depth"),
		agentsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "agents_active", Help: "Number of agents currently running",
		}),
		treeEventsTotal: counter("tree_events_total", "Budget, cycle and depth events raised by agent trees", "kind"),
		eventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "event_bus_dropped_total", Help: "Events dropped because a subscriber was too slow",
		}),
		budgetUtilisation: gauge("budget_utilisation_percent", "Consumed share of the request budget at the last budget event", "request_id"),
		breakerState:      gauge("circuit_breaker_state", "Circuit breaker state: 0 closed, 1 open, 2 half-open", "breaker"),

		dbConnectionsOpen:  gauge("db_connections_open", "Number of open database connections", "database"),
		dbConnectionsIdle:  gauge("db_connections_idle", "Number of idle database connections", "database"),
		dbConnectionsInUse: gauge("db_connections_in_use", "Number of database connections in use", "database"),
		dbWaitTotal:        gauge("db_wait_count", "Cumulative number of waits for a free connection", "database"),
		dbUp:               gauge("db_up", "1 if the last periodic ping succeeded", "database"),

		logger: logger.With(zap.String("component", "metrics")),
	}
	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🤖 LLM 指标记录
// =============================================================================

// RecordLLMRequest 记录一次补全调用
func (c *Collector) RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int) {
	c.llmRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.llmRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	c.llmTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	c.llmTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
}

// =============================================================================
// 🎭 Agent 树指标记录
// =============================================================================

// Observe 按事件类型更新指标
func (c *Collector) Observe(e agent.Event) {
	depth := strconv.Itoa(e.Depth)
	switch e.Kind {
	case agent.EventSpawned:
		c.agentSpawnedTotal.WithLabelValues(depth).Inc()
	case agent.EventStarted:
		c.running.Store(e.AgentID, struct{}{})
		c.agentsActive.Inc()
	case agent.EventCompleted, agent.EventFailed:
		// 未启动即被放弃的节点只有结束事件
		if _, ok := c.running.LoadAndDelete(e.AgentID); ok {
			c.agentsActive.Dec()
		}
		c.agentExecutionsTotal.WithLabelValues(depth, string(e.Status)).Inc()
		c.agentExecutionDuration.WithLabelValues(depth).Observe(e.Duration.Seconds())
		c.agentTokensUsed.WithLabelValues(depth).Add(float64(e.Tokens))
		if e.ParentID == "" {
			// 根节点结束，请求级 gauge 不再更新
			c.budgetUtilisation.DeleteLabelValues(e.RequestID)
		}
	default:
		c.treeEventsTotal.WithLabelValues(string(e.Kind)).Inc()
		if e.Budget != nil {
			c.budgetUtilisation.WithLabelValues(e.RequestID).Set(e.Budget.PercentUsed)
		}
	}
}

// RecordBreakerState 记录熔断器状态，签名与 circuitbreaker.Config.OnStateChange 一致
func (c *Collector) RecordBreakerState(name string, _, to circuitbreaker.State) {
	c.breakerState.WithLabelValues(name).Set(float64(to))
}

// RecordDroppedEvent 记录一个被丢弃的事件，作为 BusConfig.OnDrop 使用
func (c *Collector) RecordDroppedEvent(agent.Event) {
	c.eventsDropped.Inc()
}

// Attach 订阅总线上的全部事件，返回的订阅在关闭时取消。
func (c *Collector) Attach(bus *agent.Bus) *agent.Subscription {
	return bus.SubscribeFunc(nil, c.Observe)
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// PoolStats 连接池快照，sql.DB 与 Redis 连接池各自换算
type PoolStats struct {
	Open, Idle, InUse int
	WaitCount         int64
}

// RecordDBPool 记录连接池快照
func (c *Collector) RecordDBPool(database string, s PoolStats) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(s.Open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(s.Idle))
	c.dbConnectionsInUse.WithLabelValues(database).Set(float64(s.InUse))
	c.dbWaitTotal.WithLabelValues(database).Set(float64(s.WaitCount))
}

// RecordDBUp 记录最近一次探测结果
func (c *Collector) RecordDBUp(database string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	c.dbUp.WithLabelValues(database).Set(v)
}

// =============================================================================
// 🔌 Completer 装饰
// =============================================================================

// InstrumentCompleter 包装 next，按调用记录耗时、状态与 token 用量。
func (c *Collector) InstrumentCompleter(next llm.Completer) llm.Completer {
	return &instrumented{next: next, c: c}
}

type instrumented struct {
	next llm.Completer
	c    *Collector
}

func (i *instrumented) Name() string { return i.next.Name() }

func (i *instrumented) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	start := time.Now()
	model := req.Model
	if model == "" {
		model = "default"
	}
	src, err := i.next.Stream(ctx, req)
	if err != nil {
		i.c.RecordLLMRequest(i.next.Name(), model, "error", time.Since(start), 0, 0)
		return nil, err
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		status := "success"
		var usage llm.ChatUsage
		defer func() {
			i.c.RecordLLMRequest(i.next.Name(), model, status, time.Since(start), usage.PromptTokens, usage.CompletionTokens)
		}()
		for chunk := range src {
			if chunk.Err != nil {
				status = "error"
			}
			if chunk.Usage != nil {
				usage.Add(*chunk.Usage)
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				status = "cancelled"
				// 排空上游，避免生产者阻塞
				for range src {
				}
				return
			}
		}
	}()
	return out, nil
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusClass 状态码归类为 2xx..5xx
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
