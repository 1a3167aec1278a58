package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/agenttree/agent"
	"github.com/BaSui01/agenttree/config"
	"github.com/BaSui01/agenttree/llm/budget"
)

// keepGlobals 在测试结束时恢复全局 provider
func keepGlobals(t *testing.T) {
	t.Helper()
	tp, mp := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	})
}

// shutdownSoon 没有 collector 在监听，关闭只给一秒
func shutdownSoon(t *testing.T, p *Providers) {
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
}

func TestInit_Disabled(t *testing.T) {
	keepGlobals(t)

	p, err := Init(context.Background(), config.TelemetryConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.Nil(t, p.tp)
	assert.Nil(t, p.mp)
	assert.NotNil(t, p.Tracer())
	assert.NotNil(t, p.Meter())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_Enabled(t *testing.T) {
	keepGlobals(t)

	p, err := Init(context.Background(), config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "agenttree-test",
		SampleRate:   1,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	shutdownSoon(t, p)

	assert.True(t, p.Enabled())
	_, isSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, isSDK)
	_, isSDK = otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, isSDK)

	_, span := p.Tracer().Start(context.Background(), "probe")
	defer span.End()
	assert.True(t, span.SpanContext().IsSampled())
}

func TestInit_NilLogger(t *testing.T) {
	keepGlobals(t)

	p, err := Init(context.Background(), config.TelemetryConfig{Enabled: true, OTLPEndpoint: "localhost:4317"}, nil)
	require.NoError(t, err)
	shutdownSoon(t, p)

	// 采样率为 0 时根 span 不采样，但 span 上下文有效
	_, span := p.Tracer().Start(context.Background(), "probe")
	defer span.End()
	assert.True(t, span.SpanContext().IsValid())
	assert.False(t, span.SpanContext().IsSampled())
}

func TestProviders_NilSafe(t *testing.T) {
	var p *Providers
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.NotNil(t, p.Tracer())
}

func TestBuildVersion(t *testing.T) {
	assert.Equal(t, "dev", buildVersion())
}

// =============================================================================
// 树指标
// =============================================================================

func newManualMetrics(t *testing.T) (*TreeMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	p := &Providers{mp: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	m, err := NewTreeMetrics(p.Meter())
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestTreeMetrics_Observe(t *testing.T) {
	m, reader := newManualMetrics(t)
	ctx := context.Background()

	m.Observe(ctx, agent.Event{Kind: agent.EventSpawned, Depth: 1})
	m.Observe(ctx, agent.Event{
		Kind: agent.EventCompleted, AgentID: "child", ParentID: "root", Depth: 1,
		Status: agent.StatusSucceeded, Tokens: 300, Duration: 2 * time.Second,
	})
	m.Observe(ctx, agent.Event{
		Kind: agent.EventFailed, AgentID: "root", Depth: 0,
		Status: agent.StatusFailed, Tokens: 100, Duration: time.Second,
		Budget: &budget.Status{PercentUsed: 40},
	})
	m.Observe(ctx, agent.Event{Kind: agent.EventCycleDetected, Depth: 2})

	data := collect(t, reader)

	execs, ok := data["agenttree.agent.executions"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, execs.DataPoints, 2)
	for _, dp := range execs.DataPoints {
		assert.Equal(t, int64(1), dp.Value)
		status, _ := dp.Attributes.Value(attribute.Key("agent.status"))
		assert.Contains(t, []string{"succeeded", "failed"}, status.AsString())
	}

	tokens := data["agenttree.agent.tokens"].(metricdata.Sum[int64])
	var total int64
	for _, dp := range tokens.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(400), total)

	used := data["agenttree.request.budget_used"].(metricdata.Histogram[float64])
	require.Len(t, used.DataPoints, 1)
	assert.Equal(t, uint64(1), used.DataPoints[0].Count)
	assert.InDelta(t, 40.0, used.DataPoints[0].Sum, 1e-9)

	events := data["agenttree.tree.events"].(metricdata.Sum[int64])
	require.Len(t, events.DataPoints, 1)
	kind, _ := events.DataPoints[0].Attributes.Value(attribute.Key("event.kind"))
	assert.Equal(t, "cycle_detected", kind.AsString())
}

func TestTreeMetrics_Attach(t *testing.T) {
	m, reader := newManualMetrics(t)
	bus := agent.NewBus(agent.DefaultBusConfig(), zap.NewNop())
	defer bus.Close()

	sub := m.Attach(bus)
	defer sub.Cancel()
	bus.Publish(agent.Event{Kind: agent.EventDepthLimitReached, RequestID: "req-1", Depth: 3})

	require.Eventually(t, func() bool {
		sum, ok := collect(t, reader)["agenttree.tree.events"].(metricdata.Sum[int64])
		return ok && len(sum.DataPoints) == 1 && sum.DataPoints[0].Value == 1
	}, 2*time.Second, 10*time.Millisecond)
}
