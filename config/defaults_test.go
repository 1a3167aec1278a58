package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agenttree/agent/hierarchical"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	// Each sub-config should be non-zero
	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, OrchestratorConfig{}, cfg.Orchestrator)
	assert.NotEqual(t, BudgetConfig{}, cfg.Budget)
	assert.NotEqual(t, CycleConfig{}, cfg.Cycle)
	assert.NotEqual(t, RetryConfig{}, cfg.Retry)
	assert.NotEqual(t, CircuitBreakerConfig{}, cfg.CircuitBreaker)
	assert.NotEqual(t, WorkspaceConfig{}, cfg.Workspace)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, MongoConfig{}, cfg.Mongo)
	assert.NotEqual(t, LLMConfig{}, cfg.LLM)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	assert.NoError(t, cfg.Validate())
}

// --- Individual Default*Config functions ---

func TestDefaultOrchestratorConfig(t *testing.T) {
	cfg := DefaultOrchestratorConfig()
	assert.Equal(t, 3, cfg.MaxDepth)
	assert.Equal(t, 5, cfg.MaxFanOut)
	assert.Equal(t, 5*time.Minute, cfg.NodeTimeout)
	assert.Equal(t, 8, cfg.MaxSteps)
	assert.Equal(t, "continue", cfg.SequentialPolicy)
	assert.Zero(t, cfg.PauseWait)
	assert.Equal(t, "memory", cfg.RunStore)
}

// 默认值与编排器自身的默认值保持一致
func TestDefaults_MatchHierarchicalDefaults(t *testing.T) {
	hc, err := DefaultConfig().HierarchicalConfig()
	require.NoError(t, err)
	want := hierarchical.DefaultConfig()

	assert.Equal(t, want.MaxFanOut, hc.MaxFanOut)
	assert.Equal(t, want.MaxChildren, hc.MaxChildren)
	assert.Equal(t, want.RequestBudget, hc.RequestBudget)
	assert.Equal(t, want.DefaultEstimate, hc.DefaultEstimate)
	assert.Equal(t, want.NodeTimeout, hc.NodeTimeout)
	assert.Equal(t, want.MaxSteps, hc.MaxSteps)
	assert.Equal(t, want.SequentialPolicy, hc.SequentialPolicy)
	assert.Equal(t, want.MaxTokens, hc.MaxTokens)
	assert.Equal(t, want.Cycle, hc.Cycle)
	assert.Equal(t, want.Retry.MaxRetries, hc.Retry.MaxRetries)
	assert.Equal(t, want.Retry.InitialDelay, hc.Retry.InitialDelay)
	assert.Equal(t, want.Retry.MaxDelay, hc.Retry.MaxDelay)
	assert.Equal(t, want.Breaker.Threshold, hc.Breaker.Threshold)
	assert.Equal(t, want.Breaker.ResetTimeout, hc.Breaker.ResetTimeout)
}

func TestDefaultRetryAndBreakerConfig(t *testing.T) {
	r := DefaultRetryConfig()
	assert.Equal(t, 3, r.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, r.InitialDelay)
	assert.Equal(t, 10*time.Second, r.MaxDelay)
	assert.Equal(t, 2.0, r.Multiplier)

	b := DefaultCircuitBreakerConfig()
	assert.Equal(t, 5, b.Threshold)
	assert.Equal(t, 30*time.Second, b.ResetTimeout)
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Empty(t, cfg.Password)
	assert.Equal(t, 0, cfg.DB)
	assert.Equal(t, 10, cfg.PoolSize)
}

func TestDefaultLogAndTelemetryConfig(t *testing.T) {
	l := DefaultLogConfig()
	assert.Equal(t, "info", l.Level)
	assert.Equal(t, "json", l.Format)
	assert.Equal(t, []string{"stdout"}, l.OutputPaths)

	tc := DefaultTelemetryConfig()
	assert.False(t, tc.Enabled)
	assert.Equal(t, "agenttree", tc.ServiceName)
	assert.Equal(t, 0.1, tc.SampleRate)
}
