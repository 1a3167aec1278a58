package config

import (
	"fmt"
	"strings"

	"github.com/BaSui01/agenttree/agent"
	"github.com/BaSui01/agenttree/agent/cycle"
	"github.com/BaSui01/agenttree/agent/hierarchical"
	"github.com/BaSui01/agenttree/agent/persistence"
	"github.com/BaSui01/agenttree/agent/workspace"
	"github.com/BaSui01/agenttree/internal/database"
	"github.com/BaSui01/agenttree/internal/redisconn"
	"github.com/BaSui01/agenttree/llm/budget"
	"github.com/BaSui01/agenttree/llm/circuitbreaker"
	"github.com/BaSui01/agenttree/llm/factory"
	"github.com/BaSui01/agenttree/llm/retry"
)

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		errs = append(errs, "rate limit must not be negative")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	} else if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.HTTPPort {
		errs = append(errs, "metrics port must differ from HTTP port")
	}
	if c.Orchestrator.RunRetention < 0 {
		errs = append(errs, "orchestrator.run_retention must not be negative")
	}

	// 深度上限是平台不变量，不可配置
	if c.Orchestrator.MaxDepth != agent.MaxDepth {
		errs = append(errs, fmt.Sprintf("orchestrator.max_depth is fixed at %d, got %d", agent.MaxDepth, c.Orchestrator.MaxDepth))
	}
	switch c.Orchestrator.RunStore {
	case "memory", "gorm", "mongo":
	default:
		errs = append(errs, fmt.Sprintf("unknown orchestrator.run_store %q", c.Orchestrator.RunStore))
	}
	switch c.Workspace.Store {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unknown workspace.store %q", c.Workspace.Store))
	}
	if c.Cycle.Window <= 0 || c.Cycle.Threshold <= 0 || c.Cycle.Threshold > 1 {
		errs = append(errs, "cycle.window must be positive and cycle.threshold in (0, 1]")
	}
	if c.Retry.MaxRetries < 0 || c.Retry.Multiplier < 1 {
		errs = append(errs, "retry.max_retries must not be negative and retry.multiplier at least 1")
	}
	if c.CircuitBreaker.Threshold <= 0 || c.CircuitBreaker.HalfOpenMaxCalls <= 0 {
		errs = append(errs, "circuit_breaker.threshold and half_open_max_calls must be positive")
	}
	if _, err := c.HierarchicalConfig(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// HierarchicalConfig 转换为编排器配置
func (c *Config) HierarchicalConfig() (hierarchical.Config, error) {
	pricing, err := budget.NewPricing(c.Budget.PricePerMillion)
	if err != nil {
		return hierarchical.Config{}, err
	}
	o := c.Orchestrator
	hc := hierarchical.Config{
		MaxFanOut:        o.MaxFanOut,
		MaxChildren:      o.MaxChildren,
		RequestBudget:    c.Budget.RequestBudget,
		DefaultEstimate:  c.Budget.DefaultEstimate,
		NodeTimeout:      o.NodeTimeout,
		MaxSteps:         o.MaxSteps,
		SequentialPolicy: hierarchical.SequentialPolicy(o.SequentialPolicy),
		PauseWait:        o.PauseWait,
		Model:            o.Model,
		MaxTokens:        o.MaxTokens,
		SystemPrompt:     o.SystemPrompt,
		Pricing:          pricing,
		Cycle:            cycle.Config{Window: c.Cycle.Window, Threshold: c.Cycle.Threshold},
		Retry: &retry.RetryPolicy{
			MaxRetries:   c.Retry.MaxRetries,
			InitialDelay: c.Retry.InitialDelay,
			MaxDelay:     c.Retry.MaxDelay,
			Multiplier:   c.Retry.Multiplier,
			Jitter:       c.Retry.Jitter,
		},
		Breaker: &circuitbreaker.Config{
			Threshold:        c.CircuitBreaker.Threshold,
			ResetTimeout:     c.CircuitBreaker.ResetTimeout,
			HalfOpenMaxCalls: c.CircuitBreaker.HalfOpenMaxCalls,
		},
	}
	if err := hc.Validate(); err != nil {
		return hierarchical.Config{}, err
	}
	return hc, nil
}

// StoreConfig 转换为运行记录存储配置
func (c *Config) StoreConfig() persistence.StoreConfig {
	sc := persistence.DefaultStoreConfig()
	sc.Type = persistence.StoreType(c.Orchestrator.RunStore)
	sc.Gorm.AutoMigrate = c.Database.AutoMigrate
	sc.Cleanup = persistence.CleanupConfig{
		Enabled:   c.Orchestrator.RunRetention > 0,
		Interval:  c.Orchestrator.CleanupInterval,
		Retention: c.Orchestrator.RunRetention,
	}
	sc.Mongo = persistence.MongoStoreConfig{
		URI:        c.Mongo.URI,
		Database:   c.Mongo.Database,
		Collection: c.Mongo.Collection,
	}
	return sc
}

// PoolConfig 转换为数据库连接池配置
func (c *Config) PoolConfig() database.PoolConfig {
	pc := database.DefaultPoolConfig()
	pc.MaxOpenConns = c.Database.MaxOpenConns
	pc.MaxIdleConns = c.Database.MaxIdleConns
	pc.ConnMaxLifetime = c.Database.ConnMaxLifetime
	pc.SlowQueryThreshold = c.Database.SlowQueryThreshold
	return pc
}

// RedisStoreConfig 转换为 Redis 工作区存储配置
func (c *Config) RedisStoreConfig() workspace.RedisStoreConfig {
	return workspace.RedisStoreConfig{KeyPrefix: c.Workspace.KeyPrefix, TTL: c.Workspace.TTL}
}

// RedisConnConfig 转换为 Redis 连接配置
func (c *Config) RedisConnConfig() redisconn.Config {
	rc := redisconn.DefaultConfig()
	rc.Addr = c.Redis.Addr
	rc.Password = c.Redis.Password
	rc.DB = c.Redis.DB
	rc.PoolSize = c.Redis.PoolSize
	rc.MinIdleConns = c.Redis.MinIdleConns
	rc.TLS = c.Redis.TLS
	return rc
}

// ProviderConfig 转换为 Provider 工厂配置
func (c *Config) ProviderConfig() factory.ProviderConfig {
	pc := factory.ProviderConfig{
		APIKey:     c.LLM.APIKey,
		BaseURL:    c.LLM.BaseURL,
		Model:      c.Orchestrator.Model,
		Timeout:    c.LLM.Timeout,
		MaxRetries: c.LLM.MaxRetries,
	}
	if c.LLM.Organization != "" {
		pc.Extra = map[string]any{"organization": c.LLM.Organization}
	}
	return pc
}
