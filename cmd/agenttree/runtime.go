package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/agenttree/agent"
	"github.com/BaSui01/agenttree/agent/hierarchical"
	"github.com/BaSui01/agenttree/agent/persistence"
	"github.com/BaSui01/agenttree/agent/workspace"
	"github.com/BaSui01/agenttree/config"
	"github.com/BaSui01/agenttree/internal/database"
	"github.com/BaSui01/agenttree/internal/metrics"
	"github.com/BaSui01/agenttree/internal/redisconn"
	"github.com/BaSui01/agenttree/internal/telemetry"
	"github.com/BaSui01/agenttree/llm/circuitbreaker"
	llmfactory "github.com/BaSui01/agenttree/llm/factory"
	"github.com/BaSui01/agenttree/llm/tools"
)

// =============================================================================
// 🧩 运行时组装
// =============================================================================

// poolStatsInterval 连接池指标的采样间隔
const poolStatsInterval = 15 * time.Second

// Runtime 持有一个编排器及其全部依赖，run 与 serve 共用
type Runtime struct {
	cfg    *config.Config
	logger *zap.Logger

	registry   *prometheus.Registry
	collector  *metrics.Collector
	telemetry  *telemetry.Providers
	db         *database.PoolManager
	redis      *redisconn.Manager
	recorder   persistence.Recorder
	bus        *agent.Bus
	metricsSub *agent.Subscription
	otelSub    *agent.Subscription
	tools      *tools.Registry
	orch       *hierarchical.Orchestrator

	cancel context.CancelFunc
}

// NewRuntime 按配置连接存储、创建 Provider 并启动编排器。
// 失败时已打开的资源会被关闭。
func NewRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	bgCtx, cancel := context.WithCancel(context.Background())
	rt := &Runtime{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		cancel:   cancel,
	}
	if err := rt.init(ctx, bgCtx); err != nil {
		_ = rt.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) init(ctx, bgCtx context.Context) error {
	cfg, logger := rt.cfg, rt.logger

	// 1. 指标与追踪
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt.collector = metrics.NewCollector("agenttree", rt.registry, logger)

	providers, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	} else {
		rt.telemetry = providers
	}

	// 2. 补全 Provider
	completer, err := llmfactory.NewCompleterFromConfig(cfg.LLM.DefaultProvider, cfg.ProviderConfig(), logger)
	if err != nil {
		return fmt.Errorf("create completion provider: %w", err)
	}
	completer = rt.collector.InstrumentCompleter(completer)

	hc, err := cfg.HierarchicalConfig()
	if err != nil {
		return err
	}
	hc.Breaker.OnStateChange = rt.collector.RecordBreakerState
	breakers := circuitbreaker.NewGroup(hc.Breaker, logger)

	// 3. 运行记录
	var gormDB *gorm.DB
	if cfg.Orchestrator.RunStore == string(persistence.StoreTypeGorm) {
		rt.db, err = database.Open(cfg.Database.Driver, cfg.Database.DSN(), cfg.PoolConfig(), logger)
		if err != nil {
			return fmt.Errorf("open run database: %w", err)
		}
		gormDB = rt.db.DB()
	}
	storeCfg := cfg.StoreConfig()
	rt.recorder, err = persistence.NewRecorder(ctx, storeCfg, gormDB, logger)
	if err != nil {
		return fmt.Errorf("create run store: %w", err)
	}
	persistence.StartCleanup(bgCtx, rt.recorder, storeCfg.Cleanup, logger)

	// 4. 共享工作区
	var store workspace.Store = workspace.NewMemoryStore()
	if cfg.Workspace.Store == "redis" {
		rt.redis, err = redisconn.NewManager(ctx, cfg.RedisConnConfig(), logger)
		if err != nil {
			return err
		}
		store = workspace.NewRedisStore(rt.redis.Client(), cfg.RedisStoreConfig())
	}

	// 5. 事件总线
	rt.bus = agent.NewBus(agent.BusConfig{
		BufferSize: cfg.Orchestrator.EventBuffer,
		OnDrop:     rt.collector.RecordDroppedEvent,
	}, logger)
	rt.metricsSub = rt.collector.Attach(rt.bus)
	if rt.telemetry.Enabled() {
		tm, err := telemetry.NewTreeMetrics(rt.telemetry.Meter())
		if err != nil {
			return fmt.Errorf("register tree metrics: %w", err)
		}
		rt.otelSub = tm.Attach(rt.bus)
	}

	// 6. 工具
	rt.tools = tools.NewRegistry(logger)
	if err := registerBuiltinTools(rt.tools); err != nil {
		return err
	}

	opts := []hierarchical.Option{
		hierarchical.WithInvoker(tools.NewLocalInvoker(rt.tools, logger)),
		hierarchical.WithCatalog(rt.tools),
		hierarchical.WithRecorder(rt.recorder),
		hierarchical.WithBus(rt.bus),
		hierarchical.WithWorkspaceStore(store),
		hierarchical.WithBreakers(breakers),
	}
	if rt.telemetry != nil {
		opts = append(opts, hierarchical.WithTracer(rt.telemetry.Tracer()))
	}
	rt.orch, err = hierarchical.New(hc, completer, logger, opts...)
	if err != nil {
		return err
	}

	go rt.reportPoolStats(bgCtx)

	logger.Info("runtime ready",
		zap.String("provider", cfg.LLM.DefaultProvider),
		zap.String("run_store", cfg.Orchestrator.RunStore),
		zap.String("workspace_store", cfg.Workspace.Store),
		zap.Int("tools", len(rt.tools.List())),
	)
	return nil
}

// reportPoolStats 周期性把连接池状态写入指标
func (rt *Runtime) reportPoolStats(ctx context.Context) {
	if rt.db == nil && rt.redis == nil {
		return
	}
	ticker := time.NewTicker(poolStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rt.db != nil {
				s := rt.db.Stats()
				rt.collector.RecordDBPool("runs", metrics.PoolStats{
					Open: s.OpenConnections, Idle: s.Idle, InUse: s.InUse, WaitCount: s.WaitCount,
				})
				up, _ := rt.db.Healthy()
				rt.collector.RecordDBUp("runs", up)
			}
			if rt.redis != nil {
				s := rt.redis.Stats()
				rt.collector.RecordDBPool("workspace", metrics.PoolStats{
					Open: int(s.TotalConns), Idle: int(s.IdleConns),
					InUse: int(s.TotalConns - s.IdleConns), WaitCount: int64(s.Timeouts),
				})
			}
		}
	}
}

// Orchestrator 返回编排器
func (rt *Runtime) Orchestrator() *hierarchical.Orchestrator { return rt.orch }

// Recorder 返回运行记录存储
func (rt *Runtime) Recorder() persistence.Recorder { return rt.recorder }

// Registry 返回 /metrics 使用的 Prometheus 注册表
func (rt *Runtime) Registry() *prometheus.Registry { return rt.registry }

// Collector 返回指标收集器
func (rt *Runtime) Collector() *metrics.Collector { return rt.collector }

// Close 按依赖的逆序关闭：先让运行中的请求结束，再关存储与遥测
func (rt *Runtime) Close(ctx context.Context) error {
	rt.cancel()

	var errs []error
	if rt.orch != nil {
		if err := rt.orch.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("orchestrator: %w", err))
		}
	}
	for _, sub := range []*agent.Subscription{rt.metricsSub, rt.otelSub} {
		if sub != nil {
			sub.Cancel()
		}
	}
	if rt.bus != nil {
		rt.bus.Close()
	}
	if rt.recorder != nil {
		if err := rt.recorder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("run store: %w", err))
		}
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("run database: %w", err))
		}
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if rt.telemetry != nil {
		if err := rt.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
	}
	return errors.Join(errs...)
}
