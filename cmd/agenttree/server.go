package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/agenttree/agent/hierarchical"
	"github.com/BaSui01/agenttree/agent/persistence"
	"github.com/BaSui01/agenttree/api/handlers"
	"github.com/BaSui01/agenttree/config"
	"github.com/BaSui01/agenttree/internal/metrics"
	"github.com/BaSui01/agenttree/internal/server"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// pruneInterval 清理内存中已结束请求的间隔
const pruneInterval = time.Minute

// serverDeps 是 HTTP 层需要的运行时组件
type serverDeps struct {
	orch      *hierarchical.Orchestrator
	recorder  persistence.Recorder
	registry  *prometheus.Registry
	collector *metrics.Collector
	checks    []handlers.HealthCheck
}

// deps 从运行时取出 HTTP 层依赖
func (rt *Runtime) deps() serverDeps {
	d := serverDeps{
		orch:      rt.orch,
		recorder:  rt.recorder,
		registry:  rt.registry,
		collector: rt.collector,
		checks:    []handlers.HealthCheck{handlers.NewPingCheck("run_store", rt.recorder.Ping)},
	}
	if rt.redis != nil {
		d.checks = append(d.checks, handlers.Optional(handlers.NewPingCheck("workspace_redis", rt.redis.Ping)))
	}
	return d
}

// Server 是 AgentTree 的 HTTP 服务：API 端口与可选的独立 Metrics 端口
type Server struct {
	cfg    *config.Config
	deps   serverDeps
	logger *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager

	requests *handlers.RequestHandler
	events   *handlers.EventStreamHandler
	health   *handlers.HealthHandler

	// 限流器清理与请求清理的生命周期
	cancel context.CancelFunc
}

// NewServer 创建服务器并装配路由
func NewServer(cfg *config.Config, deps serverDeps, logger *zap.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	s.requests = handlers.NewRequestHandler(deps.orch, deps.recorder, cfg.Server.RequestRetention, logger)
	s.events = handlers.NewEventStreamHandler(s.requests, cfg.Server.AllowedOrigins, logger)
	s.health = handlers.NewHealthHandler(logger)
	for _, c := range deps.checks {
		s.health.RegisterCheck(c)
	}
	return s
}

// Handler 构建带中间件链的根 Handler；ctx 结束时后台清理协程退出
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	s.health.Register(mux, Version, BuildTime, GitCommit)
	s.requests.Register(mux)
	s.events.Register(mux)
	if s.cfg.Server.MetricsPort == 0 {
		mux.Handle("GET /metrics", s.metricsHandler())
	}

	go s.pruneLoop(ctx)

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		Instrument(s.logger, s.deps.collector),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)
}

func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.deps.registry, promhttp.HandlerOpts{
		ErrorLog:          zap.NewStdLog(s.logger.Named("metrics")),
		EnableOpenMetrics: true,
	})
}

// pruneLoop 周期性移除超过保留期的已结束请求
func (s *Server) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.requests.Prune(now); n > 0 {
				s.logger.Debug("pruned finished requests", zap.Int("count", n))
			}
		}
	}
}

// =============================================================================
// 🚀 启动与关闭
// =============================================================================

// Start 启动 HTTP 与 Metrics 服务器（非阻塞）
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.httpManager = server.NewManager(s.Handler(ctx), server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		DrainDelay:      s.cfg.Server.DrainDelay,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	s.health.RegisterCheck(handlers.NewPingCheck("http_server", s.httpManager.Ready))
	// 被劫持的 websocket 连接不受 Shutdown 管理，需要主动关闭
	s.httpManager.OnShutdown(s.events.Close)
	if err := s.httpManager.Start(); err != nil {
		cancel()
		return err
	}

	if s.cfg.Server.MetricsPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", s.metricsHandler())
		s.metricsManager = server.NewManager(mux, server.Config{
			Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     30 * time.Second,
			MaxHeaderBytes:  1 << 16,
			ShutdownTimeout: 5 * time.Second,
		}, s.logger.Named("metrics"))
		if err := s.metricsManager.Start(); err != nil {
			_ = s.httpManager.Shutdown(context.Background())
			cancel()
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	s.logger.Info("servers started",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort))
	return nil
}

// Wait 阻塞到 ctx 结束或服务器出错，然后关闭全部服务器
func (s *Server) Wait(ctx context.Context) error {
	err := s.httpManager.Wait(ctx)
	if s.metricsManager != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		err = errors.Join(err, s.metricsManager.Shutdown(shutdownCtx))
	}
	s.cancel()
	return err
}
