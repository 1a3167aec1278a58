package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrDraining 服务器已开始排空，不再接收新的根请求
var ErrDraining = errors.New("server is draining")

// Config 监听与关闭参数
type Config struct {
	// 监听地址，":0" 表示随机端口
	Addr string `yaml:"addr" json:"addr"`

	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes" json:"max_header_bytes"`

	// DrainDelay 收到停止信号后先让就绪探针失败，等待负载均衡摘除，再开始关闭
	DrainDelay time.Duration `yaml:"drain_delay" json:"drain_delay"`
	// ShutdownTimeout 超时后仍未结束的连接被强制关闭
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Manager 一个 http.Server 的生命周期：Start → (Draining) → Shutdown
type Manager struct {
	srv    *http.Server
	config Config
	logger *zap.Logger
	errCh  chan error

	draining atomic.Bool

	mu       sync.RWMutex
	listener net.Listener
	closed   bool
}

// NewManager 创建管理器，handler 在 Start 后开始服务
func NewManager(handler http.Handler, config Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		srv: &http.Server{
			Addr:           config.Addr,
			Handler:        handler,
			ReadTimeout:    config.ReadTimeout,
			WriteTimeout:   config.WriteTimeout,
			IdleTimeout:    config.IdleTimeout,
			MaxHeaderBytes: config.MaxHeaderBytes,
			ErrorLog:       zap.NewStdLog(logger.Named("net/http")),
		},
		config: config,
		logger: logger.With(zap.String("component", "http_server")),
		errCh:  make(chan error, 1),
	}
}

// OnShutdown 注册关闭钩子。
// 被 websocket 劫持的连接不受 Shutdown 排空，事件流通过钩子自行关闭。
func (m *Manager) OnShutdown(fn func()) {
	m.srv.RegisterOnShutdown(fn)
}

// Start 监听并在后台服务
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed:
		return fmt.Errorf("server is closed")
	case m.listener != nil:
		return fmt.Errorf("server already started on %s", m.listener.Addr())
	}

	ln, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.config.Addr, err)
	}
	m.listener = ln
	m.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("serve failed", zap.Error(err))
			select {
			case m.errCh <- err:
			default:
			}
		}
	}()
	return nil
}

// Drain 标记为排空中；Ready 从此返回 ErrDraining
func (m *Manager) Drain() {
	if m.draining.CompareAndSwap(false, true) {
		m.logger.Info("draining", zap.Duration("delay", m.config.DrainDelay))
	}
}

// Ready 未排空且未关闭时返回 nil，可直接作为就绪检查
func (m *Manager) Ready(context.Context) error {
	if m.draining.Load() || !m.IsRunning() {
		return ErrDraining
	}
	return nil
}

// Shutdown 优雅关闭，重复调用为空操作
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.draining.Store(true)

	ctx, cancel := context.WithTimeout(ctx, m.config.ShutdownTimeout)
	defer cancel()
	if err := m.srv.Shutdown(ctx); err != nil {
		m.logger.Error("graceful shutdown failed, forcing close", zap.Error(err))
		_ = m.srv.Close()
		return err
	}
	m.logger.Info("stopped")
	return nil
}

// Wait 阻塞到 ctx 结束或服务异常退出，随后排空并关闭。
// 服务异常时返回该错误。
func (m *Manager) Wait(ctx context.Context) error {
	var serveErr error
	select {
	case <-ctx.Done():
		m.logger.Info("shutdown requested", zap.Error(context.Cause(ctx)))
		m.Drain()
		if m.config.DrainDelay > 0 {
			time.Sleep(m.config.DrainDelay)
		}
	case serveErr = <-m.errCh:
	}

	// 父 ctx 已结束，关闭用独立的 ctx
	if err := m.Shutdown(context.WithoutCancel(ctx)); err != nil {
		return errors.Join(serveErr, err)
	}
	return serveErr
}

// Errors 异步服务错误
func (m *Manager) Errors() <-chan error { return m.errCh }

// Addr 实际监听地址；未启动时返回配置地址
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.config.Addr
}

// IsRunning 尚未关闭
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}
