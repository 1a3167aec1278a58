// =============================================================================
// AgentTree 主入口
// =============================================================================
// 层级 Agent 编排服务入口点：单次运行、HTTP 服务、数据库迁移
//
// 使用方法:
//
//	agenttree run --bot support --task "..."   # 运行一个根请求并渲染事件流
//	agenttree serve                             # 启动服务
//	agenttree serve --config config.yaml        # 指定配置文件
//	agenttree migrate up                        # 运行数据库迁移
//	agenttree migrate status                    # 查看迁移状态
//	agenttree version                           # 显示版本信息
//	agenttree health                            # 健康检查
// =============================================================================

// @title AgentTree API
// @version 1.0.0
// @description AgentTree runs hierarchical agent trees: a root agent spawns sub-agents
// @description that share one token budget ledger and an optional shared workspace.
// @description
// @description ## Features
// @description - Root requests with operator budget controls (raise limit, resume)
// @description - Live agent tree events over websocket
// @description - Health monitoring and Prometheus metrics

// @contact.name AgentTree Team
// @contact.url https://github.com/BaSui01/agenttree

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agenttree/agent/hierarchical"
	"github.com/BaSui01/agenttree/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(runRun(os.Args[2:]))
	case "serve":
		os.Exit(runServe(os.Args[2:]))
	case "migrate":
		os.Exit(runMigrate(os.Args[2:]))
	case "version":
		printVersion()
	case "health":
		os.Exit(runHealthCheck(os.Args[2:]))
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// loadConfig 加载配置，Loader 内已做校验
func loadConfig(path string) (*config.Config, error) {
	return config.NewLoader().WithConfigPath(path).Load()
}

// =============================================================================
// ▶️ run 命令
// =============================================================================

func runRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	botID := fs.String("bot", "default", "Bot ID recorded with the request")
	task := fs.String("task", "", "Task for the root agent")
	input := fs.String("input", "", "Optional input passed to the root agent")
	budgetLimit := fs.Int64("budget", 0, "Token budget for the request (default: from config)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *task == "" {
		fmt.Fprintln(os.Stderr, "--task is required")
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	// 终端渲染占用 stdout，日志默认只写 stderr
	if len(cfg.Log.OutputPaths) == 0 || cfg.Log.OutputPaths[0] == "stdout" {
		cfg.Log.OutputPaths = []string{"stderr"}
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := NewRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize runtime", zap.Error(err))
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := rt.Close(closeCtx); err != nil {
			logger.Warn("runtime close failed", zap.Error(err))
		}
	}()

	opts := []hierarchical.RunOption{hierarchical.WithInput(*input)}
	if *budgetLimit > 0 {
		opts = append(opts, hierarchical.WithBudget(*budgetLimit))
	}
	handle, err := rt.Orchestrator().RunRequest(ctx, *botID, *task, opts...)
	if err != nil {
		logger.Error("failed to start request", zap.Error(err))
		return 1
	}
	sub := handle.Subscribe()

	r := NewRenderer(os.Stdout)
	res := follow(ctx, handle, sub, r)
	r.Summary(res, handle.Budget(), handle.Tree())

	if !res.Succeeded() {
		return 1
	}
	return 0
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting AgentTree",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := NewRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize runtime", zap.Error(err))
		return 1
	}

	srv := NewServer(cfg, rt.deps(), logger)
	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", zap.Error(err))
		_ = rt.Close(context.Background())
		return 1
	}

	code := 0
	if err := srv.Wait(ctx); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		code = 1
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := rt.Close(closeCtx); err != nil {
		logger.Warn("runtime close failed", zap.Error(err))
	}

	logger.Info("AgentTree stopped")
	return code
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	ready := fs.Bool("ready", false, "Check readiness (dependencies) instead of liveness")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	path := "/health"
	if *ready {
		path = "/ready"
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	fmt.Println("OK")
	return 0
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("AgentTree %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`AgentTree - Hierarchical Agent Orchestration

Usage:
  agenttree <command> [options]

Commands:
  run       Run one root request and render its events
  serve     Start the AgentTree server
  migrate   Database migration commands
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'run':
  --config <path>   Path to configuration file (YAML)
  --bot <id>        Bot ID recorded with the request
  --task <text>     Task for the root agent (required)
  --input <text>    Optional input for the root agent
  --budget <n>      Token budget (default: budget.request_budget)

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Examples:
  agenttree run --task "Summarise the open incidents"
  agenttree serve --config /etc/agenttree/config.yaml
  agenttree migrate up
  agenttree health --addr http://localhost:8080 --ready
  agenttree version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
