// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 AgentTree 的程序入口。

# 概述

cmd/agenttree 组装层级编排器及其依赖（补全 Provider、运行记录存储、
共享工作区、事件总线、熔断器、指标与追踪），并提供 run、serve、
migrate、version、health 子命令。

# 核心类型

  - Runtime：按配置连接存储并创建编排器，run 与 serve 共用
  - Server：HTTP API 与独立 Metrics 端口，负责优雅关闭
  - Renderer：把事件流渲染到终端
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - run：启动一个根请求，渲染事件流，输出结果与预算
  - serve：/v1/requests 系列端点、websocket 事件流、/health、/metrics
  - 中间件链：Recovery、RequestID、SecurityHeaders、Instrument
    （span + 指标 + 访问日志）、RateLimiter（基于 IP）
  - 内置工具：current_time、http_fetch（需要 net 权限）
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
