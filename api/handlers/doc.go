// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 AgentTree HTTP API 的请求处理器实现。

# 概述

handlers 包把分层编排器暴露为 HTTP 端点：启动根请求、查询 Agent 树、
取消整棵树、运维调整预算，以及通过 websocket 订阅事件流。
所有 Handler 均遵循标准 net/http 接口，路由使用 Go 1.22 的方法+路径模式。

# 核心类型

  - RequestHandler：/v1/requests 系列端点，持有保留期内的根请求句柄
  - EventStreamHandler：/v1/requests/{id}/events，逐条推送 JSON 事件
  - HealthHandler：服务健康检查（/health, /healthz, /ready）
  - Response：统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo：结构化错误信息，含 code、message、retryable 标记
  - PingCheck：基于 ping 函数的 HealthCheck（运行记录库、Redis）

# 主要能力

  - 编排错误码 → HTTP 状态码自动映射（预算 409、环 422、超时 504 ...）
  - 请求验证：DecodeJSONBody（1 MB 限制 + 拒绝未知字段）
  - 超过保留期的请求回落到运行记录查询
*/
package handlers
