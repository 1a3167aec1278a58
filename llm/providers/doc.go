// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 providers 是各模型服务商适配器的公共基础层。子包 openai 与 anthropic
基于官方 SDK 实现 llm.Completer 流式补全接口，本包提供它们共享的配置、
错误映射与流发送辅助。

# 核心类型

  - BaseProviderConfig：所有 Provider 共享的基础配置（APIKey、BaseURL、Model、Timeout、MaxRetries）
  - OpenAIConfig / ClaudeConfig：服务商专属配置

# 核心函数

  - MapHTTPError：将 HTTP 状态码映射为语义化的 llm.Error（含 Retryable 标记）
  - TransportError：无状态码的传输失败，按可重试的上游错误处理
  - Send：受 ctx 约束的流块发送
  - SplitSystem：拆分 system 消息
  - ChooseModel：按优先级选择模型（请求 > 默认 > 兜底）
*/
package providers
