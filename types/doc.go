// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 agenttree 编排引擎的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent、llm、budget 等上层
模块提供统一的错误码与 context 传播工具，避免循环依赖。

# 核心类型

  - Error / ErrorCode：结构化错误体系，含 Retryable 标记与 Cause 链
  - Reason：将错误码映射为事件流中的人类可读原因

# Context 传播

WithRequestID / WithAgentID / WithBotID 以及对应的读取函数。
*/
package types
