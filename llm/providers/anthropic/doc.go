// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 claude 基于 anthropic-sdk-go 提供 Anthropic Claude 的 llm.Completer 实现。

# 协议差异

  - system 消息从 messages 数组中提取，单独传递到 system 字段
  - 流式事件（message_start / content_block_delta / message_delta）由 SDK
    累积为完整消息，用量与 stop_reason 在流结束后一次性下发
  - SDK 返回的 *anthropic.Error 按状态码映射为 llm.Error
*/
package claude
