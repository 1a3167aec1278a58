// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 openai 基于 openai-go 提供 OpenAI Chat Completions 的 llm.Completer 实现。
兼容 OpenAI 协议的服务（通过 BaseURL 指定）同样适用。

# 支持能力

  - 流式 Chat Completions，stream_options.include_usage 获取用量
  - Organization header 支持
  - SDK 返回的 *openai.Error 按状态码映射为 llm.Error
*/
package openai
