// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 定义编排引擎与模型服务之间的最小接入契约。

# 概述

节点只需要一件事：把一组消息发给模型，拿到流式输出与 token 用量。
本包因此只暴露流式补全接口与统一的错误语义，具体服务商的适配放在
llm/providers 下。

# 核心接口

  - [Completer]：流式补全接口，返回 [StreamChunk] 通道
  - [Collect]：消费流并聚合为 [Completion]，末尾分片携带 [ChatUsage]

# 错误语义

[ErrorFromStatus] 把 HTTP 状态码归一为 [ErrorCode]；[IsRetryable]
判断错误是否值得交给 llm/retry 重试。限流、超时与 5xx 视为可重试，
鉴权与请求错误不可重试。

# 相关子包

  - llm/providers：Anthropic 与 OpenAI SDK 适配
  - llm/factory：按配置名构造 Completer
  - llm/budget：请求级 token 账本与子预算
  - llm/tokenizer：token 计数（tiktoken 与估算）
  - llm/retry：指数退避重试
  - llm/circuitbreaker：按提供商分组的熔断器
  - llm/tools：工具注册表、权限与限流
*/
package llm
