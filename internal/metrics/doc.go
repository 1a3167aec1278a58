// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、LLM、
Agent 树与数据库四个维度。

# 概述

Collector 通过 promauto.With 将指标注册到调用方给定的 Registerer，
所有指标按 namespace 隔离。Agent 树指标由事件总线驱动：Attach 订阅
全部事件，Observe 按事件类型更新计数器与直方图。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - HTTP 指标：请求总数与耗时，状态码归类为 2xx/3xx/4xx/5xx。
  - LLM 指标：InstrumentCompleter 包装 llm.Completer，记录调用次数、
    耗时与 Token 用量（prompt/completion）。
  - Agent 指标：spawn 数、执行结果、耗时与 token 用量按深度分组；
    运行中 Agent 数 Gauge；预算/环路/深度事件计数；总线丢弃计数。
  - 数据库指标：活跃/空闲连接数 Gauge。
*/
package metrics
