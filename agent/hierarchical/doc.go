// Package hierarchical 提供层次化 Agent 树的编排器。
//
// 根请求由 RunRequest 启动，根 Agent 可把任务委派给子 Agent，子 Agent 可继续委派，
// 深度上限为 agent.MaxDepth。每个节点运行推理循环：预算申请 → 熔断 → 重试 →
// 流式补全 → 决策解析（answer / tool / read / write / spawn）。
//
// Spawn 负责深度检查、请求校验、逐个子 Agent 的预算预留与循环检测，
// 然后按顺序或并行（errgroup + semaphore，最多 MaxFanOut 个并发）执行，
// 并把子 Agent 的结果原样返回给父节点，由父节点在对话中综合。
package hierarchical
