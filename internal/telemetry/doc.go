// Package telemetry 负责 OpenTelemetry 的接入。
//
// Init 按配置创建 OTLP gRPC 导出器；关闭时不连接外部服务。
// Providers.Tracer 交给编排器，每个 Agent 节点对应一个 span，
// 子节点是父节点的子 span。TreeMetrics 订阅事件总线，把节点执行、
// token 用量和根请求的预算利用率导出为 OTLP 指标。
package telemetry
