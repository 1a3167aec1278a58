// Package api 定义 AgentTree HTTP API 的请求与响应结构。
//
// # API Overview
//
//	POST   /v1/requests               启动根请求
//	GET    /v1/requests/{id}          节点树、结果与预算
//	DELETE /v1/requests/{id}          取消整棵树
//	GET    /v1/requests/{id}/budget   账本状态
//	POST   /v1/requests/{id}/budget   运维提高上限 / 恢复
//	GET    /v1/requests/{id}/events   事件流（websocket）
//	GET    /health, /ready, /metrics
//
// 处理器实现位于 api/handlers。
package api
