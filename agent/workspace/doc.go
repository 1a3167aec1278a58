// Package workspace 提供请求级的共享草稿区（Workspace），
// 只有声明 shared 模式的 spawn 才会创建，根请求结束时丢弃。
//
// 合并策略为带写入者归属的 last-writer-wins；并行子 Agent 通过 OverlayView
// 在完成时提交，因此同一键的最终值为最后完成者的写入。
package workspace
