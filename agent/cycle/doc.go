// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package cycle 对 spawn 尝试做指纹并沿祖先链检测重复或近似重复的子任务，
// 防止 Agent 树陷入循环委派。
package cycle
