// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 AgentTree API 服务器的生命周期管理：非阻塞启动、
优雅关闭与错误传播。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与异步错误通道，
    提供 Start/Shutdown/Wait 等生命周期方法。
  - Config：监听地址、读写超时、空闲超时、最大请求头与关闭超时。

# 主要能力

  - Wait 配合 signal.NotifyContext 使用，收到信号或服务异常后关闭。
  - OnShutdown 注册关闭钩子，用于结束已被 websocket 接管的事件流。
  - Addr 在监听 ":0" 时返回实际端口。
*/
package server
