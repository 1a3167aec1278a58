// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 redisconn 管理共享工作区 Redis 存储所用的连接。

Manager 封装 go-redis 客户端：建连时 ping，按间隔做健康检查，
可选使用 tlsutil 的加固 TLS 配置。workspace.NewRedisStore 通过
Manager.Client 取得客户端，就绪检查使用 Manager.Ping。
*/
package redisconn
