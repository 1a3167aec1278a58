// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 打开运行记录存储使用的 GORM 数据库并管理连接池。

# 核心类型

  - Dialector：按驱动名（postgres、mysql、sqlite、sqlite3）选择 GORM 方言。
  - Open：打开数据库并返回 PoolManager。
  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、Stats()、
    Close()，后台定时健康检查。
  - PoolConfig：连接池配置。
*/
package database
