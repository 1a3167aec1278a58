// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理运行记录库（agent_runs 表）的 Schema 版本，支持
PostgreSQL、MySQL 与 SQLite，基于 golang-migrate 实现。

# 概述

各方言的 SQL 文件通过 embed.FS 内嵌在 migrations/<dialect>/ 下，
表结构与 agent/persistence.RunRecord 的 gorm 标签保持一致。
gorm 的 AutoMigrate 适合开发环境，生产环境使用本包执行版本化迁移。

# 核心接口与类型

  - Migrator：Up/Down/DownAll/Steps/Goto/Force/Version/Status/Info/Close。
  - DefaultMigrator：基于 golang-migrate 的实现，ctx 取消时在当前文件
    完成后停止。
  - CLI：`agenttree migrate <cmd>` 的分派与格式化输出。
  - NewMigratorFromConfig：从 config.DatabaseConfig 创建迁移器。
*/
package migration
