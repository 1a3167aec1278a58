// Package config 提供 AgentTree 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → AGENTTREE_* 环境变量 的顺序加载，
// 加载后运行 Validate。orchestrator.max_depth 固定为 3，其他值会被拒绝。
// HierarchicalConfig、StoreConfig、PoolConfig 等方法把各段配置转换为
// 对应组件的配置类型。
package config
