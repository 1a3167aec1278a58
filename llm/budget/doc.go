// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 budget 提供请求级的 Token 预算账本（Budget Ledger）。

# 概述

每个根请求拥有一个 Ledger，整棵 Agent 树的所有后代以引用方式共享它。
账本记录 limit、consumed 与 outstanding（未结清的预留），并保证
consumed 永远不超过 limit。

# 核心接口

  - Ledger：Reserve / Commit / Release / Charge / Status，以及运维操作
    RaiseLimit 与 Resume。
  - Reservation：Reserve 返回的令牌；Release 幂等。
  - Allowance：Agent Context 中的 budget handle，根节点逐次预留，
    子节点从 spawn 预留中支取。
  - Pricing：基于 decimal 的费用换算。

# 阈值与暂停

consumed 首次达到 80%、90% 时各触发一次 AlertWarning；达到 100% 时触发
AlertExceeded 并暂停账本，此后 Reserve 返回 ErrBudgetPaused。账本不会
自动恢复，必须由运维调用 RaiseLimit 后再调用 Resume。

# 使用方式

	ledger := budget.NewLedger(budget.LedgerConfig{RequestID: id, Limit: 200000}, logger)
	ledger.OnAlert(func(a budget.Alert) { ... })

	res, err := ledger.Reserve(20000)
	if err != nil {
	    // ErrBudgetExceeded 或 ErrBudgetPaused
	}
	_ = ledger.Commit(res, 12500)
*/
package budget
