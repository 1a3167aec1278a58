// Copyright 2024 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package agent 定义层级 Agent 树的核心类型。

# 概述

一次用户请求由一个根 Agent 处理。任一深度小于 MaxDepth 的 Agent 可以把
工作委派给子 Agent，子 Agent 的结果以 SubAgentResult 按值返回给父节点。
整棵树共享一个 token 预算账本（llm/budget）与一个可选的共享工作区
（agent/workspace）。

# 核心类型

  - AgentContext：节点身份、深度、祖先链以及预算与工作区引用
  - SpawnRequest / SubAgentResult：委派请求与子节点结果
  - StateMachine：Created → Running → Completed / Failed / Cancelled，
    以及 Running ⇄ BudgetPaused
  - Bus：生命周期与预算事件的多订阅者总线，发布从不阻塞

编排逻辑位于 agent/hierarchical，运行记录持久化位于 agent/persistence。
*/
package agent
