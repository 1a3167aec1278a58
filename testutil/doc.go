// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 agenttree 测试的共享辅助函数。

  - TestContext / TestContextWithTimeout：随测试结束自动取消的上下文
  - AssertEventuallyTrue / AwaitSubscriber / WaitForChannel：异步等待
  - LastUserMessage：脚本化补全读取节点最近一次回填

子包 testutil/mocks 提供 MockCompleter（补全能力，可按请求脚本化响应、
阻塞直到取消或注入错误）与 MockInvoker（工具调用能力）。

	completer := mocks.NewMockCompleter().WithResponse(`{"action":"answer","answer":"ok"}`)
*/
package testutil
