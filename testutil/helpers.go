package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/agenttree/agent"
	"github.com/BaSui01/agenttree/llm"
)

const pollInterval = 10 * time.Millisecond

// TestContext 30 秒超时的上下文，随测试结束取消
func TestContext(t *testing.T) context.Context {
	return TestContextWithTimeout(t, 30*time.Second)
}

// TestContextWithTimeout 自定义超时的上下文，随测试结束取消
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// AssertEventuallyTrue 轮询直到 condition 为真，超时记为失败但不中止测试
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) bool {
	t.Helper()
	return assert.Eventually(t, condition, timeout, pollInterval)
}

// AwaitSubscriber 等到总线订阅者数量超过 base。
// 用于 websocket 事件流：先确认服务端已订阅，再放行节点。
func AwaitSubscriber(t *testing.T, bus *agent.Bus, base int) {
	t.Helper()
	AssertEventuallyTrue(t, func() bool { return bus.Subscribers() > base }, 2*time.Second)
}

// WaitForChannel 从 ch 接收一个值，超时返回 false
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-ch:
		return v, true
	case <-timer.C:
		var zero T
		return zero, false
	}
}

// LastUserMessage 请求中最后一条 user 消息。
// 节点把子任务结果与工具输出都以 user 消息回填，脚本化补全据此判断进展。
func LastUserMessage(req *llm.ChatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == llm.RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}
