package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/BaSui01/agenttree/agent"
	"github.com/BaSui01/agenttree/agent/hierarchical"
	"github.com/BaSui01/agenttree/llm/budget"
)

// =============================================================================
// 🖨️ 终端事件渲染
// =============================================================================

// Renderer 把事件流渲染为按深度缩进的文本行
type Renderer struct {
	w     io.Writer
	start time.Time
}

// NewRenderer 创建渲染器
func NewRenderer(w io.Writer) *Renderer {
	return &Renderer{w: w}
}

// Event 输出一行事件。时间为相对第一条事件的偏移。
func (r *Renderer) Event(e agent.Event) {
	if r.start.IsZero() {
		r.start = e.Timestamp
	}
	offset := e.Timestamp.Sub(r.start).Seconds()

	var b strings.Builder
	fmt.Fprintf(&b, "[%7.2fs] %s%s %s", offset, strings.Repeat("  ", e.Depth), kindLabel(e.Kind), shortID(e.AgentID))
	switch e.Kind {
	case agent.EventSpawned, agent.EventStarted:
		if e.Task != "" {
			fmt.Fprintf(&b, " %q", truncate(e.Task, 60))
		}
	case agent.EventCompleted, agent.EventFailed:
		fmt.Fprintf(&b, " %s tokens=%d in %s", e.Status, e.Tokens, e.Duration.Round(time.Millisecond))
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, " (%s)", e.Reason)
	}
	if e.Budget != nil {
		fmt.Fprintf(&b, " budget=%.0f%%", e.Budget.PercentUsed)
	}
	fmt.Fprintln(r.w, b.String())
}

// Summary 输出最终结果、预算与节点树
func (r *Renderer) Summary(res agent.SubAgentResult, st budget.Status, tree []hierarchical.NodeInfo) {
	fmt.Fprintln(r.w)
	fmt.Fprintf(r.w, "Result: %s\n", res.Status)
	if res.Reason != "" {
		fmt.Fprintf(r.w, "Reason: %s\n", res.Reason)
	}
	if res.Output != "" {
		fmt.Fprintf(r.w, "\n%s\n", res.Output)
	}

	fmt.Fprintln(r.w)
	tw := tabwriter.NewWriter(r.w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Budget limit\t%d\n", st.Limit)
	fmt.Fprintf(tw, "Consumed\t%d (%.1f%%)\n", st.Consumed, st.PercentUsed)
	if st.Overrun > 0 {
		fmt.Fprintf(tw, "Overrun\t%d\n", st.Overrun)
	}
	fmt.Fprintf(tw, "Cost (USD)\t%s\n", st.CostUSD.StringFixed(4))
	fmt.Fprintf(tw, "Agents\t%d\n", len(tree))
	_ = tw.Flush()
}

// follow 渲染请求的事件直到请求结束；ctx 结束时取消整棵树。
// sub 必须在请求启动后立即订阅，才能看到根节点的早期事件。
func follow(ctx context.Context, handle *hierarchical.RootHandle, sub *agent.Subscription, r *Renderer) agent.SubAgentResult {
	defer sub.Cancel()
	cancelled := false
	for {
		select {
		case <-ctx.Done():
			if !cancelled {
				handle.Cancel()
				cancelled = true
			}
			ctx = context.Background()
		case e, ok := <-sub.C():
			if !ok {
				res, _ := handle.Wait(context.Background())
				return res
			}
			r.Event(e)
		case <-handle.Done():
			drainEvents(sub, r)
			res, _ := handle.Result()
			return res
		}
	}
}

// drainEvents 渲染缓冲中剩余的事件
func drainEvents(sub *agent.Subscription, r *Renderer) {
	for {
		select {
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			r.Event(e)
		default:
			return
		}
	}
}

func kindLabel(k agent.EventKind) string {
	switch k {
	case agent.EventSpawned:
		return "+ spawned"
	case agent.EventStarted:
		return "> started"
	case agent.EventCompleted:
		return "✓ completed"
	case agent.EventFailed:
		return "✗ failed"
	case agent.EventBudgetWarning:
		return "! budget warning"
	case agent.EventBudgetExceeded:
		return "! budget exceeded"
	case agent.EventCycleDetected:
		return "! cycle detected"
	case agent.EventDepthLimitReached:
		return "! depth limit"
	default:
		return string(k)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
