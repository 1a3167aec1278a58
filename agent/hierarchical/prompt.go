package hierarchical

import (
	"fmt"
	"strings"

	"github.com/BaSui01/agenttree/agent"
	"github.com/BaSui01/agenttree/llm/tools"
	"github.com/BaSui01/agenttree/types"
)

const protocolPrompt = `You are agent %s at depth %d (max %d) in a tree of cooperating agents.
Reply with exactly one JSON object per turn:
{"action":"answer","answer":"<final answer>"}
{"action":"tool","tool":"<name>","input":{}}
{"action":"read","key":"<key>"}
{"action":"write","key":"<key>","value":"<value>"}
{"action":"spawn","mode":"sequential|parallel","shared":false,"tasks":[{"task":"<sub-task>","input":"<context>","count":1}]}
Plain text is taken as your final answer.`

func systemPrompt(base string, actx *agent.AgentContext, available []tools.Descriptor) string {
	var b strings.Builder
	if base != "" {
		b.WriteString(base)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, protocolPrompt, actx.AgentID, actx.Depth, agent.MaxDepth)
	if !actx.CanSpawn() {
		b.WriteString("\nYou are at the maximum depth and cannot spawn sub-agents.")
	}
	if len(available) > 0 {
		b.WriteString("\n\nTools:")
		for _, d := range available {
			fmt.Fprintf(&b, "\n- %s: %s", d.Name, d.Description)
			if len(d.Schema) > 0 {
				fmt.Fprintf(&b, " Input schema: %s", d.Schema)
			}
		}
	}
	return b.String()
}

// visibleTools 当前节点权限允许的工具
func (o *Orchestrator) visibleTools(actx *agent.AgentContext) []tools.Descriptor {
	if o.catalog == nil || o.invoker == nil {
		return nil
	}
	all := o.catalog.List()
	out := all[:0:0]
	for _, d := range all {
		if actx.Permissions.Allows(d.Permission) {
			out = append(out, d)
		}
	}
	return out
}

func taskPrompt(task, input string) string {
	if input == "" {
		return "Task: " + task
	}
	return "Task: " + task + "\n\nInput:\n" + input
}

func renderSpawnResults(results []agent.SubAgentResult, batchErr error) string {
	var b strings.Builder
	b.WriteString("Sub-agent results:")
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. [%s] %q", i+1, r.Status, r.Task)
		if r.AgentID != "" {
			fmt.Fprintf(&b, " (agent %s, %d tokens)", r.AgentID, r.TokenUsage)
		}
		switch {
		case r.Status == agent.StatusSucceeded:
			b.WriteString(": ")
			b.WriteString(r.Output)
		case r.Reason != "":
			b.WriteString(": ")
			b.WriteString(r.Reason)
		}
	}
	if batchErr != nil {
		fmt.Fprintf(&b, "\nBatch: %s", types.Reason(batchErr))
	}
	return b.String()
}

func renderSpawnRejected(err error) string {
	return fmt.Sprintf("Spawn rejected (%s): %v. Continue without sub-agents.", types.Reason(err), err)
}

func renderToolResult(res *tools.ToolResult) string {
	return fmt.Sprintf("Tool %s returned: %s", res.Name, string(res.Output))
}

func renderToolError(tool string, err error) string {
	return fmt.Sprintf("Tool %s failed: %v", tool, err)
}

func renderRead(key, value string, ok bool) string {
	if !ok {
		return fmt.Sprintf("Workspace %s is not set", key)
	}
	return fmt.Sprintf("Workspace %s = %s", key, value)
}
