package hierarchical

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/BaSui01/agenttree/agent"
	"github.com/BaSui01/agenttree/llm/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name    string
		content string
		action  Action
		check   func(t *testing.T, d Decision)
	}{
		{
			name:    "direct json",
			content: `{"action":"answer","answer":"42"}`,
			action:  ActionAnswer,
			check:   func(t *testing.T, d Decision) { assert.Equal(t, "42", d.Answer) },
		},
		{
			name:    "json code block",
			content: "Let me look it up.\n```json\n{\"action\":\"tool\",\"tool\":\"search\",\"input\":{\"q\":\"go\"}}\n```",
			action:  ActionTool,
			check: func(t *testing.T, d Decision) {
				assert.Equal(t, "search", d.Tool)
				assert.JSONEq(t, `{"q":"go"}`, string(d.Input))
			},
		},
		{
			name:    "plain code block",
			content: "```\n{\"action\":\"write\",\"key\":\"K\",\"value\":\"1\"}\n```",
			action:  ActionWrite,
			check: func(t *testing.T, d Decision) {
				assert.Equal(t, "K", d.Key)
				assert.Equal(t, "1", d.Value)
			},
		},
		{
			name:    "action is case insensitive",
			content: `{"action":" READ ","key":"K"}`,
			action:  ActionRead,
		},
		{
			name:    "plain text is the answer",
			content: "  The capital of France is Paris.  ",
			action:  ActionAnswer,
			check:   func(t *testing.T, d Decision) { assert.Equal(t, "The capital of France is Paris.", d.Answer) },
		},
		{
			name:    "unknown action falls back to text",
			content: `{"action":"dance"}`,
			action:  ActionAnswer,
			check:   func(t *testing.T, d Decision) { assert.Equal(t, `{"action":"dance"}`, d.Answer) },
		},
		{
			name:    "broken json falls back to text",
			content: `{"action":"spawn",`,
			action:  ActionAnswer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ParseDecision(tt.content)
			assert.Equal(t, tt.action, d.Action)
			if tt.check != nil {
				tt.check(t, d)
			}
		})
	}
}

func TestDecision_SpawnRequests(t *testing.T) {
	d := ParseDecision(`{"action":"spawn","shared":true,"tasks":[
		{"task":"collect sources","input":"topic: go","count":2,"estimated_tokens":500},
		{"task":"write summary","permissions":["fs.read"]}]}`)
	require.Equal(t, ActionSpawn, d.Action)

	reqs := d.SpawnRequests()
	require.Len(t, reqs, 2)
	for _, r := range reqs {
		assert.Equal(t, agent.ModeSequential, r.Mode, "mode defaults to sequential")
		assert.True(t, r.Shared)
		assert.NoError(t, r.Validate())
	}
	assert.Equal(t, 2, reqs[0].Replicas())
	assert.Equal(t, int64(500), reqs[0].EstimatedTokens)
	assert.Equal(t, "topic: go", reqs[0].Input)
	assert.Equal(t, 1, reqs[1].Replicas())
	assert.True(t, reqs[1].Permissions.Allows("fs.read"))

	d = ParseDecision(`{"action":"spawn","mode":"parallel","tasks":[{"task":"a"}]}`)
	assert.Equal(t, agent.ModeParallel, d.SpawnRequests()[0].Mode)
}

func TestSystemPrompt_ListsPermittedTools(t *testing.T) {
	reg := tools.NewRegistry(nil)
	require.NoError(t, reg.Register("clock", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	}, tools.ToolMetadata{Description: "tells time", Schema: json.RawMessage(`{"type":"object"}`)}))
	require.NoError(t, reg.Register("fetch", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	}, tools.ToolMetadata{Description: "reads the web", Permission: "net"}))

	o := &Orchestrator{catalog: reg, invoker: tools.NewLocalInvoker(reg, nil)}
	actx := &agent.AgentContext{AgentID: "a1", Depth: 1}

	prompt := systemPrompt("", actx, o.visibleTools(actx))
	assert.Contains(t, prompt, `- clock: tells time Input schema: {"type":"object"}`)
	assert.NotContains(t, prompt, "fetch")

	actx.Permissions = tools.Permissions{"net"}
	prompt = systemPrompt("base", actx, o.visibleTools(actx))
	assert.True(t, strings.HasPrefix(prompt, "base\n\n"))
	assert.Contains(t, prompt, "- fetch: reads the web")

	// 没有调用能力时不列工具
	o.invoker = nil
	assert.Empty(t, o.visibleTools(actx))
}
