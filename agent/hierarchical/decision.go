package hierarchical

import (
	"encoding/json"
	"strings"

	"github.com/BaSui01/agenttree/agent"
	"github.com/BaSui01/agenttree/llm/tools"
)

// Action Agent 每一步的决策类型
type Action string

const (
	ActionAnswer Action = "answer"
	ActionTool   Action = "tool"
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionSpawn  Action = "spawn"
)

// TaskSpec 是 spawn 决策中的一个子任务
type TaskSpec struct {
	Task            string   `json:"task"`
	Input           string   `json:"input,omitempty"`
	Count           int      `json:"count,omitempty"`
	EstimatedTokens int64    `json:"estimated_tokens,omitempty"`
	Permissions     []string `json:"permissions,omitempty"`
}

// Decision 是从补全内容中解析出的单步决策
type Decision struct {
	Action Action          `json:"action"`
	Answer string          `json:"answer,omitempty"`
	Tool   string          `json:"tool,omitempty"`
	Input  json.RawMessage `json:"input,omitempty"`
	Key    string          `json:"key,omitempty"`
	Value  string          `json:"value,omitempty"`

	Mode   agent.ExecutionMode `json:"mode,omitempty"`
	Shared bool                `json:"shared,omitempty"`
	Tasks  []TaskSpec          `json:"tasks,omitempty"`
}

// SpawnRequests 将 spawn 决策转换为 SpawnRequest；mode 缺省为 sequential。
func (d Decision) SpawnRequests() []agent.SpawnRequest {
	mode := d.Mode
	if mode == "" {
		mode = agent.ModeSequential
	}
	reqs := make([]agent.SpawnRequest, 0, len(d.Tasks))
	for _, t := range d.Tasks {
		reqs = append(reqs, agent.SpawnRequest{
			Task:            t.Task,
			Mode:            mode,
			Input:           t.Input,
			ChildCount:      t.Count,
			Shared:          d.Shared,
			EstimatedTokens: t.EstimatedTokens,
			Permissions:     tools.Permissions(t.Permissions),
		})
	}
	return reqs
}

// ParseDecision parses completion content into a Decision.
// It tries: 1) direct JSON object, 2) ```json block, 3) plain ``` block,
// 4) fallback: the whole content is the answer.
func ParseDecision(content string) Decision {
	trimmed := strings.TrimSpace(content)

	// Attempt 1: direct JSON object
	if d, ok := tryParseDecision(trimmed); ok {
		return d
	}

	// Attempt 2: ```json ... ``` code block
	if idx := strings.Index(content, "```json"); idx != -1 {
		start := idx + len("```json")
		if end := strings.Index(content[start:], "```"); end != -1 {
			if d, ok := tryParseDecision(strings.TrimSpace(content[start : start+end])); ok {
				return d
			}
		}
	}

	// Attempt 3: ``` ... ``` code block, language tag skipped
	if idx := strings.Index(content, "```"); idx != -1 {
		start := idx + len("```")
		if nl := strings.Index(content[start:], "\n"); nl != -1 {
			start += nl + 1
		}
		if end := strings.Index(content[start:], "```"); end != -1 {
			if d, ok := tryParseDecision(strings.TrimSpace(content[start : start+end])); ok {
				return d
			}
		}
	}

	return Decision{Action: ActionAnswer, Answer: trimmed}
}

func tryParseDecision(raw string) (Decision, bool) {
	if !strings.HasPrefix(raw, "{") {
		return Decision{}, false
	}
	var d Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Decision{}, false
	}
	d.Action = Action(strings.ToLower(strings.TrimSpace(string(d.Action))))
	switch d.Action {
	case ActionAnswer, ActionTool, ActionRead, ActionWrite, ActionSpawn:
		return d, true
	default:
		return Decision{}, false
	}
}
