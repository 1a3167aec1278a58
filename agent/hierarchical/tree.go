package hierarchical

import (
	"sync"
	"time"

	"github.com/BaSui01/agenttree/agent"
)

// Node 是 Agent 树上的一个节点。节点只通过 ID 引用父子关系，
// 树本身是一个以 ID 为键的 arena。
type Node struct {
	ID       string
	ParentID string
	Task     string
	Depth    int
	Replica  int

	machine *agent.StateMachine

	mu         sync.Mutex
	result     *agent.SubAgentResult
	startedAt  time.Time
	finishedAt time.Time
}

func newNode(id, parentID, task string, depth, replica int) *Node {
	return &Node{
		ID:       id,
		ParentID: parentID,
		Task:     task,
		Depth:    depth,
		Replica:  replica,
		machine:  agent.NewStateMachine(),
	}
}

// State returns the node's lifecycle state.
func (n *Node) State() agent.NodeState { return n.machine.State() }

// Result 返回终态结果，未结束时为 nil
func (n *Node) Result() *agent.SubAgentResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.result == nil {
		return nil
	}
	r := *n.result
	return &r
}

func (n *Node) markStarted(t time.Time) {
	n.mu.Lock()
	n.startedAt = t
	n.mu.Unlock()
}

func (n *Node) setResult(r agent.SubAgentResult, t time.Time) {
	n.mu.Lock()
	n.result = &r
	n.finishedAt = t
	n.mu.Unlock()
}

// NodeInfo 是节点的只读快照
type NodeInfo struct {
	ID         string                `json:"id"`
	ParentID   string                `json:"parent_id,omitempty"`
	Task       string                `json:"task"`
	Depth      int                   `json:"depth"`
	State      agent.NodeState       `json:"state"`
	Steps      int                   `json:"steps"`
	StartedAt  time.Time             `json:"started_at,omitzero"`
	FinishedAt time.Time             `json:"finished_at,omitzero"`
	Result     *agent.SubAgentResult `json:"result,omitempty"`
}

func (n *Node) info() NodeInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	info := NodeInfo{
		ID:         n.ID,
		ParentID:   n.ParentID,
		Task:       n.Task,
		Depth:      n.Depth,
		State:      n.machine.State(),
		Steps:      n.machine.Steps(),
		StartedAt:  n.startedAt,
		FinishedAt: n.finishedAt,
	}
	if n.result != nil {
		r := *n.result
		info.Result = &r
	}
	return info
}

// Tree 一个根请求的全部节点，按创建顺序保存。
type Tree struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	order []string
}

func newTree() *Tree {
	return &Tree{nodes: make(map[string]*Node)}
}

func (t *Tree) add(n *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[n.ID] = n
	t.order = append(t.order, n.ID)
}

// Get returns the node with id.
func (t *Tree) Get(id string) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	return n, ok
}

// Children 按创建顺序返回 parentID 的直接子节点
func (t *Tree) Children(parentID string) []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Node
	for _, id := range t.order {
		if n := t.nodes[id]; n.ParentID == parentID && n.ID != parentID {
			out = append(out, n)
		}
	}
	return out
}

// Snapshot 返回全部节点的快照
func (t *Tree) Snapshot() []NodeInfo {
	t.mu.RLock()
	nodes := make([]*Node, 0, len(t.order))
	for _, id := range t.order {
		nodes = append(nodes, t.nodes[id])
	}
	t.mu.RUnlock()

	out := make([]NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.info())
	}
	return out
}

// Len returns the number of nodes.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// MaxDepth returns the deepest node's depth.
func (t *Tree) MaxDepth() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d := 0
	for _, n := range t.nodes {
		d = max(d, n.Depth)
	}
	return d
}
