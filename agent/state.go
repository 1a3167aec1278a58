package agent

import (
	"fmt"
	"slices"
	"sync"
)

// NodeState 定义 Agent Node 生命周期状态
type NodeState string

const (
	StateCreated      NodeState = "created"       // 已创建，尚未执行
	StateRunning      NodeState = "running"       // 推理循环中
	StateCompleted    NodeState = "completed"     // 成功结束
	StateFailed       NodeState = "failed"        // 失败（含超时）
	StateCancelled    NodeState = "cancelled"     // 被取消
	StateBudgetPaused NodeState = "budget_paused" // 请求预算耗尽，等待运维恢复
)

// validTransitions 定义合法的状态转换。
// Running 在每个内部步骤（补全调用、工具调用、spawn 决策）重新进入自身；
// BudgetPaused 只能在运维恢复账本后回到 Running。
var validTransitions = map[NodeState][]NodeState{
	StateCreated:      {StateRunning, StateCancelled},
	StateRunning:      {StateRunning, StateCompleted, StateFailed, StateCancelled, StateBudgetPaused},
	StateBudgetPaused: {StateRunning, StateCancelled, StateFailed},
}

// CanTransition 检查状态转换是否合法
func CanTransition(from, to NodeState) bool {
	return slices.Contains(validTransitions[from], to)
}

// Terminal reports whether no further transitions are possible.
func (s NodeState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// ErrInvalidTransition 非法状态转换错误
type ErrInvalidTransition struct {
	From NodeState
	To   NodeState
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}

// StateMachine 是单个节点的状态，仅由所属节点推进，读取可并发。
type StateMachine struct {
	mu    sync.RWMutex
	state NodeState
	steps int
}

// NewStateMachine starts in StateCreated.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateCreated}
}

// Transition 推进状态；非法转换返回 ErrInvalidTransition。
func (m *StateMachine) Transition(to NodeState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !CanTransition(m.state, to) {
		return ErrInvalidTransition{From: m.state, To: to}
	}
	if to == StateRunning {
		m.steps++
	}
	m.state = to
	return nil
}

// State returns the current state.
func (m *StateMachine) State() NodeState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Steps returns how many times the node entered Running.
func (m *StateMachine) Steps() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.steps
}
