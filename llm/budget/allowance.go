package budget

import (
	"fmt"
	"sync/atomic"
)

// Allowance 是 Agent Context 中的 budget handle。
//
// 根节点的 Allowance 每次补全调用直接向账本预留；子节点的 Allowance
// 从其 spawn 时的预留中支取，节点结束时由 Close 对账。
type Allowance struct {
	ledger *Ledger
	res    *Reservation // nil for the root
	used   atomic.Int64
	closed atomic.Bool
}

// Grant 是单次补全调用的预算许可。
type Grant struct {
	Estimate int64
	res      *Reservation // root only
}

// NewRootAllowance 创建根节点的预算句柄
func NewRootAllowance(l *Ledger) *Allowance {
	return &Allowance{ledger: l}
}

// NewChildAllowance 创建从 res 支取的子节点预算句柄
func NewChildAllowance(l *Ledger, res *Reservation) *Allowance {
	return &Allowance{ledger: l, res: res}
}

// Ledger returns the request-wide ledger shared by every descendant.
func (a *Allowance) Ledger() *Ledger { return a.ledger }

// Reservation returns the spawn reservation, nil for the root.
func (a *Allowance) Reservation() *Reservation { return a.res }

// Used returns the tokens this node has consumed so far.
func (a *Allowance) Used() int64 { return a.used.Load() }

// Acquire 为一次预计消耗 estimate 的调用取得许可。
// 账本暂停时返回 ErrBudgetPaused；子节点预留不足时返回 ErrBudgetExceeded。
func (a *Allowance) Acquire(estimate int64) (*Grant, error) {
	if estimate <= 0 {
		estimate = 1
	}
	if a.closed.Load() {
		return nil, ErrSettled
	}
	if a.ledger.Paused() {
		return nil, ErrBudgetPaused
	}

	if a.res == nil {
		res, err := a.ledger.Reserve(estimate)
		if err != nil {
			return nil, err
		}
		return &Grant{Estimate: estimate, res: res}, nil
	}

	if left := a.res.Remaining(); estimate > left {
		return nil, fmt.Errorf("call needs %d, reservation has %d left: %w", estimate, left, ErrBudgetExceeded)
	}
	return &Grant{Estimate: estimate}, nil
}

// Settle 记录一次调用的实际用量。
func (a *Allowance) Settle(g *Grant, actual int64) error {
	if g == nil {
		return nil
	}
	if actual < 0 {
		actual = 0
	}
	a.used.Add(actual)

	if g.res != nil {
		if actual == 0 {
			a.ledger.Release(g.res)
			return nil
		}
		return a.ledger.Commit(g.res, actual)
	}
	return a.ledger.Charge(a.res, actual)
}

// Abort 放弃一次未产生用量的调用许可。
func (a *Allowance) Abort(g *Grant) {
	if g != nil && g.res != nil {
		a.ledger.Release(g.res)
	}
}

// Close 结束子节点的预算：有实际用量则按用量提交并释放余量，否则整体释放。
// 对根节点为空操作。可重复调用。
func (a *Allowance) Close() error {
	if !a.closed.CompareAndSwap(false, true) || a.res == nil {
		return nil
	}
	if charged := a.res.Charged(); charged > 0 {
		return a.ledger.Commit(a.res, charged)
	}
	a.ledger.Release(a.res)
	return nil
}
