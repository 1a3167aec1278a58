package budget

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/agenttree/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// 账本错误
var (
	ErrBudgetExceeded  = types.NewError(types.ErrBudgetExceeded, "reservation exceeds remaining budget")
	ErrBudgetPaused    = types.NewError(types.ErrBudgetPaused, "request budget exhausted, ledger paused")
	ErrLedgerInvariant = types.NewError(types.ErrLedgerInvariant, "consumed exceeds limit")

	ErrInvalidAmount  = errors.New("budget: amount must be positive")
	ErrSettled        = errors.New("budget: reservation already settled")
	ErrForeignToken   = errors.New("budget: reservation belongs to another ledger")
	ErrStillExhausted = errors.New("budget: cannot resume, limit not raised above consumption")
)

// AlertKind 告警类型
type AlertKind string

const (
	AlertWarning  AlertKind = "budget_warning"
	AlertExceeded AlertKind = "budget_exceeded"
)

// Alert 在 consumed 首次跨越某个阈值时触发，每个阈值只触发一次。
type Alert struct {
	Kind      AlertKind `json:"kind"`
	RequestID string    `json:"request_id"`
	Threshold float64   `json:"threshold"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertHandler 同步调用，不得阻塞。
type AlertHandler func(alert Alert)

// LedgerConfig 账本配置
type LedgerConfig struct {
	RequestID string
	Limit     int64
	// WarnThresholds 默认 0.8、0.9
	WarnThresholds []float64
	Pricing        Pricing
}

// Status 预算状态快照
type Status struct {
	Limit       int64           `json:"limit"`
	Consumed    int64           `json:"consumed"`
	Outstanding int64           `json:"outstanding"`
	Remaining   int64           `json:"remaining"`
	PercentUsed float64         `json:"percent_used"`
	Paused      bool            `json:"paused"`
	Overrun     int64           `json:"overrun,omitempty"`
	CostUSD     decimal.Decimal `json:"cost_usd"`
}

// Ledger 跟踪一个根请求整棵 Agent 树的 Token 消耗。
// 所有后代通过引用共享同一个 Ledger；预留使用 CAS，无全局锁。
//
// used = consumed + outstanding，且恒有 used <= limit。
type Ledger struct {
	requestID string
	pricing   Pricing
	logger    *zap.Logger

	limit    atomic.Int64
	used     atomic.Int64
	consumed atomic.Int64
	overrun  atomic.Int64 // 超出上限被截断、未计入的用量
	paused   atomic.Bool

	mu         sync.Mutex
	handlers   []AlertHandler
	thresholds []float64
	fired      map[float64]bool
	exceeded   bool
	resumed    chan struct{}
}

// NewLedger 创建账本
func NewLedger(cfg LedgerConfig, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	thresholds := cfg.WarnThresholds
	if len(thresholds) == 0 {
		thresholds = []float64{0.8, 0.9}
	}
	l := &Ledger{
		requestID:  cfg.RequestID,
		pricing:    cfg.Pricing,
		logger:     logger.With(zap.String("component", "budget_ledger"), zap.String("request_id", cfg.RequestID)),
		thresholds: thresholds,
		fired:      make(map[float64]bool, len(thresholds)),
		resumed:    make(chan struct{}),
	}
	l.limit.Store(max(cfg.Limit, 0))
	return l
}

// RequestID returns the root request this ledger belongs to.
func (l *Ledger) RequestID() string { return l.requestID }

// OnAlert 注册告警处理器
func (l *Ledger) OnAlert(handler AlertHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, handler)
}

// Reserve 原子地检查并预留 amount。账本暂停时返回 ErrBudgetPaused，
// 余量不足时返回 ErrBudgetExceeded。
func (l *Ledger) Reserve(amount int64) (*Reservation, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if l.paused.Load() {
		return nil, ErrBudgetPaused
	}
	for {
		used := l.used.Load()
		limit := l.limit.Load()
		if used+amount > limit {
			return nil, fmt.Errorf("reserve %d with %d remaining: %w", amount, limit-used, ErrBudgetExceeded)
		}
		if l.used.CompareAndSwap(used, used+amount) {
			break
		}
	}

	res := &Reservation{
		ID:     uuid.NewString(),
		Amount: amount,
		ledger: l,
	}
	res.remaining.Store(amount)
	return res, nil
}

// Charge 将 n 个实际消耗计入 res。预留内的部分直接转为 consumed；
// 超出部分从账本余量中扣除，余量不足时截断并暂停账本。
func (l *Ledger) Charge(res *Reservation, n int64) error {
	if err := l.own(res); err != nil {
		return err
	}
	if n < 0 {
		return ErrInvalidAmount
	}
	if res.state.Load() != stateOpen {
		return ErrSettled
	}
	if n == 0 {
		return nil
	}
	res.charged.Add(n)

	take := res.take(n)
	l.consumed.Add(take)

	if overflow := n - take; overflow > 0 {
		l.absorbOverrun(overflow)
	}
	return l.afterConsume()
}

// Commit 以 actual 为该预留的最终实际用量进行对账，并释放未用部分。
func (l *Ledger) Commit(res *Reservation, actual int64) error {
	if err := l.own(res); err != nil {
		return err
	}
	if actual < 0 {
		return ErrInvalidAmount
	}
	if delta := actual - res.charged.Load(); delta > 0 {
		if err := l.Charge(res, delta); err != nil {
			return err
		}
	}
	if !res.state.CompareAndSwap(stateOpen, stateCommitted) {
		return ErrSettled
	}
	if left := res.remaining.Swap(0); left > 0 {
		l.used.Add(-left)
	}
	return l.checkInvariant()
}

// Release 归还未使用的预留。幂等：第二次调用为空操作并返回 false。
// 已通过 Charge 计入的用量不会退回。
func (l *Ledger) Release(res *Reservation) bool {
	if l.own(res) != nil {
		return false
	}
	if !res.state.CompareAndSwap(stateOpen, stateReleased) {
		return false
	}
	if left := res.remaining.Swap(0); left > 0 {
		l.used.Add(-left)
	}
	return true
}

func (l *Ledger) own(res *Reservation) error {
	if res == nil || res.ledger != l {
		return ErrForeignToken
	}
	return nil
}

// absorbOverrun 在 used <= limit 的约束下尽量计入超额用量。
func (l *Ledger) absorbOverrun(overflow int64) {
	for {
		used := l.used.Load()
		room := l.limit.Load() - used
		add := min(overflow, max(room, 0))
		if l.used.CompareAndSwap(used, used+add) {
			l.consumed.Add(add)
			if clipped := overflow - add; clipped > 0 {
				l.overrun.Add(clipped)
				l.logger.Warn("usage overran the request limit, clamped",
					zap.Int64("clipped", clipped))
				l.exhaust()
			}
			return
		}
	}
}

// exhaust 标记账本耗尽：后续预留返回 ErrBudgetPaused。
func (l *Ledger) exhaust() {
	l.paused.Store(true)
}

func (l *Ledger) afterConsume() error {
	if l.consumed.Load() >= l.limit.Load() {
		l.exhaust()
	}
	l.checkAlerts()
	return l.checkInvariant()
}

func (l *Ledger) checkInvariant() error {
	consumed, limit := l.consumed.Load(), l.limit.Load()
	if consumed > limit || l.used.Load() < 0 {
		l.logger.Error("ledger invariant violated",
			zap.Int64("consumed", consumed),
			zap.Int64("limit", limit))
		return fmt.Errorf("consumed %d > limit %d: %w", consumed, limit, ErrLedgerInvariant)
	}
	return nil
}

func (l *Ledger) checkAlerts() {
	status := l.Status()
	ratio := 0.0
	if status.Limit > 0 {
		ratio = float64(status.Consumed) / float64(status.Limit)
	}

	var pending []Alert
	l.mu.Lock()
	for _, t := range l.thresholds {
		if ratio >= t && !l.fired[t] {
			l.fired[t] = true
			pending = append(pending, Alert{Kind: AlertWarning, Threshold: t})
		}
	}
	if status.Paused && !l.exceeded {
		l.exceeded = true
		pending = append(pending, Alert{Kind: AlertExceeded, Threshold: 1.0})
	}
	handlers := append([]AlertHandler(nil), l.handlers...)
	l.mu.Unlock()

	for _, a := range pending {
		a.RequestID = l.requestID
		a.Status = status
		a.Timestamp = time.Now()
		l.fireAlert(a, handlers)
	}
}

func (l *Ledger) fireAlert(alert Alert, handlers []AlertHandler) {
	l.logger.Warn("budget alert",
		zap.String("kind", string(alert.Kind)),
		zap.Float64("threshold", alert.Threshold),
		zap.Int64("consumed", alert.Status.Consumed),
		zap.Int64("limit", alert.Status.Limit))

	for _, h := range handlers {
		h(alert)
	}
}

// Status 返回当前预算状态
func (l *Ledger) Status() Status {
	limit := l.limit.Load()
	used := l.used.Load()
	consumed := l.consumed.Load()

	s := Status{
		Limit:       limit,
		Consumed:    consumed,
		Outstanding: max(used-consumed, 0),
		Remaining:   max(limit-used, 0),
		Paused:      l.paused.Load(),
		Overrun:     l.overrun.Load(),
		CostUSD:     l.pricing.Cost(consumed),
	}
	if limit > 0 {
		s.PercentUsed = float64(consumed) / float64(limit) * 100
	}
	return s
}

// Paused reports whether the ledger is exhausted and waiting for an operator.
func (l *Ledger) Paused() bool { return l.paused.Load() }

// Resumed 返回在下一次 Resume 时关闭的通道。
// 调用方应先取通道再检查 Paused，避免错过唤醒。
func (l *Ledger) Resumed() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resumed
}

// RaiseLimit 运维操作：提高上限。不会自动恢复暂停的账本。
func (l *Ledger) RaiseLimit(by int64) (Status, error) {
	if by <= 0 {
		return l.Status(), ErrInvalidAmount
	}
	newLimit := l.limit.Add(by)
	l.logger.Info("budget limit raised",
		zap.Int64("by", by),
		zap.Int64("limit", newLimit))
	return l.Status(), nil
}

// Resume 运维操作：在上限已高于消耗时解除暂停，并唤醒等待中的节点。
func (l *Ledger) Resume() (Status, error) {
	if l.consumed.Load() >= l.limit.Load() {
		return l.Status(), ErrStillExhausted
	}

	l.mu.Lock()
	wasPaused := l.paused.Swap(false)
	if wasPaused {
		ratio := float64(l.consumed.Load()) / float64(l.limit.Load())
		for _, t := range l.thresholds {
			if ratio < t {
				l.fired[t] = false
			}
		}
		l.exceeded = false
		close(l.resumed)
		l.resumed = make(chan struct{})
	}
	l.mu.Unlock()

	if wasPaused {
		l.logger.Info("budget ledger resumed by operator")
	}
	return l.Status(), nil
}

const (
	stateOpen int32 = iota
	stateCommitted
	stateReleased
)

// Reservation 是 Reserve 返回的令牌。
type Reservation struct {
	ID     string
	Amount int64

	ledger    *Ledger
	state     atomic.Int32
	remaining atomic.Int64
	charged   atomic.Int64
}

// Remaining returns the part of the reservation not yet charged.
func (r *Reservation) Remaining() int64 { return r.remaining.Load() }

// Charged returns the actual usage recorded against the reservation.
func (r *Reservation) Charged() int64 { return r.charged.Load() }

// Settled reports whether the reservation was committed or released.
func (r *Reservation) Settled() bool { return r.state.Load() != stateOpen }

// take 从剩余预留中扣除至多 n，返回实际扣除量。
func (r *Reservation) take(n int64) int64 {
	for {
		left := r.remaining.Load()
		t := min(n, left)
		if t <= 0 {
			return 0
		}
		if r.remaining.CompareAndSwap(left, left-t) {
			return t
		}
	}
}
