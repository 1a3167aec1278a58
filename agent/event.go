package agent

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/agenttree/llm/budget"
	"go.uber.org/zap"
)

// EventKind 事件类型
type EventKind string

const (
	EventSpawned           EventKind = "agent_spawned"
	EventStarted           EventKind = "agent_started"
	EventCompleted         EventKind = "agent_completed"
	EventFailed            EventKind = "agent_failed"
	EventBudgetWarning     EventKind = "budget_warning"
	EventBudgetExceeded    EventKind = "budget_exceeded"
	EventCycleDetected     EventKind = "cycle_detected"
	EventDepthLimitReached EventKind = "depth_limit_reached"
)

// Event 是树上发生的一件事。同一 Agent 的事件按发生顺序发布，
// 不同 Agent 之间的相对顺序不保证。
type Event struct {
	Seq       uint64         `json:"seq"` // 总线内单调递增，订阅者按 Seq 顺序收到
	Kind      EventKind      `json:"kind"`
	RequestID string         `json:"request_id"`
	AgentID   string         `json:"agent_id,omitempty"`
	ParentID  string         `json:"parent_id,omitempty"`
	Depth     int            `json:"depth"`
	Task      string         `json:"task,omitempty"`
	Status    ResultStatus   `json:"status,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Budget    *budget.Status `json:"budget,omitempty"`
	// Tokens 与 Duration 仅在 agent_completed / agent_failed 上填写
	Tokens    int64          `json:"tokens,omitempty"`
	Duration  time.Duration  `json:"duration,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Filter 订阅过滤器，nil 表示全部接收
type Filter func(Event) bool

// ForRequest 只接收指定请求的事件
func ForRequest(requestID string) Filter {
	return func(e Event) bool { return e.RequestID == requestID }
}

// ForKinds 只接收指定类型的事件
func ForKinds(kinds ...EventKind) Filter {
	set := make(map[EventKind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return func(e Event) bool {
		_, ok := set[e.Kind]
		return ok
	}
}

// BusConfig 事件总线配置
type BusConfig struct {
	// BufferSize 每个订阅者的缓冲大小
	BufferSize int
	// OnDrop 订阅者缓冲满、事件被丢弃时调用
	OnDrop func(Event)
}

// DefaultBusConfig 返回默认配置
func DefaultBusConfig() BusConfig {
	return BusConfig{BufferSize: 256}
}

// Bus 多订阅者事件总线。Publish 从不阻塞：订阅者缓冲满时丢弃该事件并计数。
type Bus struct {
	// pubMu 串行化发布：Seq 的分配与投递同序，每个订阅者按 Seq 递增收到事件
	pubMu sync.Mutex

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	seq     atomic.Uint64
	dropped atomic.Uint64

	config BusConfig
	logger *zap.Logger
}

// NewBus 创建事件总线
func NewBus(config BusConfig, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBusConfig().BufferSize
	}
	return &Bus{
		subs:   make(map[uint64]*Subscription),
		config: config,
		logger: logger.With(zap.String("component", "event_bus")),
	}
}

// Publish 发布事件。投递不阻塞，并发发布者之间串行。
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	e.Seq = b.seq.Add(1)

	for _, sub := range b.subs {
		if sub.filter != nil && !sub.filter(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			// 订阅者太慢，丢弃
			sub.dropped.Add(1)
			b.dropped.Add(1)
			if b.config.OnDrop != nil {
				b.config.OnDrop(e)
			}
		}
	}
}

// Subscribe 注册订阅者
func (b *Bus) Subscribe(filter Filter) *Subscription {
	sub := &Subscription{
		ch:     make(chan Event, b.config.BufferSize),
		filter: filter,
		bus:    b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		sub.cancelled = true
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	return sub
}

// SubscribeFunc 在独立 goroutine 中把事件交给 handler，handler panic 会被恢复。
func (b *Bus) SubscribeFunc(filter Filter, handler func(Event)) *Subscription {
	sub := b.Subscribe(filter)
	go func() {
		for e := range sub.ch {
			b.dispatch(handler, e)
		}
	}()
	return sub
}

func (b *Bus) dispatch(handler func(Event), e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("kind", string(e.Kind)),
				zap.Any("recover", r),
			)
		}
	}()
	handler(e)
}

// Dropped 返回所有订阅者累计丢弃的事件数
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close 关闭总线及所有订阅
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.cancelled = true
		close(sub.ch)
		delete(b.subs, id)
	}
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.cancelled {
		return
	}
	sub.cancelled = true
	delete(b.subs, sub.id)
	close(sub.ch)
}

// Subscription 一个订阅者。cancelled 受 bus.mu 保护。
type Subscription struct {
	id        uint64
	ch        chan Event
	filter    Filter
	bus       *Bus
	cancelled bool
	dropped   atomic.Uint64
}

// C 返回事件通道，取消订阅或总线关闭后通道关闭。
func (s *Subscription) C() <-chan Event { return s.ch }

// Events 迭代事件直到 ctx 结束或订阅关闭。
func (s *Subscription) Events(ctx context.Context) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-s.ch:
				if !ok || !yield(e) {
					return
				}
			}
		}
	}
}

// Dropped returns how many events this subscriber missed.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Cancel 取消订阅，可重复调用。
func (s *Subscription) Cancel() { s.bus.unsubscribe(s) }
