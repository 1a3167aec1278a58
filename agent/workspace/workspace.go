package workspace

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Workspace 是一个请求内可选的共享草稿区。
//
// 合并策略为 last-writer-wins：每次写入覆盖旧值，写入者与版本号被记录，
// 完整写入序列可通过 History 审计。同一键的写入互斥，读与读可并发。
type Workspace struct {
	requestID string
	store     Store
	logger    *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// New creates the workspace of requestID backed by store.
func New(requestID string, store Store, logger *zap.Logger) *Workspace {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workspace{
		requestID: requestID,
		store:     store,
		logger:    logger.With(zap.String("component", "workspace"), zap.String("request_id", requestID)),
	}
}

// RequestID returns the owning request.
func (w *Workspace) RequestID() string { return w.requestID }

// Write 以 writer 的身份写入 key。
func (w *Workspace) Write(ctx context.Context, key, value, writer string) (Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return Entry{}, ErrClosed
	}
	e, err := w.store.Put(ctx, w.requestID, Entry{
		Key:       key,
		Value:     value,
		Writer:    writer,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		return Entry{}, err
	}
	w.logger.Debug("workspace write",
		zap.String("key", key),
		zap.String("writer", writer),
		zap.Int64("version", e.Version))
	return e, nil
}

// Read returns the current value of key.
func (w *Workspace) Read(ctx context.Context, key string) (string, bool, error) {
	e, ok, err := w.Entry(ctx, key)
	return e.Value, ok, err
}

// Entry returns the current entry of key including attribution.
func (w *Workspace) Entry(ctx context.Context, key string) (Entry, bool, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return Entry{}, false, ErrClosed
	}
	return w.store.Get(ctx, w.requestID, key)
}

// Snapshot 返回当前所有键值的拷贝，交给新 spawn 的子 Agent。
func (w *Workspace) Snapshot(ctx context.Context) (map[string]string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return nil, ErrClosed
	}
	all, err := w.store.All(ctx, w.requestID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(all))
	for k, e := range all {
		out[k] = e.Value
	}
	return out, nil
}

// History returns every write to key in commit order.
func (w *Workspace) History(ctx context.Context, key string) ([]Entry, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.store.History(ctx, w.requestID, key)
}

// Close 丢弃工作区；根请求结束时调用。
func (w *Workspace) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.store.Drop(ctx, w.requestID)
}
