package workspace

import (
	"context"
	"maps"
	"sync"
)

// Backing 是视图的下层：请求的 Workspace，或父 Agent 的视图。
// 视图层层叠加，子 Agent 的写入经由父视图落地。
type Backing interface {
	Read(ctx context.Context, key string) (string, bool, error)
	Snapshot(ctx context.Context) (map[string]string, error)
	// WriteAs 以 writer 的身份写入，保留最初的写入者
	WriteAs(ctx context.Context, key, value, writer string) error
}

// View 是单个 Agent 看到的工作区。
type View interface {
	Backing
	Write(ctx context.Context, key, value string) error
}

// WriteAs 实现 Backing
func (w *Workspace) WriteAs(ctx context.Context, key, value, writer string) error {
	_, err := w.Write(ctx, key, value, writer)
	return err
}

// DirectView 直接读写下层，用于顺序执行的子 Agent：
// 前一个兄弟的写入对后一个立即可见。
type DirectView struct {
	under Backing
	agent string
}

// NewDirectView creates a view whose writes are attributed to agentID.
func NewDirectView(under Backing, agentID string) *DirectView {
	return &DirectView{under: under, agent: agentID}
}

func (v *DirectView) Read(ctx context.Context, key string) (string, bool, error) {
	return v.under.Read(ctx, key)
}

func (v *DirectView) Write(ctx context.Context, key, value string) error {
	return v.under.WriteAs(ctx, key, value, v.agent)
}

func (v *DirectView) WriteAs(ctx context.Context, key, value, writer string) error {
	return v.under.WriteAs(ctx, key, value, writer)
}

func (v *DirectView) Snapshot(ctx context.Context) (map[string]string, error) {
	return v.under.Snapshot(ctx)
}

type pendingWrite struct {
	value  string
	writer string
}

// OverlayView 用于并行执行的子 Agent：读取 spawn 时的快照叠加自身
// （及其后代）的写入，写入在子 Agent 完成时经 Commit 提交到下层。
// 多个兄弟按完成顺序提交，对同一键的最终值为最后提交者的值（last-commit-wins）。
type OverlayView struct {
	under Backing
	agent string
	base  map[string]string

	mu      sync.Mutex
	pending map[string]pendingWrite
	order   []string
}

// NewOverlayView creates a view over snapshot.
func NewOverlayView(under Backing, agentID string, snapshot map[string]string) *OverlayView {
	if snapshot == nil {
		snapshot = map[string]string{}
	}
	return &OverlayView{
		under:   under,
		agent:   agentID,
		base:    snapshot,
		pending: make(map[string]pendingWrite),
	}
}

func (v *OverlayView) Read(_ context.Context, key string) (string, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if w, ok := v.pending[key]; ok {
		return w.value, true, nil
	}
	val, ok := v.base[key]
	return val, ok, nil
}

func (v *OverlayView) Write(ctx context.Context, key, value string) error {
	return v.WriteAs(ctx, key, value, v.agent)
}

// WriteAs 缓冲一次写入；后代 Agent 经由此视图的写入同样缓冲，随本视图一起提交或丢弃
func (v *OverlayView) WriteAs(_ context.Context, key, value, writer string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.pending[key]; !ok {
		v.order = append(v.order, key)
	}
	v.pending[key] = pendingWrite{value: value, writer: writer}
	return nil
}

func (v *OverlayView) Snapshot(_ context.Context) (map[string]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := maps.Clone(v.base)
	for k, w := range v.pending {
		out[k] = w.value
	}
	return out, nil
}

// Pending returns how many keys await commit.
func (v *OverlayView) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pending)
}

// Commit 将缓冲的写入按首次写入顺序提交到下层。
func (v *OverlayView) Commit(ctx context.Context) error {
	v.mu.Lock()
	order, pending := v.order, v.pending
	v.order, v.pending = nil, make(map[string]pendingWrite)
	v.mu.Unlock()

	for _, key := range order {
		w := pending[key]
		if err := v.under.WriteAs(ctx, key, w.value, w.writer); err != nil {
			return err
		}
	}
	return nil
}

// Discard drops buffered writes.
func (v *OverlayView) Discard() {
	v.mu.Lock()
	v.order, v.pending = nil, make(map[string]pendingWrite)
	v.mu.Unlock()
}
