package cycle

import (
	"fmt"
	"sync"

	"github.com/BaSui01/agenttree/types"
	"go.uber.org/zap"
)

// ErrCycleDetected 是所有循环拒绝的哨兵错误。
var ErrCycleDetected = types.NewError(types.ErrCycleDetected, "repeated sub-task detected")

// CycleError 描述被拒绝的 spawn：与祖先链上哪个 Agent 的历史记录重复。
type CycleError struct {
	Owner      string
	Previous   string
	Similarity float64
	Exact      bool
}

func (e *CycleError) Error() string {
	kind := "near-duplicate"
	if e.Exact {
		kind = "duplicate"
	}
	return fmt.Sprintf("%s of sub-task %q spawned by %s (similarity %.2f)", kind, e.Previous, e.Owner, e.Similarity)
}

// Unwrap lets errors.Is(err, ErrCycleDetected) match.
func (e *CycleError) Unwrap() error { return ErrCycleDetected }

// Config 循环检测配置
type Config struct {
	// Window 每个 Agent 保留的最近 spawn 指纹数
	Window int
	// Threshold 近似重复的 Jaccard 阈值
	Threshold float64
}

// DefaultConfig returns window 8, threshold 0.85.
func DefaultConfig() Config {
	return Config{Window: 8, Threshold: 0.85}
}

// Detector 按 Agent 记录其发起的 spawn 指纹，并沿祖先链检查重复。
// 每个根请求一个 Detector，只比较同一血缘，不做全局比较。
type Detector struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	windows map[string]*window
}

// NewDetector creates a detector for one request tree.
func NewDetector(cfg Config, logger *zap.Logger) *Detector {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = def.Threshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "cycle_detector")),
		windows: make(map[string]*window),
	}
}

// Check 将 fp 与 chain 中每个 Agent 的窗口比较。
// 完全相同总是拒绝；相似度达到阈值的近似重复同样拒绝。
// 只比较 Replica 相同的指纹。
func (d *Detector) Check(chain []string, fp Fingerprint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.check(chain, fp)
}

// Record 在 spawn 被接受后追加到 owner 的窗口，超出窗口时淘汰最旧的记录。
func (d *Detector) Record(owner string, fp Fingerprint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(owner, fp)
}

// Admit 原子地执行 Check 与 Record，并发的重复兄弟 spawn 只有一个能通过。
// owner 是发起 spawn 的 Agent，通常是 chain 的最后一个元素。
func (d *Detector) Admit(chain []string, owner string, fp Fingerprint) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(chain, fp); err != nil {
		return err
	}
	d.record(owner, fp)
	return nil
}

// Len returns how many fingerprints owner currently holds.
func (d *Detector) Len(owner string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.windows[owner]; ok {
		return len(w.entries)
	}
	return 0
}

func (d *Detector) check(chain []string, fp Fingerprint) error {
	for _, owner := range chain {
		w, ok := d.windows[owner]
		if !ok {
			continue
		}
		for _, prev := range w.entries {
			if prev.Replica != fp.Replica {
				continue
			}
			if prev.Hash == fp.Hash {
				d.logger.Debug("exact duplicate spawn", zap.String("owner", owner), zap.String("task", fp.Text))
				return &CycleError{Owner: owner, Previous: prev.Text, Similarity: 1, Exact: true}
			}
			if sim := fp.Similarity(prev); sim >= d.cfg.Threshold {
				d.logger.Debug("near-duplicate spawn",
					zap.String("owner", owner),
					zap.String("task", fp.Text),
					zap.Float64("similarity", sim))
				return &CycleError{Owner: owner, Previous: prev.Text, Similarity: sim}
			}
		}
	}
	return nil
}

func (d *Detector) record(owner string, fp Fingerprint) {
	w, ok := d.windows[owner]
	if !ok {
		w = &window{size: d.cfg.Window}
		d.windows[owner] = w
	}
	w.push(fp)
}

// window 是固定容量的 FIFO。
type window struct {
	size    int
	entries []Fingerprint
}

func (w *window) push(fp Fingerprint) {
	if len(w.entries) == w.size {
		copy(w.entries, w.entries[1:])
		w.entries = w.entries[:w.size-1]
	}
	w.entries = append(w.entries, fp)
}
