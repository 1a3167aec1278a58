package circuitbreaker

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Group 按外部依赖名称（"completion"、"tool:<name>"）懒加载熔断器。
// 同一 Group 在引擎的所有请求树之间共享。
type Group struct {
	config *Config
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewGroup creates a breaker group; every breaker uses config.
func NewGroup(config *Config, logger *zap.Logger) *Group {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Group{
		config:   config,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker guarding name, creating it on first use.
func (g *Group) Get(name string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	if b, ok := g.breakers[name]; ok {
		return b
	}
	b := NewBreaker(name, g.config, g.logger)
	g.breakers[name] = b
	return b
}

// States snapshots every known breaker's state.
func (g *Group) States() map[string]State {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]State, len(g.breakers))
	for name, b := range g.breakers {
		out[name] = b.State()
	}
	return out
}

// Names returns known dependency names in sorted order.
func (g *Group) Names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	names := make([]string, 0, len(g.breakers))
	for name := range g.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
