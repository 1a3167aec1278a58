package tools

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig 工具级限流：Window 内最多 MaxCalls 次，允许 MaxCalls 的突发。
type RateLimitConfig struct {
	MaxCalls int
	Window   time.Duration
}

func (c RateLimitConfig) limiter() *rate.Limiter {
	if c.MaxCalls <= 0 || c.Window <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	every := c.Window / time.Duration(c.MaxCalls)
	return rate.NewLimiter(rate.Every(every), c.MaxCalls)
}

// limiterSet 按工具名称保存限流器。
type limiterSet struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newLimiterSet() *limiterSet {
	return &limiterSet{limiters: make(map[string]*rate.Limiter)}
}

func (s *limiterSet) set(name string, cfg *RateLimitConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg == nil {
		delete(s.limiters, name)
		return
	}
	s.limiters[name] = cfg.limiter()
}

func (s *limiterSet) allow(name string) bool {
	s.mu.Lock()
	l, ok := s.limiters[name]
	s.mu.Unlock()
	if !ok {
		return true
	}
	return l.Allow()
}
