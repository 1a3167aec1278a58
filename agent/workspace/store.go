package workspace

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"
)

// ErrClosed is returned by operations on a dropped workspace.
var ErrClosed = errors.New("workspace: closed")

// Entry 是一个键的当前值及其写入者。
type Entry struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Writer    string    `json:"writer"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store 保存各请求的工作区条目与审计历史。
// Put 分配单调递增的版本号并覆盖旧值（last-writer-wins）。
type Store interface {
	Put(ctx context.Context, requestID string, e Entry) (Entry, error)
	Get(ctx context.Context, requestID, key string) (Entry, bool, error)
	All(ctx context.Context, requestID string) (map[string]Entry, error)
	History(ctx context.Context, requestID, key string) ([]Entry, error)
	Drop(ctx context.Context, requestID string) error
}

// MemoryStore 进程内存储，默认实现。
type MemoryStore struct {
	mu       sync.Mutex
	requests map[string]*memSpace
}

type memSpace struct {
	seq     int64
	entries map[string]Entry
	history map[string][]Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*memSpace)}
}

func (s *MemoryStore) space(requestID string) *memSpace {
	sp, ok := s.requests[requestID]
	if !ok {
		sp = &memSpace{entries: make(map[string]Entry), history: make(map[string][]Entry)}
		s.requests[requestID] = sp
	}
	return sp
}

func (s *MemoryStore) Put(_ context.Context, requestID string, e Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp := s.space(requestID)
	sp.seq++
	e.Version = sp.seq
	sp.entries[e.Key] = e
	sp.history[e.Key] = append(sp.history[e.Key], e)
	return e, nil
}

func (s *MemoryStore) Get(_ context.Context, requestID, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.requests[requestID]
	if !ok {
		return Entry{}, false, nil
	}
	e, ok := sp.entries[key]
	return e, ok, nil
}

func (s *MemoryStore) All(_ context.Context, requestID string) (map[string]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.requests[requestID]
	if !ok {
		return map[string]Entry{}, nil
	}
	return maps.Clone(sp.entries), nil
}

func (s *MemoryStore) History(_ context.Context, requestID, key string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.requests[requestID]
	if !ok {
		return nil, nil
	}
	return slices.Clone(sp.history[key]), nil
}

func (s *MemoryStore) Drop(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, requestID)
	return nil
}
