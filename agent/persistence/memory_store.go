package persistence

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore is an in-memory Recorder. Data is lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]RunRecord // agent_id -> record
	byReq  map[string][]string  // request_id -> agent ids
	closed bool
	nextID uint
}

// NewMemoryStore creates a new in-memory run store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:  make(map[string]RunRecord),
		byReq: make(map[string][]string),
	}
}

func (s *MemoryStore) RecordRun(_ context.Context, rec RunRecord) error {
	if err := rec.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	if prev, ok := s.runs[rec.AgentID]; ok {
		rec.ID = prev.ID
	} else {
		s.nextID++
		rec.ID = s.nextID
		s.byReq[rec.RequestID] = append(s.byReq[rec.RequestID], rec.AgentID)
	}
	s.runs[rec.AgentID] = rec
	return nil
}

func (s *MemoryStore) ListRuns(_ context.Context, requestID string) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	ids := s.byReq[requestID]
	out := make([]RunRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.runs[id])
	}
	slices.SortStableFunc(out, func(a, b RunRecord) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return out, nil
}

func (s *MemoryStore) Prune(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	var n int64
	for id, rec := range s.runs {
		if !rec.FinishedAt.Before(before) {
			continue
		}
		delete(s.runs, id)
		ids := slices.DeleteFunc(s.byReq[rec.RequestID], func(v string) bool { return v == id })
		if len(ids) == 0 {
			delete(s.byReq, rec.RequestID)
		} else {
			s.byReq[rec.RequestID] = ids
		}
		n++
	}
	return n, nil
}

// Ping checks if the store is healthy
func (s *MemoryStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close closes the store
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
