package cache

import (
	"context"
	"sync"
)

// MemoryStore keeps entries in process. Expired entries are left for the next Put to overwrite.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]Entry{}}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	cp := e
	cp.Payload = append([]byte(nil), e.Payload...)
	return &cp, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Payload = append([]byte(nil), e.Payload...)
	s.entries[key] = e
	return nil
}

func (s *MemoryStore) Hit(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.HitCount++
		s.entries[key] = e
	}
	return nil
}
