package variables

import (
	"context"
	"sync"
)

type MemoryStore struct {
	mu     sync.Mutex
	scopes map[string][]Variable
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scopes: map[string][]Variable{}}
}

func (s *MemoryStore) Load(_ context.Context, scope string) ([]Variable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Variable(nil), s.scopes[scope]...), nil
}

func (s *MemoryStore) Save(_ context.Context, scope string, vars []Variable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes[scope] = append([]Variable(nil), vars...)
	return nil
}
