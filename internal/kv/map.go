package kv

import "sync"

// MapStore is an unbounded Store over a plain map.
type MapStore struct {
	mu sync.Mutex
	m  map[string]Entry
}

var _ Store = (*MapStore)(nil)

func NewMapStore() *MapStore { return &MapStore{m: make(map[string]Entry)} }

func (s *MapStore) Load(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	return e, ok
}

func (s *MapStore) Save(key string, e Entry) error {
	s.mu.Lock()
	s.m[key] = e
	s.mu.Unlock()
	return nil
}

func (s *MapStore) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[key]
	delete(s.m, key)
	return ok
}

func (s *MapStore) Close() error { return nil }

// Keys lists stored keys, expired ones included.
func (s *MapStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.m))
	for k := range s.m {
		out = append(out, k)
	}
	return out
}
