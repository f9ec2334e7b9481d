package cache

import (
	"context"
	"sync"
)

// MemoryStorage keeps generations in process memory.
type MemoryStorage struct {
	mu sync.RWMutex
	m  map[string]map[string]*Response
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{m: make(map[string]map[string]*Response)}
}

func (s *MemoryStorage) Open(_ context.Context, generation string) (Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[generation]; !ok {
		s.m[generation] = make(map[string]*Response)
	}
	return &memoryBucket{s: s, gen: generation}, nil
}

func (s *MemoryStorage) Generations(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.m))
	for name := range s.m {
		out = append(out, name)
	}
	return out, nil
}

func (s *MemoryStorage) Delete(_ context.Context, generation string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[generation]
	delete(s.m, generation)
	return ok, nil
}

type memoryBucket struct {
	s   *MemoryStorage
	gen string
}

func (b *memoryBucket) Match(_ context.Context, key string) (*Response, bool, error) {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()
	r, ok := b.s.m[b.gen][key]
	if !ok {
		return nil, false, nil
	}
	return r.Clone(), true, nil
}

// Put recreates the generation if it was deleted after Open.
func (b *memoryBucket) Put(_ context.Context, key string, resp *Response) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	entries, ok := b.s.m[b.gen]
	if !ok {
		entries = make(map[string]*Response)
		b.s.m[b.gen] = entries
	}
	entries[key] = resp.Clone()
	return nil
}
