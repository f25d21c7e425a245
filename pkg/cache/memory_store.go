package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore backs the cache with patrickmn/go-cache. Suitable for a single
// process deployment; versions live in a plain map guarded by a mutex since
// go-cache has no atomic increment for non-expiring entries.
type MemoryStore struct {
	entries *gocache.Cache

	mu       sync.Mutex
	versions map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  gocache.New(5*time.Minute, 10*time.Minute),
		versions: make(map[string]int64),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if x, found := s.entries.Get(key); found {
		return x.([]byte), true, nil
	}
	return nil, false, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.entries.Set(key, value, ttl)
	return nil
}

func (s *MemoryStore) IncrementVersion(_ context.Context, namespace string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.versions[namespace] == 0 {
		s.versions[namespace] = 1
	}
	s.versions[namespace]++
	return s.versions[namespace], nil
}

func (s *MemoryStore) Version(_ context.Context, namespace string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v := s.versions[namespace]; v > 0 {
		return v, nil
	}
	return 1, nil
}
