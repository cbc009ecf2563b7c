package cache

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/INLOpen/nexuschat/core"
)

const lockStripes = 256

// Store is a read-through, write-through cache in front of a KVStore.
// Absent keys are not cached. Cache fills and writes of one key are
// serialized, so a fill can never cache a value older than the last write
// even if that write's entry was evicted meanwhile.
type Store struct {
	backend core.KVStore
	cache   *LRUCache[[]byte]
	stripes [lockStripes]sync.Mutex
}

// NewStore wraps backend with an LRU cache of the given capacity.
func NewStore(backend core.KVStore, c *LRUCache[[]byte]) *Store {
	return &Store{backend: backend, cache: c}
}

func (s *Store) lock(key string) func() {
	mu := &s.stripes[xxhash.Sum64String(key)%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// Get serves key from the cache, falling back to the backend.
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	k := string(key)
	if v, ok := s.cache.Get(k); ok {
		return clone(v), true, nil
	}

	unlock := s.lock(k)
	defer unlock()
	v, found, err := s.backend.Get(ctx, key)
	if err != nil || !found {
		return v, found, err
	}
	s.cache.Put(k, clone(v))
	return v, true, nil
}

// Set writes to the backend, then updates the cache.
func (s *Store) Set(ctx context.Context, key, value []byte) error {
	k := string(key)
	unlock := s.lock(k)
	defer unlock()
	if err := s.backend.Set(ctx, key, value); err != nil {
		s.cache.Remove(k)
		return err
	}
	s.cache.Put(k, clone(value))
	return nil
}

// Close closes the backend if it owns resources.
func (s *Store) Close() error {
	s.cache.Clear()
	if c, ok := s.backend.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// HitRate reports the cache hit rate.
func (s *Store) HitRate() float64 {
	return s.cache.GetHitRate()
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
