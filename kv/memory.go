package kv

import (
	"context"
	"strings"
	"sync"

	"github.com/INLOpen/skiplist"
)

// Memory is an ordered in-memory store backed by a skiplist.
type Memory struct {
	mu   sync.RWMutex
	data *skiplist.SkipList[string, []byte]
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		data: skiplist.NewWithComparator[string, []byte](strings.Compare),
	}
}

// Get returns a copy of the value stored under key.
func (m *Memory) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Seek finds the first element >= key, so an exact match must be checked.
	node, ok := m.data.Seek(string(key))
	if !ok || node.Key() != string(key) {
		return nil, false, nil
	}
	return cloneBytes(node.Value()), true, nil
}

// Set stores a copy of value under key.
func (m *Memory) Set(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.Insert(string(key), cloneBytes(value))
	return nil
}

// Len returns the number of keys ever written.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.Len()
}

// Range calls fn for every key with the given prefix in ascending order until fn returns false.
func (m *Memory) Range(prefix []byte, fn func(key, value []byte) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := string(prefix)
	m.data.Range(func(key string, value []byte) bool {
		if !strings.HasPrefix(key, p) {
			// Keys are ordered; once past the prefix there is nothing left to visit.
			return key < p
		}
		return fn([]byte(key), value)
	})
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

func cloneBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
