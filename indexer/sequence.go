package indexer

import (
	"context"
	"fmt"
	"sync"

	"github.com/INLOpen/nexuschat/core"
)

// Sequence issues monotonically increasing ids from a single counter key.
// Ids are unique, not gap free: an id whose owner failed to persist is
// never reissued. Exactly one Sequence may exist per counter key.
type Sequence struct {
	store core.KVStore
	key   []byte
	mu    sync.Mutex
}

// NewSequence creates a generator over the counter stored at key.
func NewSequence(store core.KVStore, key []byte) *Sequence {
	return &Sequence{store: store, key: key}
}

// Next reserves and returns the next id. The first id is 1.
func (s *Sequence) Next(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := core.GetInt64(ctx, s.store, s.key, 0)
	if err != nil {
		return 0, fmt.Errorf("read sequence %s: %w", s.key, err)
	}
	next := current + 1
	if err := core.SetInt64(ctx, s.store, s.key, next); err != nil {
		return 0, fmt.Errorf("advance sequence %s: %w", s.key, err)
	}
	return next, nil
}

// Current returns the last issued id, or 0 if none was issued.
func (s *Sequence) Current(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return core.GetInt64(ctx, s.store, s.key, 0)
}
