package core

import (
	"context"
)

// KVStore is the byte-addressable persistence primitive every higher level
// structure is built on. Implementations must be linearizable per key.
type KVStore interface {
	// Get returns the value stored under key. found is false when the key
	// has never been written.
	Get(ctx context.Context, key []byte) (value []byte, found bool, err error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value []byte) error
}
