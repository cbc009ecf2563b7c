package kv

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("nexuschat")

// Every stored value carries a one byte header so that an empty value is
// never confused with an absent key.
const boltValueHeader = byte(1)

// Bolt stores keys in a single bbolt bucket.
type Bolt struct {
	db     *bolt.DB
	logger *slog.Logger
}

// OpenBolt opens (creating if needed) the bolt file at path.
func OpenBolt(path string, syncWrites bool, logger *slog.Logger) (*Bolt, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt db %s: %w", path, err)
	}
	db.NoSync = !syncWrites

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bolt bucket: %w", err)
	}
	return &Bolt{db: db, logger: logger.With("component", "BoltStore")}, nil
}

// Get returns the value stored under key.
func (b *Bolt) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var out []byte
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltBucket).Get(key)
		if len(v) == 0 {
			return nil
		}
		if v[0] != boltValueHeader {
			return fmt.Errorf("unexpected value header %#x for key %q", v[0], key)
		}
		// Values returned by bolt are only valid for the life of the transaction.
		out = cloneBytes(v[1:])
		found = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("bolt get: %w", err)
	}
	return out, found, nil
}

// Set stores value under key.
func (b *Bolt) Set(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		buf := make([]byte, 1+len(value))
		buf[0] = boltValueHeader
		copy(buf[1:], value)
		return tx.Bucket(boltBucket).Put(key, buf)
	})
	if err != nil {
		return fmt.Errorf("bolt set: %w", err)
	}
	return nil
}

// Close closes the bolt file.
func (b *Bolt) Close() error {
	return b.db.Close()
}
