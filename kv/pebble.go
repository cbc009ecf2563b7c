package kv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Pebble stores keys in a pebble LSM database.
type Pebble struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
	logger    *slog.Logger
}

// PebbleOptions configures OpenPebble.
type PebbleOptions struct {
	Dir        string
	SyncWrites bool
	// InMemory keeps all files in a memory filesystem; used by tests.
	InMemory bool
	Logger   *slog.Logger
}

// OpenPebble opens (creating if needed) a pebble database.
func OpenPebble(opts PebbleOptions) (*Pebble, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	pebbleOpts := &pebble.Options{}
	if opts.InMemory {
		pebbleOpts.FS = vfs.NewMem()
	}
	db, err := pebble.Open(opts.Dir, pebbleOpts)
	if err != nil {
		return nil, fmt.Errorf("%s: could not open pebble db: %w", opts.Dir, err)
	}
	writeOpts := pebble.NoSync
	if opts.SyncWrites {
		writeOpts = pebble.Sync
	}
	return &Pebble{
		db:        db,
		writeOpts: writeOpts,
		logger:    logger.With("component", "PebbleStore"),
	}, nil
}

// Get returns the value stored under key.
func (p *Pebble) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	value, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pebble get: %w", err)
	}
	// The returned slice is only valid until closer is closed.
	out := cloneBytes(value)
	if err := closer.Close(); err != nil {
		return nil, false, fmt.Errorf("pebble get close: %w", err)
	}
	return out, true, nil
}

// Set stores value under key.
func (p *Pebble) Set(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.db.Set(key, value, p.writeOpts); err != nil {
		return fmt.Errorf("pebble set: %w", err)
	}
	return nil
}

// Close flushes and closes the database.
func (p *Pebble) Close() error {
	if err := p.db.Flush(); err != nil {
		p.logger.Error("pebble flush", "err", err)
	}
	return p.db.Close()
}
