package kv

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/INLOpen/nexuschat/config"
	"github.com/INLOpen/nexuschat/core"
)

// Store is a KVStore that owns resources.
type Store interface {
	core.KVStore
	io.Closer
}

const (
	pebbleDirName = "pebble"
	boltFileName  = "nexuschat.bolt"
	redisPrefix   = "nexuschat:"
)

// Open builds the backend selected by cfg.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger.Info("Opening key/value store", "backend", cfg.Backend, "data_dir", cfg.DataDir)

	switch cfg.Backend {
	case "memory", "":
		return NewMemory(), nil
	case "pebble":
		return OpenPebble(PebbleOptions{
			Dir:        filepath.Join(cfg.DataDir, pebbleDirName),
			SyncWrites: cfg.SyncWrites,
			Logger:     logger,
		})
	case "bolt":
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
		}
		return OpenBolt(filepath.Join(cfg.DataDir, boltFileName), cfg.SyncWrites, logger)
	case "redis":
		return OpenRedis(ctx, cfg.RedisURL, redisPrefix)
	default:
		return nil, fmt.Errorf("unsupported store backend: %q", cfg.Backend)
	}
}
