package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/INLOpen/nexuschat/auth"
	"github.com/INLOpen/nexuschat/cache"
	"github.com/INLOpen/nexuschat/config"
	"github.com/INLOpen/nexuschat/core"
	"github.com/INLOpen/nexuschat/hooks"
	"github.com/INLOpen/nexuschat/hooks/listeners"
	"github.com/INLOpen/nexuschat/kv"
	"github.com/INLOpen/nexuschat/manager"
)

// Open builds an App from configuration: it opens the configured backend,
// optionally behind an LRU cache, and registers the built-in hook
// listeners. Spans go to the global tracer provider.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hashType, err := auth.ParseHashType(cfg.Chat.PasswordHash)
	if err != nil {
		return nil, err
	}
	hasher, err := auth.NewHasher(hashType, cfg.Chat.BcryptCost)
	if err != nil {
		return nil, err
	}

	backend, err := kv.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	var store core.KVStore = backend
	var closer io.Closer = backend
	if cfg.Cache.Enabled {
		lru := cache.NewLRUCache[[]byte](cfg.Cache.Capacity, nil, nil, nil)
		lru.SetMetrics(cacheHits, cacheMisses)
		cached := cache.NewStore(backend, lru)
		store, closer = cached, cached
		logger.Info("Key/value cache enabled", "capacity", cfg.Cache.Capacity)
	}

	hookManager := hooks.NewHookManager(logger)
	registerListeners(hookManager, cfg.Hooks, logger)

	a, err := New(Options{
		Stores: manager.Stores{
			Users:      store,
			Channels:   store,
			Messages:   store,
			Indexes:    store,
			Tokens:     store,
			Statistics: store,
		},
		Hasher:             hasher,
		Hooks:              hookManager,
		Logger:             logger,
		Tracer:             otel.Tracer("nexuschat"),
		Strict:             cfg.Index.Strict,
		TopK:               cfg.Chat.TopK,
		ChannelNamePattern: cfg.Chat.ChannelNamePattern,
		SlowOperation:      config.ParseDuration(cfg.Chat.SlowOperationThreshold, 0, logger),
		Closers:            []io.Closer{closer},
	})
	if err != nil {
		closer.Close()
		return nil, err
	}
	return a, nil
}

func registerListeners(m hooks.HookManager, cfg config.HooksConfig, logger *slog.Logger) {
	filter := listeners.NewContentFilterListener(logger, cfg.BannedWords, cfg.MaxMessageBytes)
	m.Register(hooks.EventPreMessageSend, filter)

	if cfg.ChannelSizeAlertThreshold > 0 {
		alerter := listeners.NewChannelSizeAlerterListener(logger, cfg.ChannelSizeAlertThreshold)
		m.Register(hooks.EventPostChannelCreate, alerter)
		m.Register(hooks.EventPostChannelJoin, alerter)
	}

	deliveries := listeners.NewDeliveryMetricsListener(logger)
	m.Register(hooks.EventPostMessageSend, deliveries)
	m.Register(hooks.EventPostMessageDeliver, deliveries)
}
