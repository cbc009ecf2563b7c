package manager

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/INLOpen/nexuschat/core"
	"github.com/INLOpen/nexuschat/index"
)

// Global counters.
const (
	StatTotalUsers      = "total_users"
	StatLoggedInUsers   = "logged_in_users"
	StatChannels        = "channels"
	StatChannelMessages = "channel_messages"
)

// Index names.
const (
	TreeChannelsByUsers    = "channels_by_users"
	TreeChannelsByActive   = "channels_by_active"
	TreeChannelsByMessages = "channels_by_messages"
	TreeUsersByChannels    = "users_by_channels"
	TreePendingMessages    = "pending_messages"

	treeChannelMembers   = "channel_members"
	treeChannelOperators = "channel_operators"
	treeUserChannels     = "user_channels"
)

// StatisticsManager owns the global counters and the ranking indexes.
type StatisticsManager struct {
	store    core.KVStore
	registry *index.Registry
	topK     int
	logger   *slog.Logger

	mu sync.Mutex
}

func NewStatisticsManager(store core.KVStore, registry *index.Registry, topK int, logger *slog.Logger) *StatisticsManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if topK <= 0 {
		topK = 10
	}
	return &StatisticsManager{
		store:    store,
		registry: registry,
		topK:     topK,
		logger:   logger.With("component", "StatisticsManager"),
	}
}

func statKey(name string) []byte {
	return []byte("stats/" + name)
}

// Get returns a global counter.
func (s *StatisticsManager) Get(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return core.GetInt64(ctx, s.store, statKey(name), 0)
}

// Add changes a global counter by delta and returns the new value.
func (s *StatisticsManager) Add(ctx context.Context, name string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := core.GetInt64(ctx, s.store, statKey(name), 0)
	if err != nil {
		return 0, fmt.Errorf("read counter %s: %w", name, err)
	}
	v += delta
	if v < 0 {
		s.logger.Error("Global counter went negative", "counter", name, "value", v)
		return 0, fmt.Errorf("%w: counter %s would become %d", core.ErrIllegalState, name, v)
	}
	if err := core.SetInt64(ctx, s.store, statKey(name), v); err != nil {
		return 0, fmt.Errorf("write counter %s: %w", name, err)
	}
	return v, nil
}

// Tree returns a global index by name.
func (s *StatisticsManager) Tree(name string) *index.Tree {
	return s.registry.Tree(name)
}

// PendingMessages returns the number of messages still waiting for at
// least one recipient's listener.
func (s *StatisticsManager) PendingMessages(ctx context.Context) (int64, error) {
	return s.registry.Tree(TreePendingMessages).Size(ctx)
}

// Top returns the entity ids holding the highest metrics of an index,
// highest first.
func (s *StatisticsManager) Top(ctx context.Context, tree string) ([]int64, error) {
	keys, err := s.registry.Tree(tree).Top(ctx, s.topK)
	if err != nil {
		return nil, fmt.Errorf("top %d of %s: %w", s.topK, tree, err)
	}
	ids := make([]int64, len(keys))
	for i, k := range keys {
		ids[i] = k.ID
	}
	return ids, nil
}
