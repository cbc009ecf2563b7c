package manager

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/INLOpen/nexuschat/auth"
	"github.com/INLOpen/nexuschat/core"
	"github.com/INLOpen/nexuschat/entity"
	"github.com/INLOpen/nexuschat/hooks"
	"github.com/INLOpen/nexuschat/index"
	"github.com/INLOpen/nexuschat/indexer"
)

// DefaultChannelNamePattern is the channel name format used when none is configured.
const DefaultChannelNamePattern = `^#[#_A-Za-z0-9]*$`

// Stores maps the logical stores to KV handles. One store may back several
// or all of them.
type Stores struct {
	Users      core.KVStore
	Channels   core.KVStore
	Messages   core.KVStore
	Indexes    core.KVStore
	Tokens     core.KVStore
	Statistics core.KVStore
}

// Options configures New.
type Options struct {
	Stores Stores
	Hasher *auth.Hasher
	Hooks  hooks.HookManager
	Logger *slog.Logger

	// Strict turns index protocol violations into errors.
	Strict             bool
	TopK               int
	ChannelNamePattern string
	// Now is the clock used for message timestamps.
	Now func() time.Time
}

// Managers bundles the managers sharing one set of stores and locks.
type Managers struct {
	Stats    *StatisticsManager
	Tokens   *TokenManager
	Users    *UserManager
	Channels *ChannelManager
	Messages *MessageManager
}

// shared is the state every manager works on.
type shared struct {
	locks     *Locks
	registry  *index.Registry
	users     *entity.Users
	channels  *entity.Channels
	messages  *entity.Messages
	stats     *StatisticsManager
	tokens    *TokenManager
	hooks     hooks.HookManager
	listeners *listenerRegistry
	now       func() time.Time

	userSeq    *indexer.Sequence
	channelSeq *indexer.Sequence
	messageSeq *indexer.Sequence

	userChannels    *Counter
	channelMembers  *Counter
	channelActive   *Counter
	channelMessages *Counter
}

// New wires the managers together.
func New(opts Options) (*Managers, error) {
	s := opts.Stores
	if s.Users == nil || s.Channels == nil || s.Messages == nil || s.Indexes == nil || s.Tokens == nil || s.Statistics == nil {
		return nil, errors.New("manager: every store must be set")
	}
	if opts.Hasher == nil {
		return nil, errors.New("manager: a password hasher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	hookManager := opts.Hooks
	if hookManager == nil {
		hookManager = hooks.NewHookManager(logger)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	pattern := opts.ChannelNamePattern
	if pattern == "" {
		pattern = DefaultChannelNamePattern
	}
	names, err := core.NewNameValidator("channel", pattern)
	if err != nil {
		return nil, err
	}

	locks := NewLocks()
	registry := index.NewRegistry(s.Indexes, index.Options{Strict: opts.Strict, Logger: logger})
	stats := NewStatisticsManager(s.Statistics, registry, opts.TopK, logger)
	users := entity.NewUsers(s.Users)
	channels := entity.NewChannels(s.Channels)

	sh := &shared{
		locks:     locks,
		registry:  registry,
		users:     users,
		channels:  channels,
		messages:  entity.NewMessages(s.Messages),
		stats:     stats,
		tokens:    NewTokenManager(s.Tokens),
		hooks:     hookManager,
		listeners: newListenerRegistry(),
		now:       now,

		userSeq:    indexer.NewSequence(s.Users, []byte("seq/user")),
		channelSeq: indexer.NewSequence(s.Channels, []byte("seq/channel")),
		messageSeq: indexer.NewSequence(s.Messages, []byte("seq/message")),

		userChannels:    NewCounter(users.Props(), entity.UserChannelCount, registry.Tree(TreeUsersByChannels), locks),
		channelMembers:  NewCounter(channels.Props(), entity.ChannelMembers, registry.Tree(TreeChannelsByUsers), locks),
		channelActive:   NewCounter(channels.Props(), entity.ChannelActive, registry.Tree(TreeChannelsByActive), locks),
		channelMessages: NewCounter(channels.Props(), entity.ChannelMessages, registry.Tree(TreeChannelsByMessages), locks),
	}

	channelManager := &ChannelManager{shared: sh, names: names, logger: logger.With("component", "ChannelManager")}
	return &Managers{
		Stats:    stats,
		Tokens:   sh.tokens,
		Users:    &UserManager{shared: sh, hasher: opts.Hasher, logger: logger.With("component", "UserManager")},
		Channels: channelManager,
		Messages: &MessageManager{shared: sh, channelManager: channelManager, logger: logger.With("component", "MessageManager")},
	}, nil
}

func (s *shared) channelMemberTree(channelID int64) *index.Tree {
	return s.registry.Scoped(treeChannelMembers, channelID)
}

func (s *shared) channelOperatorTree(channelID int64) *index.Tree {
	return s.registry.Scoped(treeChannelOperators, channelID)
}

func (s *shared) userChannelTree(userID int64) *index.Tree {
	return s.registry.Scoped(treeUserChannels, userID)
}

// allUsers returns the ids of every user, in no particular order. Each user
// has exactly one key in users_by_channels from creation on.
func (s *shared) allUsers(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.stats.Tree(TreeUsersByChannels).Ascend(ctx, func(k index.Key) bool {
		ids = append(ids, k.ID)
		return true
	})
	return ids, err
}

// memberIDs returns the ids stored in a set tree.
func memberIDs(keys []index.Key) []int64 {
	ids := make([]int64, len(keys))
	for i, k := range keys {
		ids[i] = k.Metric
	}
	return ids
}
