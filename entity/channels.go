package entity

import (
	"context"
	"fmt"

	"github.com/INLOpen/nexuschat/core"
)

const (
	channelKind = "channel"
	channelName = "name"

	// Counters mirrored in the channel top-K indexes.
	ChannelMembers  = "members"
	ChannelActive   = "active"
	ChannelMessages = "messages"
)

// InvalidName replaces the name of a destroyed channel. It can never pass
// channel name validation.
const InvalidName = ""

// Channels stores channel records and the name to id binding.
type Channels struct {
	store core.KVStore
	props Properties
}

func NewChannels(store core.KVStore) *Channels {
	return &Channels{store: store, props: NewProperties(store, channelKind)}
}

func (c *Channels) Props() Properties { return c.props }

// ID resolves a channel name. A name bound to a destroyed channel is
// reported as not found.
func (c *Channels) ID(ctx context.Context, name string) (int64, bool, error) {
	data, found, err := c.store.Get(ctx, nameKey(channelKind, name))
	if err != nil || !found || len(data) == 0 {
		return 0, false, err
	}
	id, err := core.DecodeInt64(data)
	if err != nil {
		return 0, false, fmt.Errorf("channel name %q: %w", name, err)
	}
	return id, true, nil
}

// Bind maps name to id in both directions.
func (c *Channels) Bind(ctx context.Context, name string, id int64) error {
	if err := c.props.SetString(ctx, id, channelName, name); err != nil {
		return err
	}
	return core.SetInt64(ctx, c.store, nameKey(channelKind, name), id)
}

// Unbind frees name for reuse and marks id as destroyed.
func (c *Channels) Unbind(ctx context.Context, name string, id int64) error {
	if err := c.store.Set(ctx, nameKey(channelKind, name), []byte{}); err != nil {
		return err
	}
	return c.props.SetString(ctx, id, channelName, InvalidName)
}

// Name returns the name of a live channel; found is false for unknown or
// destroyed channels.
func (c *Channels) Name(ctx context.Context, id int64) (string, bool, error) {
	name, found, err := c.props.String(ctx, id, channelName)
	if err != nil || !found || name == InvalidName {
		return "", false, err
	}
	return name, true, nil
}
