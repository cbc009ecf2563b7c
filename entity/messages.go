package entity

import (
	"context"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/INLOpen/nexuschat/core"
)

const (
	messageKind      = "message"
	messageEnvelope  = "envelope"
	messageRemaining = "remaining"
	messageReceived  = "received"
)

// Kind is the addressing mode of a message.
type Kind uint8

const (
	KindPrivate Kind = iota + 1
	KindChannel
	KindBroadcast
)

func (k Kind) String() string {
	switch k {
	case KindPrivate:
		return "private"
	case KindChannel:
		return "channel"
	case KindBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// Envelope is the immutable stored form of a sent message.
type Envelope struct {
	ID        int64          `msgpack:"id"`
	Media     core.MediaType `msgpack:"media"`
	Contents  []byte         `msgpack:"contents"`
	Created   time.Time      `msgpack:"created"`
	Kind      Kind           `msgpack:"kind"`
	Sender    int64          `msgpack:"sender"`
	ChannelID int64          `msgpack:"channel_id,omitempty"`
	Recipient int64          `msgpack:"recipient,omitempty"`
	// Source is the string handed to listeners, e.g. "#chan@alice".
	Source string `msgpack:"source"`
}

// Message returns the listener view of the envelope.
func (e *Envelope) Message() core.Message {
	return core.Message{
		ID:       e.ID,
		Media:    e.Media,
		Contents: e.Contents,
		Created:  e.Created,
	}
}

// Messages stores message envelopes and their delivery state.
type Messages struct {
	props Properties
}

func NewMessages(store core.KVStore) *Messages {
	return &Messages{props: NewProperties(store, messageKind)}
}

// Put stores a new envelope.
func (m *Messages) Put(ctx context.Context, env *Envelope) error {
	data, err := msgpack.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode message %d: %w", env.ID, err)
	}
	return m.props.SetBytes(ctx, env.ID, messageEnvelope, data)
}

// Get loads an envelope; found is false for unknown ids.
func (m *Messages) Get(ctx context.Context, id int64) (*Envelope, bool, error) {
	data, found, err := m.props.Bytes(ctx, id, messageEnvelope)
	if err != nil || !found {
		return nil, false, err
	}
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, false, fmt.Errorf("%w: message %d: %v", core.ErrCorruptRecord, id, err)
	}
	return &env, true, nil
}

// Remaining returns how many recipients still lack a listener.
func (m *Messages) Remaining(ctx context.Context, id int64) (int64, error) {
	return m.props.Int64(ctx, id, messageRemaining, 0)
}

func (m *Messages) SetRemaining(ctx context.Context, id int64, n int64) error {
	return m.props.SetInt64(ctx, id, messageRemaining, n)
}

// Received returns when the message was first handed to a listener.
func (m *Messages) Received(ctx context.Context, id int64) (*time.Time, error) {
	nanos, err := m.props.Int64(ctx, id, messageReceived, 0)
	if err != nil || nanos == 0 {
		return nil, err
	}
	ts := time.Unix(0, nanos).UTC()
	return &ts, nil
}

// MarkReceived records the first delivery time; later calls keep the first.
func (m *Messages) MarkReceived(ctx context.Context, id int64, at time.Time) error {
	prev, err := m.props.Int64(ctx, id, messageReceived, 0)
	if err != nil || prev != 0 {
		return err
	}
	return m.props.SetInt64(ctx, id, messageReceived, at.UnixNano())
}
