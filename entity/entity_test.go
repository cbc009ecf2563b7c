package entity

import (
	"context"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/nexuschat/core"
	"github.com/INLOpen/nexuschat/kv"
)

func TestProperties(t *testing.T) {
	ctx := context.Background()
	props := NewProperties(kv.NewMemory(), "thing")

	assert.Equal(t, []byte("thing/7/size"), props.Key(7, "size"))

	v, err := props.Int64(ctx, 7, "size", -1)
	require.NoError(t, err)
	assert.EqualValues(t, -1, v)
	require.NoError(t, props.SetInt64(ctx, 7, "size", 12))
	v, err = props.Int64(ctx, 7, "size", -1)
	require.NoError(t, err)
	assert.EqualValues(t, 12, v)

	_, found, err := props.String(ctx, 7, "label")
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, props.SetString(ctx, 7, "label", "hello"))
	s, found, err := props.String(ctx, 7, "label")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "hello", s)

	b, err := props.Bool(ctx, 7, "flag")
	require.NoError(t, err)
	assert.False(t, b)
	require.NoError(t, props.SetBool(ctx, 7, "flag", true))
	b, err = props.Bool(ctx, 7, "flag")
	require.NoError(t, err)
	assert.True(t, b)

	// Other ids are independent.
	b, err = props.Bool(ctx, 8, "flag")
	require.NoError(t, err)
	assert.False(t, b)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	users := NewUsers(kv.NewMemory())

	_, found, err := users.ID(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, users.Create(ctx, 1, "alice", []byte("hash"), false))

	id, found, err := users.ID(ctx, "alice")
	require.NoError(t, err)
	require.True(t, found)
	assert.EqualValues(t, 1, id)

	name, found, err := users.Name(ctx, 1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "alice", name)

	_, found, err = users.Name(ctx, 2)
	require.NoError(t, err)
	assert.False(t, found)

	hash, err := users.PasswordHash(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("hash"), hash)
	_, err = users.PasswordHash(ctx, 2)
	assert.ErrorIs(t, err, core.ErrNoSuchEntity)

	admin, err := users.IsAdmin(ctx, 1)
	require.NoError(t, err)
	assert.False(t, admin)
	require.NoError(t, users.SetAdmin(ctx, 1, true))
	admin, err = users.IsAdmin(ctx, 1)
	require.NoError(t, err)
	assert.True(t, admin)

	require.NoError(t, users.SetLoggedIn(ctx, 1, true))
	in, err := users.IsLoggedIn(ctx, 1)
	require.NoError(t, err)
	assert.True(t, in)

	_, found, err = users.Token(ctx, 1)
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, users.SetToken(ctx, 1, "tok"))
	token, found, err := users.Token(ctx, 1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "tok", token)
	require.NoError(t, users.SetToken(ctx, 1, ""))
	_, found, err = users.Token(ctx, 1)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUsers_PendingSet(t *testing.T) {
	ctx := context.Background()
	users := NewUsers(kv.NewMemory())

	bm, err := users.PendingSet(ctx, 1)
	require.NoError(t, err)
	assert.True(t, bm.IsEmpty())

	bm.Add(9)
	bm.Add(3)
	require.NoError(t, users.SetPendingSet(ctx, 1, bm))

	got, err := users.PendingSet(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 9}, got.ToArray())

	require.NoError(t, users.SetPendingSet(ctx, 1, roaring64.New()))
	got, err = users.PendingSet(ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.IsEmpty())

	require.NoError(t, users.Props().SetBytes(ctx, 1, userPending, []byte{1, 2, 3}))
	_, err = users.PendingSet(ctx, 1)
	assert.ErrorIs(t, err, core.ErrCorruptRecord)
}

func TestChannels_BindUnbind(t *testing.T) {
	ctx := context.Background()
	channels := NewChannels(kv.NewMemory())

	require.NoError(t, channels.Bind(ctx, "#go", 4))
	id, found, err := channels.ID(ctx, "#go")
	require.NoError(t, err)
	require.True(t, found)
	assert.EqualValues(t, 4, id)

	name, found, err := channels.Name(ctx, 4)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "#go", name)

	require.NoError(t, channels.Unbind(ctx, "#go", 4))
	_, found, err = channels.ID(ctx, "#go")
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = channels.Name(ctx, 4)
	require.NoError(t, err)
	assert.False(t, found)

	// The name can be bound to a new channel.
	require.NoError(t, channels.Bind(ctx, "#go", 9))
	id, found, err = channels.ID(ctx, "#go")
	require.NoError(t, err)
	assert.True(t, found)
	assert.EqualValues(t, 9, id)
}

func TestMessages(t *testing.T) {
	ctx := context.Background()
	messages := NewMessages(kv.NewMemory())

	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	env := &Envelope{
		ID:        5,
		Media:     core.MediaPhoto,
		Contents:  []byte{0xde, 0xad},
		Created:   created,
		Kind:      KindChannel,
		Sender:    2,
		ChannelID: 3,
		Source:    "#go@alice",
	}
	require.NoError(t, messages.Put(ctx, env))

	got, found, err := messages.Get(ctx, 5)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, env.Source, got.Source)
	assert.Equal(t, KindChannel, got.Kind)
	assert.True(t, created.Equal(got.Created))

	msg := got.Message()
	assert.EqualValues(t, 5, msg.ID)
	assert.Equal(t, core.MediaPhoto, msg.Media)
	assert.Equal(t, []byte{0xde, 0xad}, msg.Contents)
	assert.Nil(t, msg.Received)

	_, found, err = messages.Get(ctx, 6)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, messages.SetRemaining(ctx, 5, 3))
	n, err := messages.Remaining(ctx, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	received, err := messages.Received(ctx, 5)
	require.NoError(t, err)
	assert.Nil(t, received)
	first := created.Add(time.Minute)
	require.NoError(t, messages.MarkReceived(ctx, 5, first))
	require.NoError(t, messages.MarkReceived(ctx, 5, first.Add(time.Hour)))
	received, err = messages.Received(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, received)
	assert.True(t, first.Equal(*received))
}
