package app

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/nexuschat/auth"
	"github.com/INLOpen/nexuschat/config"
	"github.com/INLOpen/nexuschat/core"
	"github.com/INLOpen/nexuschat/kv"
	"github.com/INLOpen/nexuschat/manager"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	store := kv.NewMemory()
	hasher, err := auth.NewHasher(auth.HashTypeSHA256, 0)
	require.NoError(t, err)
	a, err := New(Options{
		Stores:  manager.Stores{Users: store, Channels: store, Messages: store, Indexes: store, Tokens: store, Statistics: store},
		Hasher:  hasher,
		Strict:  true,
		Closers: []io.Closer{store},
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	return a
}

func mustLogin(t *testing.T, a *App, name string) string {
	t.Helper()
	token, err := a.Login(context.Background(), name, "pw")
	require.NoError(t, err)
	return token
}

type inbox struct {
	mu     sync.Mutex
	source []string
	ids    []int64
}

func (b *inbox) listen(ctx context.Context, source string, msg core.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.source = append(b.source, source)
	b.ids = append(b.ids, msg.ID)
	return nil
}

func (b *inbox) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ids)
}

func TestApp_Top10ChannelsByUsers(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)

	admin := mustLogin(t, a, "admin")
	tokens := make([]string, 20)
	for i := 1; i < 20; i++ {
		tokens[i] = mustLogin(t, a, fmt.Sprintf("user%d", i))
	}
	for i := 1; i <= 20; i++ {
		name := fmt.Sprintf("#ch%d", i)
		require.NoError(t, a.ChannelJoin(ctx, admin, name))
		for u := 1; u < i; u++ {
			require.NoError(t, a.ChannelJoin(ctx, tokens[u], name))
		}
	}

	top, err := a.Top10ChannelsByUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"#ch20", "#ch19", "#ch18", "#ch17", "#ch16", "#ch15", "#ch14", "#ch13", "#ch12", "#ch11"}, top)

	active, err := a.Top10ActiveChannelsByUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, top, active)

	users, err := a.Top10UsersByChannels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "user1", "user2", "user3", "user4", "user5", "user6", "user7", "user8", "user9"}, users)

	require.NoError(t, a.ChannelPart(ctx, tokens[19], "#ch20"))
	top, err = a.Top10ChannelsByUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"#ch19", "#ch20", "#ch18", "#ch17", "#ch16", "#ch15", "#ch14", "#ch13", "#ch12", "#ch11"}, top)

	// Logging out drops a user's channels from the active ranking only.
	for u := 11; u < 20; u++ {
		require.NoError(t, a.Logout(ctx, tokens[u]))
	}
	n, err := a.NumberOfActiveUsersInChannel(ctx, admin, "#ch20")
	require.NoError(t, err)
	assert.EqualValues(t, 11, n)
	n, err = a.NumberOfTotalUsersInChannel(ctx, admin, "#ch20")
	require.NoError(t, err)
	assert.EqualValues(t, 19, n)
	active, err = a.Top10ActiveChannelsByUsers(ctx)
	require.NoError(t, err)
	// #ch11..#ch20 now all have 11 active members.
	assert.Equal(t, "#ch11", active[0])
	assert.Equal(t, "#ch12", active[1])
}

func TestApp_ChannelLifecycle(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)
	alice := mustLogin(t, a, "alice")
	bob := mustLogin(t, a, "bob")

	assert.ErrorIs(t, a.ChannelJoin(ctx, bob, "#lobby"), core.ErrUserNotAuthorized)
	assert.ErrorIs(t, a.ChannelJoin(ctx, alice, "lobby"), core.ErrNameFormat)

	require.NoError(t, a.ChannelJoin(ctx, alice, "#lobby"))
	n, err := a.NumberOfTotalUsersInChannel(ctx, alice, "#lobby")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	require.NoError(t, a.ChannelJoin(ctx, bob, "#lobby"))

	in, err := a.IsUserInChannel(ctx, alice, "#lobby", "bob")
	require.NoError(t, err)
	assert.True(t, in)
	_, err = a.IsUserInChannel(ctx, alice, "#lobby", "ghost")
	assert.ErrorIs(t, err, core.ErrNoSuchEntity)

	assert.ErrorIs(t, a.ChannelKick(ctx, bob, "#lobby", "alice"), core.ErrUserNotAuthorized)
	require.NoError(t, a.ChannelMakeOperator(ctx, alice, "#lobby", "bob"))
	require.NoError(t, a.ChannelKick(ctx, bob, "#lobby", "alice"))
	require.NoError(t, a.ChannelPart(ctx, bob, "#lobby"))

	_, err = a.NumberOfTotalUsersInChannel(ctx, alice, "#lobby")
	assert.ErrorIs(t, err, core.ErrNoSuchEntity)
	channels, err := a.Channels(ctx)
	require.NoError(t, err)
	assert.Zero(t, channels)

	// Only an administrator can bring the name back.
	assert.ErrorIs(t, a.ChannelJoin(ctx, bob, "#lobby"), core.ErrUserNotAuthorized)
	require.NoError(t, a.MakeAdministrator(ctx, alice, "bob"))
	require.NoError(t, a.ChannelJoin(ctx, bob, "#lobby"))
}

func TestApp_Messaging(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)
	alice := mustLogin(t, a, "alice")
	bob := mustLogin(t, a, "bob")
	carol := mustLogin(t, a, "carol")

	require.NoError(t, a.ChannelJoin(ctx, alice, "#go"))
	require.NoError(t, a.ChannelJoin(ctx, bob, "#go"))

	bobInbox := &inbox{}
	_, err := a.AddListener(ctx, bob, bobInbox.listen)
	require.NoError(t, err)

	_, err = a.ChannelSend(ctx, alice, "#go", a.NewMessage(core.MediaText, []byte("hello")))
	require.NoError(t, err)
	_, err = a.PrivateSend(ctx, alice, "bob", a.NewMessage(core.MediaSticker, []byte{1}))
	require.NoError(t, err)
	assert.Equal(t, []string{"#go@alice", "@alice"}, bobInbox.source)

	bcast, err := a.Broadcast(ctx, alice, a.NewMessage(core.MediaText, []byte("all hands")))
	require.NoError(t, err)
	_, err = a.Broadcast(ctx, bob, a.NewMessage(core.MediaText, []byte("me too")))
	assert.ErrorIs(t, err, core.ErrUserNotAuthorized)

	pending, err := a.PendingMessages(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending, "carol has no listener yet")

	carolInbox := &inbox{}
	id, err := a.AddListener(ctx, carol, carolInbox.listen)
	require.NoError(t, err)
	assert.Equal(t, []int64{bcast}, carolInbox.ids)
	pending, err = a.PendingMessages(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
	require.NoError(t, a.RemoveListener(ctx, carol, id))
	assert.ErrorIs(t, a.RemoveListener(ctx, carol, id), core.ErrNoSuchEntity)

	msg, err := a.FetchMessage(ctx, carol, bcast)
	require.NoError(t, err)
	assert.Equal(t, []byte("all hands"), msg.Contents)
	assert.NotNil(t, msg.Received)

	stats, err := a.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, Statistics{TotalUsers: 3, LoggedInUsers: 3, Channels: 1, ChannelMessages: 1}, stats)

	top, err := a.Top10ChannelsByMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"#go"}, top)
	assert.Equal(t, 3, bobInbox.len(), "bob had a listener when the broadcast was sent")
}

func TestApp_InvalidToken(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)
	token := mustLogin(t, a, "alice")
	require.NoError(t, a.Logout(ctx, token))

	assert.ErrorIs(t, a.ChannelJoin(ctx, token, "#go"), core.ErrInvalidToken)
	_, err := a.PrivateSend(ctx, "bogus", "alice", a.NewMessage(core.MediaText, nil))
	assert.ErrorIs(t, err, core.ErrInvalidToken)
	_, err = a.AddListener(ctx, token, (&inbox{}).listen)
	assert.ErrorIs(t, err, core.ErrInvalidToken)
	_, err = a.IsUserLoggedIn(ctx, token, "alice")
	assert.ErrorIs(t, err, core.ErrInvalidToken)
	assert.ErrorIs(t, a.Logout(ctx, token), core.ErrInvalidToken)

	users, err := a.LoggedInUsers(ctx)
	require.NoError(t, err)
	assert.Zero(t, users)
	total, err := a.TotalUsers(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestApp_CancelledContextIsNotStarted(t *testing.T) {
	a := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Login(ctx, "alice", "pw")
	assert.ErrorIs(t, err, context.Canceled)
	total, err := a.TotalUsers(context.Background())
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestApp_CountsOperations(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)

	ok := operationsTotal.WithLabelValues("Login", "ok")
	already := operationsTotal.WithLabelValues("Login", "already_logged_in")
	okBefore, alreadyBefore := testutil.ToFloat64(ok), testutil.ToFloat64(already)

	mustLogin(t, a, "alice")
	_, err := a.Login(ctx, "alice", "pw")
	assert.ErrorIs(t, err, core.ErrUserAlreadyLoggedIn)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(ok))
	assert.Equal(t, alreadyBefore+1, testutil.ToFloat64(already))
}

func TestOpen_FromConfig(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Store.Backend = "bolt"
	cfg.Store.DataDir = t.TempDir()
	cfg.Chat.PasswordHash = "sha256"
	cfg.Hooks.BannedWords = []string{"spam"}

	a, err := Open(ctx, cfg, nil)
	require.NoError(t, err)

	alice, err := a.Login(ctx, "alice", "pw")
	require.NoError(t, err)
	_, err = a.Login(ctx, "bob", "pw")
	require.NoError(t, err)
	_, err = a.PrivateSend(ctx, alice, "bob", a.NewMessage(core.MediaText, []byte("cheap SPAM")))
	assert.ErrorIs(t, err, core.ErrUserNotAuthorized)
	require.NoError(t, a.ChannelJoin(ctx, alice, "#persist"))
	require.NoError(t, a.Close())
	require.NoError(t, a.Close(), "Close is idempotent")

	// State survives a reopen; sessions too.
	a, err = Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer a.Close()
	top, err := a.Top10ChannelsByUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"#persist"}, top)
	in, err := a.IsUserLoggedIn(ctx, alice, "alice")
	require.NoError(t, err)
	assert.True(t, in)
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Chat.PasswordHash = "md5"
	_, err := Open(context.Background(), cfg, nil)
	assert.Error(t, err)
}
