package listeners

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/nexuschat/core"
	"github.com/INLOpen/nexuschat/hooks"
)

func TestChannelSizeAlerterListener_OnEvent(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	listener := NewChannelSizeAlerterListener(logger, 3)
	require.NotNil(t, listener)

	t.Run("Logs channel creation", func(t *testing.T) {
		logBuf.Reset()
		event := hooks.NewPostChannelCreateEvent(hooks.ChannelPayload{ChannelID: 7, Name: "#go", UserID: 1, Members: 1})
		require.NoError(t, listener.OnEvent(context.Background(), event))
		assert.Contains(t, logBuf.String(), "Channel created")
		assert.Contains(t, logBuf.String(), `"channel_id":7`)
	})

	t.Run("Warns exactly at the threshold", func(t *testing.T) {
		logBuf.Reset()
		for members := int64(2); members <= 4; members++ {
			event := hooks.NewPostChannelJoinEvent(hooks.ChannelPayload{ChannelID: 7, Name: "#go", Members: members})
			require.NoError(t, listener.OnEvent(context.Background(), event))
		}
		assert.Equal(t, 1, bytes.Count(logBuf.Bytes(), []byte("Channel reached member threshold")))
		assert.Contains(t, logBuf.String(), `"members":3`)
	})

	t.Run("Ignores other event types", func(t *testing.T) {
		logBuf.Reset()
		event := hooks.NewPostLoginEvent(hooks.SessionPayload{UserID: 1})
		require.NoError(t, listener.OnEvent(context.Background(), event))
		assert.Empty(t, logBuf.String())
	})
}

func TestContentFilterListener_OnEvent(t *testing.T) {
	listener := NewContentFilterListener(nil, []string{" Spam ", ""}, 16)

	send := func(media core.MediaType, body string) error {
		contents := []byte(body)
		return listener.OnEvent(context.Background(), hooks.NewPreMessageSendEvent(hooks.PreMessageSendPayload{
			Kind:     "private",
			SenderID: 1,
			Media:    &media,
			Contents: &contents,
		}))
	}

	testCases := []struct {
		name    string
		media   core.MediaType
		body    string
		blocked bool
	}{
		{"CleanText", core.MediaText, "hello there", false},
		{"BannedWordAnyCase", core.MediaText, "buy SPAM now", true},
		{"BannedWordInNonText", core.MediaFile, "spam", false},
		{"TooLarge", core.MediaPhoto, "0123456789abcdefXYZ", true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := send(tc.media, tc.body)
			if tc.blocked {
				require.Error(t, err)
				assert.True(t, core.IsUserNotAuthorized(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}

	t.Run("Vetoes through the hook manager", func(t *testing.T) {
		manager := hooks.NewHookManager(nil)
		manager.Register(hooks.EventPreMessageSend, listener)
		media := core.MediaText
		contents := []byte("spam spam")
		err := manager.Trigger(context.Background(), hooks.NewPreMessageSendEvent(hooks.PreMessageSendPayload{Media: &media, Contents: &contents}))
		assert.ErrorIs(t, err, core.ErrUserNotAuthorized)
	})
}

func TestDeliveryMetricsListener_OnEvent(t *testing.T) {
	listener := NewDeliveryMetricsListener(nil)
	again := NewDeliveryMetricsListener(nil)
	assert.Same(t, listener.sent, again.sent, "collectors must be shared")

	ctx := context.Background()
	sentBefore := testutil.ToFloat64(messagesSent.WithLabelValues("broadcast"))
	deferredBefore := testutil.ToFloat64(recipientsDeferred)
	deliveredBefore := testutil.ToFloat64(messagesDelivered.WithLabelValues("deferred"))

	require.NoError(t, listener.OnEvent(ctx, hooks.NewPostMessageSendEvent(hooks.PostMessageSendPayload{
		MessageID: 1, Kind: "broadcast", Recipients: 3, Deferred: 2,
	})))
	require.NoError(t, listener.OnEvent(ctx, hooks.NewPostMessageDeliverEvent(hooks.MessageDeliverPayload{
		MessageID: 1, UserID: 2, Deferred: true,
	})))
	require.NoError(t, listener.OnEvent(ctx, hooks.NewPostLoginEvent(hooks.SessionPayload{})))

	assert.Equal(t, sentBefore+1, testutil.ToFloat64(messagesSent.WithLabelValues("broadcast")))
	assert.Equal(t, deferredBefore+2, testutil.ToFloat64(recipientsDeferred))
	assert.Equal(t, deliveredBefore+1, testutil.ToFloat64(messagesDelivered.WithLabelValues("deferred")))
}
