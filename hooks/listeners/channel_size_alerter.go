package listeners

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/INLOpen/nexuschat/hooks"
)

// ChannelSizeAlerterListener logs channel creation and warns when a channel
// grows to the configured member threshold.
type ChannelSizeAlerterListener struct {
	logger    *slog.Logger
	threshold int64
}

// NewChannelSizeAlerterListener creates the listener. A threshold <= 0
// disables the size warning.
func NewChannelSizeAlerterListener(logger *slog.Logger, threshold int64) *ChannelSizeAlerterListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ChannelSizeAlerterListener{
		logger:    logger.With("component", "ChannelSizeAlerterListener"),
		threshold: threshold,
	}
}

// OnEvent handles PostChannelCreate and PostChannelJoin events.
func (l *ChannelSizeAlerterListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	if event.Type() != hooks.EventPostChannelCreate && event.Type() != hooks.EventPostChannelJoin {
		return nil
	}

	payload, ok := event.Payload().(hooks.ChannelPayload)
	if !ok {
		l.logger.Error("Received channel event with incorrect payload type", "event", event.Type(), "payload_type", fmt.Sprintf("%T", event.Payload()))
		return nil
	}

	if event.Type() == hooks.EventPostChannelCreate {
		l.logger.Info("Channel created", "channel_id", payload.ChannelID, "channel", payload.Name, "creator_id", payload.UserID)
		return nil
	}

	// Warn once per upward crossing, not on every join above the threshold.
	if l.threshold > 0 && payload.Members == l.threshold {
		l.logger.Warn("Channel reached member threshold",
			"channel_id", payload.ChannelID,
			"channel", payload.Name,
			"members", payload.Members,
			"threshold", l.threshold,
		)
	}
	return nil
}

// Priority defines the execution order.
func (l *ChannelSizeAlerterListener) Priority() int { return 100 }

// IsAsync indicates this listener can run in the background.
func (l *ChannelSizeAlerterListener) IsAsync() bool { return true }
