package listeners

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/INLOpen/nexuschat/core"
	"github.com/INLOpen/nexuschat/hooks"
)

// ContentFilterListener rejects text messages containing a banned word and
// messages larger than a size limit. Rejections surface to the sender as
// core.ErrUserNotAuthorized.
type ContentFilterListener struct {
	logger       *slog.Logger
	bannedWords  []string // lower-cased
	maxBodyBytes int
}

// NewContentFilterListener creates a filter. Words match case-insensitively
// as substrings. maxBodyBytes <= 0 disables the size check.
func NewContentFilterListener(logger *slog.Logger, bannedWords []string, maxBodyBytes int) *ContentFilterListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	words := make([]string, 0, len(bannedWords))
	for _, w := range bannedWords {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			words = append(words, w)
		}
	}

	return &ContentFilterListener{
		logger:       logger.With("component", "ContentFilterListener"),
		bannedWords:  words,
		maxBodyBytes: maxBodyBytes,
	}
}

// OnEvent vetoes PreMessageSend events whose content is not allowed.
func (l *ContentFilterListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	if event.Type() != hooks.EventPreMessageSend {
		return nil
	}

	payload, ok := event.Payload().(hooks.PreMessageSendPayload)
	if !ok {
		l.logger.Error("Received PreMessageSend event with incorrect payload type", "payload_type", fmt.Sprintf("%T", event.Payload()))
		return nil
	}
	if payload.Contents == nil {
		return nil
	}
	contents := *payload.Contents

	if l.maxBodyBytes > 0 && len(contents) > l.maxBodyBytes {
		l.logger.Debug("Message rejected: too large", "sender_id", payload.SenderID, "size", len(contents), "limit", l.maxBodyBytes)
		return fmt.Errorf("%w: message of %d bytes exceeds limit of %d", core.ErrUserNotAuthorized, len(contents), l.maxBodyBytes)
	}

	if payload.Media == nil || *payload.Media != core.MediaText || len(l.bannedWords) == 0 {
		return nil
	}
	text := strings.ToLower(string(contents))
	for _, w := range l.bannedWords {
		if strings.Contains(text, w) {
			l.logger.Debug("Message rejected: banned word", "sender_id", payload.SenderID, "kind", payload.Kind, "word", w)
			return fmt.Errorf("%w: message contains a banned word", core.ErrUserNotAuthorized)
		}
	}
	return nil
}

// Priority defines the execution order. Filters run before other pre-send listeners.
func (l *ContentFilterListener) Priority() int { return 10 }

// IsAsync is ignored for Pre-hooks, which always run synchronously.
func (l *ContentFilterListener) IsAsync() bool { return false }
