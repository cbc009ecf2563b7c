package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/INLOpen/nexuschat/core"
	"github.com/INLOpen/nexuschat/entity"
	"github.com/INLOpen/nexuschat/hooks"
	"github.com/INLOpen/nexuschat/index"
)

// Listener receives messages addressed to the user it was registered for.
// source is "@sender" for private messages, "#channel@sender" for channel
// messages and core.BroadcastSource for broadcasts.
type Listener func(ctx context.Context, source string, msg core.Message) error

// ListenerID identifies a registered listener.
type ListenerID uint64

type listenerEntry struct {
	id ListenerID
	fn Listener
}

// delivery is one message waiting in a user's inbox. counted is set for
// messages taken from the pending set: they are still included in the
// message's remaining count.
type delivery struct {
	messageID int64
	env       *entity.Envelope
	counted   bool
}

// inbox is the in-process delivery state of one user. Every field is
// guarded by the user's delivery lock. At most one goroutine drains the
// queue at a time, so the user's callbacks never run concurrently.
type inbox struct {
	entries  []listenerEntry
	queue    []delivery
	draining bool
}

// listenerRegistry holds the inboxes of every user seen by this process.
type listenerRegistry struct {
	byUser *xsync.MapOf[int64, *inbox]
	next   atomic.Uint64
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{byUser: xsync.NewMapOf[int64, *inbox]()}
}

func (r *listenerRegistry) inbox(userID int64) *inbox {
	box, _ := r.byUser.LoadOrCompute(userID, func() *inbox { return &inbox{} })
	return box
}

// add appends fn and reports whether it is the user's only listener.
func (r *listenerRegistry) add(userID int64, fn Listener) (ListenerID, bool) {
	id := ListenerID(r.next.Add(1))
	box := r.inbox(userID)
	first := len(box.entries) == 0
	entries := make([]listenerEntry, 0, len(box.entries)+1)
	entries = append(entries, box.entries...)
	box.entries = append(entries, listenerEntry{id: id, fn: fn})
	return id, first
}

func (r *listenerRegistry) remove(userID int64, id ListenerID) bool {
	box, ok := r.byUser.Load(userID)
	if !ok {
		return false
	}
	entries := make([]listenerEntry, 0, len(box.entries))
	for _, e := range box.entries {
		if e.id != id {
			entries = append(entries, e)
		}
	}
	if len(entries) == len(box.entries) {
		return false
	}
	box.entries = entries
	return true
}

// drop removes every listener of the user and returns how many there were.
func (r *listenerRegistry) drop(userID int64) int {
	box, ok := r.byUser.Load(userID)
	if !ok {
		return 0
	}
	n := len(box.entries)
	box.entries = nil
	return n
}

// MessageManager stores and routes messages. A recipient with at least one
// listener gets a message at send time; otherwise the message id is parked
// in the recipient's pending set and delivered when the recipient's first
// listener is registered. A message is pending while any recipient is still
// waiting for it. One user's callbacks run one at a time, in the order the
// messages reached the user's inbox.
type MessageManager struct {
	*shared
	channelManager *ChannelManager
	logger         *slog.Logger
}

// SendPrivate sends draft from senderID to the named user and returns the
// id of the stored message.
func (m *MessageManager) SendPrivate(ctx context.Context, senderID int64, recipient string, draft core.Message) (int64, error) {
	senderName, err := m.senderName(ctx, senderID)
	if err != nil {
		return 0, err
	}
	recipientID, found, err := m.users.ID(ctx, recipient)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("user %q: %w", recipient, core.ErrNoSuchEntity)
	}
	if err := m.preSend(ctx, entity.KindPrivate, senderID, senderName, recipient, &draft); err != nil {
		return 0, err
	}

	env := &entity.Envelope{
		Kind:      entity.KindPrivate,
		Sender:    senderID,
		Recipient: recipientID,
		Source:    "@" + senderName,
	}
	return m.route(ctx, env, draft, []int64{recipientID})
}

// SendChannel sends draft to every other member of the named channel. The
// sender must be a member.
func (m *MessageManager) SendChannel(ctx context.Context, senderID int64, channel string, draft core.Message) (int64, error) {
	if err := m.channelManager.ValidateName(channel); err != nil {
		return 0, err
	}
	senderName, err := m.senderName(ctx, senderID)
	if err != nil {
		return 0, err
	}
	if err := m.preSend(ctx, entity.KindChannel, senderID, senderName, channel, &draft); err != nil {
		return 0, err
	}

	channelID, members, err := m.countChannelMessage(ctx, senderID, channel)
	if err != nil {
		return 0, err
	}
	env := &entity.Envelope{
		Kind:      entity.KindChannel,
		Sender:    senderID,
		ChannelID: channelID,
		Source:    channel + "@" + senderName,
	}
	return m.route(ctx, env, draft, without(members, senderID))
}

// countChannelMessage checks the sender's membership and bumps the message
// counters under the channel lock, so a channel being destroyed is never
// re-indexed. It returns the members at the time of sending.
func (m *MessageManager) countChannelMessage(ctx context.Context, senderID int64, channel string) (int64, []int64, error) {
	unlock := m.locks.Lock(channelLockKey(channel))
	defer unlock()

	channelID, err := m.channelManager.lookup(ctx, channel)
	if err != nil {
		return 0, nil, err
	}
	member, err := m.channelManager.isMember(ctx, channelID, senderID)
	if err != nil {
		return 0, nil, err
	}
	if !member {
		m.logger.Debug("Channel send rejected: sender is not a member", "user_id", senderID, "channel", channel)
		return 0, nil, fmt.Errorf("send to %s: %w", channel, core.ErrUserNotAuthorized)
	}
	members, err := m.channelManager.Members(ctx, channelID)
	if err != nil {
		return 0, nil, err
	}
	if _, err := m.channelMessages.Add(ctx, channelID, 1); err != nil {
		return 0, nil, err
	}
	if _, err := m.stats.Add(ctx, StatChannelMessages, 1); err != nil {
		return 0, nil, err
	}
	return channelID, members, nil
}

// Broadcast sends draft to every user but the sender. Only administrators
// may broadcast.
func (m *MessageManager) Broadcast(ctx context.Context, senderID int64, draft core.Message) (int64, error) {
	admin, err := m.users.IsAdmin(ctx, senderID)
	if err != nil {
		return 0, err
	}
	if !admin {
		m.logger.Debug("Broadcast rejected: sender is not an administrator", "user_id", senderID)
		return 0, fmt.Errorf("broadcast: %w", core.ErrUserNotAuthorized)
	}
	senderName, err := m.senderName(ctx, senderID)
	if err != nil {
		return 0, err
	}
	if err := m.preSend(ctx, entity.KindBroadcast, senderID, senderName, "", &draft); err != nil {
		return 0, err
	}

	users, err := m.allUsers(ctx)
	if err != nil {
		return 0, err
	}
	recipients := without(users, senderID)
	env := &entity.Envelope{
		Kind:   entity.KindBroadcast,
		Sender: senderID,
		Source: core.BroadcastSource,
	}
	return m.route(ctx, env, draft, recipients)
}

func (m *MessageManager) senderName(ctx context.Context, senderID int64) (string, error) {
	name, found, err := m.users.Name(ctx, senderID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("sender %d: %w", senderID, core.ErrNoSuchEntity)
	}
	return name, nil
}

// preSend runs the synchronous pre-send hooks, which may veto the message or
// rewrite draft.
func (m *MessageManager) preSend(ctx context.Context, kind entity.Kind, senderID int64, senderName, target string, draft *core.Message) error {
	payload := hooks.PreMessageSendPayload{
		Kind:       kind.String(),
		SenderID:   senderID,
		SenderName: senderName,
		Target:     target,
		Media:      &draft.Media,
		Contents:   &draft.Contents,
	}
	if err := m.hooks.Trigger(ctx, hooks.NewPreMessageSendEvent(payload)); err != nil {
		m.logger.Debug("Message vetoed by hook", "kind", kind, "user_id", senderID, "error", err)
		return err
	}
	return nil
}

// route stores the message and hands it to every recipient.
func (m *MessageManager) route(ctx context.Context, env *entity.Envelope, draft core.Message, recipients []int64) (int64, error) {
	id, err := m.messageSeq.Next(ctx)
	if err != nil {
		return 0, err
	}
	env.ID = id
	env.Media = draft.Media
	env.Contents = draft.Contents
	env.Created = m.now().UTC()
	if err := m.messages.Put(ctx, env); err != nil {
		return 0, err
	}

	var deferred int64
	for _, userID := range recipients {
		queued, err := m.deliver(ctx, userID, env)
		if err != nil {
			return id, err
		}
		if !queued {
			deferred++
		}
	}

	m.logger.Debug("Message sent", "message_id", id, "kind", env.Kind, "source", env.Source, "recipients", len(recipients), "deferred", deferred)
	_ = m.hooks.Trigger(ctx, hooks.NewPostMessageSendEvent(hooks.PostMessageSendPayload{
		MessageID:  id,
		Kind:       env.Kind.String(),
		Source:     env.Source,
		Recipients: len(recipients),
		Deferred:   deferred,
	}))
	return id, nil
}

// deliver queues env in the user's inbox when the user has a listener and
// drains the inbox unless another goroutine already does. Otherwise the
// message is parked in the user's pending set and deliver reports false.
func (m *MessageManager) deliver(ctx context.Context, userID int64, env *entity.Envelope) (bool, error) {
	unlock := m.locks.Lock(deliveryLockKey(userID))
	box := m.listeners.inbox(userID)
	if len(box.entries) == 0 {
		err := m.park(ctx, userID, env.ID, false)
		unlock()
		return false, err
	}
	box.queue = append(box.queue, delivery{messageID: env.ID, env: env})
	owner := !box.draining
	box.draining = true
	unlock()

	if !owner {
		return true, nil
	}
	return true, m.drain(ctx, userID)
}

// park adds messageID to the user's pending set. counted tells whether the
// message's remaining count already includes this user. Callers hold the
// user's delivery lock.
func (m *MessageManager) park(ctx context.Context, userID, messageID int64, counted bool) error {
	if !counted {
		if err := m.adjustRemaining(ctx, messageID, 1); err != nil {
			return err
		}
	}
	pending, err := m.users.PendingSet(ctx, userID)
	if err != nil {
		return err
	}
	pending.Add(uint64(messageID))
	return m.users.SetPendingSet(ctx, userID, pending)
}

// drain hands queued messages to the listeners that are current when each
// message comes up. Messages whose user lost every listener meanwhile go
// back to the pending set. Only the goroutine that set box.draining calls
// drain.
func (m *MessageManager) drain(ctx context.Context, userID int64) error {
	box := m.listeners.inbox(userID)
	for {
		unlock := m.locks.Lock(deliveryLockKey(userID))
		if len(box.queue) == 0 {
			box.draining = false
			unlock()
			return nil
		}
		next := box.queue[0]
		box.queue = box.queue[1:]
		entries := box.entries
		if len(entries) == 0 {
			err := m.park(ctx, userID, next.messageID, next.counted)
			if err != nil {
				box.draining = false
			}
			unlock()
			if err != nil {
				return err
			}
			continue
		}
		unlock()

		if err := m.invokeQueued(ctx, userID, next, entries); err != nil {
			relock := m.locks.Lock(deliveryLockKey(userID))
			box.draining = false
			relock()
			return err
		}
	}
}

func (m *MessageManager) invokeQueued(ctx context.Context, userID int64, d delivery, entries []listenerEntry) error {
	env := d.env
	if env == nil {
		var found bool
		var err error
		if env, found, err = m.messages.Get(ctx, d.messageID); err != nil {
			return err
		}
		if !found {
			m.logger.Error("Pending message missing", "user_id", userID, "message_id", d.messageID)
			return fmt.Errorf("%w: pending message %d of user %d", core.ErrIllegalState, d.messageID, userID)
		}
	}
	if err := m.invoke(ctx, userID, env, entries, d.counted); err != nil {
		return err
	}
	if d.counted {
		return m.adjustRemaining(ctx, d.messageID, -1)
	}
	return nil
}

// adjustRemaining moves a message's remaining recipient count and keeps the
// pending index in step with it. Decrementing a count that is already zero
// is a no-op.
func (m *MessageManager) adjustRemaining(ctx context.Context, messageID, delta int64) error {
	unlock := m.locks.Lock(messageLockKey(messageID))
	defer unlock()

	old, err := m.messages.Remaining(ctx, messageID)
	if err != nil {
		return err
	}
	if delta < 0 && old == 0 {
		return nil
	}
	updated := old + delta
	if updated < 0 {
		updated = 0
	}
	if err := m.messages.SetRemaining(ctx, messageID, updated); err != nil {
		return err
	}

	pending := m.stats.Tree(TreePendingMessages)
	switch {
	case old == 0 && updated > 0:
		_, err = pending.Insert(ctx, index.MemberKey(messageID))
	case old > 0 && updated == 0:
		_, err = pending.Delete(ctx, index.MemberKey(messageID))
	}
	return err
}

// invoke hands env to entries in registration order. A failing listener is
// logged and does not stop the others.
func (m *MessageManager) invoke(ctx context.Context, userID int64, env *entity.Envelope, entries []listenerEntry, deferred bool) error {
	msg, err := m.received(ctx, env)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := e.fn(ctx, env.Source, msg); err != nil {
			m.logger.Warn("Listener failed", "user_id", userID, "listener_id", e.id, "message_id", env.ID, "error", err)
		}
	}
	_ = m.hooks.Trigger(ctx, hooks.NewPostMessageDeliverEvent(hooks.MessageDeliverPayload{
		MessageID: env.ID,
		UserID:    userID,
		Source:    env.Source,
		Deferred:  deferred,
	}))
	return nil
}

// received records the first delivery time and returns the listener view.
func (m *MessageManager) received(ctx context.Context, env *entity.Envelope) (core.Message, error) {
	unlock := m.locks.Lock(messageLockKey(env.ID))
	defer unlock()

	if err := m.messages.MarkReceived(ctx, env.ID, m.now()); err != nil {
		return core.Message{}, err
	}
	msg := env.Message()
	at, err := m.messages.Received(ctx, env.ID)
	if err != nil {
		return core.Message{}, err
	}
	msg.Received = at
	return msg, nil
}

// AddListener registers fn for userID. When it is the user's first
// listener, every message waiting for the user is queued for delivery in id
// order and, unless another goroutine is already delivering to the user,
// delivered before AddListener returns.
func (m *MessageManager) AddListener(ctx context.Context, userID int64, fn Listener) (ListenerID, error) {
	if fn == nil {
		return 0, fmt.Errorf("nil listener: %w", core.ErrIllegalState)
	}

	unlock := m.locks.Lock(deliveryLockKey(userID))
	id, first := m.listeners.add(userID, fn)
	box := m.listeners.inbox(userID)
	if first {
		pending, err := m.users.PendingSet(ctx, userID)
		if err != nil {
			unlock()
			return id, err
		}
		if !pending.IsEmpty() {
			if err := m.users.SetPendingSet(ctx, userID, roaring64.New()); err != nil {
				unlock()
				return id, err
			}
			it := pending.Iterator()
			for it.HasNext() {
				box.queue = append(box.queue, delivery{messageID: int64(it.Next()), counted: true})
			}
		}
	}
	owner := len(box.queue) > 0 && !box.draining
	if owner {
		box.draining = true
	}
	unlock()

	if !owner {
		return id, nil
	}
	return id, m.drain(ctx, userID)
}

// RemoveListener unregisters a listener of userID.
func (m *MessageManager) RemoveListener(ctx context.Context, userID int64, id ListenerID) error {
	unlock := m.locks.Lock(deliveryLockKey(userID))
	defer unlock()

	if !m.listeners.remove(userID, id) {
		return fmt.Errorf("listener %d of user %d: %w", id, userID, core.ErrNoSuchEntity)
	}
	return nil
}

// Fetch returns a stored message. Its sender and recipients may fetch a
// private message, current members a channel message and every user a
// broadcast.
func (m *MessageManager) Fetch(ctx context.Context, userID, messageID int64) (core.Message, error) {
	env, found, err := m.messages.Get(ctx, messageID)
	if err != nil {
		return core.Message{}, err
	}
	if !found {
		return core.Message{}, fmt.Errorf("message %d: %w", messageID, core.ErrNoSuchEntity)
	}

	allowed := env.Sender == userID
	if !allowed {
		switch env.Kind {
		case entity.KindPrivate:
			allowed = env.Recipient == userID
		case entity.KindChannel:
			if allowed, err = m.channelManager.isMember(ctx, env.ChannelID, userID); err != nil {
				return core.Message{}, err
			}
		case entity.KindBroadcast:
			allowed = true
		}
	}
	if !allowed {
		return core.Message{}, fmt.Errorf("fetch message %d: %w", messageID, core.ErrUserNotAuthorized)
	}

	msg := env.Message()
	if msg.Received, err = m.messages.Received(ctx, messageID); err != nil {
		return core.Message{}, err
	}
	return msg, nil
}

// Remaining returns how many recipients of a message still lack a listener.
func (m *MessageManager) Remaining(ctx context.Context, messageID int64) (int64, error) {
	return m.messages.Remaining(ctx, messageID)
}

func without(ids []int64, id int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
