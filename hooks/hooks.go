package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/INLOpen/nexuschat/core"
)

// EventType defines the type of a hook event.
type EventType string

// --- Event Type Constants ---
const (
	// Message Lifecycle Events
	EventPreMessageSend     EventType = "PreMessageSend"
	EventPostMessageSend    EventType = "PostMessageSend"
	EventPostMessageDeliver EventType = "PostMessageDeliver"

	// Session Events
	EventPostLogin  EventType = "PostLogin"
	EventPostLogout EventType = "PostLogout"

	// Channel Lifecycle Events
	EventPostChannelCreate EventType = "PostChannelCreate"
	EventPostChannelRemove EventType = "PostChannelRemove"
	EventPostChannelJoin   EventType = "PostChannelJoin"
	EventPostChannelPart   EventType = "PostChannelPart"
)

// --- HookManager Interface and Implementation ---

// HookManager defines the interface for managing and triggering hooks.
type HookManager interface {
	// Register adds a listener for a specific event type.
	Register(eventType EventType, listener HookListener)
	// Trigger fires all registered listeners for a given event.
	// It handles synchronous vs. asynchronous execution based on the event type and listener preference.
	Trigger(ctx context.Context, event HookEvent) error
	// Stop waits for all asynchronous listeners to complete. Useful for graceful shutdown.
	Stop()
}

// HookEvent is the interface that all event objects must implement.
type HookEvent interface {
	// Type returns the type of the event.
	Type() EventType
	// Payload returns the data associated with the event.
	Payload() interface{}
}

// BaseEvent provides a base implementation for HookEvent.
type BaseEvent struct {
	eventType EventType
	payload   interface{}
}

func (e *BaseEvent) Type() EventType      { return e.eventType }
func (e *BaseEvent) Payload() interface{} { return e.payload }

// --- HookListener Interface ---

// HookListener defines the interface for components that want to listen to events.
type HookListener interface {
	// OnEvent is called by the HookManager when a registered event is triggered.
	// Returning an error from a "Pre" hook (e.g., PreMessageSend) cancels the operation.
	// Errors from "Post" hooks are logged without affecting the main operation.
	OnEvent(ctx context.Context, event HookEvent) error

	// Priority returns the listener's priority. Lower numbers are executed first.
	Priority() int

	// IsAsync indicates if the listener should be called asynchronously for Post-events.
	IsAsync() bool
}

// --- Message Payloads ---

// PreMessageSendPayload describes a message about to be stored and routed.
// Media and Contents are pointers so listeners can rewrite the message.
type PreMessageSendPayload struct {
	Kind       string // "private", "channel" or "broadcast"
	SenderID   int64
	SenderName string
	Target     string // recipient name, channel name, or empty for broadcasts
	Media      *core.MediaType
	Contents   *[]byte
}

// NewPreMessageSendEvent creates a new event for before a message is sent.
func NewPreMessageSendEvent(payload PreMessageSendPayload) HookEvent {
	return &BaseEvent{eventType: EventPreMessageSend, payload: payload}
}

// PostMessageSendPayload summarizes a routed message.
type PostMessageSendPayload struct {
	MessageID int64
	Kind      string
	Source    string
	// Recipients is the number of intended recipients; Deferred of them
	// had no listener and will receive the message later.
	Recipients int
	Deferred   int64
}

// NewPostMessageSendEvent creates a new event for after a message is sent.
func NewPostMessageSendEvent(payload PostMessageSendPayload) HookEvent {
	return &BaseEvent{eventType: EventPostMessageSend, payload: payload}
}

// MessageDeliverPayload identifies one message handed to one user's listeners.
type MessageDeliverPayload struct {
	MessageID int64
	UserID    int64
	Source    string
	// Deferred is true when delivery happened on listener registration
	// rather than at send time.
	Deferred bool
}

// NewPostMessageDeliverEvent creates an event for after a message reached a user's listeners.
func NewPostMessageDeliverEvent(payload MessageDeliverPayload) HookEvent {
	return &BaseEvent{eventType: EventPostMessageDeliver, payload: payload}
}

// --- Session Payloads ---

// SessionPayload describes a login or logout.
type SessionPayload struct {
	UserID   int64
	UserName string
	// Created is set on the login that created the user.
	Created bool
}

// NewPostLoginEvent creates an event for after a user logged in.
func NewPostLoginEvent(payload SessionPayload) HookEvent {
	return &BaseEvent{eventType: EventPostLogin, payload: payload}
}

// NewPostLogoutEvent creates an event for after a user logged out.
func NewPostLogoutEvent(payload SessionPayload) HookEvent {
	return &BaseEvent{eventType: EventPostLogout, payload: payload}
}

// --- Channel Payloads ---

// ChannelPayload describes a channel lifecycle or membership change.
type ChannelPayload struct {
	ChannelID int64
	Name      string
	UserID    int64
	// Members is the member count after the change.
	Members int64
	Kicked  bool
}

// NewPostChannelCreateEvent creates an event for after a channel was created.
func NewPostChannelCreateEvent(payload ChannelPayload) HookEvent {
	return &BaseEvent{eventType: EventPostChannelCreate, payload: payload}
}

// NewPostChannelRemoveEvent creates an event for after the last member left a channel.
func NewPostChannelRemoveEvent(payload ChannelPayload) HookEvent {
	return &BaseEvent{eventType: EventPostChannelRemove, payload: payload}
}

// NewPostChannelJoinEvent creates an event for after a user joined a channel.
func NewPostChannelJoinEvent(payload ChannelPayload) HookEvent {
	return &BaseEvent{eventType: EventPostChannelJoin, payload: payload}
}

// NewPostChannelPartEvent creates an event for after a user left or was kicked from a channel.
func NewPostChannelPartEvent(payload ChannelPayload) HookEvent {
	return &BaseEvent{eventType: EventPostChannelPart, payload: payload}
}

// listenerWithPriority wraps a listener with its priority.
type listenerWithPriority struct {
	listener HookListener
	priority int
}

// DefaultHookManager is a concrete implementation of HookManager.
type DefaultHookManager struct {
	// The map stores slices of listeners, kept sorted by priority.
	listeners map[EventType][]*listenerWithPriority
	mu        sync.RWMutex
	wg        sync.WaitGroup // For tracking async listeners
	logger    *slog.Logger
}

// NewHookManager creates a new DefaultHookManager.
func NewHookManager(logger *slog.Logger) HookManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DefaultHookManager{
		listeners: make(map[EventType][]*listenerWithPriority),
		logger:    logger.With("component", "HookManager"),
	}
}

// Register adds a listener for a specific event type, maintaining priority order.
// Listeners with equal priority run in registration order.
func (m *DefaultHookManager) Register(eventType EventType, listener HookListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := &listenerWithPriority{
		listener: listener,
		priority: listener.Priority(),
	}

	l := m.listeners[eventType]

	// First index whose priority is strictly greater keeps equal priorities stable.
	idx := sort.Search(len(l), func(i int) bool {
		return l[i].priority > item.priority
	})

	l = append(l, nil)
	copy(l[idx+1:], l[idx:])
	l[idx] = item

	m.listeners[eventType] = l
}

// Trigger fires all registered listeners for a given event in priority order.
func (m *DefaultHookManager) Trigger(ctx context.Context, event HookEvent) error {
	m.mu.RLock()
	listeners, ok := m.listeners[event.Type()]
	m.mu.RUnlock()

	if !ok || len(listeners) == 0 {
		return nil
	}

	isPreHook := strings.HasPrefix(string(event.Type()), "Pre")

	for _, item := range listeners {
		isListenerAsync := item.listener.IsAsync()

		// Pre-hooks MUST be synchronous to allow for cancellation.
		if isPreHook || !isListenerAsync {
			if isPreHook && isListenerAsync {
				m.logger.Warn("Listener for Pre-hook requested async execution, but Pre-hooks are always synchronous.", "event", event.Type(), "priority", item.priority)
			}

			if err := item.listener.OnEvent(ctx, event); err != nil {
				if isPreHook {
					return fmt.Errorf("pre-hook for event %s (priority %d) failed: %w", event.Type(), item.priority, err)
				}
				m.logger.Error("Error from synchronous post-hook listener", "event", event.Type(), "priority", item.priority, "error", err)
			}
		} else {
			m.wg.Add(1)
			// The operation that fired the event may finish, and cancel its
			// context, before the listener runs.
			asyncCtx := context.WithoutCancel(ctx)
			go func(currentItem *listenerWithPriority) {
				defer m.wg.Done()
				if err := currentItem.listener.OnEvent(asyncCtx, event); err != nil {
					m.logger.Error("Error from asynchronous post-hook listener", "event", event.Type(), "priority", currentItem.priority, "error", err)
				}
			}(item)
		}
	}
	return nil
}

// Stop waits for all asynchronous listeners to complete.
func (m *DefaultHookManager) Stop() {
	m.wg.Wait()
}
