// Package app is the entry point for chat clients. Every operation but
// Login and the statistics queries is authenticated by a session token.
package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/INLOpen/nexuschat/auth"
	"github.com/INLOpen/nexuschat/core"
	"github.com/INLOpen/nexuschat/hooks"
	"github.com/INLOpen/nexuschat/manager"
)

type (
	Listener   = manager.Listener
	ListenerID = manager.ListenerID
)

// Options configures New.
type Options struct {
	Stores manager.Stores
	Hasher *auth.Hasher
	Hooks  hooks.HookManager
	Logger *slog.Logger
	Tracer trace.Tracer

	Strict             bool
	TopK               int
	ChannelNamePattern string
	// SlowOperation is the latency above which an operation is logged at
	// Warn. Zero disables the warning.
	SlowOperation time.Duration
	Now           func() time.Time

	// Closers are closed by Close, in order.
	Closers []io.Closer
}

// App is the chat service.
type App struct {
	managers *manager.Managers
	hooks    hooks.HookManager
	tracer   trace.Tracer
	logger   *slog.Logger
	slowOp   time.Duration
	closers  []io.Closer

	closeOnce sync.Once
	closeErr  error
}

// New builds an App over already opened stores.
func New(opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("nexuschat")
	}
	hookManager := opts.Hooks
	if hookManager == nil {
		hookManager = hooks.NewHookManager(logger)
	}

	managers, err := manager.New(manager.Options{
		Stores:             opts.Stores,
		Hasher:             opts.Hasher,
		Hooks:              hookManager,
		Logger:             logger,
		Strict:             opts.Strict,
		TopK:               opts.TopK,
		ChannelNamePattern: opts.ChannelNamePattern,
		Now:                opts.Now,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		managers: managers,
		hooks:    hookManager,
		tracer:   tracer,
		logger:   logger.With("component", "App"),
		slowOp:   opts.SlowOperation,
		closers:  opts.Closers,
	}, nil
}

// do runs one traced and counted operation. A started operation is never
// cancelled half way: fn gets a context that keeps the caller's values but
// not its deadline.
func (a *App) do(ctx context.Context, op string, fn func(ctx context.Context, span trace.Span) error) error {
	ctx, span := a.tracer.Start(ctx, "App."+op)
	defer span.End()

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		operationsTotal.WithLabelValues(op, "cancelled").Inc()
		return err
	}

	start := time.Now()
	err := fn(context.WithoutCancel(ctx), span)
	elapsed := time.Since(start)

	result := resultLabel(err)
	operationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	operationsTotal.WithLabelValues(op, result).Inc()
	span.SetAttributes(attribute.String("result", result))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		if core.IsProtocolViolation(err) {
			a.logger.Error("Operation failed with a consistency violation", "op", op, "error", err)
		}
	}
	if a.slowOp > 0 && elapsed > a.slowOp {
		a.logger.Warn("Slow operation", "op", op, "duration", elapsed, "result", result)
	}
	return err
}

// authed resolves token before running fn.
func (a *App) authed(ctx context.Context, op, token string, fn func(ctx context.Context, userID int64) error) error {
	return a.do(ctx, op, func(ctx context.Context, span trace.Span) error {
		userID, err := a.managers.Users.Authenticate(ctx, token)
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.Int64("user.id", userID))
		return fn(ctx, userID)
	})
}

// Login logs the user in, creating it on first login, and returns a
// session token.
func (a *App) Login(ctx context.Context, name, password string) (string, error) {
	var token string
	err := a.do(ctx, "Login", func(ctx context.Context, span trace.Span) error {
		span.SetAttributes(attribute.String("user.name", name))
		var err error
		token, err = a.managers.Users.Login(ctx, name, password)
		return err
	})
	return token, err
}

func (a *App) Logout(ctx context.Context, token string) error {
	return a.do(ctx, "Logout", func(ctx context.Context, span trace.Span) error {
		return a.managers.Users.Logout(ctx, token)
	})
}

func (a *App) IsUserLoggedIn(ctx context.Context, token, user string) (bool, error) {
	var in bool
	err := a.authed(ctx, "IsUserLoggedIn", token, func(ctx context.Context, _ int64) error {
		var err error
		in, err = a.managers.Users.IsLoggedIn(ctx, user)
		return err
	})
	return in, err
}

func (a *App) MakeAdministrator(ctx context.Context, token, user string) error {
	return a.authed(ctx, "MakeAdministrator", token, func(ctx context.Context, userID int64) error {
		return a.managers.Users.MakeAdministrator(ctx, userID, user)
	})
}

func (a *App) ChannelJoin(ctx context.Context, token, channel string) error {
	return a.authed(ctx, "ChannelJoin", token, func(ctx context.Context, userID int64) error {
		return a.managers.Channels.Join(ctx, userID, channel)
	})
}

func (a *App) ChannelPart(ctx context.Context, token, channel string) error {
	return a.authed(ctx, "ChannelPart", token, func(ctx context.Context, userID int64) error {
		return a.managers.Channels.Part(ctx, userID, channel)
	})
}

func (a *App) ChannelKick(ctx context.Context, token, channel, user string) error {
	return a.authed(ctx, "ChannelKick", token, func(ctx context.Context, userID int64) error {
		return a.managers.Channels.Kick(ctx, userID, channel, user)
	})
}

func (a *App) ChannelMakeOperator(ctx context.Context, token, channel, user string) error {
	return a.authed(ctx, "ChannelMakeOperator", token, func(ctx context.Context, userID int64) error {
		return a.managers.Channels.MakeOperator(ctx, userID, channel, user)
	})
}

func (a *App) IsUserInChannel(ctx context.Context, token, channel, user string) (bool, error) {
	var in bool
	err := a.authed(ctx, "IsUserInChannel", token, func(ctx context.Context, _ int64) error {
		var err error
		in, err = a.managers.Channels.IsMember(ctx, channel, user)
		return err
	})
	return in, err
}

func (a *App) NumberOfActiveUsersInChannel(ctx context.Context, token, channel string) (int64, error) {
	var n int64
	err := a.authed(ctx, "NumberOfActiveUsersInChannel", token, func(ctx context.Context, _ int64) error {
		var err error
		n, err = a.managers.Channels.ActiveCount(ctx, channel)
		return err
	})
	return n, err
}

func (a *App) NumberOfTotalUsersInChannel(ctx context.Context, token, channel string) (int64, error) {
	var n int64
	err := a.authed(ctx, "NumberOfTotalUsersInChannel", token, func(ctx context.Context, _ int64) error {
		var err error
		n, err = a.managers.Channels.MemberCount(ctx, channel)
		return err
	})
	return n, err
}

// NewMessage builds an unsent message. Its id and creation time are
// assigned when it is sent.
func (a *App) NewMessage(media core.MediaType, contents []byte) core.Message {
	return core.Message{Media: media, Contents: contents}
}

// ChannelSend sends msg to the other members of channel and returns the
// stored message id.
func (a *App) ChannelSend(ctx context.Context, token, channel string, msg core.Message) (int64, error) {
	var id int64
	err := a.authed(ctx, "ChannelSend", token, func(ctx context.Context, userID int64) error {
		var err error
		id, err = a.managers.Messages.SendChannel(ctx, userID, channel, msg)
		return err
	})
	return id, err
}

func (a *App) PrivateSend(ctx context.Context, token, user string, msg core.Message) (int64, error) {
	var id int64
	err := a.authed(ctx, "PrivateSend", token, func(ctx context.Context, userID int64) error {
		var err error
		id, err = a.managers.Messages.SendPrivate(ctx, userID, user, msg)
		return err
	})
	return id, err
}

// Broadcast sends msg to every other user. Administrators only.
func (a *App) Broadcast(ctx context.Context, token string, msg core.Message) (int64, error) {
	var id int64
	err := a.authed(ctx, "Broadcast", token, func(ctx context.Context, userID int64) error {
		var err error
		id, err = a.managers.Messages.Broadcast(ctx, userID, msg)
		return err
	})
	return id, err
}

// AddListener registers fn for the token's user. Messages that waited for
// the user's first listener are delivered before AddListener returns.
func (a *App) AddListener(ctx context.Context, token string, fn Listener) (ListenerID, error) {
	var id ListenerID
	err := a.authed(ctx, "AddListener", token, func(ctx context.Context, userID int64) error {
		var err error
		id, err = a.managers.Messages.AddListener(ctx, userID, fn)
		return err
	})
	return id, err
}

func (a *App) RemoveListener(ctx context.Context, token string, id ListenerID) error {
	return a.authed(ctx, "RemoveListener", token, func(ctx context.Context, userID int64) error {
		return a.managers.Messages.RemoveListener(ctx, userID, id)
	})
}

func (a *App) FetchMessage(ctx context.Context, token string, id int64) (core.Message, error) {
	var msg core.Message
	err := a.authed(ctx, "FetchMessage", token, func(ctx context.Context, userID int64) error {
		var err error
		msg, err = a.managers.Messages.Fetch(ctx, userID, id)
		return err
	})
	return msg, err
}

func (a *App) stat(ctx context.Context, op, name string) (int64, error) {
	var v int64
	err := a.do(ctx, op, func(ctx context.Context, span trace.Span) error {
		var err error
		v, err = a.managers.Stats.Get(ctx, name)
		return err
	})
	return v, err
}

func (a *App) TotalUsers(ctx context.Context) (int64, error) {
	return a.stat(ctx, "TotalUsers", manager.StatTotalUsers)
}

func (a *App) LoggedInUsers(ctx context.Context) (int64, error) {
	return a.stat(ctx, "LoggedInUsers", manager.StatLoggedInUsers)
}

// ChannelMessages returns the number of messages ever sent to channels.
func (a *App) ChannelMessages(ctx context.Context) (int64, error) {
	return a.stat(ctx, "ChannelMessages", manager.StatChannelMessages)
}

// Channels returns the number of live channels.
func (a *App) Channels(ctx context.Context) (int64, error) {
	return a.stat(ctx, "Channels", manager.StatChannels)
}

// PendingMessages returns the number of messages some recipient still
// waits for.
func (a *App) PendingMessages(ctx context.Context) (int64, error) {
	var n int64
	err := a.do(ctx, "PendingMessages", func(ctx context.Context, span trace.Span) error {
		var err error
		n, err = a.managers.Stats.PendingMessages(ctx)
		return err
	})
	return n, err
}

func (a *App) topChannels(ctx context.Context, op, tree string) ([]string, error) {
	var names []string
	err := a.do(ctx, op, func(ctx context.Context, span trace.Span) error {
		ids, err := a.managers.Stats.Top(ctx, tree)
		if err != nil {
			return err
		}
		names = make([]string, len(ids))
		for i, id := range ids {
			if names[i], err = a.managers.Channels.Name(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
	return names, err
}

// Top10ChannelsByUsers returns the channels with the most members, largest
// first. Among equal counts the older channel comes first.
func (a *App) Top10ChannelsByUsers(ctx context.Context) ([]string, error) {
	return a.topChannels(ctx, "Top10ChannelsByUsers", manager.TreeChannelsByUsers)
}

func (a *App) Top10ActiveChannelsByUsers(ctx context.Context) ([]string, error) {
	return a.topChannels(ctx, "Top10ActiveChannelsByUsers", manager.TreeChannelsByActive)
}

func (a *App) Top10ChannelsByMessages(ctx context.Context) ([]string, error) {
	return a.topChannels(ctx, "Top10ChannelsByMessages", manager.TreeChannelsByMessages)
}

func (a *App) Top10UsersByChannels(ctx context.Context) ([]string, error) {
	var names []string
	err := a.do(ctx, "Top10UsersByChannels", func(ctx context.Context, span trace.Span) error {
		ids, err := a.managers.Stats.Top(ctx, manager.TreeUsersByChannels)
		if err != nil {
			return err
		}
		names = make([]string, len(ids))
		for i, id := range ids {
			if names[i], err = a.managers.Users.Name(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
	return names, err
}

// Statistics is a snapshot of the global counters. The values are read
// concurrently and need not be mutually consistent.
type Statistics struct {
	TotalUsers      int64 `json:"total_users"`
	LoggedInUsers   int64 `json:"logged_in_users"`
	Channels        int64 `json:"channels"`
	ChannelMessages int64 `json:"channel_messages"`
	PendingMessages int64 `json:"pending_messages"`
}

func (a *App) Statistics(ctx context.Context) (Statistics, error) {
	var s Statistics
	err := a.do(ctx, "Statistics", func(ctx context.Context, span trace.Span) error {
		g, gctx := errgroup.WithContext(ctx)
		read := func(name string, dst *int64) {
			g.Go(func() error {
				v, err := a.managers.Stats.Get(gctx, name)
				*dst = v
				return err
			})
		}
		read(manager.StatTotalUsers, &s.TotalUsers)
		read(manager.StatLoggedInUsers, &s.LoggedInUsers)
		read(manager.StatChannels, &s.Channels)
		read(manager.StatChannelMessages, &s.ChannelMessages)
		g.Go(func() error {
			n, err := a.managers.Stats.PendingMessages(gctx)
			s.PendingMessages = n
			return err
		})
		return g.Wait()
	})
	return s, err
}

// Close waits for asynchronous hooks and releases the stores.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.hooks.Stop()
		var errs []error
		for _, c := range a.closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		a.closeErr = errors.Join(errs...)
		a.logger.Info("Chat service closed")
	})
	return a.closeErr
}
