package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/INLOpen/nexuschat/auth"
	"github.com/INLOpen/nexuschat/core"
	"github.com/INLOpen/nexuschat/hooks"
)

// UserManager implements the user session state machine. A user is OUT
// until a successful Login, IN until Logout. Users are created by their
// first Login; the first user ever created is an administrator.
type UserManager struct {
	*shared
	hasher *auth.Hasher
	logger *slog.Logger
}

// Authenticate resolves a session token to a user id.
func (m *UserManager) Authenticate(ctx context.Context, token string) (int64, error) {
	return m.tokens.Resolve(ctx, token)
}

// Login logs name in and returns a new session token.
func (m *UserManager) Login(ctx context.Context, name, password string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty user name: %w", core.ErrNoSuchEntity)
	}

	id, created, err := m.lookupOrCreate(ctx, name, password)
	if err != nil {
		return "", err
	}

	unlock := m.locks.Lock(userLockKey(id))
	defer unlock()

	if !created {
		hash, err := m.users.PasswordHash(ctx, id)
		if err != nil {
			return "", err
		}
		if err := m.hasher.Verify(hash, password); err != nil {
			if errors.Is(err, auth.ErrPasswordMismatch) {
				m.logger.Debug("Login rejected: wrong password", "user", name)
				return "", fmt.Errorf("user %q: %w", name, core.ErrNoSuchEntity)
			}
			return "", err
		}
	}

	loggedIn, err := m.users.IsLoggedIn(ctx, id)
	if err != nil {
		return "", err
	}
	if loggedIn {
		return "", fmt.Errorf("user %q: %w", name, core.ErrUserAlreadyLoggedIn)
	}

	if err := m.users.SetLoggedIn(ctx, id, true); err != nil {
		return "", err
	}
	token, err := m.tokens.Issue(ctx, id)
	if err != nil {
		return "", err
	}
	if err := m.users.SetToken(ctx, id, token); err != nil {
		return "", err
	}
	if _, err := m.stats.Add(ctx, StatLoggedInUsers, 1); err != nil {
		return "", err
	}
	if err := m.adjustActive(ctx, id, 1); err != nil {
		return "", err
	}

	m.logger.Info("User logged in", "user_id", id, "user", name, "created", created)
	_ = m.hooks.Trigger(ctx, hooks.NewPostLoginEvent(hooks.SessionPayload{UserID: id, UserName: name, Created: created}))
	return token, nil
}

func (m *UserManager) lookupOrCreate(ctx context.Context, name, password string) (int64, bool, error) {
	unlock := m.locks.Lock(userNameLockKey(name))
	defer unlock()

	id, found, err := m.users.ID(ctx, name)
	if err != nil {
		return 0, false, err
	}
	if found {
		return id, false, nil
	}

	hash, err := m.hasher.Hash(password)
	if err != nil {
		return 0, false, fmt.Errorf("hash password: %w", err)
	}
	id, err = m.userSeq.Next(ctx)
	if err != nil {
		return 0, false, err
	}
	total, err := m.stats.Add(ctx, StatTotalUsers, 1)
	if err != nil {
		return 0, false, err
	}
	if err := m.userChannels.Init(ctx, id, 0); err != nil {
		return 0, false, err
	}
	admin := total == 1
	if err := m.users.Create(ctx, id, name, hash, admin); err != nil {
		return 0, false, fmt.Errorf("create user %q: %w", name, err)
	}
	m.logger.Info("User created", "user_id", id, "user", name, "admin", admin)
	return id, true, nil
}

// Logout ends the session of token. Listeners registered by the user are
// dropped; messages sent while the user has no listener wait for the next
// one.
func (m *UserManager) Logout(ctx context.Context, token string) error {
	id, err := m.tokens.Resolve(ctx, token)
	if err != nil {
		return err
	}

	unlock := m.locks.Lock(userLockKey(id))
	defer unlock()

	current, found, err := m.users.Token(ctx, id)
	if err != nil {
		return err
	}
	if !found || current != token {
		return core.ErrInvalidToken
	}

	if err := m.users.SetLoggedIn(ctx, id, false); err != nil {
		return err
	}
	if err := m.tokens.Invalidate(ctx, token); err != nil {
		return err
	}
	if err := m.users.SetToken(ctx, id, ""); err != nil {
		return err
	}
	if _, err := m.stats.Add(ctx, StatLoggedInUsers, -1); err != nil {
		return err
	}
	if err := m.adjustActive(ctx, id, -1); err != nil {
		return err
	}

	unlockDelivery := m.locks.Lock(deliveryLockKey(id))
	dropped := m.listeners.drop(id)
	unlockDelivery()

	name, _, _ := m.users.Name(ctx, id)
	m.logger.Info("User logged out", "user_id", id, "user", name, "listeners_dropped", dropped)
	_ = m.hooks.Trigger(ctx, hooks.NewPostLogoutEvent(hooks.SessionPayload{UserID: id, UserName: name}))
	return nil
}

// adjustActive changes the active member counter of every channel the user
// belongs to. The caller holds the user lock, which keeps the channel set
// stable.
func (m *UserManager) adjustActive(ctx context.Context, userID int64, delta int64) error {
	channels, err := m.Channels(ctx, userID)
	if err != nil {
		return err
	}
	for _, channelID := range channels {
		if _, err := m.channelActive.Add(ctx, channelID, delta); err != nil {
			return err
		}
	}
	return nil
}

// IsLoggedIn reports whether the named user is logged in.
func (m *UserManager) IsLoggedIn(ctx context.Context, name string) (bool, error) {
	id, err := m.lookup(ctx, name)
	if err != nil {
		return false, err
	}
	return m.users.IsLoggedIn(ctx, id)
}

// MakeAdministrator grants administrator rights to the named user. Only an
// administrator may do so.
func (m *UserManager) MakeAdministrator(ctx context.Context, callerID int64, name string) error {
	admin, err := m.users.IsAdmin(ctx, callerID)
	if err != nil {
		return err
	}
	if !admin {
		m.logger.Debug("MakeAdministrator rejected: caller is not an administrator", "caller_id", callerID)
		return core.ErrUserNotAuthorized
	}
	id, err := m.lookup(ctx, name)
	if err != nil {
		return err
	}

	unlock := m.locks.Lock(userLockKey(id))
	defer unlock()
	return m.users.SetAdmin(ctx, id, true)
}

// IsAdmin reports whether user id is an administrator.
func (m *UserManager) IsAdmin(ctx context.Context, id int64) (bool, error) {
	return m.users.IsAdmin(ctx, id)
}

// Name returns the name of user id.
func (m *UserManager) Name(ctx context.Context, id int64) (string, error) {
	name, found, err := m.users.Name(ctx, id)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("user %d: %w", id, core.ErrNoSuchEntity)
	}
	return name, nil
}

// Channels returns the ids of the channels the user belongs to.
func (m *UserManager) Channels(ctx context.Context, userID int64) ([]int64, error) {
	keys, err := m.userChannelTree(userID).Keys(ctx)
	if err != nil {
		return nil, err
	}
	return memberIDs(keys), nil
}

// ChannelCount returns the number of channels the user belongs to.
func (m *UserManager) ChannelCount(ctx context.Context, userID int64) (int64, error) {
	return m.userChannels.Get(ctx, userID)
}

func (m *UserManager) lookup(ctx context.Context, name string) (int64, error) {
	id, found, err := m.users.ID(ctx, name)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("user %q: %w", name, core.ErrNoSuchEntity)
	}
	return id, nil
}
