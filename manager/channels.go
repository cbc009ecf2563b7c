package manager

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/INLOpen/nexuschat/core"
	"github.com/INLOpen/nexuschat/hooks"
	"github.com/INLOpen/nexuschat/index"
)

// ChannelManager implements channel membership. A channel exists from the
// join that creates it until its last member leaves; its name is then free
// for a new channel with a new id.
type ChannelManager struct {
	*shared
	names  *core.NameValidator
	logger *slog.Logger
}

// ValidateName checks a channel name against the configured format.
func (m *ChannelManager) ValidateName(name string) error {
	return m.names.Validate(name)
}

// Join adds userID to the channel. A missing channel is created when the
// user is an administrator; the creator becomes its first operator.
// Joining a channel twice is a no-op.
func (m *ChannelManager) Join(ctx context.Context, userID int64, name string) error {
	if err := m.ValidateName(name); err != nil {
		return err
	}

	unlockUser := m.locks.Lock(userLockKey(userID))
	defer unlockUser()
	unlockChannel := m.locks.Lock(channelLockKey(name))
	defer unlockChannel()

	channelID, found, err := m.channels.ID(ctx, name)
	if err != nil {
		return err
	}
	if !found {
		admin, err := m.users.IsAdmin(ctx, userID)
		if err != nil {
			return err
		}
		if !admin {
			m.logger.Debug("Channel creation rejected: user is not an administrator", "user_id", userID, "channel", name)
			return fmt.Errorf("create channel %s: %w", name, core.ErrUserNotAuthorized)
		}
		if channelID, err = m.create(ctx, name); err != nil {
			return err
		}
		if _, err := m.channelOperatorTree(channelID).Insert(ctx, index.MemberKey(userID)); err != nil {
			return err
		}
	} else {
		member, err := m.isMember(ctx, channelID, userID)
		if err != nil {
			return err
		}
		if member {
			return nil
		}
	}

	members, err := m.addMember(ctx, channelID, userID)
	if err != nil {
		return err
	}
	m.logger.Debug("User joined channel", "user_id", userID, "channel", name, "members", members)
	_ = m.hooks.Trigger(ctx, hooks.NewPostChannelJoinEvent(hooks.ChannelPayload{
		ChannelID: channelID, Name: name, UserID: userID, Members: members,
	}))
	return nil
}

// Part removes userID from the channel, destroying it when it becomes empty.
func (m *ChannelManager) Part(ctx context.Context, userID int64, name string) error {
	if err := m.ValidateName(name); err != nil {
		return err
	}

	unlockUser := m.locks.Lock(userLockKey(userID))
	defer unlockUser()
	unlockChannel := m.locks.Lock(channelLockKey(name))
	defer unlockChannel()

	channelID, err := m.lookup(ctx, name)
	if err != nil {
		return err
	}
	member, err := m.isMember(ctx, channelID, userID)
	if err != nil {
		return err
	}
	if !member {
		return fmt.Errorf("user %d in channel %s: %w", userID, name, core.ErrNoSuchEntity)
	}
	return m.removeMember(ctx, channelID, name, userID, false)
}

// Kick removes target from the channel on behalf of callerID, who must be
// an operator of the channel or an administrator.
func (m *ChannelManager) Kick(ctx context.Context, callerID int64, name, target string) error {
	if err := m.ValidateName(name); err != nil {
		return err
	}
	targetID, err := m.userID(ctx, target)
	if err != nil {
		return err
	}

	unlockUser := m.locks.Lock(userLockKey(targetID))
	defer unlockUser()
	unlockChannel := m.locks.Lock(channelLockKey(name))
	defer unlockChannel()

	channelID, err := m.lookup(ctx, name)
	if err != nil {
		return err
	}
	if err := m.authorizeOperator(ctx, channelID, callerID); err != nil {
		return fmt.Errorf("kick from %s: %w", name, err)
	}
	member, err := m.isMember(ctx, channelID, targetID)
	if err != nil {
		return err
	}
	if !member {
		return fmt.Errorf("user %q in channel %s: %w", target, name, core.ErrNoSuchEntity)
	}
	m.logger.Info("User kicked from channel", "caller_id", callerID, "user", target, "channel", name)
	return m.removeMember(ctx, channelID, name, targetID, true)
}

// MakeOperator grants operator rights on the channel to target, who must
// already be a member. callerID must be an operator or an administrator.
func (m *ChannelManager) MakeOperator(ctx context.Context, callerID int64, name, target string) error {
	if err := m.ValidateName(name); err != nil {
		return err
	}
	targetID, err := m.userID(ctx, target)
	if err != nil {
		return err
	}

	unlockChannel := m.locks.Lock(channelLockKey(name))
	defer unlockChannel()

	channelID, err := m.lookup(ctx, name)
	if err != nil {
		return err
	}
	if err := m.authorizeOperator(ctx, channelID, callerID); err != nil {
		return fmt.Errorf("make operator in %s: %w", name, err)
	}
	member, err := m.isMember(ctx, channelID, targetID)
	if err != nil {
		return err
	}
	if !member {
		return fmt.Errorf("user %q in channel %s: %w", target, name, core.ErrNoSuchEntity)
	}
	op, err := m.isOperator(ctx, channelID, targetID)
	if err != nil || op {
		return err
	}
	_, err = m.channelOperatorTree(channelID).Insert(ctx, index.MemberKey(targetID))
	return err
}

// IsMember reports whether the named user belongs to the named channel.
func (m *ChannelManager) IsMember(ctx context.Context, name, user string) (bool, error) {
	if err := m.ValidateName(name); err != nil {
		return false, err
	}
	userID, err := m.userID(ctx, user)
	if err != nil {
		return false, err
	}
	channelID, err := m.lookup(ctx, name)
	if err != nil {
		return false, err
	}
	return m.isMember(ctx, channelID, userID)
}

// IsOperator reports whether the named user is an operator of the channel.
func (m *ChannelManager) IsOperator(ctx context.Context, name, user string) (bool, error) {
	if err := m.ValidateName(name); err != nil {
		return false, err
	}
	userID, err := m.userID(ctx, user)
	if err != nil {
		return false, err
	}
	channelID, err := m.lookup(ctx, name)
	if err != nil {
		return false, err
	}
	return m.isOperator(ctx, channelID, userID)
}

// MemberCount returns the number of members of the channel.
func (m *ChannelManager) MemberCount(ctx context.Context, name string) (int64, error) {
	channelID, err := m.resolve(ctx, name)
	if err != nil {
		return 0, err
	}
	return m.channelMembers.Get(ctx, channelID)
}

// ActiveCount returns the number of logged in members of the channel.
func (m *ChannelManager) ActiveCount(ctx context.Context, name string) (int64, error) {
	channelID, err := m.resolve(ctx, name)
	if err != nil {
		return 0, err
	}
	return m.channelActive.Get(ctx, channelID)
}

// MessageCount returns the number of messages sent to the channel.
func (m *ChannelManager) MessageCount(ctx context.Context, name string) (int64, error) {
	channelID, err := m.resolve(ctx, name)
	if err != nil {
		return 0, err
	}
	return m.channelMessages.Get(ctx, channelID)
}

// Name returns the name of a live channel.
func (m *ChannelManager) Name(ctx context.Context, channelID int64) (string, error) {
	name, found, err := m.channels.Name(ctx, channelID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("channel %d: %w", channelID, core.ErrNoSuchEntity)
	}
	return name, nil
}

// Members returns the ids of the channel's members in ascending order.
func (m *ChannelManager) Members(ctx context.Context, channelID int64) ([]int64, error) {
	keys, err := m.channelMemberTree(channelID).Keys(ctx)
	if err != nil {
		return nil, err
	}
	return memberIDs(keys), nil
}

func (m *ChannelManager) resolve(ctx context.Context, name string) (int64, error) {
	if err := m.ValidateName(name); err != nil {
		return 0, err
	}
	return m.lookup(ctx, name)
}

func (m *ChannelManager) lookup(ctx context.Context, name string) (int64, error) {
	id, found, err := m.channels.ID(ctx, name)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("channel %s: %w", name, core.ErrNoSuchEntity)
	}
	return id, nil
}

func (m *ChannelManager) userID(ctx context.Context, name string) (int64, error) {
	id, found, err := m.users.ID(ctx, name)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("user %q: %w", name, core.ErrNoSuchEntity)
	}
	return id, nil
}

func (m *ChannelManager) isMember(ctx context.Context, channelID, userID int64) (bool, error) {
	return m.channelMemberTree(channelID).Contains(ctx, index.MemberKey(userID))
}

func (m *ChannelManager) isOperator(ctx context.Context, channelID, userID int64) (bool, error) {
	return m.channelOperatorTree(channelID).Contains(ctx, index.MemberKey(userID))
}

func (m *ChannelManager) authorizeOperator(ctx context.Context, channelID, userID int64) error {
	op, err := m.isOperator(ctx, channelID, userID)
	if err != nil {
		return err
	}
	if op {
		return nil
	}
	admin, err := m.users.IsAdmin(ctx, userID)
	if err != nil {
		return err
	}
	if !admin {
		m.logger.Debug("Operator check failed", "user_id", userID, "channel_id", channelID)
		return core.ErrUserNotAuthorized
	}
	return nil
}

// create allocates an id for name and indexes its zero counters. The
// caller holds the channel lock.
func (m *ChannelManager) create(ctx context.Context, name string) (int64, error) {
	channelID, err := m.channelSeq.Next(ctx)
	if err != nil {
		return 0, err
	}
	for _, c := range []*Counter{m.channelMembers, m.channelActive, m.channelMessages} {
		if err := c.Init(ctx, channelID, 0); err != nil {
			return 0, err
		}
	}
	if err := m.channels.Bind(ctx, name, channelID); err != nil {
		return 0, fmt.Errorf("bind channel %s: %w", name, err)
	}
	if _, err := m.stats.Add(ctx, StatChannels, 1); err != nil {
		return 0, err
	}
	m.logger.Info("Channel created", "channel", name, "channel_id", channelID)
	_ = m.hooks.Trigger(ctx, hooks.NewPostChannelCreateEvent(hooks.ChannelPayload{ChannelID: channelID, Name: name}))
	return channelID, nil
}

// addMember records userID as a member and moves every affected counter.
// The caller holds the user lock and the channel lock. It returns the new
// member count.
func (m *ChannelManager) addMember(ctx context.Context, channelID, userID int64) (int64, error) {
	if _, err := m.channelMemberTree(channelID).Insert(ctx, index.MemberKey(userID)); err != nil {
		return 0, err
	}
	if _, err := m.userChannelTree(userID).Insert(ctx, index.MemberKey(channelID)); err != nil {
		return 0, err
	}
	members, err := m.channelMembers.Add(ctx, channelID, 1)
	if err != nil {
		return 0, err
	}
	loggedIn, err := m.users.IsLoggedIn(ctx, userID)
	if err != nil {
		return 0, err
	}
	if loggedIn {
		if _, err := m.channelActive.Add(ctx, channelID, 1); err != nil {
			return 0, err
		}
	}
	if _, err := m.userChannels.Add(ctx, userID, 1); err != nil {
		return 0, err
	}
	return members, nil
}

// removeMember is the inverse of addMember. When the last member leaves the
// channel is destroyed.
func (m *ChannelManager) removeMember(ctx context.Context, channelID int64, name string, userID int64, kicked bool) error {
	if _, err := m.channelMemberTree(channelID).Delete(ctx, index.MemberKey(userID)); err != nil {
		return err
	}
	op, err := m.isOperator(ctx, channelID, userID)
	if err != nil {
		return err
	}
	if op {
		if _, err := m.channelOperatorTree(channelID).Delete(ctx, index.MemberKey(userID)); err != nil {
			return err
		}
	}
	if _, err := m.userChannelTree(userID).Delete(ctx, index.MemberKey(channelID)); err != nil {
		return err
	}
	members, err := m.channelMembers.Add(ctx, channelID, -1)
	if err != nil {
		return err
	}
	loggedIn, err := m.users.IsLoggedIn(ctx, userID)
	if err != nil {
		return err
	}
	if loggedIn {
		if _, err := m.channelActive.Add(ctx, channelID, -1); err != nil {
			return err
		}
	}
	if _, err := m.userChannels.Add(ctx, userID, -1); err != nil {
		return err
	}

	m.logger.Debug("User left channel", "user_id", userID, "channel", name, "members", members, "kicked", kicked)
	_ = m.hooks.Trigger(ctx, hooks.NewPostChannelPartEvent(hooks.ChannelPayload{
		ChannelID: channelID, Name: name, UserID: userID, Members: members, Kicked: kicked,
	}))

	if members == 0 {
		return m.destroy(ctx, channelID, name)
	}
	return nil
}

// destroy drops an empty channel from the rankings and frees its name.
func (m *ChannelManager) destroy(ctx context.Context, channelID int64, name string) error {
	for _, c := range []*Counter{m.channelMembers, m.channelActive, m.channelMessages} {
		if err := c.Remove(ctx, channelID); err != nil {
			return err
		}
	}
	if err := m.channels.Unbind(ctx, name, channelID); err != nil {
		return fmt.Errorf("unbind channel %s: %w", name, err)
	}
	if _, err := m.stats.Add(ctx, StatChannels, -1); err != nil {
		return err
	}
	m.registry.Drop(treeChannelMembers, channelID)
	m.registry.Drop(treeChannelOperators, channelID)

	m.logger.Info("Channel removed", "channel", name, "channel_id", channelID)
	_ = m.hooks.Trigger(ctx, hooks.NewPostChannelRemoveEvent(hooks.ChannelPayload{ChannelID: channelID, Name: name}))
	return nil
}
