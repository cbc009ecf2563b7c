package entity

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/INLOpen/nexuschat/core"
)

const (
	userKind = "user"

	userName     = "name"
	userPassword = "password"
	userAdmin    = "admin"
	userLoggedIn = "logged_in"
	userPending  = "pending"
	userToken    = "token"

	// UserChannelCount is the counter mirrored in the users_by_channels index.
	UserChannelCount = "channel_count"
)

// Users stores user records and the name to id mapping.
type Users struct {
	store core.KVStore
	props Properties
}

func NewUsers(store core.KVStore) *Users {
	return &Users{store: store, props: NewProperties(store, userKind)}
}

// Props exposes the raw property bag, e.g. for counters.
func (u *Users) Props() Properties { return u.props }

func nameKey(kind, name string) []byte {
	return []byte(kind + "_by_name/" + name)
}

// ID resolves a user name.
func (u *Users) ID(ctx context.Context, name string) (int64, bool, error) {
	data, found, err := u.store.Get(ctx, nameKey(userKind, name))
	if err != nil || !found {
		return 0, false, err
	}
	id, err := core.DecodeInt64(data)
	if err != nil {
		return 0, false, fmt.Errorf("user name %q: %w", name, err)
	}
	return id, true, nil
}

// Create writes the properties of a new user and finally binds its name, so
// a user is never visible by name before it is complete. The channel count
// is owned by the caller's counter.
func (u *Users) Create(ctx context.Context, id int64, name string, passwordHash []byte, admin bool) error {
	if err := u.props.SetString(ctx, id, userName, name); err != nil {
		return err
	}
	if err := u.props.SetBytes(ctx, id, userPassword, passwordHash); err != nil {
		return err
	}
	if err := u.props.SetBool(ctx, id, userAdmin, admin); err != nil {
		return err
	}
	if err := u.props.SetBool(ctx, id, userLoggedIn, false); err != nil {
		return err
	}
	return core.SetInt64(ctx, u.store, nameKey(userKind, name), id)
}

// Name returns the name of user id; found is false for unknown ids.
func (u *Users) Name(ctx context.Context, id int64) (string, bool, error) {
	return u.props.String(ctx, id, userName)
}

func (u *Users) PasswordHash(ctx context.Context, id int64) ([]byte, error) {
	data, found, err := u.props.Bytes(ctx, id, userPassword)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("user %d password: %w", id, core.ErrNoSuchEntity)
	}
	return data, nil
}

func (u *Users) IsAdmin(ctx context.Context, id int64) (bool, error) {
	return u.props.Bool(ctx, id, userAdmin)
}

func (u *Users) SetAdmin(ctx context.Context, id int64, admin bool) error {
	return u.props.SetBool(ctx, id, userAdmin, admin)
}

func (u *Users) IsLoggedIn(ctx context.Context, id int64) (bool, error) {
	return u.props.Bool(ctx, id, userLoggedIn)
}

func (u *Users) SetLoggedIn(ctx context.Context, id int64, loggedIn bool) error {
	return u.props.SetBool(ctx, id, userLoggedIn, loggedIn)
}

// Token returns the session token of a logged in user.
func (u *Users) Token(ctx context.Context, id int64) (string, bool, error) {
	token, found, err := u.props.String(ctx, id, userToken)
	if err != nil || !found || token == "" {
		return "", false, err
	}
	return token, true, nil
}

// SetToken records the session token; an empty token clears it.
func (u *Users) SetToken(ctx context.Context, id int64, token string) error {
	return u.props.SetString(ctx, id, userToken, token)
}

// PendingSet returns the ids of messages waiting for the user's first
// listener. The returned bitmap is never nil.
func (u *Users) PendingSet(ctx context.Context, id int64) (*roaring64.Bitmap, error) {
	bm := roaring64.New()
	data, found, err := u.props.Bytes(ctx, id, userPending)
	if err != nil {
		return nil, err
	}
	if !found || len(data) == 0 {
		return bm, nil
	}
	if err := bm.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: pending set of user %d: %v", core.ErrCorruptRecord, id, err)
	}
	return bm, nil
}

// SetPendingSet stores bm; an empty bitmap is stored as an empty value.
func (u *Users) SetPendingSet(ctx context.Context, id int64, bm *roaring64.Bitmap) error {
	if bm == nil || bm.IsEmpty() {
		return u.props.SetBytes(ctx, id, userPending, []byte{})
	}
	data, err := bm.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode pending set of user %d: %w", id, err)
	}
	return u.props.SetBytes(ctx, id, userPending, data)
}
