package manager

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/INLOpen/nexuschat/core"
)

// TokenManager issues opaque session tokens and maps them to user ids.
type TokenManager struct {
	store core.KVStore
}

func NewTokenManager(store core.KVStore) *TokenManager {
	return &TokenManager{store: store}
}

func tokenKey(token string) []byte {
	return []byte("token/" + token)
}

// Issue creates a new random token bound to userID.
func (t *TokenManager) Issue(ctx context.Context, userID int64) (string, error) {
	token := uuid.NewString()
	if err := core.SetInt64(ctx, t.store, tokenKey(token), userID); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return token, nil
}

// Resolve returns the user bound to token, or core.ErrInvalidToken.
func (t *TokenManager) Resolve(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, core.ErrInvalidToken
	}
	data, found, err := t.store.Get(ctx, tokenKey(token))
	if err != nil {
		return 0, err
	}
	if !found || len(data) == 0 {
		return 0, core.ErrInvalidToken
	}
	id, err := core.DecodeInt64(data)
	if err != nil {
		return 0, fmt.Errorf("token record: %w", err)
	}
	return id, nil
}

// Invalidate makes token unresolvable.
func (t *TokenManager) Invalidate(ctx context.Context, token string) error {
	return t.store.Set(ctx, tokenKey(token), []byte{})
}
