// Package entity provides property-bag accessors for users, channels and
// messages. Each property of each entity is one key in the store, addressed
// by kind, entity id and property name.
package entity

import (
	"context"

	"github.com/INLOpen/nexuschat/core"
)

// Properties reads and writes the properties of one entity kind.
type Properties struct {
	store core.KVStore
	kind  string
}

// NewProperties creates accessors for entities of the given kind.
func NewProperties(store core.KVStore, kind string) Properties {
	return Properties{store: store, kind: kind}
}

// Kind returns the entity kind, used as the key prefix.
func (p Properties) Kind() string { return p.kind }

// Key returns the storage key of a property.
func (p Properties) Key(id int64, prop string) []byte {
	return core.PropertyKey(p.kind, id, prop)
}

func (p Properties) Int64(ctx context.Context, id int64, prop string, def int64) (int64, error) {
	return core.GetInt64(ctx, p.store, p.Key(id, prop), def)
}

func (p Properties) SetInt64(ctx context.Context, id int64, prop string, v int64) error {
	return core.SetInt64(ctx, p.store, p.Key(id, prop), v)
}

func (p Properties) String(ctx context.Context, id int64, prop string) (string, bool, error) {
	data, found, err := p.store.Get(ctx, p.Key(id, prop))
	if err != nil || !found {
		return "", false, err
	}
	return string(data), true, nil
}

func (p Properties) SetString(ctx context.Context, id int64, prop, v string) error {
	return p.store.Set(ctx, p.Key(id, prop), []byte(v))
}

// Bool reads a flag; an absent flag is false.
func (p Properties) Bool(ctx context.Context, id int64, prop string) (bool, error) {
	data, found, err := p.store.Get(ctx, p.Key(id, prop))
	if err != nil || !found {
		return false, err
	}
	return len(data) == 1 && data[0] == 1, nil
}

func (p Properties) SetBool(ctx context.Context, id int64, prop string, v bool) error {
	b := byte(0)
	if v {
		b = 1
	}
	return p.store.Set(ctx, p.Key(id, prop), []byte{b})
}

func (p Properties) Bytes(ctx context.Context, id int64, prop string) ([]byte, bool, error) {
	return p.store.Get(ctx, p.Key(id, prop))
}

func (p Properties) SetBytes(ctx context.Context, id int64, prop string, v []byte) error {
	return p.store.Set(ctx, p.Key(id, prop), v)
}
