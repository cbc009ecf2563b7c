package core

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
)

// Int64Size is the width of every persisted integer.
const Int64Size = 8

// EncodeInt64 encodes v as 8 big-endian bytes.
func EncodeInt64(v int64) []byte {
	buf := make([]byte, Int64Size)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

// DecodeInt64 decodes a value written by EncodeInt64.
func DecodeInt64(data []byte) (int64, error) {
	if len(data) != Int64Size {
		return 0, fmt.Errorf("%w: integer value has %d bytes, want %d", ErrCorruptRecord, len(data), Int64Size)
	}
	return int64(binary.BigEndian.Uint64(data)), nil
}

// PropertyKey builds the storage key of one property of one entity:
// kind/id/prop.
func PropertyKey(kind string, id int64, prop string) []byte {
	buf := make([]byte, 0, len(kind)+len(prop)+22)
	buf = append(buf, kind...)
	buf = append(buf, '/')
	buf = strconv.AppendInt(buf, id, 10)
	buf = append(buf, '/')
	buf = append(buf, prop...)
	return buf
}

// GetInt64 reads an integer value, returning def when the key is absent.
func GetInt64(ctx context.Context, store KVStore, key []byte, def int64) (int64, error) {
	data, found, err := store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if !found {
		return def, nil
	}
	v, err := DecodeInt64(data)
	if err != nil {
		return 0, fmt.Errorf("key %q: %w", key, err)
	}
	return v, nil
}

// SetInt64 writes an integer value.
func SetInt64(ctx context.Context, store KVStore, key []byte, v int64) error {
	return store.Set(ctx, key, EncodeInt64(v))
}
