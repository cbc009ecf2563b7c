package core

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeInt64_OrderPreservingForNonNegative(t *testing.T) {
	values := []int64{0, 1, 255, 256, 1 << 32, 1<<62 + 5}
	for i := 1; i < len(values); i++ {
		assert.Equal(t, -1, bytes.Compare(EncodeInt64(values[i-1]), EncodeInt64(values[i])),
			"encoding of %d should sort before %d", values[i-1], values[i])
	}
}

func TestDecodeInt64(t *testing.T) {
	for _, v := range []int64{0, 42, -1, -1 << 63, 1<<63 - 1} {
		got, err := DecodeInt64(EncodeInt64(v))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}

	_, err := DecodeInt64([]byte{1, 2, 3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorruptRecord))
}

func TestPropertyKey(t *testing.T) {
	assert.Equal(t, "user/17/name", string(PropertyKey("user", 17, "name")))
	assert.Equal(t, "channel/-1/valid", string(PropertyKey("channel", -1, "valid")))
}

func TestNameFormatError(t *testing.T) {
	err := error(&NameFormatError{Name: "bad", Reason: "must start with #"})
	assert.True(t, errors.Is(err, ErrNameFormat))
	assert.True(t, IsNameFormatError(err))
	assert.Contains(t, err.Error(), "bad")
	assert.False(t, IsProtocolViolation(err))
	assert.True(t, IsProtocolViolation(ErrIllegalState))
}

func TestParseMediaType(t *testing.T) {
	for m := MediaText; m <= MediaSticker; m++ {
		got, err := ParseMediaType(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseMediaType("video")
	assert.Error(t, err)
}

func TestNameValidator(t *testing.T) {
	_, err := NewNameValidator("channel", "(")
	require.Error(t, err)

	v, err := NewNameValidator("channel", `^#[#_A-Za-z0-9]*$`)
	require.NoError(t, err)
	assert.Equal(t, `^#[#_A-Za-z0-9]*$`, v.Pattern())

	for _, name := range []string{"#", "#ch1", "#a_b#c"} {
		assert.NoError(t, v.Validate(name), name)
	}
	for _, name := range []string{"", "ch1", "#white space", "#ünicode"} {
		err := v.Validate(name)
		require.Error(t, err, name)
		assert.True(t, IsNameFormatError(err), name)
		assert.ErrorIs(t, err, ErrNameFormat)
		// Cached results are returned as is.
		assert.Same(t, err, v.Validate(name))
	}
}
