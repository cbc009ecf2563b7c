package auth

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashType defines the password hashing algorithm used.
type HashType uint8

const (
	// HashTypeUnknown is an invalid hash type.
	HashTypeUnknown HashType = 0
	// HashTypeBcrypt indicates that bcrypt is used for hashing.
	HashTypeBcrypt HashType = 1
	// HashTypeSHA256 indicates that SHA-256 is used for hashing.
	HashTypeSHA256 HashType = 2
	// HashTypeSHA512 indicates that SHA-512 is used for hashing.
	HashTypeSHA512 HashType = 3
)

// ErrPasswordMismatch is returned by Verify when the password is wrong.
var ErrPasswordMismatch = errors.New("password mismatch")

// ParseHashType maps a configuration value to a HashType.
func ParseHashType(name string) (HashType, error) {
	switch name {
	case "", "bcrypt":
		return HashTypeBcrypt, nil
	case "sha256":
		return HashTypeSHA256, nil
	case "sha512":
		return HashTypeSHA512, nil
	default:
		return HashTypeUnknown, fmt.Errorf("unsupported hash type: %q", name)
	}
}

// Hasher produces and checks stored password hashes. A stored hash starts
// with its HashType byte, so hashes written under one setting still verify
// after the configured type changes.
type Hasher struct {
	hashType HashType
	cost     int
}

// NewHasher creates a hasher. cost is only used by bcrypt and is clamped to
// the range bcrypt accepts.
func NewHasher(hashType HashType, cost int) (*Hasher, error) {
	switch hashType {
	case HashTypeBcrypt, HashTypeSHA256, HashTypeSHA512:
	default:
		return nil, fmt.Errorf("unsupported hash type: %d", hashType)
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{hashType: hashType, cost: cost}, nil
}

// Hash returns the stored form of password.
// NOTE: SHA256/SHA512 are unsalted and only meant for tests and migrations.
func (h *Hasher) Hash(password string) ([]byte, error) {
	var digest []byte
	switch h.hashType {
	case HashTypeBcrypt:
		hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
		if err != nil {
			return nil, err
		}
		digest = hashed
	case HashTypeSHA256:
		sum := sha256.Sum256([]byte(password))
		digest = sum[:]
	case HashTypeSHA512:
		sum := sha512.Sum512([]byte(password))
		digest = sum[:]
	}
	return append([]byte{byte(h.hashType)}, digest...), nil
}

// Verify checks password against a value produced by Hash.
func (h *Hasher) Verify(stored []byte, password string) error {
	if len(stored) < 2 {
		return fmt.Errorf("stored password hash is too short (%d bytes)", len(stored))
	}
	digest := stored[1:]
	var match bool
	switch HashType(stored[0]) {
	case HashTypeBcrypt:
		err := bcrypt.CompareHashAndPassword(digest, []byte(password))
		if err != nil && !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return fmt.Errorf("verify bcrypt hash: %w", err)
		}
		match = err == nil
	case HashTypeSHA256:
		sum := sha256.Sum256([]byte(password))
		match = subtle.ConstantTimeCompare(sum[:], digest) == 1
	case HashTypeSHA512:
		sum := sha512.Sum512([]byte(password))
		match = subtle.ConstantTimeCompare(sum[:], digest) == 1
	default:
		return fmt.Errorf("stored password hash has unsupported type %d", stored[0])
	}
	if !match {
		return ErrPasswordMismatch
	}
	return nil
}
