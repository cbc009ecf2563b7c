package core

import (
	"errors"
	"fmt"
)

// Application-level error kinds. Validation failures are expected and
// recoverable by the caller; ErrAlreadyExists and ErrIllegalState signal a
// broken consistency protocol.
var (
	ErrInvalidToken        = errors.New("invalid token")
	ErrNoSuchEntity        = errors.New("no such entity")
	ErrUserNotAuthorized   = errors.New("user not authorized")
	ErrNameFormat          = errors.New("invalid name format")
	ErrUserAlreadyLoggedIn = errors.New("user already logged in")
	ErrAlreadyExists       = errors.New("already exists")
	ErrIllegalState        = errors.New("illegal state")

	// Index and record level programming errors.
	ErrRankOutOfRange = errors.New("rank out of range")
	ErrCorruptRecord  = errors.New("corrupt record")
)

// NameFormatError is returned when a channel name fails validation.
type NameFormatError struct {
	Name   string
	Reason string
}

func (e *NameFormatError) Error() string {
	return fmt.Sprintf("invalid name format for '%s': %s", e.Name, e.Reason)
}

// Is lets errors.Is(err, ErrNameFormat) match a *NameFormatError.
func (e *NameFormatError) Is(target error) bool {
	return target == ErrNameFormat
}

// IsNameFormatError checks if an error is a NameFormatError.
func IsNameFormatError(err error) bool {
	var nameError *NameFormatError
	return errors.As(err, &nameError)
}

func IsInvalidToken(err error) bool { return errors.Is(err, ErrInvalidToken) }

func IsNoSuchEntity(err error) bool { return errors.Is(err, ErrNoSuchEntity) }

func IsUserNotAuthorized(err error) bool { return errors.Is(err, ErrUserNotAuthorized) }

// IsProtocolViolation reports whether err indicates a derived-state
// inconsistency rather than a caller mistake.
func IsProtocolViolation(err error) bool {
	return errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrIllegalState) ||
		errors.Is(err, ErrRankOutOfRange) || errors.Is(err, ErrCorruptRecord)
}
