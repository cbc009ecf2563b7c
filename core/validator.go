package core

import (
	"fmt"
	"regexp"
	"sync"
)

// maxCachedNames bounds the validation cache; names beyond it are
// checked every time.
const maxCachedNames = 4096

// NameValidator checks names against a pattern and caches the outcome.
type NameValidator struct {
	pattern *regexp.Regexp
	kind    string

	mu    sync.RWMutex
	cache map[string]error
}

// NewNameValidator compiles pattern. kind names the validated thing in
// error messages, e.g. "channel".
func NewNameValidator(kind, pattern string) (*NameValidator, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid %s name pattern %q: %w", kind, pattern, err)
	}
	return &NameValidator{pattern: re, kind: kind, cache: make(map[string]error)}, nil
}

// Validate returns a *NameFormatError when name is empty or does not
// match the pattern.
func (v *NameValidator) Validate(name string) error {
	v.mu.RLock()
	err, found := v.cache[name]
	v.mu.RUnlock()
	if found {
		return err
	}

	var validationErr error
	if name == "" {
		validationErr = &NameFormatError{Name: name, Reason: v.kind + " name cannot be empty"}
	} else if !v.pattern.MatchString(name) {
		validationErr = &NameFormatError{Name: name, Reason: fmt.Sprintf("does not match pattern '%s'", v.pattern.String())}
	}

	v.mu.Lock()
	if len(v.cache) < maxCachedNames {
		v.cache[name] = validationErr
	}
	v.mu.Unlock()

	return validationErr
}

func (v *NameValidator) Pattern() string { return v.pattern.String() }
