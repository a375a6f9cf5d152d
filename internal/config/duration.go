package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DurationError names the config field holding a bad duration. It matches
// ErrInvalid under errors.Is, so callers outside Validate (host.Build)
// report the same class of failure.
type DurationError struct {
	Field string
	Value string
	Err   error
}

func (e *DurationError) Error() string {
	return fmt.Sprintf("%s: invalid duration %q: %v", e.Field, e.Value, e.Err)
}

func (e *DurationError) Unwrap() []error { return []error{ErrInvalid, e.Err} }

var errNegative = errors.New("must be >= 0")

// ParseDurationField parses a Go duration string. Empty means zero.
func ParseDurationField(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &DurationError{Field: field, Value: raw, Err: err}
	}
	if d < 0 {
		return 0, &DurationError{Field: field, Value: raw, Err: errNegative}
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(field, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(field, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
