// Package timer implements the timer/alarm layer used by microservices.
//
// Every pending entry carries an owner (the microservice stable ID) and a
// reference. The Scheduler keeps at most one pending entry per reference by
// cancelling before it schedules. A Primitive stores entries; a Source hands
// due entries back to the host, which re-enters the gateway for each one.
package timer

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrNoOwner = errors.New("timer owner required")

// Entry is one pending timer or alarm.
type Entry struct {
	ID        string
	Owner     string
	Reference string
	Argument  json.RawMessage
	FireAt    time.Time
	CreatedAt time.Time
}

// DecodeArgument returns the argument as a generic JSON value (nil when empty).
func (e Entry) DecodeArgument() (any, error) {
	return DecodeArgument(e.Argument)
}

// DecodeArgument decodes a JSON argument into a generic value.
func DecodeArgument(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Primitive is the single underlying timer mechanism.
type Primitive interface {
	Schedule(ctx context.Context, e Entry) error
	// Cancel removes every entry under reference and reports how many.
	Cancel(ctx context.Context, reference string) (int, error)
	Running(ctx context.Context, reference string) (bool, error)
}

// Source yields entries whose fire time has passed, one at a time, so an
// entry cancelled while an earlier one fires is never handed out.
type Source interface {
	// PopNext removes and returns the earliest entry with FireAt <= now.
	PopNext(ctx context.Context, now time.Time) (Entry, bool, error)
	// Next reports the earliest pending fire time.
	Next(ctx context.Context) (time.Time, bool, error)
}

// Backend is a Primitive that can also be polled.
type Backend interface {
	Primitive
	Source
}
