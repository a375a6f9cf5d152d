package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process maps, nothing survives the process (tests, dry runs)
//   - "file": snapshot JSON + append-only invocation journal
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// TimerRecord is one pending timer or alarm owned by the durable timer primitive.
// Several records may share a Reference; the scheduler above keeps it to one.
type TimerRecord struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Reference string    `json:"reference"`
	Argument  []byte    `json:"argument,omitempty"` // JSON
	FireAt    time.Time `json:"fire_at"`
	CreatedAt time.Time `json:"created_at"`
}

// InvocationEntry records one gateway invocation. Keep it compact and schema-stable.
type InvocationEntry struct {
	At        time.Time `json:"at"`
	Trigger   int       `json:"trigger"`
	Kinds     string    `json:"kinds"` // e.g. "schedule,datastream"
	Executed  bool      `json:"executed"`
	Saved     bool      `json:"saved"`
	TookMS    int64     `json:"took_ms"`
	Error     string    `json:"error,omitempty"`
	Timer     bool      `json:"timer,omitempty"`
	Reference string    `json:"reference,omitempty"` // data request references or timer owner
}
