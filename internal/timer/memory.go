package timer

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Memory is an in-process Backend. Nothing survives the process.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Schedule(_ context.Context, e Entry) error {
	if e.Owner == "" {
		return ErrNoOwner
	}
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Cancel(_ context.Context, reference string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	n := 0
	for _, e := range m.entries {
		if e.Reference == reference {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return n, nil
}

func (m *Memory) Running(_ context.Context, reference string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) PopNext(_ context.Context, now time.Time) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := -1
	for i, e := range m.entries {
		if e.FireAt.After(now) {
			continue
		}
		// Ties keep schedule order.
		if idx < 0 || e.FireAt.Before(m.entries[idx].FireAt) {
			idx = i
		}
	}
	if idx < 0 {
		return Entry{}, false, nil
	}
	e := m.entries[idx]
	m.entries = slices.Delete(m.entries, idx, idx+1)
	return e, true, nil
}

func (m *Memory) Next(_ context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		next time.Time
		ok   bool
	)
	for _, e := range m.entries {
		if !ok || e.FireAt.Before(next) {
			next, ok = e.FireAt, true
		}
	}
	return next, ok, nil
}

// Pending returns a copy of the pending entries in schedule order.
func (m *Memory) Pending() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}
