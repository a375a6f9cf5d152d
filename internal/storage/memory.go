package storage

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// memoryData is the full store content. The file driver snapshots it as JSON.
type memoryData struct {
	State  map[string][]byte      `json:"state"`
	Timers map[string]TimerRecord `json:"timers"`
	Admin  map[string][]byte      `json:"admin"`
}

func newMemoryData() memoryData {
	return memoryData{
		State:  map[string][]byte{},
		Timers: map[string]TimerRecord{},
		Admin:  map[string][]byte{},
	}
}

// Memory is an in-process Store. The invocation journal is kept in memory
// and exposed through Invocations for tests.
type Memory struct {
	mu     sync.Mutex
	data   memoryData
	inv    []InvocationEntry
	closed bool

	// onChange runs under mu after every mutation (file driver persistence).
	onChange func(d *memoryData) error
}

func NewMemory() *Memory {
	return &Memory{data: newMemoryData()}
}

func adminKey(orgID int64, key string) string {
	return strconv.FormatInt(orgID, 10) + "/" + key
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (m *Memory) mutate(fn func(d *memoryData)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	fn(&m.data)
	if m.onChange != nil {
		return m.onChange(&m.data)
	}
	return nil
}

func (m *Memory) LoadState(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	b, ok := m.data.State[key]
	return cloneBytes(b), ok, nil
}

func (m *Memory) SaveState(_ context.Context, key string, data []byte) error {
	return m.mutate(func(d *memoryData) { d.State[key] = cloneBytes(data) })
}

func (m *Memory) PutTimer(_ context.Context, rec TimerRecord) error {
	return m.mutate(func(d *memoryData) {
		rec.Argument = cloneBytes(rec.Argument)
		d.Timers[rec.ID] = rec
	})
}

func (m *Memory) DeleteTimers(_ context.Context, reference string) (int, error) {
	n := 0
	err := m.mutate(func(d *memoryData) {
		for id, rec := range d.Timers {
			if rec.Reference == reference {
				delete(d.Timers, id)
				n++
			}
		}
	})
	return n, err
}

func (m *Memory) CountTimers(_ context.Context, reference string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	n := 0
	for _, rec := range m.data.Timers {
		if rec.Reference == reference {
			n++
		}
	}
	return n, nil
}

func (m *Memory) PopNextTimer(_ context.Context, now time.Time) (TimerRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return TimerRecord{}, false, ErrClosed
	}
	var (
		next  TimerRecord
		found bool
	)
	for _, rec := range m.data.Timers {
		if rec.FireAt.After(now) {
			continue
		}
		if !found || timerBefore(rec, next) {
			next, found = rec, true
		}
	}
	if !found {
		return TimerRecord{}, false, nil
	}
	delete(m.data.Timers, next.ID)
	if m.onChange != nil {
		if err := m.onChange(&m.data); err != nil {
			return TimerRecord{}, false, err
		}
	}
	return next, true, nil
}

func (m *Memory) NextTimer(_ context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return time.Time{}, false, ErrClosed
	}
	var (
		next time.Time
		ok   bool
	)
	for _, rec := range m.data.Timers {
		if !ok || rec.FireAt.Before(next) {
			next, ok = rec.FireAt, true
		}
	}
	return next, ok, nil
}

func (m *Memory) SetAdminContent(_ context.Context, orgID int64, key string, value []byte) error {
	return m.mutate(func(d *memoryData) { d.Admin[adminKey(orgID, key)] = cloneBytes(value) })
}

func (m *Memory) GetAdminContent(_ context.Context, orgID int64, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	b, ok := m.data.Admin[adminKey(orgID, key)]
	return cloneBytes(b), ok, nil
}

func (m *Memory) DeleteAdminContent(_ context.Context, orgID int64, key string) error {
	return m.mutate(func(d *memoryData) { delete(d.Admin, adminKey(orgID, key)) })
}

func (m *Memory) AppendInvocation(_ context.Context, e InvocationEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.inv = append(m.inv, e)
	return nil
}

// Invocations returns a copy of the journal.
func (m *Memory) Invocations() []InvocationEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]InvocationEntry(nil), m.inv...)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// timerBefore orders by FireAt, then CreatedAt, then ID for a stable fire order.
func timerBefore(a, b TimerRecord) bool {
	if !a.FireAt.Equal(b.FireAt) {
		return a.FireAt.Before(b.FireAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
