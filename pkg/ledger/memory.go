package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger keeps the chain in process memory.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries []Entry
	clock   func() time.Time
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{clock: time.Now}
}

// WithClock overrides clock for testing.
func (m *MemoryLedger) WithClock(clock func() time.Time) *MemoryLedger {
	m.clock = clock
	return m
}

func (m *MemoryLedger) Append(ctx context.Context, rec Record) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var prev *Entry
	if n := len(m.entries); n > 0 {
		prev = &m.entries[n-1]
	}
	e, err := seal(prev, rec, m.clock())
	if err != nil {
		return Entry{}, err
	}
	m.entries = append(m.entries, e)
	return e, nil
}

func (m *MemoryLedger) Get(_ context.Context, seq uint64) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if seq == 0 || seq > uint64(len(m.entries)) {
		return Entry{}, ErrNotFound
	}
	return m.entries[seq-1], nil
}

func (m *MemoryLedger) Entries(context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

func (m *MemoryLedger) Close() error { return nil }
