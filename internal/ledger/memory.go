package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Memory is an in-process Ledger. It backs tests and single-node deployments
// that have no shared ledger. Failure injection lets revocation registry
// tests exercise the fail-closed and grace-window paths.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
	nextTx  int
	err     error
	calls   atomic.Int64
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

// Append records a revocation tombstone. Idempotent per id.
func (m *Memory) Append(ctx context.Context, id, reason string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.calls.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if _, ok := m.entries[id]; !ok {
		m.nextTx++
		m.entries[id] = Entry{ID: id, Reason: reason, RevokedAt: time.Now().UTC()}
	}
	return fmt.Sprintf("mem-tx-%06d", m.nextTx), nil
}

// IsRevoked reports whether a tombstone exists for the id.
func (m *Memory) IsRevoked(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.calls.Add(1)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.entries[id]
	return ok, nil
}

// SetError makes every subsequent call fail with err until cleared with nil.
func (m *Memory) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the number of ledger operations observed.
func (m *Memory) Calls() int {
	return int(m.calls.Load())
}

// Entry returns the stored entry for an id, if any.
func (m *Memory) Entry(id string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	return e, ok
}
