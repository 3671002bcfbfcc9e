package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_AppendAndIsRevoked(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	revoked, err := m.IsRevoked(ctx, "lic-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	txRef, err := m.Append(ctx, "lic-1", "fraud")
	require.NoError(t, err)
	assert.Equal(t, "mem-tx-000001", txRef)

	revoked, err = m.IsRevoked(ctx, "lic-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	entry, ok := m.Entry("lic-1")
	require.True(t, ok)
	assert.Equal(t, "fraud", entry.Reason)
	assert.False(t, entry.RevokedAt.IsZero())
}

func TestMemory_AppendIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first, err := m.Append(ctx, "lic-1", "fraud")
	require.NoError(t, err)

	// A repeat append keeps the original entry and tx reference.
	second, err := m.Append(ctx, "lic-1", "chargeback")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	entry, ok := m.Entry("lic-1")
	require.True(t, ok)
	assert.Equal(t, "fraud", entry.Reason)
}

func TestMemory_ErrorInjection(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.SetError(assert.AnError)

	_, err := m.Append(ctx, "lic-1", "fraud")
	assert.ErrorIs(t, err, assert.AnError)
	_, err = m.IsRevoked(ctx, "lic-1")
	assert.ErrorIs(t, err, assert.AnError)

	m.SetError(nil)
	_, err = m.Append(ctx, "lic-1", "fraud")
	require.NoError(t, err)

	// Failed calls still count toward the observed total.
	assert.Equal(t, 3, m.Calls())
}

func TestMemory_ConcurrentDistinctIDs(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.Append(ctx, "lic-0", "fraud")
	require.NoError(t, err)

	const callers = 50
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("lic-%d", n%5)
			revoked, err := m.IsRevoked(ctx, id)
			assert.NoError(t, err)
			assert.Equal(t, id == "lic-0", revoked)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, callers+1, m.Calls())
}

func TestMemory_ContextCancelled(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Append(ctx, "lic-1", "fraud")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = m.IsRevoked(ctx, "lic-1")
	assert.ErrorIs(t, err, context.Canceled)
}
