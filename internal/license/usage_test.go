package license

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	licenseErrors "qmlcli/internal/errors"
)

func TestTracker_RecordUsage(t *testing.T) {
	tracker := NewTracker()
	lic := testLicense(t)

	require.NoError(t, tracker.RecordUsage(lic, "compute_hours", 100))
	require.NoError(t, tracker.RecordUsage(lic, "compute_hours", 400))
	assert.Equal(t, uint64(0), tracker.CheckEntitlement(lic, "compute_hours"))

	err := tracker.RecordUsage(lic, "compute_hours", 1)
	require.Error(t, err)
	assert.Equal(t, licenseErrors.KindLimitExceeded, licenseErrors.KindOf(err))

	// The failed increment must leave the counter untouched.
	assert.Equal(t, uint64(500), tracker.Consumed(lic.ID, "compute_hours"))
}

func TestTracker_RecordUsage_UnknownResource(t *testing.T) {
	tracker := NewTracker()
	lic := testLicense(t)

	err := tracker.RecordUsage(lic, "gpu_hours", 1)
	require.Error(t, err)
	assert.Equal(t, licenseErrors.KindLimitExceeded, licenseErrors.KindOf(err))
	assert.Equal(t, uint64(0), tracker.CheckEntitlement(lic, "gpu_hours"))
}

func TestTracker_RecordUsage_OverAskRejectedWhole(t *testing.T) {
	tracker := NewTracker()
	lic := testLicense(t)

	// An increment larger than the remainder is rejected outright, not
	// partially applied.
	require.NoError(t, tracker.RecordUsage(lic, "compute_hours", 499))
	err := tracker.RecordUsage(lic, "compute_hours", 2)
	require.Error(t, err)
	assert.Equal(t, uint64(499), tracker.Consumed(lic.ID, "compute_hours"))
	assert.Equal(t, uint64(1), tracker.CheckEntitlement(lic, "compute_hours"))
}

func TestTracker_QuotaRace(t *testing.T) {
	tracker := NewTracker()
	lic := testLicense(t)
	lic.Entitlements = map[string]uint64{"requests": 10}

	const callers = 100
	var successes, failures atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tracker.RecordUsage(lic, "requests", 1); err == nil {
				successes.Add(1)
			} else {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), successes.Load())
	assert.Equal(t, int64(callers-10), failures.Load())
	assert.Equal(t, uint64(10), tracker.Consumed(lic.ID, "requests"))
}

func TestTracker_IndependentLicenses(t *testing.T) {
	tracker := NewTracker()

	first := testLicense(t)
	second := testLicense(t)
	second.ID = "9e8d7c6b-5a49-4838-a727-161514131211"

	require.NoError(t, tracker.RecordUsage(first, "requests", 600))
	assert.Equal(t, uint64(100000), tracker.CheckEntitlement(second, "requests"))
}

func TestTracker_Reset(t *testing.T) {
	tracker := NewTracker()
	lic := testLicense(t)

	require.NoError(t, tracker.RecordUsage(lic, "compute_hours", 500))
	require.Error(t, tracker.RecordUsage(lic, "compute_hours", 1))

	tracker.Reset(lic.ID, "compute_hours")
	assert.Equal(t, uint64(500), tracker.CheckEntitlement(lic, "compute_hours"))
	require.NoError(t, tracker.RecordUsage(lic, "compute_hours", 1))
}

func TestTracker_Exhausted(t *testing.T) {
	tracker := NewTracker()
	lic := testLicense(t)
	lic.Entitlements = map[string]uint64{"requests": 2}

	assert.False(t, tracker.Exhausted(lic))
	require.NoError(t, tracker.RecordUsage(lic, "requests", 2))
	assert.True(t, tracker.Exhausted(lic))
}
