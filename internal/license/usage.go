package license

import (
	"sync"

	licenseErrors "qmlcli/internal/errors"
)

// usageRecord holds consumption counters for one license. Each record has its
// own mutex so concurrent callers metering unrelated licenses never contend.
type usageRecord struct {
	mu       sync.Mutex
	quotas   map[string]uint64
	consumed map[string]uint64
}

// Tracker enforces per-license entitlement quotas. Records are created lazily
// on first use from the license's entitlement map; check-then-increment runs
// as one step under the record lock, so racing increments can never push a
// counter past its quota.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]*usageRecord
}

// NewTracker creates an empty usage tracker.
func NewTracker() *Tracker {
	return &Tracker{records: make(map[string]*usageRecord)}
}

// record returns the usage record for a license, creating it on first use.
func (t *Tracker) record(lic *License) *usageRecord {
	t.mu.RLock()
	rec, ok := t.records[lic.ID]
	t.mu.RUnlock()
	if ok {
		return rec
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok = t.records[lic.ID]; ok {
		return rec
	}

	quotas := make(map[string]uint64, len(lic.Entitlements))
	for resource, quota := range lic.Entitlements {
		quotas[resource] = quota
	}
	rec = &usageRecord{
		quotas:   quotas,
		consumed: make(map[string]uint64, len(quotas)),
	}
	t.records[lic.ID] = rec
	return rec
}

// RecordUsage consumes amount units of a resource against the license quota.
// It fails with LimitExceeded when the increment would cross the quota or the
// license grants no entitlement for the resource; on failure the counter is
// left untouched.
func (t *Tracker) RecordUsage(lic *License, resource string, amount uint64) error {
	rec := t.record(lic)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	quota, ok := rec.quotas[resource]
	if !ok {
		return licenseErrors.Newf(licenseErrors.KindLimitExceeded,
			"license %s grants no entitlement for %q", lic.ID, resource)
	}

	used := rec.consumed[resource]
	if amount > quota-used {
		return licenseErrors.Newf(licenseErrors.KindLimitExceeded,
			"entitlement %q exhausted: %d of %d used, %d requested", resource, used, quota, amount)
	}

	rec.consumed[resource] = used + amount
	return nil
}

// CheckEntitlement returns the remaining quota for a resource. A resource the
// license never granted has zero remaining.
func (t *Tracker) CheckEntitlement(lic *License, resource string) uint64 {
	rec := t.record(lic)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	quota, ok := rec.quotas[resource]
	if !ok {
		return 0
	}
	return quota - rec.consumed[resource]
}

// Consumed returns the amount already used for a resource.
func (t *Tracker) Consumed(licenseID, resource string) uint64 {
	t.mu.RLock()
	rec, ok := t.records[licenseID]
	t.mu.RUnlock()
	if !ok {
		return 0
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.consumed[resource]
}

// Exhausted reports whether every entitlement on the license is fully
// consumed. Licenses with no entitlements are never considered exhausted.
func (t *Tracker) Exhausted(lic *License) bool {
	if len(lic.Entitlements) == 0 {
		return false
	}

	t.mu.RLock()
	rec, ok := t.records[lic.ID]
	t.mu.RUnlock()
	if !ok {
		for _, quota := range lic.Entitlements {
			if quota > 0 {
				return false
			}
		}
		return true
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for resource, quota := range rec.quotas {
		if rec.consumed[resource] < quota {
			return false
		}
	}
	return true
}

// hasRecord reports whether any usage has been tracked for the license id.
func (t *Tracker) hasRecord(licenseID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.records[licenseID]
	return ok
}

// Reset clears the consumption counter for one resource. Called on an
// administrative reset or when the billing collaborator reports a period
// rollover.
func (t *Tracker) Reset(licenseID, resource string) {
	t.mu.RLock()
	rec, ok := t.records[licenseID]
	t.mu.RUnlock()
	if !ok {
		return
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	delete(rec.consumed, resource)
}
