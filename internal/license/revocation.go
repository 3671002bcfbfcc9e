package license

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	licenseErrors "qmlcli/internal/errors"
	"qmlcli/internal/ledger"
)

// RegistryConfig tunes the revocation registry's caching and ledger policy.
type RegistryConfig struct {
	// StalenessBound is how long a cached "not revoked" answer stays
	// authoritative before the ledger is consulted again.
	StalenessBound time.Duration

	// GraceWindow extends the staleness bound when the ledger is
	// unreachable. Within the window a stale cached answer is served;
	// beyond it the registry fails closed.
	GraceWindow time.Duration

	// RefreshTimeout bounds each ledger call so an unreachable ledger
	// cannot hang callers.
	RefreshTimeout time.Duration

	// AppendRetries is how many times a failed ledger append is retried
	// before delivery is abandoned for this call.
	AppendRetries int

	// RetryBackoff is the delay between append retries.
	RetryBackoff time.Duration
}

// DefaultRegistryConfig returns the production policy defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		StalenessBound: 5 * time.Minute,
		GraceWindow:    30 * time.Minute,
		RefreshTimeout: 5 * time.Second,
		AppendRetries:  3,
		RetryBackoff:   500 * time.Millisecond,
	}
}

// revocationState is one cached ledger answer. Tombstones are permanent;
// negative answers expire per the staleness bound.
type revocationState struct {
	revoked   bool
	reason    string
	revokedAt time.Time
	checkedAt time.Time
	delivered bool
}

// Registry decides whether a license id has been revoked. It keeps a local
// tombstone cache that is eventually consistent with the remote ledger:
// revocations apply locally at once and are delivered to the ledger
// at-least-once, while non-revocation answers are re-checked once stale.
type Registry struct {
	remote  ledger.Ledger
	cfg     RegistryConfig
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]revocationState

	refresh singleflight.Group
}

// NewRegistry creates a revocation registry over the given ledger.
func NewRegistry(remote ledger.Ledger, cfg RegistryConfig, logger *slog.Logger) *Registry {
	if cfg.StalenessBound <= 0 {
		cfg.StalenessBound = DefaultRegistryConfig().StalenessBound
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRegistryConfig().RefreshTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		remote:  remote,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "revocation_registry")),
		now:     time.Now,
		entries: make(map[string]revocationState),
	}
}

// SetMetrics attaches ledger failure instruments. A nil receiver argument
// leaves the registry unmetered.
func (r *Registry) SetMetrics(m *Metrics) {
	r.metrics = m
}

// IsRevoked reports whether the license id carries a tombstone. A fresh local
// answer is served without I/O. A stale or missing answer triggers a bounded
// ledger refresh, deduplicated across concurrent callers per id. When the
// ledger is unreachable the registry serves the last known answer while the
// grace window covers it and fails closed otherwise.
func (r *Registry) IsRevoked(ctx context.Context, id string) (bool, error) {
	now := r.now()

	r.mu.RLock()
	state, ok := r.entries[id]
	r.mu.RUnlock()

	// Tombstones never expire.
	if ok && state.revoked {
		return true, nil
	}
	if ok && now.Sub(state.checkedAt) <= r.cfg.StalenessBound {
		return false, nil
	}

	res, err, _ := r.refresh.Do(id, func() (interface{}, error) {
		refreshCtx, cancel := context.WithTimeout(ctx, r.cfg.RefreshTimeout)
		defer cancel()

		revoked, err := r.remote.IsRevoked(refreshCtx, id)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.entries[id] = revocationState{
			revoked:   revoked,
			checkedAt: r.now(),
		}
		r.mu.Unlock()
		return revoked, nil
	})
	if err == nil {
		return res.(bool), nil
	}
	r.metrics.recordLedgerFailure(ctx, "refresh")

	// Ledger unreachable. Serve the stale cache inside the grace window,
	// fail closed beyond it.
	if ok && now.Sub(state.checkedAt) <= r.cfg.StalenessBound+r.cfg.GraceWindow {
		r.logger.WarnContext(ctx, "ledger refresh failed, serving stale revocation answer",
			slog.String("license_id", id),
			slog.Duration("staleness", now.Sub(state.checkedAt)),
			slog.String("error", err.Error()),
		)
		return state.revoked, nil
	}

	r.logger.ErrorContext(ctx, "ledger refresh failed with no usable cache, failing closed",
		slog.String("license_id", id),
		slog.String("error", err.Error()),
	)
	return false, licenseErrors.Wrap(licenseErrors.KindLedgerUnavailable, "revocation status unknown", err)
}

// Revoke tombstones a license id. The local tombstone applies immediately and
// unconditionally; delivery to the remote ledger is retried a bounded number
// of times but its failure never undoes the local revocation. Revoking an
// already-revoked id is a no-op.
func (r *Registry) Revoke(ctx context.Context, id, reason string) error {
	now := r.now()

	r.mu.Lock()
	state, ok := r.entries[id]
	if ok && state.revoked {
		if state.delivered {
			r.mu.Unlock()
			return nil
		}
		reason = state.reason
	} else {
		r.entries[id] = revocationState{
			revoked:   true,
			reason:    reason,
			revokedAt: now,
			checkedAt: now,
		}
	}
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "license revoked locally",
		slog.String("license_id", id),
		slog.String("reason", reason),
	)

	var lastErr error
	for attempt := 0; attempt <= r.cfg.AppendRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(r.cfg.RetryBackoff):
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = r.cfg.AppendRetries // exit after this iteration
				continue
			}
		}

		appendCtx, cancel := context.WithTimeout(ctx, r.cfg.RefreshTimeout)
		txRef, err := r.remote.Append(appendCtx, id, reason)
		cancel()
		if err == nil {
			r.mu.Lock()
			state := r.entries[id]
			state.delivered = true
			r.entries[id] = state
			r.mu.Unlock()

			r.logger.InfoContext(ctx, "revocation delivered to ledger",
				slog.String("license_id", id),
				slog.String("tx_ref", txRef),
			)
			return nil
		}
		lastErr = err
	}

	// At-least-once delivery: the tombstone stands even when the ledger is
	// down; the next Revoke or ledger sync re-delivers it.
	r.metrics.recordLedgerFailure(ctx, "append")
	r.logger.ErrorContext(ctx, "revocation delivery to ledger failed, tombstone kept locally",
		slog.String("license_id", id),
		slog.String("error", lastErr.Error()),
	)
	return nil
}

// Entry returns the locally known revocation entry for an id.
func (r *Registry) Entry(id string) (ledger.Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.entries[id]
	if !ok || !state.revoked {
		return ledger.Entry{}, false
	}
	return ledger.Entry{ID: id, Reason: state.reason, RevokedAt: state.revokedAt}, true
}

// setClock replaces the registry clock in tests.
func (r *Registry) setClock(now func() time.Time) {
	r.now = now
}
