package license

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	licenseErrors "qmlcli/internal/errors"
)

// LicenseState is the lifecycle position of an issued token.
// Inactive is terminal: an expired, revoked, or exhausted license is never
// reactivated, a new one must be issued.
type LicenseState uint8

const (
	StateIssued LicenseState = iota
	StateActive
	StateInactive
)

// String returns the lifecycle state name.
func (s LicenseState) String() string {
	switch s {
	case StateIssued:
		return "issued"
	case StateActive:
		return "active"
	case StateInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// Terms describes the entitlement grant requested for a new license, as
// supplied by the billing collaborator after a successful payment event.
// Entitlement quantities are signed so negative inputs from the wire are
// rejected explicitly rather than silently wrapped.
type Terms struct {
	Entitlements map[string]int64 `json:"entitlements" validate:"required,min=1"`
	Expiry       time.Time        `json:"expiry" validate:"required"`
	Pricing      PricingModel     `json:"-"`
	Compliance   ComplianceRegime `json:"-"`
	Revocable    bool             `json:"revocable"`
}

// ManagerConfig wires a Manager's collaborators.
type ManagerConfig struct {
	Engine        *Engine
	Registry      *Registry
	Tracker       *Tracker
	BindingSecret []byte
	Metrics       *Metrics
	Logger        *slog.Logger
}

// Manager orchestrates issuance and validation: it is the only public-facing
// component of the license engine. Issuance flows through the hardware binder
// and crypto engine; validation reverses through the crypto engine, canonical
// decoder, binder, revocation registry, and usage tracker.
type Manager struct {
	engine        *Engine
	registry      *Registry
	tracker       *Tracker
	bindingSecret []byte
	metrics       *Metrics
	logger        *slog.Logger
	validate      *validator.Validate
	now           func() time.Time
}

// NewManager creates a license manager from its collaborators.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Engine == nil {
		return nil, licenseErrors.New(licenseErrors.KindInvalidTerms, "crypto engine is required")
	}
	if cfg.Registry == nil {
		return nil, licenseErrors.New(licenseErrors.KindInvalidTerms, "revocation registry is required")
	}
	if len(cfg.BindingSecret) < MinBindingSecretSize {
		return nil, licenseErrors.Newf(licenseErrors.KindInvalidTerms,
			"binding secret must be at least %d bytes", MinBindingSecretSize)
	}
	if cfg.Tracker == nil {
		cfg.Tracker = NewTracker()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Manager{
		engine:        cfg.Engine,
		registry:      cfg.Registry,
		tracker:       cfg.Tracker,
		bindingSecret: cfg.BindingSecret,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger.With(slog.String("component", "license_manager")),
		validate:      validator.New(),
		now:           time.Now,
	}, nil
}

// Issue builds a license from the terms, binds it to the machine identity,
// and seals it into an opaque token. Negative entitlement quantities or an
// expiry not strictly after issuance time fail with InvalidTerms.
func (m *Manager) Issue(ctx context.Context, terms Terms, machineID string) (token string, err error) {
	start := m.now()
	defer func() { m.metrics.recordIssue(ctx, start, err) }()

	if machineID == "" {
		return "", licenseErrors.New(licenseErrors.KindInvalidTerms, "machine id is required")
	}
	if err := m.validate.Struct(terms); err != nil {
		return "", licenseErrors.Wrap(licenseErrors.KindInvalidTerms, "terms failed validation", err)
	}

	issuedAt := start.UTC().Truncate(time.Second)
	if !terms.Expiry.After(issuedAt) {
		return "", licenseErrors.Newf(licenseErrors.KindInvalidTerms,
			"expiry %s is not after issuance time %s",
			terms.Expiry.UTC().Format(time.RFC3339), issuedAt.Format(time.RFC3339))
	}

	entitlements := make(map[string]uint64, len(terms.Entitlements))
	for resource, quota := range terms.Entitlements {
		if resource == "" {
			return "", licenseErrors.New(licenseErrors.KindInvalidTerms, "entitlement resource name is empty")
		}
		if quota < 0 {
			return "", licenseErrors.Newf(licenseErrors.KindInvalidTerms,
				"entitlement %q has negative quota %d", resource, quota)
		}
		entitlements[resource] = uint64(quota)
	}

	bindingTag, err := DeriveBindingTag(machineID, m.bindingSecret)
	if err != nil {
		return "", licenseErrors.Wrap(licenseErrors.KindInvalidTerms, "derive binding tag", err)
	}

	lic := &License{
		ID:           uuid.NewString(),
		IssuedAt:     issuedAt,
		Expiry:       terms.Expiry.UTC().Truncate(time.Second),
		Entitlements: entitlements,
		Conditions: Conditions{
			Pricing:    terms.Pricing,
			Compliance: terms.Compliance,
			Revocable:  terms.Revocable,
		},
		BindingTag: bindingTag,
	}

	token, err = m.engine.Seal(lic)
	if err != nil {
		return "", err
	}

	m.logger.InfoContext(ctx, "license issued",
		slog.String("license_id", lic.ID),
		slog.Time("expiry", lic.Expiry),
		slog.Int("entitlements", len(lic.Entitlements)),
		slog.String("pricing", lic.Conditions.Pricing.String()),
	)
	return token, nil
}

// Validate opens a token and checks expiry, hardware binding, and revocation
// in that order, returning the first failure with its kind intact. Quota
// state is deliberately not consulted here: validation stays cheap and
// side-effect free while metering goes through CheckAndConsume.
func (m *Manager) Validate(ctx context.Context, token, machineID string) (lic *License, err error) {
	start := m.now()
	defer func() { m.metrics.recordValidate(ctx, start, err) }()

	lic, err = m.engine.Open(token)
	if err != nil {
		return nil, err
	}

	if m.now().After(lic.Expiry) {
		return nil, licenseErrors.Newf(licenseErrors.KindLicenseExpired,
			"license %s expired at %s", lic.ID, lic.Expiry.Format(time.RFC3339))
	}

	if !VerifyBindingTag(machineID, m.bindingSecret, lic.BindingTag) {
		m.logger.WarnContext(ctx, "license presented from unbound machine",
			slog.String("license_id", lic.ID),
		)
		return nil, licenseErrors.Newf(licenseErrors.KindHardwareMismatch,
			"license %s is bound to a different machine", lic.ID)
	}

	revoked, err := m.registry.IsRevoked(ctx, lic.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, licenseErrors.Newf(licenseErrors.KindLicenseRevoked, "license %s is revoked", lic.ID)
	}

	return lic, nil
}

// CheckAndConsume validates the token and meters amount units of the resource
// in one round trip, for callers that gate access and account usage together.
func (m *Manager) CheckAndConsume(ctx context.Context, token, machineID, resource string, amount uint64) (*License, error) {
	lic, err := m.Validate(ctx, token, machineID)
	if err != nil {
		m.metrics.recordConsume(ctx, err)
		return nil, err
	}

	err = m.tracker.RecordUsage(lic, resource, amount)
	m.metrics.recordConsume(ctx, err)
	if err != nil {
		return nil, err
	}

	m.logger.DebugContext(ctx, "entitlement consumed",
		slog.String("license_id", lic.ID),
		slog.String("resource", resource),
		slog.Uint64("amount", amount),
		slog.Uint64("remaining", m.tracker.CheckEntitlement(lic, resource)),
	)
	return lic, nil
}

// CheckEntitlement returns the remaining quota for a resource on a validated
// license.
func (m *Manager) CheckEntitlement(lic *License, resource string) uint64 {
	return m.tracker.CheckEntitlement(lic, resource)
}

// Entitlements validates the token and reports the remaining quota for every
// resource the license grants.
func (m *Manager) Entitlements(ctx context.Context, token, machineID string) (map[string]uint64, error) {
	lic, err := m.Validate(ctx, token, machineID)
	if err != nil {
		return nil, err
	}

	remaining := make(map[string]uint64, len(lic.Entitlements))
	for resource := range lic.Entitlements {
		remaining[resource] = m.tracker.CheckEntitlement(lic, resource)
	}
	return remaining, nil
}

// Revoke tombstones a license id in the revocation registry and forwards the
// tombstone to the remote ledger. Safe to call repeatedly for the same id.
func (m *Manager) Revoke(ctx context.Context, id, reason string) error {
	if err := m.registry.Revoke(ctx, id, reason); err != nil {
		return err
	}
	m.metrics.recordRevocation(ctx)
	return nil
}

// State reports the lifecycle position of an opened license. A license that
// has expired, been revoked, or exhausted every entitlement is Inactive; one
// that validated at least once on this node is Active; otherwise it is merely
// Issued.
func (m *Manager) State(ctx context.Context, lic *License) LicenseState {
	if m.now().After(lic.Expiry) {
		return StateInactive
	}
	if revoked, err := m.registry.IsRevoked(ctx, lic.ID); err == nil && revoked {
		return StateInactive
	}
	if m.tracker.Exhausted(lic) {
		return StateInactive
	}
	if !m.tracker.hasRecord(lic.ID) {
		return StateIssued
	}
	return StateActive
}

// MaskToken shortens a token for logging, keeping only the edges.
func MaskToken(token string) string {
	if len(token) <= 12 {
		return "****"
	}
	return token[:6] + "****" + token[len(token)-6:]
}
