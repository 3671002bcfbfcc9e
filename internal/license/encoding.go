package license

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	licenseErrors "qmlcli/internal/errors"
)

// PricingModel is the closed set of pricing policies a license can carry.
type PricingModel uint8

const (
	PricingSubscription PricingModel = iota
	PricingMetered
	PricingPerpetual
)

// String returns the canonical wire name of the pricing model.
func (p PricingModel) String() string {
	switch p {
	case PricingSubscription:
		return "subscription"
	case PricingMetered:
		return "metered"
	case PricingPerpetual:
		return "perpetual"
	default:
		return fmt.Sprintf("pricing(%d)", uint8(p))
	}
}

func parsePricingModel(s string) (PricingModel, error) {
	switch s {
	case "subscription":
		return PricingSubscription, nil
	case "metered":
		return PricingMetered, nil
	case "perpetual":
		return PricingPerpetual, nil
	default:
		return 0, fmt.Errorf("unknown pricing model %q", s)
	}
}

// ComplianceRegime is the closed set of compliance policies.
type ComplianceRegime uint8

const (
	ComplianceNone ComplianceRegime = iota
	ComplianceExportControlled
	ComplianceRegulated
)

// String returns the canonical wire name of the compliance regime.
func (c ComplianceRegime) String() string {
	switch c {
	case ComplianceNone:
		return "none"
	case ComplianceExportControlled:
		return "export_controlled"
	case ComplianceRegulated:
		return "regulated"
	default:
		return fmt.Sprintf("compliance(%d)", uint8(c))
	}
}

func parseComplianceRegime(s string) (ComplianceRegime, error) {
	switch s {
	case "none":
		return ComplianceNone, nil
	case "export_controlled":
		return ComplianceExportControlled, nil
	case "regulated":
		return ComplianceRegulated, nil
	default:
		return 0, fmt.Errorf("unknown compliance regime %q", s)
	}
}

// Conditions holds the policy tags attached to a license at issuance.
type Conditions struct {
	Pricing    PricingModel
	Compliance ComplianceRegime
	Revocable  bool
}

// License is an issued entitlement record. All fields are fixed at issuance;
// quota consumption is tracked separately by the usage tracker, and revocation
// is recorded as a tombstone rather than by mutating the record.
type License struct {
	ID           string
	IssuedAt     time.Time
	Expiry       time.Time
	Entitlements map[string]uint64
	Conditions   Conditions
	BindingTag   []byte

	// Signature is the issuer signature recovered from the sealed token.
	// It is not part of the canonical encoding.
	Signature []byte
}

// wirePayload is the canonical JSON form of a license. Field order is fixed
// by the struct definition and encoding/json sorts map keys, so the encoding
// of a given license is byte-for-byte reproducible.
type wirePayload struct {
	ID           string            `json:"id"`
	IssuedAt     string            `json:"issued_at"`
	Expiry       string            `json:"expiry"`
	Entitlements map[string]uint64 `json:"entitlements"`
	Pricing      string            `json:"pricing"`
	Compliance   string            `json:"compliance"`
	Revocable    bool              `json:"revocable"`
	BindingTag   string            `json:"binding_tag"`
}

// EncodePayload produces the canonical byte encoding of a license. Timestamps
// are normalized to UTC with second precision, binary fields to unpadded
// URL-safe base64. Two logically equal licenses always encode identically,
// regardless of how their entitlement maps were populated.
func EncodePayload(lic *License) ([]byte, error) {
	if lic == nil {
		return nil, licenseErrors.New(licenseErrors.KindMalformedPayload, "nil license")
	}
	if lic.ID == "" {
		return nil, licenseErrors.New(licenseErrors.KindMalformedPayload, "license id is empty")
	}
	if len(lic.BindingTag) == 0 {
		return nil, licenseErrors.New(licenseErrors.KindMalformedPayload, "binding tag is empty")
	}

	wire := wirePayload{
		ID:           lic.ID,
		IssuedAt:     lic.IssuedAt.UTC().Truncate(time.Second).Format(time.RFC3339),
		Expiry:       lic.Expiry.UTC().Truncate(time.Second).Format(time.RFC3339),
		Entitlements: lic.Entitlements,
		Pricing:      lic.Conditions.Pricing.String(),
		Compliance:   lic.Conditions.Compliance.String(),
		Revocable:    lic.Conditions.Revocable,
		BindingTag:   base64.RawURLEncoding.EncodeToString(lic.BindingTag),
	}
	if wire.Entitlements == nil {
		wire.Entitlements = map[string]uint64{}
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return nil, licenseErrors.Wrap(licenseErrors.KindMalformedPayload, "encode license payload", err)
	}
	return data, nil
}

// DecodePayload parses a canonical encoding back into a license. It rejects
// unknown fields, unparseable timestamps, and unrecognized policy tags, so
// decode(encode(x)) round-trips exactly for every valid license.
func DecodePayload(data []byte) (*License, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var wire wirePayload
	if err := dec.Decode(&wire); err != nil {
		return nil, licenseErrors.Wrap(licenseErrors.KindMalformedPayload, "decode license payload", err)
	}
	if dec.More() {
		return nil, licenseErrors.New(licenseErrors.KindMalformedPayload, "trailing data after license payload")
	}
	if wire.ID == "" {
		return nil, licenseErrors.New(licenseErrors.KindMalformedPayload, "license id is empty")
	}

	issuedAt, err := time.Parse(time.RFC3339, wire.IssuedAt)
	if err != nil {
		return nil, licenseErrors.Wrap(licenseErrors.KindMalformedPayload, "parse issued_at", err)
	}
	expiry, err := time.Parse(time.RFC3339, wire.Expiry)
	if err != nil {
		return nil, licenseErrors.Wrap(licenseErrors.KindMalformedPayload, "parse expiry", err)
	}
	pricing, err := parsePricingModel(wire.Pricing)
	if err != nil {
		return nil, licenseErrors.Wrap(licenseErrors.KindMalformedPayload, "parse pricing", err)
	}
	compliance, err := parseComplianceRegime(wire.Compliance)
	if err != nil {
		return nil, licenseErrors.Wrap(licenseErrors.KindMalformedPayload, "parse compliance", err)
	}
	bindingTag, err := base64.RawURLEncoding.DecodeString(wire.BindingTag)
	if err != nil || len(bindingTag) == 0 {
		return nil, licenseErrors.Wrap(licenseErrors.KindMalformedPayload, "parse binding tag", err)
	}

	entitlements := wire.Entitlements
	if entitlements == nil {
		entitlements = map[string]uint64{}
	}

	return &License{
		ID:           wire.ID,
		IssuedAt:     issuedAt.UTC(),
		Expiry:       expiry.UTC(),
		Entitlements: entitlements,
		Conditions: Conditions{
			Pricing:    pricing,
			Compliance: compliance,
			Revocable:  wire.Revocable,
		},
		BindingTag: bindingTag,
	}, nil
}
