package errors

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/render"
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs.
// The transport layer renders engine errors through this type so every
// error kind maps to a distinct, machine-readable problem type.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface.
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON includes extension members alongside the standard fields.
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := map[string]interface{}{
		"type":   pd.Type,
		"title":  pd.Title,
		"status": pd.Status,
	}
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}
	for k, v := range pd.Extensions {
		data[k] = v
	}
	return json.Marshal(data)
}

// WithExtension adds an extension member to the problem details.
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	if pd.Extensions == nil {
		pd.Extensions = make(map[string]interface{})
	}
	pd.Extensions[key] = value
	return pd
}

// problemSpec describes how one error kind renders over HTTP.
type problemSpec struct {
	status int
	title  string
}

var problemByKind = map[Kind]problemSpec{
	KindInvalidTerms:      {http.StatusBadRequest, "Invalid License Terms"},
	KindMalformedPayload:  {http.StatusBadRequest, "Malformed License Token"},
	KindInvalidSignature:  {http.StatusForbidden, "Invalid License Signature"},
	KindDecryptionFailed:  {http.StatusForbidden, "License Decryption Failed"},
	KindHardwareMismatch:  {http.StatusForbidden, "Hardware Mismatch"},
	KindLicenseExpired:    {http.StatusForbidden, "License Expired"},
	KindLicenseRevoked:    {http.StatusForbidden, "License Revoked"},
	KindLimitExceeded:     {http.StatusTooManyRequests, "Entitlement Limit Exceeded"},
	KindLedgerUnavailable: {http.StatusServiceUnavailable, "Revocation Ledger Unavailable"},
}

// Problem converts an engine error into an RFC 7807 response. Errors without
// an engine kind become a generic 500 with no internal detail leaked.
func Problem(err error, instance string) *ProblemDetails {
	kind := KindOf(err)
	spec, ok := problemByKind[kind]
	if !ok {
		return &ProblemDetails{
			Type:     "/errors/internal",
			Title:    "Internal Server Error",
			Status:   http.StatusInternalServerError,
			Instance: instance,
		}
	}
	pd := &ProblemDetails{
		Type:     "/errors/" + kindSlug(kind),
		Title:    spec.title,
		Status:   spec.status,
		Detail:   err.Error(),
		Instance: instance,
	}
	return pd.WithExtension("kind", string(kind))
}

func kindSlug(kind Kind) string {
	switch kind {
	case KindInvalidTerms:
		return "invalid-terms"
	case KindMalformedPayload:
		return "malformed-payload"
	case KindInvalidSignature:
		return "invalid-signature"
	case KindDecryptionFailed:
		return "decryption-failed"
	case KindHardwareMismatch:
		return "hardware-mismatch"
	case KindLicenseExpired:
		return "license-expired"
	case KindLicenseRevoked:
		return "license-revoked"
	case KindLimitExceeded:
		return "limit-exceeded"
	case KindLedgerUnavailable:
		return "ledger-unavailable"
	default:
		return "unknown"
	}
}
