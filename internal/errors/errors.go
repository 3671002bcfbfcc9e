package errors

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a license engine failure. Callers branch on
// the kind to produce distinct user-facing behavior (renew vs. contact support
// vs. quota exceeded), so kinds are preserved end-to-end and never collapsed
// into a generic failure.
type Kind string

const (
	KindInvalidTerms      Kind = "INVALID_TERMS"
	KindMalformedPayload  Kind = "MALFORMED_PAYLOAD"
	KindInvalidSignature  Kind = "INVALID_SIGNATURE"
	KindDecryptionFailed  Kind = "DECRYPTION_FAILED"
	KindHardwareMismatch  Kind = "HARDWARE_MISMATCH"
	KindLicenseExpired    Kind = "LICENSE_EXPIRED"
	KindLicenseRevoked    Kind = "LICENSE_REVOKED"
	KindLimitExceeded     Kind = "LIMIT_EXCEEDED"
	KindLedgerUnavailable Kind = "LEDGER_UNAVAILABLE"
)

// Sentinel errors, one per kind. LicenseError matches these through
// errors.Is so callers can use either the sentinel or KindOf.
var (
	ErrInvalidTerms      = errors.New("invalid license terms")
	ErrMalformedPayload  = errors.New("malformed license payload")
	ErrInvalidSignature  = errors.New("invalid license signature")
	ErrDecryptionFailed  = errors.New("license decryption failed")
	ErrHardwareMismatch  = errors.New("hardware mismatch")
	ErrLicenseExpired    = errors.New("license expired")
	ErrLicenseRevoked    = errors.New("license revoked")
	ErrLimitExceeded     = errors.New("entitlement limit exceeded")
	ErrLedgerUnavailable = errors.New("revocation ledger unavailable")
)

var sentinelByKind = map[Kind]error{
	KindInvalidTerms:      ErrInvalidTerms,
	KindMalformedPayload:  ErrMalformedPayload,
	KindInvalidSignature:  ErrInvalidSignature,
	KindDecryptionFailed:  ErrDecryptionFailed,
	KindHardwareMismatch:  ErrHardwareMismatch,
	KindLicenseExpired:    ErrLicenseExpired,
	KindLicenseRevoked:    ErrLicenseRevoked,
	KindLimitExceeded:     ErrLimitExceeded,
	KindLedgerUnavailable: ErrLedgerUnavailable,
}

// LicenseError is the concrete error type returned by the license engine.
// It carries a kind, a human-readable message, and an optional cause.
type LicenseError struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *LicenseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is and errors.As to reach the cause.
func (e *LicenseError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel error for the same kind, so that
// errors.Is(err, ErrLicenseExpired) works on wrapped engine errors.
func (e *LicenseError) Is(target error) bool {
	return sentinelByKind[e.Kind] == target
}

// New creates a LicenseError without a cause.
func New(kind Kind, message string) *LicenseError {
	return &LicenseError{Kind: kind, Message: message}
}

// Newf creates a LicenseError with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *LicenseError {
	return &LicenseError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a LicenseError wrapping a cause.
func Wrap(kind Kind, message string, cause error) *LicenseError {
	return &LicenseError{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the kind from an engine error. It returns the empty kind
// for nil and for errors that did not originate in the engine.
func KindOf(err error) Kind {
	var le *LicenseError
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}
