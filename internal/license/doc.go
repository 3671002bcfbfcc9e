// Package license implements the QuantumMetaML license engine: issuance,
// hardware binding, cryptographic sealing, revocation checking, and
// entitlement accounting for the tokens that gate access to paid features.
//
// # Architecture Overview
//
// The engine is built from small components orchestrated by the Manager:
//
//   - Canonical encoder: deterministic byte encoding of license payloads
//   - Hardware binder: HKDF-derived tag tying a license to one machine
//   - Crypto engine: per-license AEAD sealing plus a long-term Ed25519
//     issuer signature
//   - Revocation registry: tombstone cache synchronized with a remote ledger
//   - Usage tracker: atomic per-license quota accounting
//
// # Validation Flow
//
// Validation reverses issuance and fails fast at each stage:
//
//  1. Verify the issuer signature over the raw token
//  2. Decrypt the payload under the per-license content key
//  3. Canonically decode the payload
//  4. Check expiry against the current time
//  5. Verify the hardware binding tag for the presenting machine
//  6. Consult the revocation registry
//
// Quota checks are intentionally not part of validation; callers that meter
// usage go through CheckAndConsume, which composes validation with an atomic
// quota increment.
//
// # Error Handling
//
// Every failure carries one of the engine error kinds from internal/errors
// (InvalidTerms, MalformedPayload, InvalidSignature, DecryptionFailed,
// HardwareMismatch, LicenseExpired, LicenseRevoked, LimitExceeded,
// LedgerUnavailable). Kinds survive to the caller unchanged so the API layer
// can give each one a distinct user-facing message.
//
// # Concurrency
//
// All operations are safe for concurrent use. The usage tracker keeps one
// lock per license record and the revocation registry deduplicates ledger
// refreshes per id, so unrelated licenses never contend. Only the ledger
// operations block on network I/O, and both are bounded by timeouts.
package license
