package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLicenseError_Error(t *testing.T) {
	plain := New(KindLicenseExpired, "license abc expired")
	assert.Equal(t, "[LICENSE_EXPIRED] license abc expired", plain.Error())

	wrapped := Wrap(KindLedgerUnavailable, "append tombstone", errors.New("connection refused"))
	assert.Equal(t, "[LEDGER_UNAVAILABLE] append tombstone: connection refused", wrapped.Error())
}

func TestLicenseError_SentinelMatching(t *testing.T) {
	err := Newf(KindHardwareMismatch, "license %s is bound to a different machine", "abc")

	assert.True(t, errors.Is(err, ErrHardwareMismatch))
	assert.False(t, errors.Is(err, ErrLicenseExpired))

	// Matching survives further wrapping by callers.
	outer := fmt.Errorf("validate: %w", err)
	assert.True(t, errors.Is(outer, ErrHardwareMismatch))
}

func TestLicenseError_Unwrap(t *testing.T) {
	cause := errors.New("short buffer")
	err := Wrap(KindMalformedPayload, "decode payload", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindLimitExceeded, KindOf(New(KindLimitExceeded, "quota spent")))
	assert.Equal(t, KindLimitExceeded, KindOf(fmt.Errorf("consume: %w", New(KindLimitExceeded, "quota spent"))))
	assert.Equal(t, Kind(""), KindOf(errors.New("unrelated")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestProblem_KnownKinds(t *testing.T) {
	tests := []struct {
		kind   Kind
		status int
		slug   string
	}{
		{KindInvalidTerms, http.StatusBadRequest, "invalid-terms"},
		{KindMalformedPayload, http.StatusBadRequest, "malformed-payload"},
		{KindInvalidSignature, http.StatusForbidden, "invalid-signature"},
		{KindDecryptionFailed, http.StatusForbidden, "decryption-failed"},
		{KindHardwareMismatch, http.StatusForbidden, "hardware-mismatch"},
		{KindLicenseExpired, http.StatusForbidden, "license-expired"},
		{KindLicenseRevoked, http.StatusForbidden, "license-revoked"},
		{KindLimitExceeded, http.StatusTooManyRequests, "limit-exceeded"},
		{KindLedgerUnavailable, http.StatusServiceUnavailable, "ledger-unavailable"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			pd := Problem(New(tt.kind, "boom"), "/api/license/validate")

			assert.Equal(t, tt.status, pd.Status)
			assert.Equal(t, "/errors/"+tt.slug, pd.Type)
			assert.Equal(t, "/api/license/validate", pd.Instance)
			assert.Equal(t, string(tt.kind), pd.Extensions["kind"])
		})
	}
}

func TestProblem_UnknownErrorLeaksNothing(t *testing.T) {
	pd := Problem(errors.New("pq: connection reset by peer"), "/api/license/issue")

	assert.Equal(t, http.StatusInternalServerError, pd.Status)
	assert.Equal(t, "/errors/internal", pd.Type)
	assert.Empty(t, pd.Detail)
}

func TestProblemDetails_MarshalJSON(t *testing.T) {
	pd := Problem(New(KindLicenseRevoked, "license abc is revoked"), "/api/license/validate").
		WithExtension("license_id", "abc")

	data, err := json.Marshal(pd)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "/errors/license-revoked", decoded["type"])
	assert.Equal(t, "License Revoked", decoded["title"])
	assert.Equal(t, float64(http.StatusForbidden), decoded["status"])
	assert.Equal(t, "LICENSE_REVOKED", decoded["kind"])
	assert.Equal(t, "abc", decoded["license_id"])
}
