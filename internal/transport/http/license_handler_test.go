package http

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qmlcli/internal/ledger"
	"qmlcli/internal/license"
	licensemw "qmlcli/internal/middleware"
)

type handlerFixture struct {
	server  *httptest.Server
	manager *license.Manager
	remote  *ledger.Memory
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	engine, err := license.NewEngine(
		ed25519.NewKeyFromSeed([]byte("seed-for-license-engine-tests-32")),
		[]byte("master-secret-for-tests-32-bytes"),
	)
	require.NoError(t, err)

	remote := ledger.NewMemory()
	registry := license.NewRegistry(remote, license.DefaultRegistryConfig(), nil)

	manager, err := license.NewManager(license.ManagerConfig{
		Engine:        engine,
		Registry:      registry,
		Tracker:       license.NewTracker(),
		BindingSecret: []byte("binding-secret-for-tests-32bytes"),
	})
	require.NoError(t, err)

	handler := NewLicenseHandler(manager, slog.New(slog.NewTextHandler(io.Discard, nil)))
	server := httptest.NewServer(handler.Routes())
	t.Cleanup(server.Close)

	return &handlerFixture{server: server, manager: manager, remote: remote}
}

func (fx *handlerFixture) post(t *testing.T, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(fx.server.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (fx *handlerFixture) issueToken(t *testing.T) string {
	t.Helper()

	resp, body := fx.post(t, "/issue", map[string]interface{}{
		"machine_id":   "machine-a",
		"entitlements": map[string]int64{"requests": 100},
		"expiry":       time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
		"pricing":      "metered",
		"revocable":    true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var issued IssueResponse
	require.NoError(t, json.Unmarshal(body, &issued))
	require.NotEmpty(t, issued.Token)
	return issued.Token
}

func TestLicenseHandler_IssueAndValidate(t *testing.T) {
	fx := newHandlerFixture(t)
	token := fx.issueToken(t)

	resp, body := fx.post(t, "/validate", map[string]string{
		"token":      token,
		"machine_id": "machine-a",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var validated ValidateResponse
	require.NoError(t, json.Unmarshal(body, &validated))
	assert.NotEmpty(t, validated.LicenseID)
	assert.Equal(t, map[string]uint64{"requests": 100}, validated.Entitlements)
	assert.Equal(t, "metered", validated.Pricing)
	assert.True(t, validated.Revocable)
}

func TestLicenseHandler_Issue_BadRequests(t *testing.T) {
	fx := newHandlerFixture(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{
			name: "missing machine id",
			body: map[string]interface{}{
				"entitlements": map[string]int64{"requests": 100},
				"expiry":       time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
			},
		},
		{
			name: "missing entitlements",
			body: map[string]interface{}{
				"machine_id": "machine-a",
				"expiry":     time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
			},
		},
		{
			name: "negative quota",
			body: map[string]interface{}{
				"machine_id":   "machine-a",
				"entitlements": map[string]int64{"requests": -1},
				"expiry":       time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
			},
		},
		{
			name: "unknown pricing model",
			body: map[string]interface{}{
				"machine_id":   "machine-a",
				"entitlements": map[string]int64{"requests": 100},
				"expiry":       time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
				"pricing":      "freemium",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := fx.post(t, "/issue", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var problem map[string]interface{}
			require.NoError(t, json.Unmarshal(body, &problem))
			assert.Equal(t, "/errors/invalid-terms", problem["type"])
		})
	}
}

func TestLicenseHandler_Validate_WrongMachine(t *testing.T) {
	fx := newHandlerFixture(t)
	token := fx.issueToken(t)

	resp, body := fx.post(t, "/validate", map[string]string{
		"token":      token,
		"machine_id": "machine-b",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var problem map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &problem))
	assert.Equal(t, "/errors/hardware-mismatch", problem["type"])
	assert.Equal(t, "HARDWARE_MISMATCH", problem["kind"])
}

func TestLicenseHandler_Validate_GarbageToken(t *testing.T) {
	fx := newHandlerFixture(t)

	resp, body := fx.post(t, "/validate", map[string]string{
		"token":      "not-a-real-token",
		"machine_id": "machine-a",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var problem map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &problem))
	assert.Equal(t, "/errors/malformed-payload", problem["type"])
}

func TestLicenseHandler_Consume(t *testing.T) {
	fx := newHandlerFixture(t)
	token := fx.issueToken(t)

	resp, body := fx.post(t, "/consume", map[string]interface{}{
		"token":      token,
		"machine_id": "machine-a",
		"resource":   "requests",
		"amount":     30,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var consumed ConsumeResponse
	require.NoError(t, json.Unmarshal(body, &consumed))
	assert.Equal(t, uint64(30), consumed.Consumed)
	assert.Equal(t, uint64(70), consumed.Remaining)

	// Overrunning the remaining quota maps to 429.
	resp, body = fx.post(t, "/consume", map[string]interface{}{
		"token":      token,
		"machine_id": "machine-a",
		"resource":   "requests",
		"amount":     71,
	})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	var problem map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &problem))
	assert.Equal(t, "/errors/limit-exceeded", problem["type"])
}

func TestLicenseHandler_Revoke(t *testing.T) {
	fx := newHandlerFixture(t)
	token := fx.issueToken(t)

	resp, body := fx.post(t, "/validate", map[string]string{
		"token":      token,
		"machine_id": "machine-a",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var validated ValidateResponse
	require.NoError(t, json.Unmarshal(body, &validated))

	resp, _ = fx.post(t, "/revoke", map[string]string{
		"license_id": validated.LicenseID,
		"reason":     "chargeback",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The token now fails validation with the revocation kind.
	resp, body = fx.post(t, "/validate", map[string]string{
		"token":      token,
		"machine_id": "machine-a",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var problem map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &problem))
	assert.Equal(t, "/errors/license-revoked", problem["type"])

	// Repeat revocation stays a 200.
	resp, _ = fx.post(t, "/revoke", map[string]string{
		"license_id": validated.LicenseID,
		"reason":     "chargeback",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLicenseHandler_Entitlements(t *testing.T) {
	fx := newHandlerFixture(t)
	token := fx.issueToken(t)

	_, _ = fx.post(t, "/consume", map[string]interface{}{
		"token":      token,
		"machine_id": "machine-a",
		"resource":   "requests",
		"amount":     25,
	})

	req, err := http.NewRequest(http.MethodGet, fx.server.URL+"/entitlements", nil)
	require.NoError(t, err)
	req.Header.Set(licensemw.TokenHeader, token)
	req.Header.Set(licensemw.MachineIDHeader, "machine-a")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entitlements EntitlementsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entitlements))
	assert.Equal(t, map[string]uint64{"requests": 75}, entitlements.Entitlements)

	// Without the credential headers the endpoint rejects the request.
	resp, err = http.Get(fx.server.URL + "/entitlements")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLicenseHandler_Revoke_MissingReason(t *testing.T) {
	fx := newHandlerFixture(t)

	resp, _ := fx.post(t, "/revoke", map[string]string{
		"license_id": "lic-1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
