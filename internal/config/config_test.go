package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, LedgerMemory, cfg.Ledger.Kind)
	assert.Equal(t, 5*time.Minute, cfg.Ledger.StalenessBound)
	assert.Equal(t, 30*time.Minute, cfg.Ledger.GraceWindow)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
ledger:
  kind: memory
  staleness_bound: 2m
logging:
  level: debug
  format: text
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Ledger.StalenessBound)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644))

	t.Setenv("QML_SERVER_PORT", "7070")
	t.Setenv("QML_LOGGING_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"port out of range", "server:\n  port: 99999\n"},
		{"unknown ledger kind", "ledger:\n  kind: dynamo\n"},
		{"sheets without spreadsheet", "ledger:\n  kind: sheets\n"},
		{"unknown log level", "logging:\n  level: verbose\n"},
		{"zero staleness bound", "ledger:\n  staleness_bound: 0s\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_SheetsRequiresCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
ledger:
  kind: sheets
  spreadsheet_id: sheet-123
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials")

	t.Setenv("QML_LEDGER_API_KEY", "key-123")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, LedgerSheets, cfg.Ledger.Kind)
	assert.Equal(t, "sheet-123", cfg.Ledger.SpreadsheetID)
}

func TestLoad_SheetsInlineCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
ledger:
  kind: sheets
  spreadsheet_id: sheet-123
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	// Inline service-account JSON satisfies the credential requirement on
	// its own, for deployments that inject secrets via environment.
	t.Setenv("QML_LEDGER_CREDENTIALS_JSON", `{"type":"service_account"}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"service_account"}`, cfg.Ledger.CredentialsJSON)
	assert.Empty(t, cfg.Ledger.CredentialsFile)
}

func TestLicenseConfig_DecodeSecrets(t *testing.T) {
	secret := []byte("binding-secret-for-tests-32bytes")
	lc := LicenseConfig{
		BindingSecret: base64.StdEncoding.EncodeToString(secret),
	}

	decoded, err := lc.DecodeBindingSecret()
	require.NoError(t, err)
	assert.Equal(t, secret, decoded)

	_, err = lc.DecodeMasterSecret()
	assert.Error(t, err)

	lc.MasterSecret = "not-base64!!"
	_, err = lc.DecodeMasterSecret()
	assert.Error(t, err)
}
