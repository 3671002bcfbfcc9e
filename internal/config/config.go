// Package config loads license server configuration from environment
// variables (QML_ prefix) with an optional YAML file underneath. Environment
// values win over file values; defaults come from struct tags.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config is the complete license server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
	Ledger    LedgerConfig    `yaml:"ledger" envconfig:"LEDGER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// LicenseConfig carries the issuer key material. Secrets are base64; the
// signing key file holds a base64 Ed25519 private key (64 bytes decoded).
type LicenseConfig struct {
	SigningKeyFile string `yaml:"signing_key_file" envconfig:"SIGNING_KEY_FILE" default:"keys/signing.key"`
	BindingSecret  string `yaml:"binding_secret" envconfig:"BINDING_SECRET"`
	MasterSecret   string `yaml:"master_secret" envconfig:"MASTER_SECRET"`
}

// LedgerKind selects the revocation ledger backend.
type LedgerKind string

const (
	LedgerMemory LedgerKind = "memory"
	LedgerSheets LedgerKind = "sheets"
)

// LedgerConfig configures the revocation ledger collaborator and the
// registry's staleness policy.
type LedgerConfig struct {
	Kind            LedgerKind    `yaml:"kind" envconfig:"KIND" default:"memory"`
	SpreadsheetID   string        `yaml:"spreadsheet_id" envconfig:"SPREADSHEET_ID"`
	SheetName       string        `yaml:"sheet_name" envconfig:"SHEET_NAME" default:"Revocations"`
	CredentialsJSON string        `yaml:"credentials_json" envconfig:"CREDENTIALS_JSON"`
	CredentialsFile string        `yaml:"credentials_file" envconfig:"CREDENTIALS_FILE"`
	APIKey          string        `yaml:"api_key" envconfig:"API_KEY"`
	StalenessBound  time.Duration `yaml:"staleness_bound" envconfig:"STALENESS_BOUND" default:"5m"`
	GraceWindow     time.Duration `yaml:"grace_window" envconfig:"GRACE_WINDOW" default:"30m"`
	RefreshTimeout  time.Duration `yaml:"refresh_timeout" envconfig:"REFRESH_TIMEOUT" default:"5s"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format string `yaml:"format" envconfig:"FORMAT" default:"json"`
}

// RateLimitConfig throttles issuance and activation attempts.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"20"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"10"`
}

// Load reads configuration from the optional YAML file then overlays
// environment variables, and validates the result.
func Load(configFile string) (*Config, error) {
	var cfg Config

	if configFile != "" {
		if data, err := os.ReadFile(configFile); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", configFile, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	if err := envconfig.Process("QML", &cfg); err != nil {
		return nil, fmt.Errorf("load config from environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}

	switch c.Ledger.Kind {
	case LedgerMemory:
	case LedgerSheets:
		if c.Ledger.SpreadsheetID == "" {
			return fmt.Errorf("sheets ledger requires a spreadsheet id")
		}
		if c.Ledger.CredentialsJSON == "" && c.Ledger.CredentialsFile == "" && c.Ledger.APIKey == "" {
			return fmt.Errorf("sheets ledger requires credentials or an API key")
		}
	default:
		return fmt.Errorf("unknown ledger kind %q", c.Ledger.Kind)
	}

	if c.Ledger.StalenessBound <= 0 {
		return fmt.Errorf("ledger staleness bound must be positive")
	}
	if c.Ledger.GraceWindow < 0 {
		return fmt.Errorf("ledger grace window must not be negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}

	return nil
}

// DecodeBindingSecret returns the raw binding secret bytes.
func (c LicenseConfig) DecodeBindingSecret() ([]byte, error) {
	return decodeSecret("binding secret", c.BindingSecret)
}

// DecodeMasterSecret returns the raw content-key master secret bytes.
func (c LicenseConfig) DecodeMasterSecret() ([]byte, error) {
	return decodeSecret("master secret", c.MasterSecret)
}

func decodeSecret(name, value string) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("%s is not configured", name)
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid base64: %w", name, err)
	}
	return raw, nil
}
