// Command license-gen is the operator tool for the license engine. It
// generates issuer key material and issues tokens offline, for environments
// where licenses are provisioned out of band rather than through the server.
//
// Usage:
//
//	license-gen keygen -out keys/
//	license-gen issue -key keys/signing.key -master <b64> -binding <b64> \
//	    -terms terms.json -machine <machine-id>
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"qmlcli/internal/ledger"
	"qmlcli/internal/license"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "keygen":
		err = runKeygen(os.Args[2:])
	case "issue":
		err = runIssue(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "license-gen: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: license-gen <keygen|issue> [flags]")
}

// runKeygen generates the Ed25519 signing keypair plus the binding and
// master secrets, writing everything base64-encoded under the output dir.
func runKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	outDir := fs.String("out", "keys", "output directory for key material")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := os.MkdirAll(*outDir, 0o700); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate signing keypair: %w", err)
	}

	bindingSecret := make([]byte, 32)
	if _, err := rand.Read(bindingSecret); err != nil {
		return fmt.Errorf("generate binding secret: %w", err)
	}
	masterSecret := make([]byte, 32)
	if _, err := rand.Read(masterSecret); err != nil {
		return fmt.Errorf("generate master secret: %w", err)
	}

	files := map[string][]byte{
		"signing.key":    priv,
		"signing.pub":    pub,
		"binding.secret": bindingSecret,
		"master.secret":  masterSecret,
	}
	for name, raw := range files {
		path := filepath.Join(*outDir, name)
		encoded := base64.StdEncoding.EncodeToString(raw) + "\n"
		if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Printf("wrote %s\n", path)
	}
	return nil
}

// termsFile is the JSON shape accepted by the -terms flag.
type termsFile struct {
	Entitlements map[string]int64 `json:"entitlements"`
	ExpiryDays   int              `json:"expiry_days"`
	Pricing      string           `json:"pricing"`
	Compliance   string           `json:"compliance"`
	Revocable    bool             `json:"revocable"`
}

// runIssue seals one token offline from a terms file and a machine id.
func runIssue(args []string) error {
	fs := flag.NewFlagSet("issue", flag.ExitOnError)
	keyFile := fs.String("key", "keys/signing.key", "base64 Ed25519 signing key file")
	masterFile := fs.String("master", "keys/master.secret", "base64 master secret file")
	bindingFile := fs.String("binding", "keys/binding.secret", "base64 binding secret file")
	termsPath := fs.String("terms", "", "JSON terms file")
	machineID := fs.String("machine", "", "machine identity to bind the license to")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *termsPath == "" || *machineID == "" {
		return fmt.Errorf("-terms and -machine are required")
	}

	signingKey, err := readSecretFile(*keyFile)
	if err != nil {
		return err
	}
	if len(signingKey) != ed25519.PrivateKeySize {
		return fmt.Errorf("signing key must be %d bytes, got %d", ed25519.PrivateKeySize, len(signingKey))
	}
	masterSecret, err := readSecretFile(*masterFile)
	if err != nil {
		return err
	}
	bindingSecret, err := readSecretFile(*bindingFile)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(*termsPath)
	if err != nil {
		return fmt.Errorf("read terms file: %w", err)
	}
	var tf termsFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return fmt.Errorf("parse terms file: %w", err)
	}
	if tf.ExpiryDays <= 0 {
		return fmt.Errorf("terms expiry_days must be positive")
	}

	pricing, err := parsePricing(tf.Pricing)
	if err != nil {
		return err
	}
	compliance, err := parseCompliance(tf.Compliance)
	if err != nil {
		return err
	}

	engine, err := license.NewEngine(ed25519.PrivateKey(signingKey), masterSecret)
	if err != nil {
		return err
	}
	manager, err := license.NewManager(license.ManagerConfig{
		Engine:        engine,
		Registry:      license.NewRegistry(ledger.NewMemory(), license.DefaultRegistryConfig(), nil),
		BindingSecret: bindingSecret,
	})
	if err != nil {
		return err
	}

	terms := license.Terms{
		Entitlements: tf.Entitlements,
		Expiry:       time.Now().UTC().AddDate(0, 0, tf.ExpiryDays),
		Pricing:      pricing,
		Compliance:   compliance,
		Revocable:    tf.Revocable,
	}

	token, err := manager.Issue(context.Background(), terms, *machineID)
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}

func readSecretFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("%s is not valid base64: %w", path, err)
	}
	return raw, nil
}

func parsePricing(s string) (license.PricingModel, error) {
	switch s {
	case "", "subscription":
		return license.PricingSubscription, nil
	case "metered":
		return license.PricingMetered, nil
	case "perpetual":
		return license.PricingPerpetual, nil
	default:
		return 0, fmt.Errorf("unknown pricing model %q", s)
	}
}

func parseCompliance(s string) (license.ComplianceRegime, error) {
	switch s {
	case "", "none":
		return license.ComplianceNone, nil
	case "export_controlled":
		return license.ComplianceExportControlled, nil
	case "regulated":
		return license.ComplianceRegulated, nil
	default:
		return 0, fmt.Errorf("unknown compliance regime %q", s)
	}
}
