// Command license-server runs the QuantumMetaML license engine behind an
// HTTP API: issuance, validation, metered consumption, and revocation.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"qmlcli/internal/config"
	"qmlcli/internal/infrastructure"
	"qmlcli/internal/ledger"
	"qmlcli/internal/license"
	"qmlcli/internal/middleware"
	transporthttp "qmlcli/internal/transport/http"
)

func main() {
	configFile := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	if err := run(*configFile); err != nil {
		slog.Error("license server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := infrastructure.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetry, err := infrastructure.InitTelemetry()
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := telemetry.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	manager, err := buildManager(ctx, cfg, telemetry, logger)
	if err != nil {
		return err
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}

	handler := transporthttp.NewLicenseHandler(manager, logger)
	router.Mount("/api/license", handler.Routes())
	router.Handle("/metrics", telemetry.Handler)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("license server listening",
			slog.Int("port", cfg.Server.Port),
			slog.String("ledger", string(cfg.Ledger.Kind)),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down license server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildManager assembles the engine from configuration: keys, ledger,
// registry, tracker, and metrics.
func buildManager(ctx context.Context, cfg *config.Config, telemetry *infrastructure.Telemetry, logger *slog.Logger) (*license.Manager, error) {
	signingKey, err := loadSigningKey(cfg.License.SigningKeyFile)
	if err != nil {
		return nil, err
	}
	masterSecret, err := cfg.License.DecodeMasterSecret()
	if err != nil {
		return nil, err
	}
	bindingSecret, err := cfg.License.DecodeBindingSecret()
	if err != nil {
		return nil, err
	}

	engine, err := license.NewEngine(signingKey, masterSecret)
	if err != nil {
		return nil, fmt.Errorf("create crypto engine: %w", err)
	}

	var remote ledger.Ledger
	switch cfg.Ledger.Kind {
	case config.LedgerSheets:
		remote, err = ledger.NewSheets(ctx, ledger.SheetsConfig{
			SpreadsheetID:   cfg.Ledger.SpreadsheetID,
			SheetName:       cfg.Ledger.SheetName,
			CredentialsJSON: []byte(cfg.Ledger.CredentialsJSON),
			CredentialsFile: cfg.Ledger.CredentialsFile,
			APIKey:          cfg.Ledger.APIKey,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create sheets ledger: %w", err)
		}
	case config.LedgerMemory:
		remote = ledger.NewMemory()
		logger.Warn("using in-memory revocation ledger, revocations are not shared across nodes")
	default:
		return nil, fmt.Errorf("unknown ledger kind %q", cfg.Ledger.Kind)
	}

	registryCfg := license.DefaultRegistryConfig()
	registryCfg.StalenessBound = cfg.Ledger.StalenessBound
	registryCfg.GraceWindow = cfg.Ledger.GraceWindow
	registryCfg.RefreshTimeout = cfg.Ledger.RefreshTimeout
	registry := license.NewRegistry(remote, registryCfg, logger)

	metrics, err := license.NewMetrics(telemetry.MeterProvider.Meter(license.MeterName))
	if err != nil {
		return nil, fmt.Errorf("create license metrics: %w", err)
	}
	registry.SetMetrics(metrics)

	return license.NewManager(license.ManagerConfig{
		Engine:        engine,
		Registry:      registry,
		Tracker:       license.NewTracker(),
		BindingSecret: bindingSecret,
		Metrics:       metrics,
		Logger:        logger,
	})
}

// loadSigningKey reads a base64 Ed25519 private key from disk.
func loadSigningKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key %s: %w", path, err)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("signing key %s is not valid base64: %w", path, err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	return ed25519.PrivateKey(raw), nil
}
