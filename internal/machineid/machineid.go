// Package machineid supplies the stable machine identifier the license
// engine binds licenses to. The identifier combines network, host, and CPU
// factors into a single SHA-256 digest; it stays stable for the lifetime of
// the device and changes when the hardware materially changes.
package machineid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Provider generates and caches the machine identifier. Fingerprinting walks
// the network interfaces and reads host facts, so results are cached with a
// TTL rather than recomputed per validation.
type Provider struct {
	mu          sync.RWMutex
	cached      string
	cacheExpiry time.Time
	cacheTTL    time.Duration
	logger      *slog.Logger
}

// NewProvider creates a machine identity provider with a one-hour cache.
func NewProvider(logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		cacheTTL: time.Hour,
		logger:   logger.With(slog.String("component", "machineid")),
	}
}

// ID returns the machine identifier, computing it on first use.
func (p *Provider) ID() (string, error) {
	p.mu.RLock()
	if p.cached != "" && time.Now().Before(p.cacheExpiry) {
		id := p.cached
		p.mu.RUnlock()
		return id, nil
	}
	p.mu.RUnlock()

	id, err := p.fingerprint()
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.cached = id
	p.cacheExpiry = time.Now().Add(p.cacheTTL)
	p.mu.Unlock()

	return id, nil
}

// fingerprint combines hardware factors into a hex SHA-256 digest. Factors
// that cannot be read degrade to fixed fallbacks rather than failing the
// whole fingerprint, matching how field deployments behave on locked-down
// hosts.
func (p *Provider) fingerprint() (string, error) {
	mac, err := primaryMAC()
	if err != nil {
		mac = "unknown-mac"
		p.logger.Warn("failed to read MAC address, using fallback",
			slog.String("error", err.Error()),
		)
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown-host"
	}
	hostname = strings.ToLower(strings.TrimSpace(hostname))

	factors := []string{
		mac,
		hostname,
		cpuInfo(),
		runtime.GOOS,
		runtime.GOARCH,
	}

	digest := sha256.Sum256([]byte(strings.Join(factors, "|")))
	id := hex.EncodeToString(digest[:])

	p.logger.Debug("machine fingerprint generated",
		slog.String("hostname", hostname),
		slog.String("os", runtime.GOOS),
		slog.String("arch", runtime.GOARCH),
	)
	return id, nil
}

// primaryMAC returns the MAC address of the first up, non-loopback interface.
func primaryMAC() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("list network interfaces: %w", err)
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac, nil
		}
	}

	// Fallback: any interface with a hardware address at all.
	for _, iface := range interfaces {
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac, nil
		}
	}

	return "", fmt.Errorf("no usable MAC address found")
}

// cpuInfo returns a normalized CPU identifier for the current OS.
func cpuInfo() string {
	switch runtime.GOOS {
	case "linux":
		if data, err := os.ReadFile("/proc/cpuinfo"); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				if strings.HasPrefix(line, "model name") {
					digest := sha256.Sum256([]byte(line))
					return hex.EncodeToString(digest[:8])
				}
			}
		}
	case "windows":
		if procID := os.Getenv("PROCESSOR_IDENTIFIER"); procID != "" {
			digest := sha256.Sum256([]byte(procID))
			return hex.EncodeToString(digest[:8])
		}
	}

	digest := sha256.Sum256([]byte(runtime.GOOS + "-" + runtime.GOARCH))
	return hex.EncodeToString(digest[:8])
}
