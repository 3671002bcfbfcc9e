// Package middleware provides the request-level license gate and throttling
// used by feature endpoints.
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"golang.org/x/time/rate"

	licenseErrors "qmlcli/internal/errors"
	"qmlcli/internal/license"
)

// Header names under which clients present their credential.
const (
	TokenHeader     = "X-License-Token"
	MachineIDHeader = "X-Machine-ID"
)

type contextKey string

const licenseContextKey contextKey = "validated_license"

// Gatekeeper is the slice of the license manager the gate needs.
type Gatekeeper interface {
	CheckAndConsume(ctx context.Context, token, machineID, resource string, amount uint64) (*license.License, error)
}

// FeatureGate returns middleware that admits a request only when the
// presented token validates and the per-request metering succeeds. Each
// admitted request consumes amount units of the resource; the validated
// license is placed on the request context.
func FeatureGate(gate Gatekeeper, resource string, amount uint64, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "feature_gate"), slog.String("resource", resource))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(TokenHeader)
			machineID := r.Header.Get(MachineIDHeader)
			if token == "" || machineID == "" {
				problem := licenseErrors.Problem(
					licenseErrors.New(licenseErrors.KindMalformedPayload, "missing license token or machine id header"),
					r.URL.Path,
				)
				_ = render.Render(w, r, problem)
				return
			}

			lic, err := gate.CheckAndConsume(r.Context(), token, machineID, resource, amount)
			if err != nil {
				logger.InfoContext(r.Context(), "request rejected by license gate",
					slog.String("token", license.MaskToken(token)),
					slog.String("error_kind", string(licenseErrors.KindOf(err))),
				)
				_ = render.Render(w, r, licenseErrors.Problem(err, r.URL.Path))
				return
			}

			ctx := context.WithValue(r.Context(), licenseContextKey, lic)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LicenseFromContext returns the license validated by FeatureGate, if any.
func LicenseFromContext(ctx context.Context) (*license.License, bool) {
	lic, ok := ctx.Value(licenseContextKey).(*license.License)
	return lic, ok
}

// RateLimit returns middleware applying a global token-bucket limit, used on
// issuance and activation endpoints to slow down key-guessing.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
