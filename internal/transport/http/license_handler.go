// Package http relays license engine results over HTTP. Handlers stay thin:
// they bind and validate requests, call the manager, and translate engine
// error kinds into RFC 7807 responses. No licensing decision is made here.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	licenseErrors "qmlcli/internal/errors"
	"qmlcli/internal/license"
	licensemw "qmlcli/internal/middleware"
)

// LicenseService is the slice of the license manager the handler needs.
type LicenseService interface {
	Issue(ctx context.Context, terms license.Terms, machineID string) (string, error)
	Validate(ctx context.Context, token, machineID string) (*license.License, error)
	CheckAndConsume(ctx context.Context, token, machineID, resource string, amount uint64) (*license.License, error)
	CheckEntitlement(lic *license.License, resource string) uint64
	Entitlements(ctx context.Context, token, machineID string) (map[string]uint64, error)
	Revoke(ctx context.Context, id, reason string) error
}

// LicenseHandler handles license HTTP requests.
type LicenseHandler struct {
	service LicenseService
	logger  *slog.Logger
}

// NewLicenseHandler creates a license handler.
func NewLicenseHandler(service LicenseService, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "license")),
	}
}

// Routes returns the chi router for license endpoints.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/issue", h.Issue)
	r.Post("/validate", h.Validate)
	r.Post("/consume", h.Consume)
	r.Post("/revoke", h.Revoke)
	r.Get("/entitlements", h.Entitlements)

	return r
}

// IssueRequest is the issuance request payload.
type IssueRequest struct {
	MachineID    string           `json:"machine_id"`
	Entitlements map[string]int64 `json:"entitlements"`
	Expiry       time.Time        `json:"expiry"`
	Pricing      string           `json:"pricing"`
	Compliance   string           `json:"compliance"`
	Revocable    bool             `json:"revocable"`
}

// Bind implements the render.Binder interface.
func (req *IssueRequest) Bind(r *http.Request) error {
	if req.MachineID == "" {
		return errors.New("machine_id is required")
	}
	if len(req.Entitlements) == 0 {
		return errors.New("entitlements are required")
	}
	if req.Expiry.IsZero() {
		return errors.New("expiry is required")
	}
	return nil
}

// IssueResponse carries the sealed token back to the caller.
type IssueResponse struct {
	Token     string    `json:"token"`
	Timestamp time.Time `json:"timestamp"`
}

// Issue handles POST /api/license/issue.
func (h *LicenseHandler) Issue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)

	req := &IssueRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderProblem(w, r, licenseErrors.Wrap(licenseErrors.KindInvalidTerms, "invalid issue request", err))
		return
	}

	pricing, compliance, err := parseConditions(req.Pricing, req.Compliance)
	if err != nil {
		h.renderProblem(w, r, err)
		return
	}

	terms := license.Terms{
		Entitlements: req.Entitlements,
		Expiry:       req.Expiry,
		Pricing:      pricing,
		Compliance:   compliance,
		Revocable:    req.Revocable,
	}

	token, err := h.service.Issue(ctx, terms, req.MachineID)
	if err != nil {
		h.logger.WarnContext(ctx, "issuance rejected",
			slog.String("request_id", reqID),
			slog.String("error", err.Error()),
		)
		h.renderProblem(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, IssueResponse{Token: token, Timestamp: time.Now().UTC()})
}

// ValidateRequest is the validation request payload.
type ValidateRequest struct {
	Token     string `json:"token"`
	MachineID string `json:"machine_id"`
}

// Bind implements the render.Binder interface.
func (req *ValidateRequest) Bind(r *http.Request) error {
	if req.Token == "" {
		return errors.New("token is required")
	}
	if req.MachineID == "" {
		return errors.New("machine_id is required")
	}
	return nil
}

// ValidateResponse describes a successfully validated license.
type ValidateResponse struct {
	LicenseID    string            `json:"license_id"`
	IssuedAt     time.Time         `json:"issued_at"`
	Expiry       time.Time         `json:"expiry"`
	Entitlements map[string]uint64 `json:"entitlements"`
	Pricing      string            `json:"pricing"`
	Compliance   string            `json:"compliance"`
	Revocable    bool              `json:"revocable"`
}

func validateResponse(lic *license.License) ValidateResponse {
	return ValidateResponse{
		LicenseID:    lic.ID,
		IssuedAt:     lic.IssuedAt,
		Expiry:       lic.Expiry,
		Entitlements: lic.Entitlements,
		Pricing:      lic.Conditions.Pricing.String(),
		Compliance:   lic.Conditions.Compliance.String(),
		Revocable:    lic.Conditions.Revocable,
	}
}

// Validate handles POST /api/license/validate.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &ValidateRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderProblem(w, r, licenseErrors.Wrap(licenseErrors.KindMalformedPayload, "invalid validate request", err))
		return
	}

	lic, err := h.service.Validate(ctx, req.Token, req.MachineID)
	if err != nil {
		h.logger.InfoContext(ctx, "validation failed",
			slog.String("request_id", middleware.GetReqID(ctx)),
			slog.String("token", license.MaskToken(req.Token)),
			slog.String("error_kind", string(licenseErrors.KindOf(err))),
		)
		h.renderProblem(w, r, err)
		return
	}

	render.JSON(w, r, validateResponse(lic))
}

// ConsumeRequest is the combined validate-and-meter request payload.
type ConsumeRequest struct {
	Token     string `json:"token"`
	MachineID string `json:"machine_id"`
	Resource  string `json:"resource"`
	Amount    uint64 `json:"amount"`
}

// Bind implements the render.Binder interface.
func (req *ConsumeRequest) Bind(r *http.Request) error {
	if req.Token == "" {
		return errors.New("token is required")
	}
	if req.MachineID == "" {
		return errors.New("machine_id is required")
	}
	if req.Resource == "" {
		return errors.New("resource is required")
	}
	return nil
}

// ConsumeResponse reports the post-consumption entitlement balance.
type ConsumeResponse struct {
	LicenseID string `json:"license_id"`
	Resource  string `json:"resource"`
	Consumed  uint64 `json:"consumed"`
	Remaining uint64 `json:"remaining"`
}

// Consume handles POST /api/license/consume.
func (h *LicenseHandler) Consume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &ConsumeRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderProblem(w, r, licenseErrors.Wrap(licenseErrors.KindMalformedPayload, "invalid consume request", err))
		return
	}

	lic, err := h.service.CheckAndConsume(ctx, req.Token, req.MachineID, req.Resource, req.Amount)
	if err != nil {
		h.renderProblem(w, r, err)
		return
	}

	render.JSON(w, r, ConsumeResponse{
		LicenseID: lic.ID,
		Resource:  req.Resource,
		Consumed:  req.Amount,
		Remaining: h.service.CheckEntitlement(lic, req.Resource),
	})
}

// RevokeRequest is the revocation request payload.
type RevokeRequest struct {
	LicenseID string `json:"license_id"`
	Reason    string `json:"reason"`
}

// Bind implements the render.Binder interface.
func (req *RevokeRequest) Bind(r *http.Request) error {
	if req.LicenseID == "" {
		return errors.New("license_id is required")
	}
	if req.Reason == "" {
		return errors.New("reason is required")
	}
	return nil
}

// Revoke handles POST /api/license/revoke.
func (h *LicenseHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &RevokeRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderProblem(w, r, licenseErrors.Wrap(licenseErrors.KindInvalidTerms, "invalid revoke request", err))
		return
	}

	if err := h.service.Revoke(ctx, req.LicenseID, req.Reason); err != nil {
		h.renderProblem(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "license revoked",
		slog.String("license_id", req.LicenseID),
		slog.String("reason", req.Reason),
	)
	render.JSON(w, r, map[string]interface{}{
		"license_id": req.LicenseID,
		"revoked":    true,
	})
}

// EntitlementsResponse reports the remaining quota per granted resource.
type EntitlementsResponse struct {
	Entitlements map[string]uint64 `json:"entitlements"`
}

// Entitlements handles GET /api/license/entitlements. The credential travels
// in headers so the token never lands in URLs or access logs.
func (h *LicenseHandler) Entitlements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := r.Header.Get(licensemw.TokenHeader)
	machineID := r.Header.Get(licensemw.MachineIDHeader)
	if token == "" || machineID == "" {
		h.renderProblem(w, r, licenseErrors.New(licenseErrors.KindMalformedPayload,
			"missing license token or machine id header"))
		return
	}

	remaining, err := h.service.Entitlements(ctx, token, machineID)
	if err != nil {
		h.renderProblem(w, r, err)
		return
	}

	render.JSON(w, r, EntitlementsResponse{Entitlements: remaining})
}

func (h *LicenseHandler) renderProblem(w http.ResponseWriter, r *http.Request, err error) {
	problem := licenseErrors.Problem(err, r.URL.Path)
	if reqID := middleware.GetReqID(r.Context()); reqID != "" {
		problem = problem.WithExtension("request_id", reqID)
	}
	if renderErr := render.Render(w, r, problem); renderErr != nil {
		h.logger.Error("failed to render problem response",
			slog.String("error", renderErr.Error()),
		)
	}
}

func parseConditions(pricing, compliance string) (license.PricingModel, license.ComplianceRegime, error) {
	var pm license.PricingModel
	switch pricing {
	case "", "subscription":
		pm = license.PricingSubscription
	case "metered":
		pm = license.PricingMetered
	case "perpetual":
		pm = license.PricingPerpetual
	default:
		return 0, 0, licenseErrors.Newf(licenseErrors.KindInvalidTerms, "unknown pricing model %q", pricing)
	}

	var cr license.ComplianceRegime
	switch compliance {
	case "", "none":
		cr = license.ComplianceNone
	case "export_controlled":
		cr = license.ComplianceExportControlled
	case "regulated":
		cr = license.ComplianceRegulated
	default:
		return 0, 0, licenseErrors.Newf(licenseErrors.KindInvalidTerms, "unknown compliance regime %q", compliance)
	}

	return pm, cr, nil
}
