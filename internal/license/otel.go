package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	licenseErrors "qmlcli/internal/errors"
)

// MeterName identifies the license engine meter.
const MeterName = "license-engine"

// Metrics holds the engine's OpenTelemetry instruments. A nil *Metrics is
// valid and records nothing, so tests and offline tooling can run without a
// meter provider.
type Metrics struct {
	IssueAttempts    metric.Int64Counter
	IssueFailures    metric.Int64Counter
	IssueDuration    metric.Float64Histogram
	ValidateAttempts metric.Int64Counter
	ValidateFailures metric.Int64Counter
	ValidateDuration metric.Float64Histogram
	ConsumeAttempts  metric.Int64Counter
	ConsumeFailures  metric.Int64Counter
	Revocations      metric.Int64Counter
	LedgerFailures   metric.Int64Counter
}

// NewMetrics creates all license engine instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.IssueAttempts, err = meter.Int64Counter(
		"license_issue_attempts_total",
		metric.WithDescription("Total number of license issuance attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("create issue attempts counter: %w", err)
	}

	m.IssueFailures, err = meter.Int64Counter(
		"license_issue_failures_total",
		metric.WithDescription("Total number of failed license issuances"),
	)
	if err != nil {
		return nil, fmt.Errorf("create issue failures counter: %w", err)
	}

	m.IssueDuration, err = meter.Float64Histogram(
		"license_issue_duration_seconds",
		metric.WithDescription("License issuance duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create issue duration histogram: %w", err)
	}

	m.ValidateAttempts, err = meter.Int64Counter(
		"license_validate_attempts_total",
		metric.WithDescription("Total number of license validation attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("create validate attempts counter: %w", err)
	}

	m.ValidateFailures, err = meter.Int64Counter(
		"license_validate_failures_total",
		metric.WithDescription("Total number of failed license validations"),
	)
	if err != nil {
		return nil, fmt.Errorf("create validate failures counter: %w", err)
	}

	m.ValidateDuration, err = meter.Float64Histogram(
		"license_validate_duration_seconds",
		metric.WithDescription("License validation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create validate duration histogram: %w", err)
	}

	m.ConsumeAttempts, err = meter.Int64Counter(
		"license_consume_attempts_total",
		metric.WithDescription("Total number of entitlement consumption attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("create consume attempts counter: %w", err)
	}

	m.ConsumeFailures, err = meter.Int64Counter(
		"license_consume_failures_total",
		metric.WithDescription("Total number of failed entitlement consumptions"),
	)
	if err != nil {
		return nil, fmt.Errorf("create consume failures counter: %w", err)
	}

	m.Revocations, err = meter.Int64Counter(
		"license_revocations_total",
		metric.WithDescription("Total number of license revocations"),
	)
	if err != nil {
		return nil, fmt.Errorf("create revocations counter: %w", err)
	}

	m.LedgerFailures, err = meter.Int64Counter(
		"license_ledger_failures_total",
		metric.WithDescription("Total number of revocation ledger failures"),
	)
	if err != nil {
		return nil, fmt.Errorf("create ledger failures counter: %w", err)
	}

	return m, nil
}

// errorKindAttr labels a failure metric with the engine error kind.
func errorKindAttr(err error) metric.AddOption {
	kind := string(licenseErrors.KindOf(err))
	if kind == "" {
		kind = "internal"
	}
	return metric.WithAttributes(attribute.String("error_kind", kind))
}

func (m *Metrics) recordIssue(ctx context.Context, start time.Time, err error) {
	if m == nil {
		return
	}
	m.IssueAttempts.Add(ctx, 1)
	m.IssueDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		m.IssueFailures.Add(ctx, 1, errorKindAttr(err))
	}
}

func (m *Metrics) recordValidate(ctx context.Context, start time.Time, err error) {
	if m == nil {
		return
	}
	m.ValidateAttempts.Add(ctx, 1)
	m.ValidateDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		m.ValidateFailures.Add(ctx, 1, errorKindAttr(err))
	}
}

// recordLedgerFailure counts a failed ledger operation, labeled with the
// operation ("refresh" or "append").
func (m *Metrics) recordLedgerFailure(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.LedgerFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
}

func (m *Metrics) recordConsume(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.ConsumeAttempts.Add(ctx, 1)
	if err != nil {
		m.ConsumeFailures.Add(ctx, 1, errorKindAttr(err))
	}
}

func (m *Metrics) recordRevocation(ctx context.Context) {
	if m == nil {
		return
	}
	m.Revocations.Add(ctx, 1)
}
