package infrastructure

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
)

const (
	ServiceName    = "qml-license-server"
	ServiceVersion = "1.0.0"
)

// Telemetry holds the metric pipeline: an OpenTelemetry meter backed by a
// Prometheus exporter, plus the HTTP handler serving the scrape endpoint.
type Telemetry struct {
	MeterProvider *sdkmetric.MeterProvider
	Meter         metric.Meter
	Handler       http.Handler
}

// InitTelemetry builds the metric pipeline and installs the meter provider
// globally.
func InitTelemetry() (*Telemetry, error) {
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(ServiceVersion),
		attribute.String("service.instance.id", instanceID()),
	)

	exporter, err := otelprom.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	return &Telemetry{
		MeterProvider: provider,
		Meter:         provider.Meter(ServiceName, metric.WithInstrumentationVersion(ServiceVersion)),
		Handler:       promhttp.Handler(),
	}, nil
}

// Shutdown flushes and stops the metric pipeline.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.MeterProvider == nil {
		return nil
	}
	return t.MeterProvider.Shutdown(ctx)
}

func instanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}
