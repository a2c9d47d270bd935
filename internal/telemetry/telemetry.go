// Package telemetry wires the OpenTelemetry meter provider. Metrics
// are off by default; when disabled a no-op provider is installed so
// instrument calls elsewhere cost nothing.
//
// Configuration:
//
//	config.json telemetry.enabled            turn metrics on
//	OTEL_EXPORTER_OTLP_ENDPOINT=host:4318    export OTLP/HTTP instead of stdout
//	OTEL_SERVICE_NAME=sudocode               override service name
package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Options controls provider setup.
type Options struct {
	Enabled  bool
	Interval time.Duration
	Service  string
	Version  string
}

// Provider owns the installed meter provider's lifecycle.
type Provider struct {
	shutdown func(context.Context) error
}

// Init installs the global meter provider. Disabled: no-op provider,
// nil shutdown, zero overhead.
func Init(ctx context.Context, opts Options) (*Provider, error) {
	if !opts.Enabled {
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return &Provider{}, nil
	}

	service := opts.Service
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		service = name
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(service),
			semconv.ServiceVersionKey.String(opts.Version),
		),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	exporter, err := buildExporter(ctx)
	if err != nil {
		return nil, err
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp)
	return &Provider{shutdown: mp.Shutdown}, nil
}

// buildExporter prefers OTLP/HTTP when an endpoint is configured and
// falls back to pretty-printed stdout for local inspection.
func buildExporter(ctx context.Context) (sdkmetric.Exporter, error) {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		exp, err := otlpmetrichttp.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("telemetry: otlp exporter: %w", err)
		}
		return exp, nil
	}
	exp, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: stdout exporter: %w", err)
	}
	return exp, nil
}

// Shutdown flushes and stops the provider. Safe on a disabled provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}
