package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Exporter is where one otel signal is shipped to. An empty Endpoint keeps
// the signal on the global no-op provider.
type Exporter struct {
	// Endpoint is a full URL, e.g. http://localhost:4318/v1/traces.
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	// Protocol is "http" (default) or "grpc".
	Protocol string            `json:"protocol" yaml:"protocol"`
	Headers  map[string]string `json:"headers" yaml:"headers"`
}

func (e Exporter) enabled() bool {
	return e.Endpoint != ""
}

func (e Exporter) validate() error {
	switch e.Protocol {
	case "", "http", "grpc":
		return nil
	}
	return fmt.Errorf("unknown otlp protocol %q", e.Protocol)
}

type Config struct {
	Traces  Exporter `json:"traces" yaml:"traces"`
	Metrics Exporter `json:"metrics" yaml:"metrics"`
	// SampleRatio is the fraction of iterations traced, 0 means all of them.
	SampleRatio float64 `json:"sample_ratio" yaml:"sample_ratio"`
	// MetricSeconds is the export period of metrics, 0 means 30 seconds.
	MetricSeconds int `json:"metric_seconds" yaml:"metric_seconds"`
}

func (c Config) Validate() error {
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio %v is not within [0, 1]", c.SampleRatio)
	}
	return errors.Join(c.Traces.validate(), c.Metrics.validate())
}

// Providers are the installed sdk providers, either may be nil.
type Providers struct {
	traces  *sdktrace.TracerProvider
	metrics *sdkmetric.MeterProvider
}

// Shutdown flushes whatever has not been exported yet.
func (p Providers) Shutdown(ctx context.Context) error {
	var errs []error
	if p.traces != nil {
		errs = append(errs, p.traces.Shutdown(ctx))
	}
	if p.metrics != nil {
		errs = append(errs, p.metrics.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Setup installs global otel providers for the configured signals.
func Setup(ctx context.Context, service string, c Config) (Providers, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
	))
	if err != nil {
		return Providers{}, err
	}

	var p Providers
	if c.Traces.enabled() {
		exporter, err := traceExporter(ctx, c.Traces)
		if err != nil {
			return Providers{}, fmt.Errorf("trace exporter: %w", err)
		}
		sampler := sdktrace.AlwaysSample()
		if c.SampleRatio > 0 {
			sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio))
		}
		p.traces = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler),
		)
		otel.SetTracerProvider(p.traces)
	}
	if c.Metrics.enabled() {
		exporter, err := metricExporter(ctx, c.Metrics)
		if err != nil {
			return Providers{}, errors.Join(fmt.Errorf("metric exporter: %w", err), p.Shutdown(ctx))
		}
		period := 30 * time.Second
		if c.MetricSeconds > 0 {
			period = time.Duration(c.MetricSeconds) * time.Second
		}
		p.metrics = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(period))),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(p.metrics)
	}
	return p, nil
}

func traceExporter(ctx context.Context, e Exporter) (sdktrace.SpanExporter, error) {
	if e.Protocol == "grpc" {
		return otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpointURL(e.Endpoint),
			otlptracegrpc.WithHeaders(e.Headers),
		)
	}
	return otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(e.Endpoint),
		otlptracehttp.WithHeaders(e.Headers),
	)
}

func metricExporter(ctx context.Context, e Exporter) (sdkmetric.Exporter, error) {
	if e.Protocol == "grpc" {
		return otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpointURL(e.Endpoint),
			otlpmetricgrpc.WithHeaders(e.Headers),
		)
	}
	return otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpointURL(e.Endpoint),
		otlpmetrichttp.WithHeaders(e.Headers),
	)
}
