// Package telemetry configures OpenTelemetry tracing. Tracing is disabled
// unless Config.Enabled is set; spans then go to an OTLP/HTTP collector.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const defaultEndpoint = "localhost:4318"

// Config holds tracing options.
type Config struct {
	Enabled        bool
	Endpoint       string // host:port or a full http(s) URL
	Insecure       bool
	ServiceName    string
	ServiceVersion string
	SampleRatio    float64 // 0..1
}

// Validate checks the configuration when tracing is enabled.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return errors.New("telemetry: sample ratio must be between 0 and 1")
	}
	if c.ServiceName == "" {
		return errors.New("telemetry: service name is required")
	}
	return nil
}

// Handle carries the tracer provider and its shutdown hook.
type Handle struct {
	TracerProvider trace.TracerProvider
	Shutdown       func(context.Context) error
}

// Init builds a tracer provider from cfg and installs it globally. A
// disabled config yields a no-op provider and leaves globals untouched.
func Init(ctx context.Context, cfg Config) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return InitWithProvider(noop.NewTracerProvider()), nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	var opts []otlptracehttp.Option
	switch endpoint := cfg.Endpoint; {
	case endpoint == "":
		opts = append(opts, otlptracehttp.WithEndpoint(defaultEndpoint))
	case strings.Contains(endpoint, "://"):
		opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
	default:
		opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &Handle{TracerProvider: tp, Shutdown: tp.Shutdown}, nil
}

// InitWithProvider wraps an existing provider, typically a recording one in
// tests.
func InitWithProvider(tp trace.TracerProvider) *Handle {
	return &Handle{
		TracerProvider: tp,
		Shutdown:       func(context.Context) error { return nil },
	}
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}
