// Package tracing installs the OpenTelemetry tracer provider used by the
// gateway client and the serve API.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ServiceName identifies tb-dash spans in the collector.
const ServiceName = "tb-dash"

// Config selects the span exporter.
//
// Exporter is otlp, stdout or none; empty means otlp when Endpoint is set
// and none otherwise. Endpoint is the OTLP/HTTP collector, either host:port
// (HTTPS) or a full http:// or https:// URL. Writer receives stdout spans
// and defaults to stderr so table output stays clean.
type Config struct {
	Exporter   string
	Endpoint   string
	SampleRate float64
	Version    string
	Writer     io.Writer
}

// Shutdown flushes and stops the provider.
type Shutdown func(context.Context) error

// ErrUnknownExporter is returned for an Exporter value Setup cannot build.
var ErrUnknownExporter = errors.New("unknown trace exporter")

// Setup builds a tracer provider from cfg and installs it globally together
// with the W3C trace context propagator. With tracing disabled it installs
// nothing and returns a no-op Shutdown.
func Setup(ctx context.Context, cfg Config) (Shutdown, error) {
	exporter := cfg.Exporter
	if exporter == "" {
		exporter = "none"
		if cfg.Endpoint != "" {
			exporter = "otlp"
		}
	}
	if exporter == "none" {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporter(ctx, exporter, cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", exporter, err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", ServiceName),
		attribute.String("service.version", cfg.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	slog.Default().With("component", "tracing").Debug("tracing enabled",
		"exporter", exporter, "endpoint", cfg.Endpoint, "sample_rate", cfg.SampleRate)
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, name string, cfg Config) (sdktrace.SpanExporter, error) {
	switch name {
	case "otlp":
		if cfg.Endpoint == "" {
			return nil, errors.New("otlp needs an endpoint")
		}
		opt := otlptracehttp.WithEndpoint(cfg.Endpoint)
		if strings.HasPrefix(cfg.Endpoint, "http://") || strings.HasPrefix(cfg.Endpoint, "https://") {
			opt = otlptracehttp.WithEndpointURL(cfg.Endpoint)
		}
		return otlptracehttp.New(ctx, opt)
	case "stdout":
		w := cfg.Writer
		if w == nil {
			w = os.Stderr
		}
		return stdouttrace.New(stdouttrace.WithWriter(w))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, name)
	}
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}
