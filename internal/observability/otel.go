// Package observability wires tracing export and the domain metrics that the
// services report (quota decisions, billing events, answer sources, CRM sync,
// answer ratings).
package observability

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"google.golang.org/grpc/credentials"

	"github.com/tbourn/chatdys-backend/internal/config"
)

// Shutdown flushes buffered spans and stops the exporter.
type Shutdown func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Swapped in tests.
var (
	newExporter = func(ctx context.Context, opts ...otlptracegrpc.Option) (sdktrace.SpanExporter, error) {
		return otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	}
	newResource = func(ctx context.Context, cfg config.OTELConfig, version string) (*resource.Resource, error) {
		return resource.New(ctx,
			resource.WithTelemetrySDK(),
			resource.WithHost(),
			resource.WithAttributes(
				semconv.ServiceName(cfg.ServiceName),
				semconv.ServiceVersion(version),
				semconv.DeploymentEnvironment(cfg.Environment),
			),
		)
	}
)

// SetupOTel installs the global tracer provider and W3C propagators. Spans
// from gin, GORM and the services go out over OTLP/gRPC. Globals are left
// untouched when tracing is disabled or setup fails.
func SetupOTel(ctx context.Context, cfg config.OTELConfig, version string) (Shutdown, error) {
	if !cfg.Enabled {
		return noopShutdown, nil
	}

	exp, err := newExporter(ctx, exporterOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}
	res, err := newResource(ctx, cfg, version)
	if err != nil {
		_ = exp.Shutdown(ctx)
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(samplerFor(cfg.SampleRatio)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func exporterOptions(cfg config.OTELConfig) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	if h := parseHeaders(cfg.Headers); len(h) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(h))
	}
	return opts
}

// samplerFor honours the parent's decision and samples root spans at ratio.
func samplerFor(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

// parseHeaders reads the OTLP "k1=v1,k2=v2" header list. Malformed pairs
// are skipped.
func parseHeaders(s string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		k, v, found := strings.Cut(pair, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !found || k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
