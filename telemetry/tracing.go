package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracing is opt-in: spans are exported only when an OTLP endpoint is
// configured, otherwise the otel no-op tracer serves every StartSpan
// caller.
const (
	otlpEndpointEnv    = "OTEL_EXPORTER_OTLP_ENDPOINT"
	tracerSetupTimeout = 5 * time.Second
)

// InitTracing wires the OTLP/gRPC exporter when the endpoint env var is
// set and returns the shutdown func; without it, both are no-ops.
func InitTracing(service, version string) (func(), error) {
	endpoint := os.Getenv(otlpEndpointEnv)
	if endpoint == "" {
		slog.Info("tracing disabled", slog.String("reason", otlpEndpointEnv+" not set"))
		return func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), tracerSetupTimeout)
	defer cancel()

	provider, err := newTraceProvider(ctx, endpoint, service, version)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(provider)
	slog.Info("tracing initialized", slog.String("service", service), slog.String("endpoint", endpoint))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), tracerSetupTimeout)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			slog.Error("tracer shutdown failed", slog.Any("err", err))
		}
	}, nil
}

func newTraceProvider(ctx context.Context, endpoint, service, version string) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(endpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(service),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	), nil
}

// StartSpan opens a span carrying the context's correlation id under the
// same "corr" key the loggers use.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(corrAttrs(ctx, attrs)...))
}

func corrAttrs(ctx context.Context, attrs []attribute.KeyValue) []attribute.KeyValue {
	if id := GetCorrelation(ctx); id != "" {
		return append(attrs, attribute.String("corr", id))
	}
	return attrs
}

// RecordError marks the span failed.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanSuccess marks the span ok.
func SetSpanSuccess(span trace.Span) { span.SetStatus(codes.Ok, "") }
