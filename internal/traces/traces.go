// Package traces wires OpenTelemetry tracing for the decision engine.
package traces

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/mbd888/sentinel"

// Config selects the exporter and sampling.
type Config struct {
	// Endpoint is the OTLP/gRPC collector address. Empty disables tracing.
	Endpoint string
	// Insecure dials the collector without TLS.
	Insecure bool
	// SampleRatio is the fraction of root spans kept, in [0,1].
	SampleRatio float64

	ServiceVersion string
	Environment    string
}

// Init installs a batching OTLP tracer provider and returns its shutdown
// function. With no endpoint the global no-op provider stays in place.
func Init(ctx context.Context, cfg Config, logger *slog.Logger) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		logger.Info("tracing disabled (no OTEL_EXPORTER_OTLP_ENDPOINT set)")
		return func(context.Context) error { return nil }, nil
	}
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return nil, fmt.Errorf("trace sample ratio must be in [0,1], got %v", cfg.SampleRatio)
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("sentinel"),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled", "endpoint", cfg.Endpoint, "sample_ratio", cfg.SampleRatio)
	return tp.Shutdown, nil
}

// StartSpan starts a span on the package tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

func Account(id string) attribute.KeyValue      { return attribute.String("account.id", id) }
func Counterparty(id string) attribute.KeyValue { return attribute.String("counterparty.id", id) }
func Amount(amount string) attribute.KeyValue   { return attribute.String("amount", amount) }
func Decision(d string) attribute.KeyValue      { return attribute.String("risk.decision", d) }
func Score(s float64) attribute.KeyValue        { return attribute.Float64("risk.score", s) }
func Strategy(s string) attribute.KeyValue      { return attribute.String("witness.strategy", s) }
func BlockHeight(h int64) attribute.KeyValue    { return attribute.Int64("witness.block_height", h) }

func TriggeredLayers(names []string) attribute.KeyValue {
	return attribute.StringSlice("detection.triggered_layers", names)
}
