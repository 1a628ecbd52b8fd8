// Package otelhelper provides distributed tracing helpers for the WFM services.
package otelhelper

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// Common attribute keys.
	WorkflowIDKey   = "wfm.workflow.id"
	StepIDKey       = "wfm.step.id"
	TargetStepIDKey = "wfm.target_step.id"
	TransitionIDKey = "wfm.transition.id"
	ProjectIDKey    = "wfm.project.id"
	EntityIDKey     = "wfm.entity.id"
	EntityKindKey   = "wfm.entity.kind"
	ActorIDKey      = "wfm.actor.id"
	EventIDKey      = "wfm.event.id"
	EventTypeKey    = "wfm.event.type"
	ErrorCodeKey    = "wfm.error.code"
)

// Config selects what the exported traces are attributed to and how many are kept.
// The OTLP endpoint itself comes from the standard OTEL_EXPORTER_OTLP_* environment variables.
type Config struct {
	ServiceName string
	// SampleRatio is the fraction of new traces recorded. Zero means all of them.
	// Traces continued from an upstream service follow the upstream decision.
	SampleRatio float64
}

// ShutdownFunc flushes buffered spans and stops the exporter.
type ShutdownFunc func(ctx context.Context) error

// NewTracer installs a global OTLP/HTTP tracer provider and the W3C trace context and baggage propagators.
//
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NewTracer(ctx context.Context, config Config) (trace.Tracer, ShutdownFunc, error) {
	provider, err := newTracerProvider(ctx, config)
	if err != nil {
		return nil, nil, err
	}

	return provider.Tracer(config.ServiceName), provider.Shutdown, nil
}

// NoopTracer returns a tracer that records nothing, used when tracing is disabled.
//
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NoopTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer("wfm")
}

// nolint:ireturn,spancheck // Returning interface is intentional for OpenTelemetry tracing
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}

	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func newTracerProvider(ctx context.Context, config Config) (*sdktrace.TracerProvider, error) {
	if config.ServiceName == "" {
		return nil, fmt.Errorf("tracing needs a service name")
	}

	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sampler(config.SampleRatio)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}
