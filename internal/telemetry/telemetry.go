// Package telemetry wraps go.opentelemetry.io/otel directly with a
// single span-per-step/phase helper, no-op by default.
package telemetry

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "ctk-orchestrator"

// Init configures the global tracer provider. With CTK_OTEL_STDOUT
// unset, otel's default no-op provider is left in place — spans are
// created but cost nothing. With it set, spans are printed as they
// end, useful for local runs without a collector.
func Init() (shutdown func(context.Context) error, err error) {
	if os.Getenv("CTK_OTEL_STDOUT") == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// StartStep starts a span for one role's step execution.
func StartStep(ctx context.Context, runID, phase, role string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	attrs := []attribute.KeyValue{
		attribute.String("ctk.run_id", runID),
		attribute.String("ctk.role", role),
	}
	if phase != "" {
		attrs = append(attrs, attribute.String("ctk.phase", phase))
	}
	return tracer.Start(ctx, "step."+role, trace.WithAttributes(attrs...))
}

// StartPhase starts a span for one phase of a hybrid run.
func StartPhase(ctx context.Context, runID, phase string, parallel bool) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, "phase."+phase, trace.WithAttributes(
		attribute.String("ctk.run_id", runID),
		attribute.String("ctk.phase", phase),
		attribute.Bool("ctk.parallel", parallel),
	))
}

// RecordOutcome annotates span with a step or phase's result.
func RecordOutcome(span trace.Span, accepted bool, exitCode int) {
	span.SetAttributes(
		attribute.Bool("ctk.accepted", accepted),
		attribute.Int("ctk.exit_code", exitCode),
	)
}
