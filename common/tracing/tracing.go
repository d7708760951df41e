// Package tracing wires OpenTelemetry spans around scheduler runs and node
// executions, defaulting to a stdout exporter the way the service's
// telemetry config defaults TracingBackend to "stdout".
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Setup installs a TracerProvider for the engine and returns a shutdown
// function the caller must invoke before process exit.
func Setup(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := trace.NewTracerProvider(trace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer returns the engine's named tracer.
func Tracer() oteltrace.Tracer {
	return otel.Tracer("github.com/lyzr/workflow-engine")
}

// StartExecutionSpan starts the root span for one execution.
func StartExecutionSpan(ctx context.Context, executionID, workflowID string) (context.Context, oteltrace.Span) {
	return Tracer().Start(ctx, "execution",
		oteltrace.WithAttributes(
			attribute.String("execution_id", executionID),
			attribute.String("workflow_id", workflowID),
		))
}

// StartNodeSpan starts a child span for one node execution, parented by
// whatever span is already in ctx (normally the execution span).
func StartNodeSpan(ctx context.Context, nodeID, nodeType string) (context.Context, oteltrace.Span) {
	return Tracer().Start(ctx, "node.execute",
		oteltrace.WithAttributes(
			attribute.String("node_id", nodeID),
			attribute.String("node_type", nodeType),
		))
}
