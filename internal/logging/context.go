package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type runIDCtxKey struct{}
type workItemCtxKey struct{}

// WithRunID stores the run ID in context for log correlation.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDCtxKey{}, runID)
}

// RunIDFromContext extracts the run ID, or "" when absent.
func RunIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(runIDCtxKey{}).(string); ok {
		return v
	}
	return ""
}

// WithWorkItem stores the work-item key in context.
func WithWorkItem(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, workItemCtxKey{}, key)
}

// WorkItemFromContext extracts the work-item key, or "" when absent.
func WorkItemFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(workItemCtxKey{}).(string); ok {
		return v
	}
	return ""
}

// ContextFields extracts correlation fields from context: the active
// trace span, run ID and work-item key, whichever are present.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 4)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if runID := RunIDFromContext(ctx); runID != "" {
		fields = append(fields, zap.String("run_id", runID))
	}
	if key := WorkItemFromContext(ctx); key != "" {
		fields = append(fields, zap.String("work_item", key))
	}
	return fields
}
