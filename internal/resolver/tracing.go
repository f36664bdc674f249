package resolver

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "modelql/resolver"

// startResolverSpan opens a span for one resolver invocation. Callers must
// pass the returned context down so nested plans append to the same trace.
func startResolverSpan(ctx context.Context, operation, typeName string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "resolver."+operation,
		trace.WithAttributes(
			attribute.String("graphql.operation", operation),
			attribute.String("graphql.type", typeName),
		))
	return ctx, span
}

func finishResolverSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
