package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/surehelp/flume/queue"
)

// tracerName is the instrumentation scope name for flume tracing.
const tracerName = "github.com/surehelp/flume"

// Tracing returns middleware that wraps message execution in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a pass-through
// with zero overhead.
//
// Span attributes include: flume.message.id, flume.event, flume.job, and
// flume.attempt. On error, the span status is set to codes.Error with
// the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, msg *queue.Message, next Handler) error {
		ctx, span := tracer.Start(ctx, "flume.message.execute",
			trace.WithAttributes(
				attribute.String("flume.message.id", msg.ID.String()),
				attribute.String("flume.event", msg.EventName),
				attribute.String("flume.job", msg.JobName),
				attribute.Int("flume.attempt", msg.Attempts+1),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
