package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/surehelp/flume/queue"
)

// meterName is the instrumentation scope name for flume metrics.
const meterName = "github.com/surehelp/flume"

// Metrics returns middleware that records per-message execution metrics
// using the global OTel MeterProvider. If no MeterProvider is configured,
// noop instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - flume.message.duration (Float64Histogram): execution time in
//     seconds, with attributes: event, job, status ("ok" or "error")
//   - flume.message.executions (Int64Counter): total executions,
//     with attributes: event, job, status ("ok" or "error")
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Create instruments once at middleware construction time. OTel
	// instruments are safe for concurrent use, and on error the API
	// returns noop instruments.
	duration, dErr := meter.Float64Histogram(
		"flume.message.duration",
		metric.WithDescription("Duration of message execution in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr

	executions, eErr := meter.Int64Counter(
		"flume.message.executions",
		metric.WithDescription("Total number of message executions"),
		metric.WithUnit("{execution}"),
	)
	_ = eErr

	return func(ctx context.Context, msg *queue.Message, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("event", msg.EventName),
			attribute.String("job", msg.JobName),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}
}
