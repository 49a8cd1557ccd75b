package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/surehelp/flume/ext"
	"github.com/surehelp/flume/id"
	"github.com/surehelp/flume/queue"
)

// meterName is the instrumentation scope name for the metrics extension.
const meterName = "github.com/surehelp/flume/observability"

// Compile-time interface checks.
var (
	_ ext.Extension        = (*MetricsExtension)(nil)
	_ ext.Triggered        = (*MetricsExtension)(nil)
	_ ext.MessageEnqueued  = (*MetricsExtension)(nil)
	_ ext.MessageCompleted = (*MetricsExtension)(nil)
	_ ext.MessageRetrying  = (*MetricsExtension)(nil)
	_ ext.MessageDead      = (*MetricsExtension)(nil)
	_ ext.CronFired        = (*MetricsExtension)(nil)
)

// MetricsExtension records lifecycle counters via OTel. Register it as
// an engine extension to track trigger rates, enqueue volume,
// completion counts, retries, dead letters, and cron fires. The engine
// registers one automatically.
type MetricsExtension struct {
	triggered metric.Int64Counter
	enqueued  metric.Int64Counter
	completed metric.Int64Counter
	retried   metric.Int64Counter
	dead      metric.Int64Counter
	cronFired metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global OTel
// MeterProvider. With no provider configured the instruments are noops.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter, for injecting a specific MeterProvider in tests.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	m.triggered, _ = meter.Int64Counter("flume.trigger.count", //nolint:errcheck // API returns noop instruments on error
		metric.WithDescription("Total events triggered"),
		metric.WithUnit("{trigger}"))
	m.enqueued, _ = meter.Int64Counter("flume.message.enqueued", //nolint:errcheck // API returns noop instruments on error
		metric.WithDescription("Total messages accepted into the queue"),
		metric.WithUnit("{message}"))
	m.completed, _ = meter.Int64Counter("flume.message.completed", //nolint:errcheck // API returns noop instruments on error
		metric.WithDescription("Total messages completed successfully"),
		metric.WithUnit("{message}"))
	m.retried, _ = meter.Int64Counter("flume.message.retried", //nolint:errcheck // API returns noop instruments on error
		metric.WithDescription("Total retry attempts scheduled"),
		metric.WithUnit("{message}"))
	m.dead, _ = meter.Int64Counter("flume.message.dead", //nolint:errcheck // API returns noop instruments on error
		metric.WithDescription("Total messages dead-lettered"),
		metric.WithUnit("{message}"))
	m.cronFired, _ = meter.Int64Counter("flume.cron.fired", //nolint:errcheck // API returns noop instruments on error
		metric.WithDescription("Total cron entries fired"),
		metric.WithUnit("{fire}"))
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnTriggered implements ext.Triggered.
func (m *MetricsExtension) OnTriggered(ctx context.Context, _ id.TriggerID, eventName string, _ []string) error {
	m.triggered.Add(ctx, 1, metric.WithAttributes(attribute.String("event", eventName)))
	return nil
}

// OnMessageEnqueued implements ext.MessageEnqueued.
func (m *MetricsExtension) OnMessageEnqueued(ctx context.Context, msg *queue.Message) error {
	m.enqueued.Add(ctx, 1, msgAttrs(msg))
	return nil
}

// OnMessageCompleted implements ext.MessageCompleted.
func (m *MetricsExtension) OnMessageCompleted(ctx context.Context, msg *queue.Message, _ time.Duration) error {
	m.completed.Add(ctx, 1, msgAttrs(msg))
	return nil
}

// OnMessageRetrying implements ext.MessageRetrying.
func (m *MetricsExtension) OnMessageRetrying(ctx context.Context, msg *queue.Message, _ int, _ time.Time) error {
	m.retried.Add(ctx, 1, msgAttrs(msg))
	return nil
}

// OnMessageDead implements ext.MessageDead.
func (m *MetricsExtension) OnMessageDead(ctx context.Context, msg *queue.Message, _ error) error {
	m.dead.Add(ctx, 1, msgAttrs(msg))
	return nil
}

// OnCronFired implements ext.CronFired.
func (m *MetricsExtension) OnCronFired(ctx context.Context, entryName string, _ id.TriggerID) error {
	m.cronFired.Add(ctx, 1, metric.WithAttributes(attribute.String("cron", entryName)))
	return nil
}

func msgAttrs(msg *queue.Message) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("event", msg.EventName),
		attribute.String("job", msg.JobName),
	)
}
