package ext

import (
	"context"
	"time"

	"github.com/surehelp/flume/id"
	"github.com/surehelp/flume/queue"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Trigger and message lifecycle hooks
// ──────────────────────────────────────────────────

// Triggered is called after an event's fan-out is enqueued.
type Triggered interface {
	OnTriggered(ctx context.Context, triggerID id.TriggerID, eventName string, jobs []string) error
}

// MessageEnqueued is called for each message accepted into the queue.
type MessageEnqueued interface {
	OnMessageEnqueued(ctx context.Context, msg *queue.Message) error
}

// MessageStarted is called when a worker begins executing a message.
type MessageStarted interface {
	OnMessageStarted(ctx context.Context, msg *queue.Message) error
}

// MessageCompleted is called after a message finishes successfully.
type MessageCompleted interface {
	OnMessageCompleted(ctx context.Context, msg *queue.Message, elapsed time.Duration) error
}

// MessageRetrying is called when a message fails but is scheduled for
// another attempt.
type MessageRetrying interface {
	OnMessageRetrying(ctx context.Context, msg *queue.Message, attempt int, nextVisibleAt time.Time) error
}

// MessageDead is called when a message fails terminally and is moved to
// the dead letter queue.
type MessageDead interface {
	OnMessageDead(ctx context.Context, msg *queue.Message, err error) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// CronFired is called when a cron entry fires and triggers its event.
type CronFired interface {
	OnCronFired(ctx context.Context, entryName string, triggerID id.TriggerID) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
