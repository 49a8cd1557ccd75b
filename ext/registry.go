package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/surehelp/flume/id"
	"github.com/surehelp/flume/queue"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type triggeredEntry struct {
	name string
	hook Triggered
}

type messageEnqueuedEntry struct {
	name string
	hook MessageEnqueued
}

type messageStartedEntry struct {
	name string
	hook MessageStarted
}

type messageCompletedEntry struct {
	name string
	hook MessageCompleted
}

type messageRetryingEntry struct {
	name string
	hook MessageRetrying
}

type messageDeadEntry struct {
	name string
	hook MessageDead
}

type cronFiredEntry struct {
	name string
	hook CronFired
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	triggered        []triggeredEntry
	messageEnqueued  []messageEnqueuedEntry
	messageStarted   []messageStartedEntry
	messageCompleted []messageCompletedEntry
	messageRetrying  []messageRetryingEntry
	messageDead      []messageDeadEntry
	cronFired        []cronFiredEntry
	shutdown         []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(Triggered); ok {
		r.triggered = append(r.triggered, triggeredEntry{name, h})
	}
	if h, ok := e.(MessageEnqueued); ok {
		r.messageEnqueued = append(r.messageEnqueued, messageEnqueuedEntry{name, h})
	}
	if h, ok := e.(MessageStarted); ok {
		r.messageStarted = append(r.messageStarted, messageStartedEntry{name, h})
	}
	if h, ok := e.(MessageCompleted); ok {
		r.messageCompleted = append(r.messageCompleted, messageCompletedEntry{name, h})
	}
	if h, ok := e.(MessageRetrying); ok {
		r.messageRetrying = append(r.messageRetrying, messageRetryingEntry{name, h})
	}
	if h, ok := e.(MessageDead); ok {
		r.messageDead = append(r.messageDead, messageDeadEntry{name, h})
	}
	if h, ok := e.(CronFired); ok {
		r.cronFired = append(r.cronFired, cronFiredEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Event emitters
// ──────────────────────────────────────────────────

// EmitTriggered notifies all extensions that implement Triggered.
func (r *Registry) EmitTriggered(ctx context.Context, triggerID id.TriggerID, eventName string, jobs []string) {
	for _, e := range r.triggered {
		if err := e.hook.OnTriggered(ctx, triggerID, eventName, jobs); err != nil {
			r.logHookError("OnTriggered", e.name, err)
		}
	}
}

// EmitMessageEnqueued notifies all extensions that implement MessageEnqueued.
func (r *Registry) EmitMessageEnqueued(ctx context.Context, msg *queue.Message) {
	for _, e := range r.messageEnqueued {
		if err := e.hook.OnMessageEnqueued(ctx, msg); err != nil {
			r.logHookError("OnMessageEnqueued", e.name, err)
		}
	}
}

// EmitMessageStarted notifies all extensions that implement MessageStarted.
func (r *Registry) EmitMessageStarted(ctx context.Context, msg *queue.Message) {
	for _, e := range r.messageStarted {
		if err := e.hook.OnMessageStarted(ctx, msg); err != nil {
			r.logHookError("OnMessageStarted", e.name, err)
		}
	}
}

// EmitMessageCompleted notifies all extensions that implement MessageCompleted.
func (r *Registry) EmitMessageCompleted(ctx context.Context, msg *queue.Message, elapsed time.Duration) {
	for _, e := range r.messageCompleted {
		if err := e.hook.OnMessageCompleted(ctx, msg, elapsed); err != nil {
			r.logHookError("OnMessageCompleted", e.name, err)
		}
	}
}

// EmitMessageRetrying notifies all extensions that implement MessageRetrying.
func (r *Registry) EmitMessageRetrying(ctx context.Context, msg *queue.Message, attempt int, nextVisibleAt time.Time) {
	for _, e := range r.messageRetrying {
		if err := e.hook.OnMessageRetrying(ctx, msg, attempt, nextVisibleAt); err != nil {
			r.logHookError("OnMessageRetrying", e.name, err)
		}
	}
}

// EmitMessageDead notifies all extensions that implement MessageDead.
func (r *Registry) EmitMessageDead(ctx context.Context, msg *queue.Message, msgErr error) {
	for _, e := range r.messageDead {
		if err := e.hook.OnMessageDead(ctx, msg, msgErr); err != nil {
			r.logHookError("OnMessageDead", e.name, err)
		}
	}
}

// EmitCronFired notifies all extensions that implement CronFired.
func (r *Registry) EmitCronFired(ctx context.Context, entryName string, triggerID id.TriggerID) {
	for _, e := range r.cronFired {
		if err := e.hook.OnCronFired(ctx, entryName, triggerID); err != nil {
			r.logHookError("OnCronFired", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
