package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/surehelp/flume/ext"
	"github.com/surehelp/flume/id"
	"github.com/surehelp/flume/queue"
)

// Compile-time interface checks.
var (
	_ ext.Extension        = (*Extension)(nil)
	_ ext.Triggered        = (*Extension)(nil)
	_ ext.MessageEnqueued  = (*Extension)(nil)
	_ ext.MessageStarted   = (*Extension)(nil)
	_ ext.MessageCompleted = (*Extension)(nil)
	_ ext.MessageRetrying  = (*Extension)(nil)
	_ ext.MessageDead      = (*Extension)(nil)
	_ ext.CronFired        = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// It is defined locally so this package carries no dependency on any
// particular audit store — callers inject the concrete backend at
// wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
// Callers provide a RecorderFunc adapter that bridges to their audit backend.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
//
// Example bridging to a structured audit log:
//
//	audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return auditLog.Write(ctx, evt.Action, evt.Resource, evt.ResourceID, evt.Metadata)
//	})
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges flume lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Trigger lifecycle hooks ─────────────────────────

// OnTriggered implements ext.Triggered.
func (e *Extension) OnTriggered(ctx context.Context, triggerID id.TriggerID, eventName string, jobs []string) error {
	return e.record(ctx, ActionTriggerFired, SeverityInfo, OutcomeSuccess,
		ResourceTrigger, triggerID.String(), CategoryTrigger, nil,
		"event_name", eventName,
		"job_count", len(jobs),
	)
}

// ── Message lifecycle hooks ─────────────────────────

// OnMessageEnqueued implements ext.MessageEnqueued.
func (e *Extension) OnMessageEnqueued(ctx context.Context, msg *queue.Message) error {
	return e.record(ctx, ActionMessageEnqueued, SeverityInfo, OutcomeSuccess,
		ResourceMessage, msg.ID.String(), CategoryMessage, nil,
		"event_name", msg.EventName,
		"job_name", msg.JobName,
		"trigger_id", msg.TriggerID.String(),
	)
}

// OnMessageStarted implements ext.MessageStarted.
func (e *Extension) OnMessageStarted(ctx context.Context, msg *queue.Message) error {
	return e.record(ctx, ActionMessageStarted, SeverityInfo, OutcomeSuccess,
		ResourceMessage, msg.ID.String(), CategoryMessage, nil,
		"event_name", msg.EventName,
		"job_name", msg.JobName,
		"worker_id", msg.ReservedBy.String(),
	)
}

// OnMessageCompleted implements ext.MessageCompleted.
func (e *Extension) OnMessageCompleted(ctx context.Context, msg *queue.Message, elapsed time.Duration) error {
	return e.record(ctx, ActionMessageCompleted, SeverityInfo, OutcomeSuccess,
		ResourceMessage, msg.ID.String(), CategoryMessage, nil,
		"event_name", msg.EventName,
		"job_name", msg.JobName,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnMessageRetrying implements ext.MessageRetrying.
func (e *Extension) OnMessageRetrying(ctx context.Context, msg *queue.Message, attempt int, nextVisibleAt time.Time) error {
	return e.record(ctx, ActionMessageRetrying, SeverityWarning, OutcomeFailure,
		ResourceMessage, msg.ID.String(), CategoryMessage, nil,
		"event_name", msg.EventName,
		"job_name", msg.JobName,
		"attempt", attempt,
		"max_attempts", msg.MaxAttempts,
		"next_visible_at", nextVisibleAt.Format(time.RFC3339),
	)
}

// OnMessageDead implements ext.MessageDead.
func (e *Extension) OnMessageDead(ctx context.Context, msg *queue.Message, msgErr error) error {
	return e.record(ctx, ActionMessageDead, SeverityCritical, OutcomeFailure,
		ResourceMessage, msg.ID.String(), CategoryMessage, msgErr,
		"event_name", msg.EventName,
		"job_name", msg.JobName,
		"attempts", msg.Attempts,
		"max_attempts", msg.MaxAttempts,
	)
}

// ── Cron lifecycle hooks ────────────────────────────

// OnCronFired implements ext.CronFired.
func (e *Extension) OnCronFired(ctx context.Context, entryName string, triggerID id.TriggerID) error {
	return e.record(ctx, ActionCronFired, SeverityInfo, OutcomeSuccess,
		ResourceCron, entryName, CategoryCron, nil,
		"trigger_id", triggerID.String(),
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
