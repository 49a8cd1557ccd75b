// Package audithook is a flume extension that bridges lifecycle events
// to an immutable audit trail backend.
//
// Every trigger, message, and cron lifecycle hook emits a structured audit
// event through the [Recorder] interface. The extension assigns appropriate
// severity levels (info for normal operations, warning for retries, critical
// for dead messages) and rich metadata (event name, job name, elapsed time,
// errors).
//
// # Usage
//
//	audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return auditLog.Write(ctx, evt.Action, evt.Resource, evt.ResourceID, evt.Metadata)
//	}))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionMessageRetrying,
//	        audithook.ActionMessageDead,
//	    ),
//	)
package audithook
