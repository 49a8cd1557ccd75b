// Package ext defines the extension system for flume.
//
// Extensions are notified of lifecycle events and can react to them —
// recording metrics, emitting webhooks, writing audit logs, etc.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnMessageCompleted(ctx context.Context, msg *queue.Message, elapsed time.Duration) error {
//	    log.Printf("message %s completed in %s", msg.ID, elapsed)
//	    return nil
//	}
//
// # Lifecycle Hooks
//
//   - [Triggered] — an event fired and its fan-out was enqueued
//   - [MessageEnqueued] — one message was accepted into the queue
//   - [MessageStarted] — a worker began executing a message
//   - [MessageCompleted] — a message finished successfully
//   - [MessageRetrying] — a message failed but will be retried
//   - [MessageDead] — a message failed terminally and entered the DLQ
//   - [CronFired] — a cron entry fired and triggered its event
//   - [Shutdown] — the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
