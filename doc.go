// Package flume provides a typed event → job dispatch engine for Go.
// Application code publishes named, schema-validated domain events; each
// event fans out to one or more registered jobs as durable queue messages
// that are executed with retry, batching, debounce, and cron semantics.
//
// Flume is designed as a library, not a service. Import it, configure a
// store, declare an event catalogue and job registry, and trigger events
// from ordinary application code.
//
// # Quick Start
//
//	cat := event.NewCatalogue()
//	event.RegisterDefinition(cat, event.NewDefinition[MessageCreated](
//	    "conversation.message.created",
//	    "indexConversationMessage", "notifyVipMessage",
//	))
//
//	reg := job.NewRegistry()
//	job.RegisterDefinition(reg, job.NewDefinition("indexConversationMessage",
//	    func(ctx context.Context, p MessageCreated) error { ... },
//	))
//
//	eng, err := engine.New(memory.New(), cat, reg)
//	...
//	eng.Start(ctx)
//	eng.Trigger(ctx, "conversation.message.created", MessageCreated{MessageID: 42})
//
// Delivery is at-least-once: a message whose reservation expires (worker
// crash, handler overrunning the visibility timeout) becomes redeliverable,
// so handlers must be idempotent or use conditional writes. No ordering is
// guaranteed across messages; each is an independent unit of work.
//
// Handlers classify their failures: wrap with NonRetriable to dead-letter
// immediately, or RetryAfter to request a specific delay (rate limits).
// Any other error is retried with exponential backoff until the attempt
// budget is exhausted, then dead-lettered.
package flume
