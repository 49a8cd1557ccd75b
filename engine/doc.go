// Package engine wires all flume subsystems together and provides the
// primary application-level API for triggering events and running jobs.
//
// The engine package exists to break a fundamental import cycle: the
// root flume package defines Entity and the sentinel errors (imported
// by queue, job, cron, etc.) and therefore cannot import those packages
// back. Engine sits above all subsystem packages and below the
// application layer.
//
// # Building an Engine
//
//	catalogue := event.NewCatalogue()
//	registry := job.NewRegistry()
//
//	event.RegisterDefinition(catalogue,
//	    event.NewDefinition[OrderPaid]("order.paid", "sendReceipt", "updateInventory"))
//	job.RegisterDefinition(registry,
//	    job.NewDefinition("sendReceipt", sendReceipt))
//	job.RegisterDefinition(registry,
//	    job.NewDefinition("updateInventory", updateInventory))
//
//	eng, err := engine.New(pgStore, catalogue, registry,
//	    engine.WithConfig(flume.DefaultConfig()),
//	    engine.WithBackoff(backoff.DefaultStrategy()),
//	)
//
// New fails if any event references a job name missing from the
// registry, so wiring mistakes surface at startup.
//
// # Triggering Events
//
//	triggerID, err := eng.Trigger(ctx, "order.paid", OrderPaid{OrderID: "o_1"})
//
// Trigger validates the payload against the event schema, encodes it
// once, and atomically enqueues one message per bound job. WithDelay
// pushes the whole fan-out into the future.
//
// # Consuming
//
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(context.Background())
//
// Start launches the worker pool and the leader-elected cron scheduler.
// Stop drains in-flight work, flushes open batch and debounce windows,
// and fires Shutdown hooks.
package engine
