// Package job defines typed job definitions, per-job execution policy,
// and the registry resolving job names to type-erased runners.
//
// # Defining a Job
//
// Use [Definition] with a typed handler. The payload is encoded at trigger
// time and decoded before the handler runs:
//
//	var NotifyVIP = job.NewDefinition("notifyVipMessage",
//	    func(ctx context.Context, p MessageCreated) error {
//	        return slack.PostVIPAlert(ctx, p.MessageID)
//	    },
//	    job.WithMaxConcurrent(2),
//	)
//
// Handlers classify failures with flume.NonRetriable and flume.RetryAfter;
// any other error is retried with backoff.
//
// # Batched and Debounced Jobs
//
// [NewBatchDefinition] declares a handler invoked once with every payload
// accumulated in the batch window; it may report per-item failures with
// flume.BatchError. [NewDebouncedDefinition] coalesces rapid repeats for
// the same derived key into one execution of the latest payload.
//
// # Registry
//
// [Registry] maps job names to [Task] values: the type-erased runner plus
// the job's options, inspectable by the worker. Register definitions at
// startup; an event bound to an unregistered job name is a startup error,
// not a runtime lookup failure.
package job
