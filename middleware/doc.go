// Package middleware provides composable middleware for message
// execution.
//
// A [Middleware] is a function that wraps a message handler. Middleware
// are composed into a chain using [Chain] and applied around each
// execution. They are applied right-to-left: the first middleware in the
// slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] — logs event, job, attempt, duration, and outcome
//   - [Recover] — catches panics and converts them to errors
//   - [Timeout] — cancels the handler context after the job's deadline
//   - [Tracing] — wraps execution in an OpenTelemetry span
//   - [Metrics] — records per-job duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, msg *queue.Message, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., circuit breaker, rate limiting).
package middleware
