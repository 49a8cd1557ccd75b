// Package queue defines the durable queue: the message row model, the
// transactional store contract, and the per-job limiter.
//
// A [Message] is one unit of scheduled work — one row per (event
// occurrence, job) produced by the trigger fan-out. The [Store] is the
// single source of truth for pending work and the only shared mutable
// resource in the engine: mutual exclusion on dequeue, retry bookkeeping,
// and crash recovery are all expressed as atomic operations against it.
//
// # Lifecycle
//
//	pending → reserved → done            (ack)
//	pending → reserved → pending         (nack: attempts+1, backoff)
//	pending → reserved → dead            (non-retriable or budget exhausted)
//
// A reserved message whose visibility timeout lapses without ack/nack
// becomes eligible for redelivery on the next dequeue. That is the
// engine's crash-recovery mechanism; no cleanup process is involved.
//
// # Limiter
//
// [Limiter] enforces per-job concurrency caps and token-bucket rate
// limits (golang.org/x/time/rate) at dispatch time:
//
//	if lim.Acquire(jobName) {
//	    defer lim.Release(jobName)
//	    // execute
//	}
//
// Jobs without caps configured are never limited.
package queue
