// Package window implements the in-memory accumulation windows used by
// batched and debounced jobs: the [Batcher] collects reserved messages
// until a size or age threshold, and the [Debouncer] coalesces bursts of
// messages per key down to the most recent one.
//
// Both types hold reserved messages between dequeue and execution, so
// the queue's visibility timeout must comfortably exceed the longest
// configured window. A window that outlives the reservation would let
// another consumer reclaim and re-execute its messages.
//
// Windows are local to one engine instance. Two instances batching the
// same job each fill their own windows from whatever messages they
// reserve; correctness is unaffected because every message still
// executes exactly once per reservation.
package window
