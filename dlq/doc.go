// Package dlq provides the dead letter queue for messages that failed
// terminally: non-retriable handler errors and exhausted attempt budgets.
// It supports inspection, replay, and purging.
//
// When the executor gives up on a message it calls [Service.Push] to
// record it. The original payload, codec, final error, and attempt
// counts are preserved for debugging.
//
// # Entry
//
// An [Entry] captures:
//   - MessageID / EventName / JobName: original message identity
//   - Payload / Codec: the raw payload at time of failure
//   - Error: the final error message
//   - Attempts / MaxAttempts: the exhausted budget
//   - FailedAt: when the terminal failure occurred
//   - ReplayedAt: set when the entry is replayed (nil if not yet replayed)
//
// # Replay
//
// Replaying an entry enqueues a fresh message with the same event, job,
// and payload, a new ID, and a zeroed attempt count:
//
//	svc := dlq.NewService(dlqStore, queueStore)
//	msg, err := svc.Replay(ctx, entryID)
//
// Replay sets ReplayedAt on the entry but never deletes it; use
// [Store.PurgeDLQ] for retention.
package dlq
