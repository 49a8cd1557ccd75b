package queue

import (
	"context"
	"time"

	"github.com/surehelp/flume/id"
)

// ListOpts filters and paginates ListMessages.
type ListOpts struct {
	// Status filters by lifecycle state. Empty matches all states.
	Status Status

	// JobName filters by job. Empty matches all jobs.
	JobName string

	// EventName filters by event. Empty matches all events.
	EventName string

	// Limit caps the number of returned rows. Zero means the store default.
	Limit int

	// Offset skips rows for pagination.
	Offset int
}

// CountOpts filters CountMessages.
type CountOpts struct {
	Status    Status
	JobName   string
	EventName string
}

// Store is the durable queue contract. Implementations must make every
// operation atomic: a row returned by Dequeue is reserved in the same
// operation that selected it, and no two consumers can reserve the same
// row concurrently.
//
// Reservation is held by visibility timeout alone. Ack, Nack, Release,
// and MarkDead act on a reserved row regardless of which worker holds
// it; a late call after the timeout lapsed and another worker claimed
// the row is allowed to lose (implementations may return
// flume.ErrMessageNotReserved in that case, and callers treat it as
// benign).
type Store interface {
	// EnqueueBatch inserts all messages or none of them. Implementations
	// backed by a transactional database must use a single transaction so
	// a multi-job trigger is all-or-nothing.
	EnqueueBatch(ctx context.Context, msgs []*Message) error

	// Dequeue atomically claims up to limit messages for workerID and
	// returns them. Eligible rows are pending rows whose VisibleAt has
	// passed, plus reserved rows whose visibility timeout has lapsed
	// (crashed-consumer recovery). Claimed rows transition to reserved
	// with VisibleAt = now + visibility.
	//
	// Returns an empty slice, not an error, when nothing is due.
	Dequeue(ctx context.Context, workerID id.WorkerID, limit int, visibility time.Duration) ([]*Message, error)

	// Ack marks a reserved message done.
	Ack(ctx context.Context, msgID id.MessageID) error

	// Nack records a failed attempt: increments Attempts, stores lastErr,
	// and returns the message to pending with VisibleAt = now + delay.
	// VisibleAt only moves forward; a zero or negative delay makes the
	// message due immediately.
	Nack(ctx context.Context, msgID id.MessageID, delay time.Duration, lastErr string) error

	// Release returns a reserved message to pending with
	// VisibleAt = now + delay WITHOUT counting an attempt. Used when a
	// message was claimed but could not be dispatched (concurrency cap,
	// rate limit, shutdown).
	Release(ctx context.Context, msgID id.MessageID, delay time.Duration) error

	// MarkDead transitions a message to dead, recording the final error.
	// Terminal; the message is never redelivered.
	MarkDead(ctx context.Context, msgID id.MessageID, reason string) error

	// GetMessage fetches a message by ID. Returns flume.ErrMessageNotFound
	// if absent.
	GetMessage(ctx context.Context, msgID id.MessageID) (*Message, error)

	// ListMessages returns messages matching the filter, newest first.
	ListMessages(ctx context.Context, opts ListOpts) ([]*Message, error)

	// CountMessages returns the number of messages matching the filter.
	CountMessages(ctx context.Context, opts CountOpts) (int, error)

	// PurgeDone deletes done messages whose DoneAt is before the cutoff.
	// Returns the number of rows removed.
	PurgeDone(ctx context.Context, before time.Time) (int, error)
}
