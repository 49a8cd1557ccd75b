package queue

import (
	"time"

	"github.com/surehelp/flume"
	"github.com/surehelp/flume/id"
)

// Status represents the lifecycle state of a queue message.
type Status string

const (
	// StatusPending means the message is waiting to become visible and be
	// reserved by a consumer.
	StatusPending Status = "pending"
	// StatusReserved means exactly one consumer holds the message, until
	// its visibility timeout lapses.
	StatusReserved Status = "reserved"
	// StatusDone means the handler succeeded. Terminal; rows are retained
	// until purged by retention.
	StatusDone Status = "done"
	// StatusDead means the message will never be retried automatically.
	// Terminal; a DLQ entry records the failure for inspection and replay.
	StatusDead Status = "dead"
)

// Message is one durable unit of scheduled work: a single (event
// occurrence, job) pair produced by the trigger fan-out.
type Message struct {
	flume.Entity

	ID        id.MessageID `json:"id"`
	TriggerID id.TriggerID `json:"trigger_id"`
	EventName string       `json:"event_name"`
	JobName   string       `json:"job_name"`

	// Payload is the event payload, serialized with the codec named in
	// Codec so rows survive codec migrations.
	Payload []byte `json:"payload"`
	Codec   string `json:"codec"`

	Status      Status `json:"status"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	LastError   string `json:"last_error,omitempty"`

	EnqueuedAt time.Time   `json:"enqueued_at"`
	VisibleAt  time.Time   `json:"visible_at"`
	ReservedBy id.WorkerID `json:"reserved_by,omitempty"`
	DoneAt     *time.Time  `json:"done_at,omitempty"`
}

// NewMessage builds a pending message for one (event, job) pair of a
// trigger fan-out. VisibleAt defaults to now; callers push it into the
// future to delay first delivery.
func NewMessage(triggerID id.TriggerID, eventName, jobName string, payload []byte, codecName string, maxAttempts int) *Message {
	now := time.Now()
	return &Message{
		Entity:      flume.NewEntity(),
		ID:          id.NewMessageID(),
		TriggerID:   triggerID,
		EventName:   eventName,
		JobName:     jobName,
		Payload:     payload,
		Codec:       codecName,
		Status:      StatusPending,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  now,
		VisibleAt:   now,
	}
}

// Remaining reports how many attempts are left in the budget.
func (m *Message) Remaining() int {
	r := m.MaxAttempts - m.Attempts
	if r < 0 {
		return 0
	}
	return r
}

// Terminal reports whether the message is in a terminal state.
func (m *Message) Terminal() bool {
	return m.Status == StatusDone || m.Status == StatusDead
}
