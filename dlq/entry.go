package dlq

import (
	"time"

	"github.com/surehelp/flume/id"
)

// Entry represents a message that failed terminally and was moved to the
// dead letter queue for inspection or replay.
type Entry struct {
	ID          id.DLQID     `json:"id"`
	MessageID   id.MessageID `json:"message_id"`
	TriggerID   id.TriggerID `json:"trigger_id"`
	EventName   string       `json:"event_name"`
	JobName     string       `json:"job_name"`
	Payload     []byte       `json:"payload"`
	Codec       string       `json:"codec"`
	Error       string       `json:"error"`
	Attempts    int          `json:"attempts"`
	MaxAttempts int          `json:"max_attempts"`
	FailedAt    time.Time    `json:"failed_at"`
	ReplayedAt  *time.Time   `json:"replayed_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}
