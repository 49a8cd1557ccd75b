package dlq

import (
	"context"

	"github.com/surehelp/flume/id"
	"github.com/surehelp/flume/queue"
)

// Replay re-enqueues a DLQ entry as a fresh pending message and marks
// the entry as replayed. The new message gets a fresh ID, a zeroed
// attempt count, and is due immediately.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*queue.Message, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	msg := queue.NewMessage(entry.TriggerID, entry.EventName, entry.JobName, entry.Payload, entry.Codec, entry.MaxAttempts)
	if err := s.queueStore.EnqueueBatch(ctx, []*queue.Message{msg}); err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// The message is already enqueued. Return it along with the error.
		return msg, err
	}

	return msg, nil
}
