package dlq

import (
	"context"
	"time"

	"github.com/surehelp/flume/id"
	"github.com/surehelp/flume/queue"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store      Store
	queueStore queue.Store
}

// NewService creates a DLQ service.
func NewService(store Store, queueStore queue.Store) *Service {
	return &Service{store: store, queueStore: queueStore}
}

// Push builds a DLQ Entry from a terminally failed message and persists
// it. The error string is captured from the final handler error.
func (s *Service) Push(ctx context.Context, msg *queue.Message, msgErr error) error {
	now := time.Now().UTC()
	entry := &Entry{
		ID:          id.NewDLQID(),
		MessageID:   msg.ID,
		TriggerID:   msg.TriggerID,
		EventName:   msg.EventName,
		JobName:     msg.JobName,
		Payload:     msg.Payload,
		Codec:       msg.Codec,
		Error:       msgErr.Error(),
		Attempts:    msg.Attempts,
		MaxAttempts: msg.MaxAttempts,
		FailedAt:    now,
		CreatedAt:   now,
	}
	return s.store.PushDLQ(ctx, entry)
}

// DLQStore returns the underlying DLQ store for direct access
// to List, Get, Purge, and Count operations.
func (s *Service) DLQStore() Store {
	return s.store
}
