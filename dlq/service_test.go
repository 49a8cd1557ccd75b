package dlq_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	flumeDLQ "github.com/surehelp/flume/dlq"
	"github.com/surehelp/flume/id"
	"github.com/surehelp/flume/queue"
	"github.com/surehelp/flume/store/memory"
)

func newFailedMessage(jobName string, payload []byte) *queue.Message {
	msg := queue.NewMessage(id.NewTriggerID(), "conversation.updated", jobName, payload, "json", 4)
	msg.Status = queue.StatusDead
	msg.Attempts = 4
	msg.LastError = "test error"
	return msg
}

func TestService_Push_BuildsEntryFromMessage(t *testing.T) {
	s := memory.New()
	svc := flumeDLQ.NewService(s, s)
	ctx := context.Background()

	msg := newFailedMessage("sendEmail", []byte(`{"to":"alice@example.com"}`))
	msgErr := errors.New("smtp timeout")

	if err := svc.Push(ctx, msg, msgErr); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := s.ListDLQ(ctx, flumeDLQ.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.MessageID != msg.ID {
		t.Errorf("MessageID = %v, want %v", entry.MessageID, msg.ID)
	}
	if entry.JobName != "sendEmail" {
		t.Errorf("JobName = %q, want %q", entry.JobName, "sendEmail")
	}
	if entry.EventName != "conversation.updated" {
		t.Errorf("EventName = %q, want %q", entry.EventName, "conversation.updated")
	}
	if string(entry.Payload) != `{"to":"alice@example.com"}` {
		t.Errorf("Payload = %q, want %q", entry.Payload, `{"to":"alice@example.com"}`)
	}
	if entry.Error != "smtp timeout" {
		t.Errorf("Error = %q, want %q", entry.Error, "smtp timeout")
	}
	if entry.Attempts != 4 {
		t.Errorf("Attempts = %d, want 4", entry.Attempts)
	}
	if entry.FailedAt.IsZero() {
		t.Error("expected FailedAt to be set")
	}
	if entry.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestService_Push_CountIncreases(t *testing.T) {
	s := memory.New()
	svc := flumeDLQ.NewService(s, s)
	ctx := context.Background()

	for i := range 3 {
		msg := newFailedMessage(fmt.Sprintf("job-%d", i), nil)
		if err := svc.Push(ctx, msg, errors.New("fail")); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}

	count, err := s.CountDLQ(ctx)
	if err != nil {
		t.Fatalf("CountDLQ: %v", err)
	}
	if count != 3 {
		t.Errorf("CountDLQ = %d, want 3", count)
	}
}

func TestService_Replay_CreatesNewPendingMessage(t *testing.T) {
	s := memory.New()
	svc := flumeDLQ.NewService(s, s)
	ctx := context.Background()

	original := newFailedMessage("replay-me", []byte(`{"key":"value"}`))
	if err := svc.Push(ctx, original, errors.New("original error")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := s.ListDLQ(ctx, flumeDLQ.ListOpts{Limit: 1})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(entries))
	}
	entryID := entries[0].ID

	replayed, err := svc.Replay(ctx, entryID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if replayed.ID == original.ID {
		t.Error("replayed message should have a new ID")
	}
	if replayed.Status != queue.StatusPending {
		t.Errorf("Status = %q, want %q", replayed.Status, queue.StatusPending)
	}
	if replayed.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", replayed.Attempts)
	}
	if replayed.JobName != "replay-me" {
		t.Errorf("JobName = %q, want %q", replayed.JobName, "replay-me")
	}
	if string(replayed.Payload) != `{"key":"value"}` {
		t.Errorf("Payload = %q, want %q", replayed.Payload, `{"key":"value"}`)
	}

	got, err := s.GetMessage(ctx, replayed.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Status != queue.StatusPending {
		t.Errorf("stored message Status = %q, want %q", got.Status, queue.StatusPending)
	}
}

func TestService_Replay_MarksDLQEntryAsReplayed(t *testing.T) {
	s := memory.New()
	svc := flumeDLQ.NewService(s, s)
	ctx := context.Background()

	msg := newFailedMessage("replay-mark", nil)
	if err := svc.Push(ctx, msg, errors.New("fail")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := s.ListDLQ(ctx, flumeDLQ.ListOpts{Limit: 1})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	entryID := entries[0].ID

	if _, replayErr := svc.Replay(ctx, entryID); replayErr != nil {
		t.Fatalf("Replay: %v", replayErr)
	}

	entry, err := s.GetDLQ(ctx, entryID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if entry.ReplayedAt == nil {
		t.Error("expected ReplayedAt to be set after replay")
	}
}

func TestService_Replay_NotFoundReturnsError(t *testing.T) {
	s := memory.New()
	svc := flumeDLQ.NewService(s, s)
	ctx := context.Background()

	fakeID := id.NewDLQID()
	if _, err := svc.Replay(ctx, fakeID); err == nil {
		t.Fatal("expected error for non-existent DLQ entry")
	}
}
