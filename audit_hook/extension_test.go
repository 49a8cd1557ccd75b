package audithook_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	ah "github.com/surehelp/flume/audit_hook"
	"github.com/surehelp/flume/ext"
	"github.com/surehelp/flume/id"
	"github.com/surehelp/flume/queue"
)

// ── Mock recorder ────────────────────────────────────

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockRecorder) findByAction(action string) *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, evt := range m.events {
		if evt.Action == action {
			return evt
		}
	}
	return nil
}

// ── Test helpers ─────────────────────────────────────

func newTestMessage() *queue.Message {
	return queue.NewMessage(id.NewTriggerID(), "order.paid", "sendReceipt", []byte(`{}`), "json", 3)
}

// ── Tests ────────────────────────────────────────────

func TestExtension_Name(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	if e.Name() != "audit-hook" {
		t.Errorf("expected name %q, got %q", "audit-hook", e.Name())
	}
}

// ── Trigger lifecycle tests ──────────────────────────

func TestExtension_Triggered(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	trigID := id.NewTriggerID()

	if err := e.OnTriggered(context.Background(), trigID, "order.paid", []string{"sendReceipt", "updateInventory"}); err != nil {
		t.Fatalf("OnTriggered: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != ah.ActionTriggerFired {
		t.Errorf("Action: want %q, got %q", ah.ActionTriggerFired, evt.Action)
	}
	if evt.Resource != ah.ResourceTrigger {
		t.Errorf("Resource: want %q, got %q", ah.ResourceTrigger, evt.Resource)
	}
	if evt.Category != ah.CategoryTrigger {
		t.Errorf("Category: want %q, got %q", ah.CategoryTrigger, evt.Category)
	}
	if evt.ResourceID != trigID.String() {
		t.Errorf("ResourceID: want %q, got %q", trigID.String(), evt.ResourceID)
	}
	if evt.Metadata["event_name"] != "order.paid" {
		t.Errorf("Metadata[event_name]: want %q, got %v", "order.paid", evt.Metadata["event_name"])
	}
	if evt.Metadata["job_count"] != 2 {
		t.Errorf("Metadata[job_count]: want 2, got %v", evt.Metadata["job_count"])
	}
}

// ── Message lifecycle tests ──────────────────────────

func TestExtension_MessageEnqueued(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	msg := newTestMessage()

	if err := e.OnMessageEnqueued(context.Background(), msg); err != nil {
		t.Fatalf("OnMessageEnqueued: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != ah.ActionMessageEnqueued {
		t.Errorf("Action: want %q, got %q", ah.ActionMessageEnqueued, evt.Action)
	}
	if evt.Resource != ah.ResourceMessage {
		t.Errorf("Resource: want %q, got %q", ah.ResourceMessage, evt.Resource)
	}
	if evt.Category != ah.CategoryMessage {
		t.Errorf("Category: want %q, got %q", ah.CategoryMessage, evt.Category)
	}
	if evt.ResourceID != msg.ID.String() {
		t.Errorf("ResourceID: want %q, got %q", msg.ID.String(), evt.ResourceID)
	}
	if evt.Severity != ah.SeverityInfo {
		t.Errorf("Severity: want %q, got %q", ah.SeverityInfo, evt.Severity)
	}
	if evt.Outcome != ah.OutcomeSuccess {
		t.Errorf("Outcome: want %q, got %q", ah.OutcomeSuccess, evt.Outcome)
	}
	if evt.Metadata["job_name"] != "sendReceipt" {
		t.Errorf("Metadata[job_name]: want %q, got %v", "sendReceipt", evt.Metadata["job_name"])
	}
	if evt.Metadata["event_name"] != "order.paid" {
		t.Errorf("Metadata[event_name]: want %q, got %v", "order.paid", evt.Metadata["event_name"])
	}
}

func TestExtension_MessageStarted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	msg := newTestMessage()
	msg.ReservedBy = id.NewWorkerID()

	if err := e.OnMessageStarted(context.Background(), msg); err != nil {
		t.Fatalf("OnMessageStarted: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionMessageStarted {
		t.Errorf("Action: want %q, got %q", ah.ActionMessageStarted, evt.Action)
	}
	if evt.Metadata["worker_id"] != msg.ReservedBy.String() {
		t.Errorf("Metadata[worker_id]: want %q, got %v", msg.ReservedBy.String(), evt.Metadata["worker_id"])
	}
}

func TestExtension_MessageCompleted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	msg := newTestMessage()
	elapsed := 150 * time.Millisecond

	if err := e.OnMessageCompleted(context.Background(), msg, elapsed); err != nil {
		t.Fatalf("OnMessageCompleted: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionMessageCompleted {
		t.Errorf("Action: want %q, got %q", ah.ActionMessageCompleted, evt.Action)
	}
	if evt.Severity != ah.SeverityInfo {
		t.Errorf("Severity: want %q, got %q", ah.SeverityInfo, evt.Severity)
	}
	if evt.Metadata["elapsed_ms"] != elapsed.Milliseconds() {
		t.Errorf("Metadata[elapsed_ms]: want %d, got %v", elapsed.Milliseconds(), evt.Metadata["elapsed_ms"])
	}
}

func TestExtension_MessageRetrying(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	msg := newTestMessage()
	next := time.Now().Add(30 * time.Second)

	if err := e.OnMessageRetrying(context.Background(), msg, 2, next); err != nil {
		t.Fatalf("OnMessageRetrying: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionMessageRetrying {
		t.Errorf("Action: want %q, got %q", ah.ActionMessageRetrying, evt.Action)
	}
	if evt.Severity != ah.SeverityWarning {
		t.Errorf("Severity: want %q, got %q", ah.SeverityWarning, evt.Severity)
	}
	if evt.Outcome != ah.OutcomeFailure {
		t.Errorf("Outcome: want %q, got %q", ah.OutcomeFailure, evt.Outcome)
	}
	if evt.Metadata["attempt"] != 2 {
		t.Errorf("Metadata[attempt]: want 2, got %v", evt.Metadata["attempt"])
	}
	if evt.Metadata["max_attempts"] != 3 {
		t.Errorf("Metadata[max_attempts]: want 3, got %v", evt.Metadata["max_attempts"])
	}
}

func TestExtension_MessageDead(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	msg := newTestMessage()
	msg.Attempts = 3
	msgErr := errors.New("max attempts exceeded")

	if err := e.OnMessageDead(context.Background(), msg, msgErr); err != nil {
		t.Fatalf("OnMessageDead: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionMessageDead {
		t.Errorf("Action: want %q, got %q", ah.ActionMessageDead, evt.Action)
	}
	if evt.Severity != ah.SeverityCritical {
		t.Errorf("Severity: want %q, got %q", ah.SeverityCritical, evt.Severity)
	}
	if evt.Reason != "max attempts exceeded" {
		t.Errorf("Reason: want %q, got %q", "max attempts exceeded", evt.Reason)
	}
	if evt.Metadata["error"] != "max attempts exceeded" {
		t.Errorf("Metadata[error]: want %q, got %v", "max attempts exceeded", evt.Metadata["error"])
	}
	if evt.Metadata["attempts"] != 3 {
		t.Errorf("Metadata[attempts]: want 3, got %v", evt.Metadata["attempts"])
	}
}

// ── Cron lifecycle tests ─────────────────────────────

func TestExtension_CronFired(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	trigID := id.NewTriggerID()

	if err := e.OnCronFired(context.Background(), "daily-cleanup", trigID); err != nil {
		t.Fatalf("OnCronFired: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionCronFired {
		t.Errorf("Action: want %q, got %q", ah.ActionCronFired, evt.Action)
	}
	if evt.Resource != ah.ResourceCron {
		t.Errorf("Resource: want %q, got %q", ah.ResourceCron, evt.Resource)
	}
	if evt.Category != ah.CategoryCron {
		t.Errorf("Category: want %q, got %q", ah.CategoryCron, evt.Category)
	}
	if evt.ResourceID != "daily-cleanup" {
		t.Errorf("ResourceID: want %q, got %q", "daily-cleanup", evt.ResourceID)
	}
	if evt.Metadata["trigger_id"] != trigID.String() {
		t.Errorf("Metadata[trigger_id]: want %q, got %v", trigID.String(), evt.Metadata["trigger_id"])
	}
}

// ── WithActions filter tests ─────────────────────────

func TestExtension_WithActions_FiltersDisabled(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionMessageCompleted, ah.ActionMessageDead))

	ctx := context.Background()
	msg := newTestMessage()

	// Enqueued is NOT enabled — should be silently skipped.
	if err := e.OnMessageEnqueued(ctx, msg); err != nil {
		t.Fatalf("OnMessageEnqueued: %v", err)
	}
	if rec.count() != 0 {
		t.Errorf("expected 0 events (enqueued disabled), got %d", rec.count())
	}

	// Completed IS enabled — should be recorded.
	if err := e.OnMessageCompleted(ctx, msg, 50*time.Millisecond); err != nil {
		t.Fatalf("OnMessageCompleted: %v", err)
	}
	if rec.count() != 1 {
		t.Errorf("expected 1 event (completed enabled), got %d", rec.count())
	}

	// Dead IS enabled — should be recorded.
	if err := e.OnMessageDead(ctx, msg, errors.New("boom")); err != nil {
		t.Fatalf("OnMessageDead: %v", err)
	}
	if rec.count() != 2 {
		t.Errorf("expected 2 events, got %d", rec.count())
	}
}

// ── RecorderFunc adapter test ────────────────────────

func TestRecorderFunc(t *testing.T) {
	var captured *ah.AuditEvent
	fn := ah.RecorderFunc(func(_ context.Context, evt *ah.AuditEvent) error {
		captured = evt
		return nil
	})

	e := ah.New(fn)

	if err := e.OnMessageEnqueued(context.Background(), newTestMessage()); err != nil {
		t.Fatalf("OnMessageEnqueued: %v", err)
	}
	if captured == nil {
		t.Fatal("RecorderFunc was not called")
	}
	if captured.Action != ah.ActionMessageEnqueued {
		t.Errorf("Action: want %q, got %q", ah.ActionMessageEnqueued, captured.Action)
	}
}

// ── Recorder error handling test ─────────────────────

func TestExtension_RecorderError_DoesNotPropagate(t *testing.T) {
	failingRecorder := ah.RecorderFunc(func(_ context.Context, _ *ah.AuditEvent) error {
		return errors.New("audit backend down")
	})

	e := ah.New(failingRecorder)

	// Hook should NOT return an error — audit failures must not block
	// the message pipeline.
	if err := e.OnMessageEnqueued(context.Background(), newTestMessage()); err != nil {
		t.Fatalf("expected no error (audit failure swallowed), got: %v", err)
	}
}

// ── Registry integration test ────────────────────────

func TestExtension_ViaRegistry(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	logger := slog.Default()

	reg := ext.NewRegistry(logger)
	reg.Register(e)

	ctx := context.Background()
	msg := newTestMessage()

	reg.EmitTriggered(ctx, id.NewTriggerID(), "order.paid", []string{"sendReceipt"})
	reg.EmitMessageEnqueued(ctx, msg)
	reg.EmitMessageStarted(ctx, msg)
	reg.EmitMessageCompleted(ctx, msg, 50*time.Millisecond)
	reg.EmitMessageRetrying(ctx, msg, 1, time.Now())
	reg.EmitMessageDead(ctx, msg, errors.New("dead"))
	reg.EmitCronFired(ctx, "hourly", id.NewTriggerID())

	// Verify all 7 event types were recorded.
	allActions := ah.AllActions()
	if rec.count() != len(allActions) {
		t.Fatalf("expected %d events, got %d", len(allActions), rec.count())
	}

	for _, action := range allActions {
		evt := rec.findByAction(action)
		if evt == nil {
			t.Errorf("missing event for action %q", action)
		}
	}
}

// ── AllActions test ──────────────────────────────────

func TestAllActions(t *testing.T) {
	actions := ah.AllActions()
	if len(actions) != 7 {
		t.Errorf("expected 7 actions, got %d", len(actions))
	}
}
