package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/surehelp/flume/ext"
	"github.com/surehelp/flume/id"
	"github.com/surehelp/flume/queue"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnTriggered(_ context.Context, _ id.TriggerID, _ string, _ []string) error {
	e.calls = append(e.calls, "OnTriggered")
	return nil
}

func (e *allHooksExt) OnMessageEnqueued(_ context.Context, _ *queue.Message) error {
	e.calls = append(e.calls, "OnMessageEnqueued")
	return nil
}

func (e *allHooksExt) OnMessageStarted(_ context.Context, _ *queue.Message) error {
	e.calls = append(e.calls, "OnMessageStarted")
	return nil
}

func (e *allHooksExt) OnMessageCompleted(_ context.Context, _ *queue.Message, _ time.Duration) error {
	e.calls = append(e.calls, "OnMessageCompleted")
	return nil
}

func (e *allHooksExt) OnMessageRetrying(_ context.Context, _ *queue.Message, _ int, _ time.Time) error {
	e.calls = append(e.calls, "OnMessageRetrying")
	return nil
}

func (e *allHooksExt) OnMessageDead(_ context.Context, _ *queue.Message, _ error) error {
	e.calls = append(e.calls, "OnMessageDead")
	return nil
}

func (e *allHooksExt) OnCronFired(_ context.Context, _ string, _ id.TriggerID) error {
	e.calls = append(e.calls, "OnCronFired")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// messageOnlyExt only implements message hooks.
type messageOnlyExt struct {
	calls []string
}

func (e *messageOnlyExt) Name() string { return "message-only" }

func (e *messageOnlyExt) OnMessageEnqueued(_ context.Context, _ *queue.Message) error {
	e.calls = append(e.calls, "OnMessageEnqueued")
	return nil
}

func (e *messageOnlyExt) OnMessageCompleted(_ context.Context, _ *queue.Message, _ time.Duration) error {
	e.calls = append(e.calls, "OnMessageCompleted")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnMessageEnqueued(_ context.Context, _ *queue.Message) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func testMessage() *queue.Message {
	return queue.NewMessage(id.NewTriggerID(), "order.paid", "sendReceipt", nil, "json", 4)
}

func TestRegistry_EmitsToImplementingExtensions(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	msgOnly := &messageOnlyExt{}
	r.Register(all)
	r.Register(msgOnly)

	ctx := context.Background()
	msg := testMessage()

	r.EmitTriggered(ctx, id.NewTriggerID(), "order.paid", []string{"sendReceipt"})
	r.EmitMessageEnqueued(ctx, msg)
	r.EmitMessageStarted(ctx, msg)
	r.EmitMessageCompleted(ctx, msg, time.Second)
	r.EmitMessageRetrying(ctx, msg, 1, time.Now())
	r.EmitMessageDead(ctx, msg, errors.New("fail"))
	r.EmitCronFired(ctx, "nightly", id.NewTriggerID())
	r.EmitShutdown(ctx)

	wantAll := []string{
		"OnTriggered", "OnMessageEnqueued", "OnMessageStarted",
		"OnMessageCompleted", "OnMessageRetrying", "OnMessageDead",
		"OnCronFired", "OnShutdown",
	}
	if len(all.calls) != len(wantAll) {
		t.Fatalf("all-hooks calls = %v, want %v", all.calls, wantAll)
	}
	for i, want := range wantAll {
		if all.calls[i] != want {
			t.Errorf("all.calls[%d] = %q, want %q", i, all.calls[i], want)
		}
	}

	wantMsg := []string{"OnMessageEnqueued", "OnMessageCompleted"}
	if len(msgOnly.calls) != len(wantMsg) {
		t.Fatalf("message-only calls = %v, want %v", msgOnly.calls, wantMsg)
	}
}

func TestRegistry_RegistrationOrder(t *testing.T) {
	r := ext.NewRegistry(slog.Default())

	var order []string
	first := &orderedExt{name: "first", order: &order}
	second := &orderedExt{name: "second", order: &order}
	r.Register(first)
	r.Register(second)

	r.EmitMessageEnqueued(context.Background(), testMessage())

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("notification order = %v, want [first second]", order)
	}
}

type orderedExt struct {
	name  string
	order *[]string
}

func (e *orderedExt) Name() string { return e.name }

func (e *orderedExt) OnMessageEnqueued(_ context.Context, _ *queue.Message) error {
	*e.order = append(*e.order, e.name)
	return nil
}

func TestRegistry_HookErrorsDoNotPropagate(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	failing := &failingExt{}
	after := &messageOnlyExt{}
	r.Register(failing)
	r.Register(after)

	// An erroring hook must not stop later extensions.
	r.EmitMessageEnqueued(context.Background(), testMessage())
	r.EmitShutdown(context.Background())

	if len(after.calls) != 1 || after.calls[0] != "OnMessageEnqueued" {
		t.Errorf("later extension calls = %v, want [OnMessageEnqueued]", after.calls)
	}
}

func TestRegistry_Extensions(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	if got := len(r.Extensions()); got != 0 {
		t.Fatalf("expected empty registry, got %d extensions", got)
	}

	r.Register(&allHooksExt{})
	r.Register(&messageOnlyExt{})
	if got := len(r.Extensions()); got != 2 {
		t.Errorf("Extensions() = %d, want 2", got)
	}
}

func TestRegistry_EmitWithNoExtensions(t *testing.T) {
	r := ext.NewRegistry(slog.Default())

	// Emitting into an empty registry must be a no-op, not a panic.
	r.EmitMessageStarted(context.Background(), testMessage())
	r.EmitShutdown(context.Background())
}
