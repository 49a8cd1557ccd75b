package engine_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/surehelp/flume"
	"github.com/surehelp/flume/cron"
	"github.com/surehelp/flume/engine"
	"github.com/surehelp/flume/event"
	"github.com/surehelp/flume/job"
	"github.com/surehelp/flume/queue"
	"github.com/surehelp/flume/store/memory"
)

type orderPaid struct {
	OrderID string `json:"order_id"`
	Amount  int    `json:"amount"`
}

// setupEngine builds an engine over a fresh memory store with the
// "order.paid" event fanning out to two jobs. The returned counters
// track handler executions.
func setupEngine(t *testing.T, opts ...engine.Option) (*engine.Engine, *memory.Store, *atomic.Int64, *atomic.Int64) {
	t.Helper()

	var receipts, inventory atomic.Int64

	catalogue := event.NewCatalogue()
	event.RegisterDefinition(catalogue, event.NewDefinition[orderPaid]("order.paid", "sendReceipt", "updateInventory"))

	registry := job.NewRegistry()
	job.RegisterDefinition(registry, job.NewDefinition("sendReceipt", func(_ context.Context, _ orderPaid) error {
		receipts.Add(1)
		return nil
	}))
	job.RegisterDefinition(registry, job.NewDefinition("updateInventory", func(_ context.Context, _ orderPaid) error {
		inventory.Add(1)
		return nil
	}))

	s := memory.New()

	cfg := flume.DefaultConfig()
	cfg.Concurrency = 2
	cfg.PollInterval = 20 * time.Millisecond

	allOpts := append([]engine.Option{engine.WithConfig(cfg)}, opts...)
	eng, err := engine.New(s, catalogue, registry, allOpts...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return eng, s, &receipts, &inventory
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestEngine_New_UnknownJobIsFatal(t *testing.T) {
	catalogue := event.NewCatalogue()
	event.RegisterDefinition(catalogue, event.NewDefinition[orderPaid]("order.paid", "noSuchJob"))

	_, err := engine.New(memory.New(), catalogue, job.NewRegistry())
	if !errors.Is(err, flume.ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}
}

func TestEngine_New_NilStore(t *testing.T) {
	_, err := engine.New(nil, event.NewCatalogue(), job.NewRegistry())
	if !errors.Is(err, flume.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestEngine_Trigger_FanOut(t *testing.T) {
	eng, s, _, _ := setupEngine(t)
	ctx := context.Background()

	triggerID, err := eng.Trigger(ctx, "order.paid", orderPaid{OrderID: "o_1", Amount: 4200})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	msgs, err := s.ListMessages(ctx, queue.ListOpts{})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages (one per bound job), got %d", len(msgs))
	}

	jobs := map[string]bool{}
	for _, m := range msgs {
		jobs[m.JobName] = true
		if m.TriggerID != triggerID {
			t.Errorf("message %s: trigger_id = %s, want %s", m.ID, m.TriggerID, triggerID)
		}
		if m.EventName != "order.paid" {
			t.Errorf("message %s: event_name = %q", m.ID, m.EventName)
		}
		if m.Status != queue.StatusPending {
			t.Errorf("message %s: status = %q, want pending", m.ID, m.Status)
		}
		if m.Codec != "json" {
			t.Errorf("message %s: codec = %q, want json", m.ID, m.Codec)
		}
	}
	if !jobs["sendReceipt"] || !jobs["updateInventory"] {
		t.Errorf("fan-out missing a bound job: %v", jobs)
	}
}

func TestEngine_Trigger_UnknownEvent(t *testing.T) {
	eng, s, _, _ := setupEngine(t)
	ctx := context.Background()

	_, err := eng.Trigger(ctx, "no.such.event", orderPaid{})
	if !errors.Is(err, flume.ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}

	n, countErr := s.CountMessages(ctx, queue.CountOpts{})
	if countErr != nil {
		t.Fatalf("CountMessages: %v", countErr)
	}
	if n != 0 {
		t.Errorf("expected zero messages after failed trigger, got %d", n)
	}
}

func TestEngine_Trigger_ValidationFailure(t *testing.T) {
	catalogue := event.NewCatalogue()
	def := event.NewDefinition[orderPaid]("order.paid", "sendReceipt").
		WithValidate(func(p orderPaid) error {
			if p.OrderID == "" {
				return errors.New("order_id is required")
			}
			return nil
		})
	event.RegisterDefinition(catalogue, def)

	registry := job.NewRegistry()
	job.RegisterDefinition(registry, job.NewDefinition("sendReceipt", func(_ context.Context, _ orderPaid) error {
		return nil
	}))

	s := memory.New()
	eng, err := engine.New(s, catalogue, registry)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	ctx := context.Background()
	_, err = eng.Trigger(ctx, "order.paid", orderPaid{Amount: 100})

	var schemaErr *event.SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaError, got %v", err)
	}

	n, countErr := s.CountMessages(ctx, queue.CountOpts{})
	if countErr != nil {
		t.Fatalf("CountMessages: %v", countErr)
	}
	if n != 0 {
		t.Errorf("expected zero messages after validation failure, got %d", n)
	}
}

func TestEngine_Trigger_WithDelay(t *testing.T) {
	eng, s, _, _ := setupEngine(t)
	ctx := context.Background()

	before := time.Now()
	if _, err := eng.Trigger(ctx, "order.paid", orderPaid{OrderID: "o_2"}, engine.WithDelay(time.Hour)); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	msgs, err := s.ListMessages(ctx, queue.ListOpts{})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	for _, m := range msgs {
		if m.VisibleAt.Before(before.Add(59 * time.Minute)) {
			t.Errorf("message %s: visible_at = %v, want ~1h in the future", m.ID, m.VisibleAt)
		}
	}
}

func TestEngine_EndToEnd(t *testing.T) {
	eng, _, receipts, inventory := setupEngine(t)
	ctx := context.Background()

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := eng.Stop(stopCtx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}()

	if _, err := eng.Trigger(ctx, "order.paid", orderPaid{OrderID: "o_3", Amount: 999}); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		return receipts.Load() == 1 && inventory.Load() == 1
	})
}

func TestEngine_RegisterCron(t *testing.T) {
	eng, s, _, _ := setupEngine(t)
	ctx := context.Background()

	def := cron.NewDefinition("nightly-reconcile", "@every 1h", "order.paid", orderPaid{OrderID: "recon"})
	if err := engine.RegisterCron(ctx, eng, def); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}

	entries, err := s.ListCrons(ctx)
	if err != nil {
		t.Fatalf("ListCrons: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 cron entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Name != "nightly-reconcile" || entry.EventName != "order.paid" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if !entry.Enabled {
		t.Error("expected entry to be enabled")
	}
	if entry.NextRunAt == nil || !entry.NextRunAt.After(time.Now()) {
		t.Errorf("expected future NextRunAt, got %v", entry.NextRunAt)
	}

	// Re-registration is idempotent across restarts.
	if err := engine.RegisterCron(ctx, eng, def); err != nil {
		t.Fatalf("second RegisterCron: %v", err)
	}
	entries, err = s.ListCrons(ctx)
	if err != nil {
		t.Fatalf("ListCrons: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 cron entry after re-registration, got %d", len(entries))
	}
}

func TestEngine_RegisterCron_InvalidSchedule(t *testing.T) {
	eng, _, _, _ := setupEngine(t)

	def := cron.NewDefinition("broken", "not a schedule", "order.paid", orderPaid{})
	if err := engine.RegisterCron(context.Background(), eng, def); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestEngine_RegisterCron_UnknownEvent(t *testing.T) {
	eng, _, _, _ := setupEngine(t)

	def := cron.NewDefinition("orphan", "@every 1m", "no.such.event", orderPaid{})
	err := engine.RegisterCron(context.Background(), eng, def)
	if !errors.Is(err, flume.ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}
