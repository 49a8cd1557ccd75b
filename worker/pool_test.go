package worker_test

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/surehelp/flume/backoff"
	"github.com/surehelp/flume/dlq"
	"github.com/surehelp/flume/ext"
	"github.com/surehelp/flume/id"
	"github.com/surehelp/flume/job"
	"github.com/surehelp/flume/middleware"
	"github.com/surehelp/flume/queue"
	"github.com/surehelp/flume/store/memory"
	"github.com/surehelp/flume/worker"
)

func setupTestPool(t *testing.T, concurrency int, pollInterval time.Duration, opts ...worker.PoolOption) (
	*worker.Pool, *memory.Store, *job.Registry,
) {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	extensions := ext.NewRegistry(logger)

	dlqSvc := dlq.NewService(s, s)
	bo := backoff.NewConstant(10 * time.Millisecond)

	executor := worker.NewExecutor(
		reg, extensions, s, dlqSvc, bo, logger,
		middleware.Recover(logger),
	)

	poolOpts := append([]worker.PoolOption{
		worker.WithPoolConcurrency(concurrency),
		worker.WithPollInterval(pollInterval),
	}, opts...)

	pool := worker.NewPool(s, executor, reg, extensions, logger, poolOpts...)

	return pool, s, reg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(timeout)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func stopPool(t *testing.T, pool *worker.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
}

func TestPool_StartStop(t *testing.T) {
	pool, _, _ := setupTestPool(t, 2, 50*time.Millisecond)

	err := pool.Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	// Double start should be no-op.
	err = pool.Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = pool.Stop(ctx)
	if err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}

	// Double stop should be no-op.
	err = pool.Stop(ctx)
	if err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

func TestPool_ProcessesMessage(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var processed atomic.Bool
	job.RegisterDefinition(reg, job.NewDefinition("greet", func(_ context.Context, p struct {
		Name string `json:"name"`
	}) error {
		if p.Name != "Alice" {
			t.Errorf("payload.Name = %q, want %q", p.Name, "Alice")
		}
		processed.Store(true)
		return nil
	}))

	m := queue.NewMessage(id.NewTriggerID(), "user.created", "greet", []byte(`{"name":"Alice"}`), "json", 3)
	if err := s.EnqueueBatch(context.Background(), []*queue.Message{m}); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, 5*time.Second, processed.Load, "timed out waiting for message to be processed")

	stopPool(t, pool)

	got, err := s.GetMessage(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("get message error: %v", err)
	}
	if got.Status != queue.StatusDone {
		t.Errorf("status = %q, want %q", got.Status, queue.StatusDone)
	}
	if got.DoneAt == nil {
		t.Error("expected DoneAt to be set")
	}
}

func TestPool_FailedMessageRetriesUntilDead(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var calls atomic.Int32
	job.RegisterDefinition(reg, job.NewDefinition("flaky", func(_ context.Context, _ struct{}) error {
		calls.Add(1)
		return context.DeadlineExceeded
	}, job.WithMaxAttempts(2)))

	m := queue.NewMessage(id.NewTriggerID(), "order.paid", "flaky", []byte(`{}`), "json", 2)
	if err := s.EnqueueBatch(context.Background(), []*queue.Message{m}); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	// The constant 10ms backoff lets the message burn its full budget fast.
	waitFor(t, 5*time.Second, func() bool {
		got, err := s.GetMessage(context.Background(), m.ID)
		return err == nil && got.Status == queue.StatusDead
	}, "timed out waiting for message to dead-letter")

	stopPool(t, pool)

	if got := calls.Load(); got != 2 {
		t.Errorf("handler calls = %d, want 2", got)
	}

	got, _ := s.GetMessage(context.Background(), m.ID)
	if got.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", got.Attempts)
	}
	if got.LastError == "" {
		t.Error("expected LastError to be set")
	}

	count, _ := s.CountDLQ(context.Background())
	if count != 1 {
		t.Errorf("dlq count = %d, want 1", count)
	}
}

func TestPool_BatchWindowFlushesAtSize(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var windows atomic.Int32
	var items atomic.Int32
	job.RegisterBatchDefinition(reg, job.NewBatchDefinition("indexContacts", func(_ context.Context, payloads []struct{}) error {
		windows.Add(1)
		items.Add(int32(len(payloads)))
		return nil
	}, job.WithBatch(3, time.Minute)))

	msgs := make([]*queue.Message, 3)
	for i := range msgs {
		msgs[i] = queue.NewMessage(id.NewTriggerID(), "contact.updated", "indexContacts", []byte(`{}`), "json", 3)
	}
	if err := s.EnqueueBatch(context.Background(), msgs); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	// MaxWait is a minute, so only the size trigger can flush this window.
	waitFor(t, 5*time.Second, func() bool { return items.Load() == 3 }, "timed out waiting for batch flush")

	stopPool(t, pool)

	if got := windows.Load(); got != 1 {
		t.Errorf("handler invocations = %d, want 1", got)
	}

	for i, m := range msgs {
		got, _ := s.GetMessage(context.Background(), m.ID)
		if got.Status != queue.StatusDone {
			t.Errorf("msg[%d] status = %q, want %q", i, got.Status, queue.StatusDone)
		}
	}
}

func TestPool_DebounceCoalesces(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var runs atomic.Int32
	var lastSeq atomic.Int32
	job.RegisterDebouncedDefinition(reg, job.NewDebouncedDefinition("syncConversation",
		func(p struct {
			Slug string `json:"slug"`
			Seq  int32  `json:"seq"`
		}) string {
			return p.Slug
		},
		func(_ context.Context, p struct {
			Slug string `json:"slug"`
			Seq  int32  `json:"seq"`
		}) error {
			runs.Add(1)
			lastSeq.Store(p.Seq)
			return nil
		},
		job.WithDebounce(50*time.Millisecond, time.Second),
	))

	msgs := []*queue.Message{
		queue.NewMessage(id.NewTriggerID(), "conversation.updated", "syncConversation", []byte(`{"slug":"acme","seq":1}`), "json", 3),
		queue.NewMessage(id.NewTriggerID(), "conversation.updated", "syncConversation", []byte(`{"slug":"acme","seq":2}`), "json", 3),
		queue.NewMessage(id.NewTriggerID(), "conversation.updated", "syncConversation", []byte(`{"slug":"acme","seq":3}`), "json", 3),
	}
	if err := s.EnqueueBatch(context.Background(), msgs); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return runs.Load() > 0 }, "timed out waiting for debounce flush")

	stopPool(t, pool)

	if got := runs.Load(); got != 1 {
		t.Errorf("handler invocations = %d, want 1 (burst should coalesce)", got)
	}
	if got := lastSeq.Load(); got != 3 {
		t.Errorf("handler ran with seq = %d, want the latest (3)", got)
	}

	for i, m := range msgs {
		got, _ := s.GetMessage(context.Background(), m.ID)
		if got.Status != queue.StatusDone {
			t.Errorf("msg[%d] status = %q, want %q", i, got.Status, queue.StatusDone)
		}
	}
}

func TestPool_LimiterDefersWithoutBurningAttempts(t *testing.T) {
	limiter := queue.NewLimiter(queue.LimitConfig{JobName: "slow", MaxConcurrent: 1})
	pool, s, reg := setupTestPool(t, 2, 10*time.Millisecond,
		worker.WithLimiter(limiter),
		worker.WithDeferDelay(time.Minute),
		worker.WithDequeueBatchSize(1),
	)

	started := make(chan struct{})
	release := make(chan struct{})
	var once atomic.Bool
	job.RegisterDefinition(reg, job.NewDefinition("slow", func(_ context.Context, _ struct{}) error {
		if once.CompareAndSwap(false, true) {
			close(started)
		}
		<-release
		return nil
	}))

	m1 := queue.NewMessage(id.NewTriggerID(), "order.paid", "slow", []byte(`{}`), "json", 3)
	m2 := queue.NewMessage(id.NewTriggerID(), "order.paid", "slow", []byte(`{}`), "json", 3)
	if err := s.EnqueueBatch(context.Background(), []*queue.Message{m1, m2}); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	<-started

	// With one handler occupying the only slot, the second claimed message
	// is released back to the queue rather than failed.
	waitFor(t, 5*time.Second, func() bool {
		first, err1 := s.GetMessage(context.Background(), m1.ID)
		second, err2 := s.GetMessage(context.Background(), m2.ID)
		if err1 != nil || err2 != nil {
			return false
		}
		deferred := first
		if second.Status == queue.StatusPending {
			deferred = second
		} else if first.Status != queue.StatusPending {
			return false
		}
		return deferred.Status == queue.StatusPending && deferred.Attempts == 0
	}, "timed out waiting for the capped message to be deferred")

	close(release)
	stopPool(t, pool)
}

func TestPool_SlowHandlerDoesNotBlockClaimedBatch(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond,
		worker.WithDequeueBatchSize(2),
	)

	slowStarted := make(chan struct{})
	slowRelease := make(chan struct{})
	var once atomic.Bool
	job.RegisterDefinition(reg, job.NewDefinition("holdOpen", func(_ context.Context, _ struct{}) error {
		if once.CompareAndSwap(false, true) {
			close(slowStarted)
		}
		<-slowRelease
		return nil
	}))

	var quickDone atomic.Bool
	job.RegisterDefinition(reg, job.NewDefinition("quickPing", func(_ context.Context, _ struct{}) error {
		quickDone.Store(true)
		return nil
	}))

	slow := queue.NewMessage(id.NewTriggerID(), "order.paid", "holdOpen", []byte(`{}`), "json", 3)
	slow.VisibleAt = time.Now().UTC().Add(-2 * time.Minute)
	quick := queue.NewMessage(id.NewTriggerID(), "order.paid", "quickPing", []byte(`{}`), "json", 3)
	quick.VisibleAt = time.Now().UTC().Add(-time.Minute)
	if err := s.EnqueueBatch(context.Background(), []*queue.Message{slow, quick}); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	<-slowStarted

	// The slow handler is still holding its goroutine; the quick message
	// claimed behind it must complete anyway.
	waitFor(t, 5*time.Second, quickDone.Load, "quick message stuck behind a slow one from the same claim")

	got, err := s.GetMessage(context.Background(), slow.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != queue.StatusReserved {
		t.Errorf("slow message status = %q, want %q while its handler is blocked", got.Status, queue.StatusReserved)
	}

	close(slowRelease)
	stopPool(t, pool)
}

func TestPool_GracefulShutdownWaitsForInflight(t *testing.T) {
	pool, s, reg := setupTestPool(t, 2, 10*time.Millisecond)

	var finished atomic.Bool
	job.RegisterDefinition(reg, job.NewDefinition("slow", func(_ context.Context, _ struct{}) error {
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
		return nil
	}))

	m := queue.NewMessage(id.NewTriggerID(), "order.paid", "slow", []byte(`{}`), "json", 3)
	if err := s.EnqueueBatch(context.Background(), []*queue.Message{m}); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	// Wait for the handler to be picked up before stopping.
	waitFor(t, 5*time.Second, func() bool {
		got, err := s.GetMessage(context.Background(), m.ID)
		return err == nil && got.Status != queue.StatusPending
	}, "timed out waiting for message pickup")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("graceful shutdown failed: %v", err)
	}

	if !finished.Load() {
		t.Error("expected in-flight handler to finish before Stop returned")
	}
}

func TestPool_RegistersWorkerWithCluster(t *testing.T) {
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	extensions := ext.NewRegistry(logger)

	executor := worker.NewExecutor(reg, extensions, s, dlq.NewService(s, s), backoff.NewConstant(10*time.Millisecond), logger)
	pool := worker.NewPool(s, executor, reg, extensions, logger,
		worker.WithPoolConcurrency(1),
		worker.WithPollInterval(50*time.Millisecond),
		worker.WithClusterStore(s),
		worker.WithHeartbeatInterval(10*time.Millisecond),
	)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	workers, err := s.ListWorkers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(workers) != 1 {
		t.Fatalf("got %d registered workers, want 1", len(workers))
	}
	if workers[0].ID.String() != pool.WorkerID().String() {
		t.Error("registered worker ID does not match pool worker ID")
	}

	stopPool(t, pool)

	// Stop deregisters.
	workers, _ = s.ListWorkers(context.Background())
	if len(workers) != 0 {
		t.Errorf("got %d workers after stop, want 0", len(workers))
	}
}

func TestPool_ExtensionFires(t *testing.T) {
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	extensions := ext.NewRegistry(logger)

	tracker := &trackingExt{}
	extensions.Register(tracker)

	dlqSvc := dlq.NewService(s, s)
	bo := backoff.NewConstant(10 * time.Millisecond)

	executor := worker.NewExecutor(reg, extensions, s, dlqSvc, bo, logger)
	pool := worker.NewPool(s, executor, reg, extensions, logger,
		worker.WithPoolConcurrency(1),
		worker.WithPollInterval(10*time.Millisecond),
	)

	var processed atomic.Bool
	job.RegisterDefinition(reg, job.NewDefinition("tracked", func(_ context.Context, _ struct{}) error {
		processed.Store(true)
		return nil
	}))

	m := queue.NewMessage(id.NewTriggerID(), "order.paid", "tracked", []byte(`{}`), "json", 3)
	if err := s.EnqueueBatch(context.Background(), []*queue.Message{m}); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, 5*time.Second, processed.Load, "timed out waiting for message")

	stopPool(t, pool)

	if !tracker.started.Load() {
		t.Error("expected OnMessageStarted to fire")
	}
	if !tracker.completed.Load() {
		t.Error("expected OnMessageCompleted to fire")
	}
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// trackingExt records which hooks fired.
type trackingExt struct {
	started   atomic.Bool
	completed atomic.Bool
	dead      atomic.Bool
}

func (e *trackingExt) Name() string { return "tracker" }

func (e *trackingExt) OnMessageStarted(_ context.Context, _ *queue.Message) error {
	e.started.Store(true)
	return nil
}

func (e *trackingExt) OnMessageCompleted(_ context.Context, _ *queue.Message, _ time.Duration) error {
	e.completed.Store(true)
	return nil
}

func (e *trackingExt) OnMessageDead(_ context.Context, _ *queue.Message, _ error) error {
	e.dead.Store(true)
	return nil
}
