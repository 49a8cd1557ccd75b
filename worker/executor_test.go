package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/surehelp/flume"
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

func setupTestExecutor(t *testing.T) (*worker.Executor, *memory.Store, *job.Registry) {
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

	return executor, s, reg
}

// enqueueAndClaim inserts a message and reserves it, mirroring what the
// pool does before handing a message to the executor.
func enqueueAndClaim(t *testing.T, s *memory.Store, msg *queue.Message) {
	t.Helper()
	ctx := context.Background()
	if err := s.EnqueueBatch(ctx, []*queue.Message{msg}); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	claimed, err := s.Dequeue(ctx, id.NewWorkerID(), 10, time.Minute)
	if err != nil {
		t.Fatalf("dequeue error: %v", err)
	}
	if len(claimed) == 0 {
		t.Fatal("expected message to be claimable")
	}
}

func newReceiptMessage(t *testing.T, jobName string, maxAttempts int) *queue.Message {
	t.Helper()
	payload, err := json.Marshal(struct {
		OrderID string `json:"order_id"`
	}{OrderID: "ord-42"})
	if err != nil {
		t.Fatal(err)
	}
	m := queue.NewMessage(id.NewTriggerID(), "order.paid", jobName, payload, "json", maxAttempts)
	return m
}

// newPlainMessage carries an empty payload for handlers that take no fields.
func newPlainMessage(jobName string, maxAttempts int) *queue.Message {
	return queue.NewMessage(id.NewTriggerID(), "order.paid", jobName, []byte(`{}`), "json", maxAttempts)
}

func TestExecutor_Success(t *testing.T) {
	executor, s, reg := setupTestExecutor(t)
	ctx := context.Background()

	job.RegisterDefinition(reg, job.NewDefinition("sendReceipt", func(_ context.Context, p struct {
		OrderID string `json:"order_id"`
	}) error {
		if p.OrderID != "ord-42" {
			t.Errorf("payload.OrderID = %q, want %q", p.OrderID, "ord-42")
		}
		return nil
	}))

	m := newReceiptMessage(t, "sendReceipt", 3)
	enqueueAndClaim(t, s, m)

	if err := executor.Execute(ctx, m); err != nil {
		t.Fatalf("execute error: %v", err)
	}

	got, err := s.GetMessage(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != queue.StatusDone {
		t.Errorf("status = %q, want %q", got.Status, queue.StatusDone)
	}
	if got.DoneAt == nil {
		t.Error("expected DoneAt to be set")
	}
}

func TestExecutor_RetriableFailureNacks(t *testing.T) {
	executor, s, reg := setupTestExecutor(t)
	ctx := context.Background()

	job.RegisterDefinition(reg, job.NewDefinition("flaky", func(_ context.Context, _ struct{}) error {
		return errors.New("connection refused")
	}))

	m := newPlainMessage("flaky", 3)
	enqueueAndClaim(t, s, m)

	err := executor.Execute(ctx, m)
	if err == nil {
		t.Fatal("expected execute to return the handler error")
	}

	got, _ := s.GetMessage(ctx, m.ID)
	if got.Status != queue.StatusPending {
		t.Errorf("status = %q, want %q", got.Status, queue.StatusPending)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
	if got.LastError == "" {
		t.Error("expected LastError to be recorded")
	}
}

func TestExecutor_NonRetriableGoesDead(t *testing.T) {
	executor, s, reg := setupTestExecutor(t)
	ctx := context.Background()

	job.RegisterDefinition(reg, job.NewDefinition("doomed", func(_ context.Context, _ struct{}) error {
		return flume.NonRetriablef("order no longer exists")
	}))

	m := newPlainMessage("doomed", 3)
	enqueueAndClaim(t, s, m)

	if err := executor.Execute(ctx, m); err == nil {
		t.Fatal("expected execute to return the handler error")
	}

	got, _ := s.GetMessage(ctx, m.ID)
	if got.Status != queue.StatusDead {
		t.Errorf("status = %q, want %q", got.Status, queue.StatusDead)
	}

	// A DLQ entry records the failure.
	count, err := s.CountDLQ(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("dlq count = %d, want 1", count)
	}
}

func TestExecutor_AttemptsExhausted(t *testing.T) {
	executor, s, reg := setupTestExecutor(t)
	ctx := context.Background()

	job.RegisterDefinition(reg, job.NewDefinition("flaky", func(_ context.Context, _ struct{}) error {
		return errors.New("still broken")
	}))

	m := newPlainMessage("flaky", 1)
	enqueueAndClaim(t, s, m)

	err := executor.Execute(ctx, m)
	if !errors.Is(err, flume.ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}

	got, _ := s.GetMessage(ctx, m.ID)
	if got.Status != queue.StatusDead {
		t.Errorf("status = %q, want %q", got.Status, queue.StatusDead)
	}

	count, _ := s.CountDLQ(ctx)
	if count != 1 {
		t.Errorf("dlq count = %d, want 1", count)
	}
}

func TestExecutor_RetryAfterHonored(t *testing.T) {
	executor, s, reg := setupTestExecutor(t)
	ctx := context.Background()

	wait := 5 * time.Minute
	job.RegisterDefinition(reg, job.NewDefinition("throttled", func(_ context.Context, _ struct{}) error {
		return flume.RetryAfter(wait, errors.New("upstream rate limited"))
	}))

	m := newPlainMessage("throttled", 3)
	enqueueAndClaim(t, s, m)

	if err := executor.Execute(ctx, m); err == nil {
		t.Fatal("expected execute to return the handler error")
	}

	got, _ := s.GetMessage(ctx, m.ID)
	if got.Status != queue.StatusPending {
		t.Fatalf("status = %q, want %q", got.Status, queue.StatusPending)
	}
	// The explicit delay is used instead of the constant backoff, so the
	// message is due minutes from now rather than milliseconds.
	if got.VisibleAt.Before(time.Now().UTC().Add(wait - time.Minute)) {
		t.Errorf("VisibleAt = %v, want roughly %s out", got.VisibleAt, wait)
	}
}

func TestExecutor_UnknownJobGoesDead(t *testing.T) {
	executor, s, _ := setupTestExecutor(t)
	ctx := context.Background()

	m := newPlainMessage("never-registered", 3)
	enqueueAndClaim(t, s, m)

	err := executor.Execute(ctx, m)
	if !errors.Is(err, flume.ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}

	got, _ := s.GetMessage(ctx, m.ID)
	if got.Status != queue.StatusDead {
		t.Errorf("status = %q, want %q", got.Status, queue.StatusDead)
	}
}

func TestExecutor_PanicRecoveredAsFailure(t *testing.T) {
	executor, s, reg := setupTestExecutor(t)
	ctx := context.Background()

	job.RegisterDefinition(reg, job.NewDefinition("panicky", func(_ context.Context, _ struct{}) error {
		panic("nil map write")
	}))

	m := newPlainMessage("panicky", 3)
	enqueueAndClaim(t, s, m)

	if err := executor.Execute(ctx, m); err == nil {
		t.Fatal("expected panic to surface as an error")
	}

	got, _ := s.GetMessage(ctx, m.ID)
	if got.Status != queue.StatusPending {
		t.Errorf("status = %q, want %q (panic should be retriable)", got.Status, queue.StatusPending)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
}

func TestExecutor_BatchPartialFailure(t *testing.T) {
	executor, s, reg := setupTestExecutor(t)
	ctx := context.Background()

	job.RegisterBatchDefinition(reg, job.NewBatchDefinition("indexContacts", func(_ context.Context, payloads []struct {
		OrderID string `json:"order_id"`
	}) error {
		if len(payloads) != 3 {
			t.Errorf("batch size = %d, want 3", len(payloads))
		}
		return &flume.BatchError{Failed: map[int]error{1: errors.New("bad row")}}
	}))

	task, ok := reg.Get("indexContacts")
	if !ok {
		t.Fatal("task not registered")
	}

	msgs := make([]*queue.Message, 3)
	for i := range msgs {
		msgs[i] = newReceiptMessage(t, "indexContacts", 3)
	}
	if err := s.EnqueueBatch(ctx, msgs); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Dequeue(ctx, id.NewWorkerID(), 10, time.Minute); err != nil {
		t.Fatal(err)
	}

	if err := executor.ExecuteBatch(ctx, task, msgs); err == nil {
		t.Fatal("expected batch error to propagate")
	}

	wantStatuses := []queue.Status{queue.StatusDone, queue.StatusPending, queue.StatusDone}
	for i, m := range msgs {
		got, err := s.GetMessage(ctx, m.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != wantStatuses[i] {
			t.Errorf("msg[%d] status = %q, want %q", i, got.Status, wantStatuses[i])
		}
	}

	// Only the failed item counts an attempt.
	failed, _ := s.GetMessage(ctx, msgs[1].ID)
	if failed.Attempts != 1 {
		t.Errorf("failed item attempts = %d, want 1", failed.Attempts)
	}
}

func TestExecutor_BatchWholeWindowFailure(t *testing.T) {
	executor, s, reg := setupTestExecutor(t)
	ctx := context.Background()

	job.RegisterBatchDefinition(reg, job.NewBatchDefinition("indexContacts", func(_ context.Context, _ []struct{}) error {
		return errors.New("index unavailable")
	}))

	task, _ := reg.Get("indexContacts")

	msgs := []*queue.Message{
		newPlainMessage("indexContacts", 3),
		newPlainMessage("indexContacts", 3),
	}
	if err := s.EnqueueBatch(ctx, msgs); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Dequeue(ctx, id.NewWorkerID(), 10, time.Minute); err != nil {
		t.Fatal(err)
	}

	if err := executor.ExecuteBatch(ctx, task, msgs); err == nil {
		t.Fatal("expected batch error to propagate")
	}

	for i, m := range msgs {
		got, _ := s.GetMessage(ctx, m.ID)
		if got.Status != queue.StatusPending {
			t.Errorf("msg[%d] status = %q, want %q", i, got.Status, queue.StatusPending)
		}
		if got.Attempts != 1 {
			t.Errorf("msg[%d] attempts = %d, want 1", i, got.Attempts)
		}
	}
}

func TestExecutor_DebouncedSupersededAcked(t *testing.T) {
	executor, s, reg := setupTestExecutor(t)
	ctx := context.Background()

	var gotOrderID string
	job.RegisterDebouncedDefinition(reg, job.NewDebouncedDefinition("syncOrder",
		func(p struct {
			OrderID string `json:"order_id"`
		}) string {
			return p.OrderID
		},
		func(_ context.Context, p struct {
			OrderID string `json:"order_id"`
		}) error {
			gotOrderID = p.OrderID
			return nil
		},
	))

	task, _ := reg.Get("syncOrder")

	msgs := make([]*queue.Message, 3)
	for i := range msgs {
		msgs[i] = newReceiptMessage(t, "syncOrder", 3)
	}
	if err := s.EnqueueBatch(ctx, msgs); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Dequeue(ctx, id.NewWorkerID(), 10, time.Minute); err != nil {
		t.Fatal(err)
	}

	if err := executor.ExecuteDebounced(ctx, task, "ord-42", msgs); err != nil {
		t.Fatalf("execute debounced error: %v", err)
	}

	if gotOrderID != "ord-42" {
		t.Errorf("handler ran with order %q, want %q", gotOrderID, "ord-42")
	}

	// Superseded and latest messages all settle done.
	for i, m := range msgs {
		got, _ := s.GetMessage(ctx, m.ID)
		if got.Status != queue.StatusDone {
			t.Errorf("msg[%d] status = %q, want %q", i, got.Status, queue.StatusDone)
		}
	}
}

func TestExecutor_DebouncedFailureRetriesOnlyLatest(t *testing.T) {
	executor, s, reg := setupTestExecutor(t)
	ctx := context.Background()

	job.RegisterDebouncedDefinition(reg, job.NewDebouncedDefinition("syncOrder",
		func(_ struct{}) string { return "key" },
		func(_ context.Context, _ struct{}) error {
			return errors.New("sync failed")
		},
	))

	task, _ := reg.Get("syncOrder")

	msgs := []*queue.Message{
		newPlainMessage("syncOrder", 3),
		newPlainMessage("syncOrder", 3),
	}
	if err := s.EnqueueBatch(ctx, msgs); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Dequeue(ctx, id.NewWorkerID(), 10, time.Minute); err != nil {
		t.Fatal(err)
	}

	if err := executor.ExecuteDebounced(ctx, task, "key", msgs); err == nil {
		t.Fatal("expected handler error to propagate")
	}

	// The superseded message is acked even though the run failed.
	superseded, _ := s.GetMessage(ctx, msgs[0].ID)
	if superseded.Status != queue.StatusDone {
		t.Errorf("superseded status = %q, want %q", superseded.Status, queue.StatusDone)
	}

	// Only the latest message enters the retry path.
	latest, _ := s.GetMessage(ctx, msgs[1].ID)
	if latest.Status != queue.StatusPending {
		t.Errorf("latest status = %q, want %q", latest.Status, queue.StatusPending)
	}
	if latest.Attempts != 1 {
		t.Errorf("latest attempts = %d, want 1", latest.Attempts)
	}
}
