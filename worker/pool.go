package worker

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/surehelp/flume/cluster"
	"github.com/surehelp/flume/ext"
	"github.com/surehelp/flume/id"
	"github.com/surehelp/flume/job"
	"github.com/surehelp/flume/queue"
	"github.com/surehelp/flume/window"
)

// Pool manages a set of concurrent consumer goroutines that poll the
// queue, route messages by job mode, and execute them through the
// Executor. Batch and debounce jobs are routed through per-job
// accumulation windows instead of executing inline.
type Pool struct {
	store        queue.Store
	executor     *Executor
	registry     *job.Registry
	extensions   *ext.Registry
	limiter      *queue.Limiter
	clusterStore cluster.Store

	concurrency       int
	batchSize         int
	pollInterval      time.Duration
	visibility        time.Duration
	deferDelay        time.Duration
	heartbeatInterval time.Duration
	workerID          id.WorkerID
	logger            *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	windowMu   sync.Mutex
	batchers   map[string]*window.Batcher
	debouncers map[string]*window.Debouncer

	activeMu sync.Mutex
	active   map[string]context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of consumer goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how often consumers poll when the queue is idle.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithDequeueBatchSize sets how many messages each poll may claim. A
// full claim skips the idle sleep and re-polls immediately.
func WithDequeueBatchSize(n int) PoolOption {
	return func(p *Pool) { p.batchSize = n }
}

// WithVisibilityTimeout sets the reservation window for claimed
// messages. It must comfortably exceed handler timeouts and any batch
// or debounce window, or another consumer will reclaim in-flight work.
func WithVisibilityTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.visibility = d }
}

// WithDeferDelay sets how far a message is pushed back when it is
// claimed but cannot be dispatched (concurrency cap or rate limit).
func WithDeferDelay(d time.Duration) PoolOption {
	return func(p *Pool) { p.deferDelay = d }
}

// WithLimiter sets the per-job limiter consulted before dispatch.
func WithLimiter(l *queue.Limiter) PoolOption {
	return func(p *Pool) { p.limiter = l }
}

// WithClusterStore enables worker registration and heartbeats against
// the given cluster store.
func WithClusterStore(s cluster.Store) PoolOption {
	return func(p *Pool) { p.clusterStore = s }
}

// WithHeartbeatInterval sets how often the pool heartbeats its cluster
// registration. Only meaningful with WithClusterStore.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// NewPool creates a consumer pool.
func NewPool(
	store queue.Store,
	executor *Executor,
	registry *job.Registry,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:             store,
		executor:          executor,
		registry:          registry,
		extensions:        extensions,
		concurrency:       10,
		batchSize:         10,
		pollInterval:      time.Second,
		visibility:        5 * time.Minute,
		deferDelay:        2 * time.Second,
		heartbeatInterval: 15 * time.Second,
		workerID:          id.NewWorkerID(),
		logger:            logger,
		stopCh:            make(chan struct{}),
		batchers:          make(map[string]*window.Batcher),
		debouncers:        make(map[string]*window.Debouncer),
		active:            make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the consumer goroutines. It returns immediately.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("consumer pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Duration("visibility", p.visibility),
	)

	if p.clusterStore != nil {
		if err := p.registerWorker(ctx); err != nil {
			p.logger.Warn("worker registration failed",
				slog.String("worker_id", p.workerID.String()),
				slog.String("error", err.Error()),
			)
		}
		if p.heartbeatInterval > 0 {
			p.wg.Add(1)
			go p.heartbeatLoop()
		}
	}

	for range p.concurrency {
		p.wg.Add(1)
		go p.dequeueLoop()
	}

	return nil
}

// Stop signals all consumers to stop, flushes open windows, and waits
// for in-flight work. If the context has a deadline, active handlers
// are cancelled when time runs out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("consumer pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	// Flush open windows so buffered messages execute now instead of
	// waiting out their visibility timeout on a restarted instance.
	p.windowMu.Lock()
	batchers := make([]*window.Batcher, 0, len(p.batchers))
	for _, b := range p.batchers {
		batchers = append(batchers, b)
	}
	debouncers := make([]*window.Debouncer, 0, len(p.debouncers))
	for _, d := range p.debouncers {
		debouncers = append(debouncers, d)
	}
	p.windowMu.Unlock()
	for _, b := range batchers {
		b.Close()
	}
	for _, d := range debouncers {
		d.Close()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("consumer pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("consumer pool shutdown timed out, cancelling active handlers")
		p.cancelActive()
		p.wg.Wait()
	}

	if p.clusterStore != nil {
		if err := p.clusterStore.DeregisterWorker(context.Background(), p.workerID); err != nil {
			p.logger.Warn("worker deregistration failed",
				slog.String("worker_id", p.workerID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}

// dequeueLoop is run by each consumer goroutine.
func (p *Pool) dequeueLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		msgs, err := p.store.Dequeue(context.Background(), p.workerID, p.batchSize, p.visibility)
		if err != nil {
			p.logger.Error("dequeue error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}

		for _, msg := range msgs {
			p.dispatch(msg)
		}

		// A full claim suggests a backlog: re-poll immediately.
		if len(msgs) < p.batchSize {
			p.sleep()
		}
	}
}

// dispatch routes one reserved message by its job's consumption mode.
func (p *Pool) dispatch(msg *queue.Message) {
	ctx := context.Background()

	task, ok := p.registry.Get(msg.JobName)
	if !ok {
		// Unknown job: Execute settles it as dead.
		p.extensions.EmitMessageStarted(ctx, msg)
		_ = p.executor.Execute(ctx, msg)
		return
	}

	switch task.Mode() {
	case job.ModeBatch:
		p.batcherFor(task).Add(msg)

	case job.ModeDebounce:
		key, keyErr := task.DebounceKey(codecFor(msg), msg.Payload)
		if keyErr != nil {
			p.logger.Warn("debounce key derivation failed",
				slog.String("message_id", msg.ID.String()),
				slog.String("job", msg.JobName),
				slog.String("error", keyErr.Error()),
			)
			if nackErr := p.store.Nack(ctx, msg.ID, p.deferDelay, keyErr.Error()); nackErr != nil {
				p.logger.Error("failed to nack message with bad debounce key",
					slog.String("message_id", msg.ID.String()),
					slog.String("error", nackErr.Error()),
				)
			}
			return
		}
		p.debouncerFor(task).Add(key, msg)

	default:
		// Each plain message runs on its own goroutine so a slow
		// handler never holds up the rest of the claimed batch or the
		// next poll. Stop waits for these via wg.
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runSingle(ctx, msg)
		}()
	}
}

// runSingle executes one plain message, respecting the limiter.
func (p *Pool) runSingle(ctx context.Context, msg *queue.Message) {
	if p.limiter != nil && !p.limiter.Acquire(msg.JobName) {
		p.defer_(ctx, msg)
		return
	}

	p.extensions.EmitMessageStarted(ctx, msg)

	execCtx, cancel := context.WithCancel(ctx)
	p.track(msg.ID.String(), cancel)

	execErr := p.executor.Execute(execCtx, msg)
	if execErr != nil {
		p.logger.Debug("message execution failed",
			slog.String("message_id", msg.ID.String()),
			slog.String("job", msg.JobName),
			slog.String("error", execErr.Error()),
		)
	}

	p.untrack(msg.ID.String())
	cancel()

	if p.limiter != nil {
		p.limiter.Release(msg.JobName)
	}
}

// defer_ returns a claimed message to the queue without counting an
// attempt, for when the limiter refuses dispatch.
func (p *Pool) defer_(ctx context.Context, msg *queue.Message) {
	if err := p.store.Release(ctx, msg.ID, p.deferDelay); err != nil {
		p.logger.Error("failed to release rate-limited message",
			slog.String("message_id", msg.ID.String()),
			slog.String("job", msg.JobName),
			slog.String("error", err.Error()),
		)
	}
}

// batcherFor returns (creating if needed) the batch window for a job.
func (p *Pool) batcherFor(task *job.Task) *window.Batcher {
	p.windowMu.Lock()
	defer p.windowMu.Unlock()

	if b, ok := p.batchers[task.Name()]; ok {
		return b
	}

	opts := task.Options().Batch
	flush := func(msgs []*queue.Message) {
		ctx := context.Background()
		if p.limiter != nil && !p.limiter.Acquire(task.Name()) {
			for _, m := range msgs {
				p.defer_(ctx, m)
			}
			return
		}
		for _, m := range msgs {
			p.extensions.EmitMessageStarted(ctx, m)
		}
		if err := p.executor.ExecuteBatch(ctx, task, msgs); err != nil {
			p.logger.Debug("batch execution failed",
				slog.String("job", task.Name()),
				slog.Int("size", len(msgs)),
				slog.String("error", err.Error()),
			)
		}
		if p.limiter != nil {
			p.limiter.Release(task.Name())
		}
	}

	b := window.NewBatcher(opts.MaxSize, opts.MaxWait, flush)
	p.batchers[task.Name()] = b
	return b
}

// debouncerFor returns (creating if needed) the debounce window for a job.
func (p *Pool) debouncerFor(task *job.Task) *window.Debouncer {
	p.windowMu.Lock()
	defer p.windowMu.Unlock()

	if d, ok := p.debouncers[task.Name()]; ok {
		return d
	}

	opts := task.Options().Debounce
	flush := func(key string, msgs []*queue.Message) {
		ctx := context.Background()
		if p.limiter != nil && !p.limiter.Acquire(task.Name()) {
			for _, m := range msgs {
				p.defer_(ctx, m)
			}
			return
		}
		p.extensions.EmitMessageStarted(ctx, msgs[len(msgs)-1])
		if err := p.executor.ExecuteDebounced(ctx, task, key, msgs); err != nil {
			p.logger.Debug("debounced execution failed",
				slog.String("job", task.Name()),
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		if p.limiter != nil {
			p.limiter.Release(task.Name())
		}
	}

	d := window.NewDebouncer(opts.Period, opts.Timeout, flush)
	p.debouncers[task.Name()] = d
	return d
}

// registerWorker records this instance in the cluster registry.
func (p *Pool) registerWorker(ctx context.Context) error {
	hostname, _ := os.Hostname()
	now := time.Now().UTC()
	return p.clusterStore.RegisterWorker(ctx, &cluster.Worker{
		ID:          p.workerID,
		Hostname:    hostname,
		Jobs:        p.registry.Names(),
		Concurrency: p.concurrency,
		State:       cluster.WorkerActive,
		LastSeen:    now,
		CreatedAt:   now,
	})
}

// heartbeatLoop keeps the cluster registration fresh.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.clusterStore.HeartbeatWorker(context.Background(), p.workerID); err != nil {
				p.logger.Warn("heartbeat failed",
					slog.String("worker_id", p.workerID.String()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) track(msgID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[msgID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrack(msgID string) {
	p.activeMu.Lock()
	delete(p.active, msgID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for msgID, cancel := range p.active {
		p.logger.Warn("cancelling active handler", slog.String("message_id", msgID))
		cancel()
	}
}
