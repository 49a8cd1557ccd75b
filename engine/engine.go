package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/surehelp/flume"
	"github.com/surehelp/flume/backoff"
	"github.com/surehelp/flume/codec"
	"github.com/surehelp/flume/cron"
	"github.com/surehelp/flume/dlq"
	"github.com/surehelp/flume/event"
	"github.com/surehelp/flume/ext"
	"github.com/surehelp/flume/id"
	"github.com/surehelp/flume/job"
	mw "github.com/surehelp/flume/middleware"
	"github.com/surehelp/flume/observability"
	"github.com/surehelp/flume/queue"
	"github.com/surehelp/flume/store"
	"github.com/surehelp/flume/worker"
)

// Engine is the top-level handle: it owns the producer side (Trigger),
// the consumer side (worker pool), and the cron scheduler.
type Engine struct {
	store      store.Store
	catalogue  *event.Catalogue
	registry   *job.Registry
	extensions *ext.Registry
	dlqService *dlq.Service
	limiter    *queue.Limiter
	pool       *worker.Pool
	scheduler  *cron.Scheduler

	cfg    flume.Config
	cdc    codec.Codec
	bo     backoff.Strategy
	mws    []mw.Middleware
	logger *slog.Logger

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithConfig sets the consumer-side configuration.
func WithConfig(cfg flume.Config) Option {
	return func(eng *Engine) { eng.cfg = cfg }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.extensions.Register(e) }
}

// WithMiddleware appends middleware after the default chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithBackoff sets the retry backoff strategy.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithCodec sets the codec used to serialize payloads on Trigger and
// cron registration. Defaults to JSON. Messages record their codec, so
// mixed-codec queues decode correctly.
func WithCodec(c codec.Codec) Option {
	return func(eng *Engine) { eng.cdc = c }
}

// WithTracerProvider sets a custom OTel TracerProvider.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for both the
// metrics middleware and the observability extension.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New builds an Engine over the given store, catalogue, and registry.
// It fails if any event in the catalogue references an unregistered
// job, so wiring mistakes surface at startup instead of at dispatch.
func New(s store.Store, catalogue *event.Catalogue, registry *job.Registry, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, flume.ErrNoStore
	}
	if catalogue == nil {
		catalogue = event.NewCatalogue()
	}
	if registry == nil {
		registry = job.NewRegistry()
	}

	eng := &Engine{
		store:     s,
		catalogue: catalogue,
		registry:  registry,
		cfg:       flume.DefaultConfig(),
		cdc:       codec.Get(codec.NameJSON),
		logger:    slog.Default(),
	}
	eng.extensions = ext.NewRegistry(eng.logger)

	for _, opt := range opts {
		opt(eng)
	}

	// Every job bound to a catalogue event must exist in the registry.
	if err := catalogue.CheckJobs(registry.Has); err != nil {
		return nil, err
	}

	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	eng.dlqService = dlq.NewService(s, s)
	eng.limiter = buildLimiter(registry)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/surehelp/flume"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/surehelp/flume"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter("github.com/surehelp/flume/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default stack: recover → tracing → metrics → logging → timeout.
	resolveTimeout := func(jobName string) time.Duration {
		if task, ok := registry.Get(jobName); ok {
			return task.Options().Timeout
		}
		return 0
	}
	defaultMws := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Timeout(eng.logger, resolveTimeout),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	executor := worker.NewExecutor(registry, eng.extensions, s, eng.dlqService, eng.bo, eng.logger, allMws...)

	eng.pool = worker.NewPool(
		s,
		executor,
		registry,
		eng.extensions,
		eng.logger,
		worker.WithPoolConcurrency(eng.cfg.Concurrency),
		worker.WithDequeueBatchSize(eng.cfg.DequeueBatchSize),
		worker.WithPollInterval(eng.cfg.PollInterval),
		worker.WithVisibilityTimeout(eng.cfg.VisibilityTimeout),
		worker.WithDeferDelay(eng.cfg.DeferDelay),
		worker.WithLimiter(eng.limiter),
		worker.WithClusterStore(s),
	)

	eng.scheduler = cron.NewScheduler(
		s,
		s,
		func(ctx context.Context, eventName string, payload []byte) (id.TriggerID, error) {
			return eng.TriggerRaw(ctx, eventName, payload)
		},
		eng.extensions,
		eng.pool.WorkerID(),
		eng.logger,
	)

	return eng, nil
}

// buildLimiter collects the concurrency and rate settings of every
// registered job into one Limiter.
func buildLimiter(registry *job.Registry) *queue.Limiter {
	var configs []queue.LimitConfig
	for _, name := range registry.Names() {
		task, ok := registry.Get(name)
		if !ok {
			continue
		}
		opts := task.Options()
		if opts.MaxConcurrent == 0 && opts.RateLimit == 0 {
			continue
		}
		configs = append(configs, queue.LimitConfig{
			JobName:       name,
			MaxConcurrent: opts.MaxConcurrent,
			RateLimit:     opts.RateLimit,
			RateBurst:     opts.RateBurst,
		})
	}
	return queue.NewLimiter(configs...)
}

// TriggerOption configures one Trigger call.
type TriggerOption func(*triggerOptions)

type triggerOptions struct {
	delay time.Duration
}

// WithDelay makes every message of the fan-out invisible for d, so all
// bound jobs execute no earlier than now+d.
func WithDelay(d time.Duration) TriggerOption {
	return func(o *triggerOptions) { o.delay = d }
}

// Trigger validates the payload against the event's schema, encodes it
// once, and atomically enqueues one message per bound job. Either every
// bound job gets a message or none does.
func (eng *Engine) Trigger(ctx context.Context, eventName string, payload any, opts ...TriggerOption) (id.TriggerID, error) {
	raw, err := eng.catalogue.Encode(eventName, eng.cdc, payload)
	if err != nil {
		return id.Nil, err
	}
	return eng.fanOut(ctx, eventName, raw, opts...)
}

// TriggerRaw enqueues a pre-encoded payload, validating it against the
// event's schema first. Used by the cron scheduler and replay tooling.
func (eng *Engine) TriggerRaw(ctx context.Context, eventName string, raw []byte, opts ...TriggerOption) (id.TriggerID, error) {
	if err := eng.catalogue.Validate(eventName, eng.cdc, raw); err != nil {
		return id.Nil, err
	}
	return eng.fanOut(ctx, eventName, raw, opts...)
}

func (eng *Engine) fanOut(ctx context.Context, eventName string, raw []byte, opts ...TriggerOption) (id.TriggerID, error) {
	var o triggerOptions
	for _, opt := range opts {
		opt(&o)
	}

	jobs, ok := eng.catalogue.Jobs(eventName)
	if !ok {
		return id.Nil, fmt.Errorf("%w: %q", flume.ErrUnknownEvent, eventName)
	}

	triggerID := id.NewTriggerID()
	msgs := make([]*queue.Message, 0, len(jobs))
	for _, jobName := range jobs {
		maxAttempts := eng.cfg.DefaultMaxAttempts
		if task, found := eng.registry.Get(jobName); found && task.Options().MaxAttempts > 0 {
			maxAttempts = task.Options().MaxAttempts
		}
		msg := queue.NewMessage(triggerID, eventName, jobName, raw, eng.cdc.Name(), maxAttempts)
		if o.delay > 0 {
			msg.VisibleAt = msg.VisibleAt.Add(o.delay)
		}
		msgs = append(msgs, msg)
	}

	if err := eng.store.EnqueueBatch(ctx, msgs); err != nil {
		return id.Nil, fmt.Errorf("trigger %q: %w", eventName, err)
	}

	eng.extensions.EmitTriggered(ctx, triggerID, eventName, jobs)
	for _, msg := range msgs {
		eng.extensions.EmitMessageEnqueued(ctx, msg)
	}

	eng.logger.Debug("event triggered",
		slog.String("trigger_id", triggerID.String()),
		slog.String("event", eventName),
		slog.Int("fan_out", len(msgs)),
	)

	return triggerID, nil
}

// RegisterEvent registers a typed event definition with the engine's
// catalogue.
func RegisterEvent[T any](eng *Engine, def *event.Definition[T]) {
	event.RegisterDefinition(eng.catalogue, def)
}

// RegisterJob registers a typed job definition with the engine's registry.
func RegisterJob[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// RegisterBatchJob registers a typed batch job definition.
func RegisterBatchJob[T any](eng *Engine, def *job.BatchDefinition[T]) {
	job.RegisterBatchDefinition(eng.registry, def)
}

// RegisterDebouncedJob registers a typed debounced job definition.
func RegisterDebouncedJob[T any](eng *Engine, def *job.DebouncedDefinition[T]) {
	job.RegisterDebouncedDefinition(eng.registry, def)
}

// RegisterCron registers a typed cron definition: it validates the
// schedule expression, encodes and schema-checks the payload, computes
// the initial NextRunAt, and persists the entry. Re-registration of the
// same name is idempotent.
func RegisterCron[T any](ctx context.Context, eng *Engine, def *cron.Definition[T]) error {
	sched, err := cron.ParseSchedule(def.Schedule)
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", def.Schedule, err)
	}

	payload, err := eng.catalogue.Encode(def.EventName, eng.cdc, def.Payload)
	if err != nil {
		return fmt.Errorf("encode cron payload for %q: %w", def.Name, err)
	}

	now := time.Now().UTC()
	next := sched.Next(now)

	entry := &cron.Entry{
		Entity:    flume.NewEntity(),
		ID:        id.NewCronID(),
		Name:      def.Name,
		Schedule:  def.Schedule,
		EventName: def.EventName,
		Payload:   payload,
		Codec:     eng.cdc.Name(),
		NextRunAt: &next,
		Enabled:   true,
	}

	if err := eng.store.RegisterCron(ctx, entry); err != nil {
		// Idempotent: the entry already exists from a previous boot.
		if errors.Is(err, flume.ErrDuplicateCron) {
			return nil
		}
		return fmt.Errorf("register cron %q: %w", def.Name, err)
	}

	eng.logger.Info("cron registered",
		slog.String("name", def.Name),
		slog.String("schedule", def.Schedule),
		slog.String("event", def.EventName),
		slog.Time("next_run_at", next),
	)

	return nil
}

// Start launches the cron scheduler and the worker pool.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start cron scheduler: %w", err)
	}
	if err := eng.pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	return nil
}

// Stop gracefully shuts the engine down: the scheduler stops ticking,
// the pool drains in-flight work (bounded by Config.ShutdownTimeout
// when ctx has no deadline), and Shutdown hooks fire.
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.scheduler.Stop(ctx); err != nil {
		eng.logger.Error("cron scheduler stop error", slog.String("error", err.Error()))
	}

	if _, ok := ctx.Deadline(); !ok && eng.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.cfg.ShutdownTimeout)
		defer cancel()
	}

	err := eng.pool.Stop(ctx)
	eng.extensions.EmitShutdown(context.Background())
	return err
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Catalogue returns the event catalogue.
func (eng *Engine) Catalogue() *event.Catalogue { return eng.catalogue }

// Store returns the composite store.
func (eng *Engine) Store() store.Store { return eng.store }

// DLQ returns the dead letter service for replay and inspection.
func (eng *Engine) DLQ() *dlq.Service { return eng.dlqService }

// Scheduler returns the cron scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// Limiter returns the per-job limiter built from registered job options.
func (eng *Engine) Limiter() *queue.Limiter { return eng.limiter }

// WorkerID returns this instance's cluster worker identifier.
func (eng *Engine) WorkerID() id.WorkerID { return eng.pool.WorkerID() }
