package job

import "context"

// Definition is a typed job definition with a handler function.
// T is the payload type of the event(s) this job is bound to.
type Definition[T any] struct {
	// Name is the unique identifier for this job.
	Name string

	// Handler processes one validated payload.
	Handler func(ctx context.Context, payload T) error

	// Opts configures retries, concurrency, and timeout.
	Opts Options
}

// NewDefinition creates a typed single-message job definition.
func NewDefinition[T any](name string, handler func(ctx context.Context, payload T) error, opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Name:    name,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}

// BatchDefinition is a typed job definition whose handler receives every
// payload accumulated in a batch window in arrival order. The handler may
// return a *flume.BatchError to fail a subset of items by index; a plain
// error fails the whole batch.
type BatchDefinition[T any] struct {
	// Name is the unique identifier for this job.
	Name string

	// Handler processes one window's worth of validated payloads.
	Handler func(ctx context.Context, payloads []T) error

	// Opts configures retries, concurrency, timeout, and the batch window.
	Opts Options
}

// NewBatchDefinition creates a typed batched job definition. If no
// WithBatch option is given, the window defaults to 10 messages / 5s.
func NewBatchDefinition[T any](name string, handler func(ctx context.Context, payloads []T) error, opts ...Option) *BatchDefinition[T] {
	def := &BatchDefinition[T]{
		Name:    name,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	if def.Opts.Batch == nil {
		WithBatch(10, defaultBatchWait)(&def.Opts)
	}
	return def
}

// DebouncedDefinition is a typed job definition whose executions are
// coalesced per derived key: rapid repeats within the quiet period collapse
// into one call with the latest payload.
type DebouncedDefinition[T any] struct {
	// Name is the unique identifier for this job.
	Name string

	// Key derives the coalescing key from a payload (e.g. conversation slug).
	Key func(payload T) string

	// Handler processes the latest payload of a closed window.
	Handler func(ctx context.Context, payload T) error

	// Opts configures retries, concurrency, timeout, and the debounce window.
	Opts Options
}

// NewDebouncedDefinition creates a typed debounced job definition. If no
// WithDebounce option is given, the window defaults to 10s quiet / 60s cap.
func NewDebouncedDefinition[T any](name string, key func(payload T) string, handler func(ctx context.Context, payload T) error, opts ...Option) *DebouncedDefinition[T] {
	def := &DebouncedDefinition[T]{
		Name:    name,
		Key:     key,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	if def.Opts.Debounce == nil {
		WithDebounce(defaultDebouncePeriod, defaultDebounceTimeout)(&def.Opts)
	}
	return def
}
