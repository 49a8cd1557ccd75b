package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/surehelp/flume/codec"
)

const (
	defaultBatchWait       = 5 * time.Second
	defaultDebouncePeriod  = 10 * time.Second
	defaultDebounceTimeout = 60 * time.Second
)

// Mode describes how a job consumes queue messages.
type Mode int

const (
	// ModeSingle executes one message per handler call.
	ModeSingle Mode = iota
	// ModeBatch accumulates messages and executes once per window.
	ModeBatch
	// ModeDebounce coalesces messages per key and executes the latest.
	ModeDebounce
)

// Task is the type-erased, runnable form of a job definition. The typed
// handler and payload decoding are captured in closures at registration
// time, so resolving a name yields something the worker can execute
// directly.
type Task struct {
	name string
	mode Mode
	opts Options

	run      func(ctx context.Context, cdc codec.Codec, payload []byte) error
	runBatch func(ctx context.Context, cdc codec.Codec, payloads [][]byte) error
	key      func(cdc codec.Codec, payload []byte) (string, error)
}

// Name returns the job name.
func (t *Task) Name() string { return t.name }

// Mode returns how the job consumes messages.
func (t *Task) Mode() Mode { return t.mode }

// Options returns the job's execution policy.
func (t *Task) Options() Options { return t.opts }

// Run decodes a single payload and invokes the handler.
// Valid only for ModeSingle and ModeDebounce tasks.
func (t *Task) Run(ctx context.Context, cdc codec.Codec, payload []byte) error {
	if t.run == nil {
		return fmt.Errorf("job %q does not accept single payloads", t.name)
	}
	return t.run(ctx, cdc, payload)
}

// RunBatch decodes every payload and invokes the batch handler once.
// Valid only for ModeBatch tasks.
func (t *Task) RunBatch(ctx context.Context, cdc codec.Codec, payloads [][]byte) error {
	if t.runBatch == nil {
		return fmt.Errorf("job %q is not a batch job", t.name)
	}
	return t.runBatch(ctx, cdc, payloads)
}

// DebounceKey derives the coalescing key for a payload.
// Valid only for ModeDebounce tasks.
func (t *Task) DebounceKey(cdc codec.Codec, payload []byte) (string, error) {
	if t.key == nil {
		return "", fmt.Errorf("job %q is not debounced", t.name)
	}
	return t.key(cdc, payload)
}

// Registry maps job names to runnable tasks. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]*Task),
	}
}

// RegisterDefinition registers a typed single-message job definition.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	task := &Task{
		name: def.Name,
		mode: ModeSingle,
		opts: def.Opts,
		run: func(ctx context.Context, cdc codec.Codec, payload []byte) error {
			t, err := decode[T](cdc, def.Name, payload)
			if err != nil {
				return err
			}
			return def.Handler(ctx, t)
		},
	}
	r.put(task)
}

// RegisterBatchDefinition registers a typed batched job definition.
func RegisterBatchDefinition[T any](r *Registry, def *BatchDefinition[T]) {
	task := &Task{
		name: def.Name,
		mode: ModeBatch,
		opts: def.Opts,
		runBatch: func(ctx context.Context, cdc codec.Codec, payloads [][]byte) error {
			items := make([]T, len(payloads))
			for i, raw := range payloads {
				t, err := decode[T](cdc, def.Name, raw)
				if err != nil {
					return err
				}
				items[i] = t
			}
			return def.Handler(ctx, items)
		},
	}
	r.put(task)
}

// RegisterDebouncedDefinition registers a typed debounced job definition.
func RegisterDebouncedDefinition[T any](r *Registry, def *DebouncedDefinition[T]) {
	task := &Task{
		name: def.Name,
		mode: ModeDebounce,
		opts: def.Opts,
		run: func(ctx context.Context, cdc codec.Codec, payload []byte) error {
			t, err := decode[T](cdc, def.Name, payload)
			if err != nil {
				return err
			}
			return def.Handler(ctx, t)
		},
		key: func(cdc codec.Codec, payload []byte) (string, error) {
			t, err := decode[T](cdc, def.Name, payload)
			if err != nil {
				return "", err
			}
			return def.Key(t), nil
		},
	}
	r.put(task)
}

func decode[T any](cdc codec.Codec, name string, payload []byte) (T, error) {
	var t T
	if len(payload) > 0 {
		if err := cdc.Unmarshal(payload, &t); err != nil {
			return t, fmt.Errorf("unmarshal payload for job %q: %w", name, err)
		}
	}
	return t, nil
}

func (r *Registry) put(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.name] = t
}

// Get returns the task for the given job name.
// Returns false if no task is registered.
func (r *Registry) Get(name string) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[name]
	return t, ok
}

// Has reports whether a job name is registered. Used by the catalogue's
// startup check.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tasks[name]
	return ok
}

// Names returns all registered job names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	return names
}
