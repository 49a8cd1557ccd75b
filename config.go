package flume

import "time"

// Config holds configuration for the engine's consumer side.
type Config struct {
	// Concurrency is the number of dequeue worker goroutines.
	Concurrency int

	// DequeueBatchSize is the maximum number of messages reserved per poll.
	DequeueBatchSize int

	// PollInterval is how long a worker sleeps when the queue is empty.
	// A full batch triggers an immediate re-poll to drain backlog.
	PollInterval time.Duration

	// VisibilityTimeout is how long a reserved message stays hidden from
	// other consumers. It is the engine's only timeout mechanism: a handler
	// running past it risks concurrent duplicate execution.
	VisibilityTimeout time.Duration

	// DeferDelay is the re-visibility delay applied when a message is
	// released because its job's concurrency cap is full.
	DeferDelay time.Duration

	// DefaultMaxAttempts is the attempt budget for jobs that don't set one.
	DefaultMaxAttempts int

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        10,
		DequeueBatchSize:   10,
		PollInterval:       1 * time.Second,
		VisibilityTimeout:  5 * time.Minute,
		DeferDelay:         2 * time.Second,
		DefaultMaxAttempts: 4,
		ShutdownTimeout:    30 * time.Second,
	}
}
