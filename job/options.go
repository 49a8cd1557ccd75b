package job

import "time"

// BatchOptions configures payload accumulation for a batched job.
type BatchOptions struct {
	// MaxSize flushes the window once this many messages have accumulated.
	MaxSize int

	// MaxWait flushes the window this long after its first message even if
	// MaxSize was never reached.
	MaxWait time.Duration
}

// DebounceOptions configures coalescing for a debounced job.
type DebounceOptions struct {
	// Period is the quiet interval: each arrival for the same key resets
	// this timer.
	Period time.Duration

	// Timeout hard-caps the window measured from its first arrival, so a
	// continuously active key still executes with bounded staleness.
	Timeout time.Duration
}

// Options configures per-job behavior such as retries and concurrency.
type Options struct {
	// MaxAttempts is the total attempt budget before dead-lettering.
	MaxAttempts int

	// MaxConcurrent caps how many executions of this job may run
	// simultaneously across the local worker pool. Zero means no cap.
	MaxConcurrent int

	// RateLimit is the maximum sustained executions per second for this
	// job. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int

	// Timeout is the deadline applied to each handler invocation.
	Timeout time.Duration

	// Batch, when non-nil, accumulates messages and invokes the handler
	// once per window. Requires a batch definition.
	Batch *BatchOptions

	// Debounce, when non-nil, coalesces messages per derived key.
	// Requires a debounced definition.
	Debounce *DebounceOptions
}

// DefaultOptions returns Options with sensible defaults: a 4-attempt
// budget (pairs with the 5s/1m/5m/1h retry ladder) and a 5 minute timeout.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 4,
		Timeout:     5 * time.Minute,
	}
}

// Option is a functional option for configuring a job definition.
type Option func(*Options)

// WithMaxAttempts sets the total attempt budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithMaxConcurrent caps simultaneous executions of the job.
func WithMaxConcurrent(n int) Option {
	return func(o *Options) {
		o.MaxConcurrent = n
	}
}

// WithRateLimit sets a sustained executions-per-second limit with the
// given burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *Options) {
		o.RateLimit = perSecond
		o.RateBurst = burst
	}
}

// WithTimeout sets the per-invocation execution deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithBatch enables batching with the given size and wait thresholds.
func WithBatch(maxSize int, maxWait time.Duration) Option {
	return func(o *Options) {
		o.Batch = &BatchOptions{MaxSize: maxSize, MaxWait: maxWait}
	}
}

// WithDebounce enables debouncing with the given quiet period and hard cap.
func WithDebounce(period, timeout time.Duration) Option {
	return func(o *Options) {
		o.Debounce = &DebounceOptions{Period: period, Timeout: timeout}
	}
}
