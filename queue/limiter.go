package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// LimitConfig defines per-job dispatch limits.
type LimitConfig struct {
	// JobName is the job this config applies to.
	JobName string

	// MaxConcurrent limits simultaneous executions of this job across the
	// local worker pool. Zero means no job-specific limit (pool-wide
	// concurrency still applies).
	MaxConcurrent int

	// RateLimit is the maximum sustained executions per second. Zero
	// disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// jobState tracks runtime state for a single job.
type jobState struct {
	config  LimitConfig
	limiter *rate.Limiter
	active  int
}

// Limiter enforces per-job rate limits and concurrency caps at dispatch
// time. It is safe for concurrent use.
type Limiter struct {
	mu   sync.Mutex
	jobs map[string]*jobState
}

// NewLimiter creates a Limiter with the given job configurations.
// Jobs not listed here have no limits.
func NewLimiter(configs ...LimitConfig) *Limiter {
	l := &Limiter{
		jobs: make(map[string]*jobState, len(configs)),
	}
	for _, cfg := range configs {
		l.jobs[cfg.JobName] = newJobState(cfg)
	}
	return l
}

func newJobState(cfg LimitConfig) *jobState {
	js := &jobState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		js.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return js
}

// Acquire checks the concurrency cap and rate limit for the given job.
// If execution is allowed it increments the active counter and returns
// true. The caller MUST call Release when the execution completes. A
// false return means the caller should return the message to the queue
// without counting an attempt.
//
// The cap is checked before the rate limiter so a deferred message does
// not consume a rate token it never uses.
func (l *Limiter) Acquire(jobName string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	js := l.jobs[jobName]
	if js == nil {
		return true
	}
	if js.config.MaxConcurrent > 0 && js.active >= js.config.MaxConcurrent {
		return false
	}
	if js.limiter != nil && !js.limiter.Allow() {
		return false
	}
	js.active++
	return true
}

// Release decrements the active count for the job.
func (l *Limiter) Release(jobName string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if js := l.jobs[jobName]; js != nil && js.active > 0 {
		js.active--
	}
}

// SetConfig dynamically updates (or creates) a job's limits.
func (l *Limiter) SetConfig(cfg LimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing := l.jobs[cfg.JobName]
	js := newJobState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		js.active = existing.active
	}
	l.jobs[cfg.JobName] = js
}

// ActiveCount returns the current number of active executions for a job.
func (l *Limiter) ActiveCount(jobName string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if js := l.jobs[jobName]; js != nil {
		return js.active
	}
	return 0
}
