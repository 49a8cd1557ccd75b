package flume

import (
	"errors"
	"fmt"
	"time"
)

// Handler failures are classified by tagging, not by error subclassing.
// A plain error is retriable; NonRetriable marks a failure that will never
// succeed on retry (missing entity, malformed data); RetryAfter requests a
// specific delay (upstream rate limit) instead of computed backoff.

type nonRetriableError struct {
	err error
}

func (e *nonRetriableError) Error() string { return "non-retriable: " + e.err.Error() }
func (e *nonRetriableError) Unwrap() error { return e.err }

// NonRetriable wraps err so the executor dead-letters the message after
// this attempt regardless of the remaining attempt budget.
func NonRetriable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetriableError{err: err}
}

// NonRetriablef is shorthand for NonRetriable(fmt.Errorf(...)).
func NonRetriablef(format string, args ...any) error {
	return &nonRetriableError{err: fmt.Errorf(format, args...)}
}

// IsNonRetriable reports whether err (or anything it wraps) was tagged
// with NonRetriable.
func IsNonRetriable(err error) bool {
	var nr *nonRetriableError
	return errors.As(err, &nr)
}

type retryAfterError struct {
	delay time.Duration
	err   error
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("retry after %s: %s", e.delay, e.err.Error())
}
func (e *retryAfterError) Unwrap() error { return e.err }

// RetryAfter wraps err with an explicit retry delay. The executor honors
// the delay verbatim instead of computing backoff.
func RetryAfter(delay time.Duration, err error) error {
	if err == nil {
		return nil
	}
	return &retryAfterError{delay: delay, err: err}
}

// RetryDelay extracts an explicit retry delay from err.
// Returns false if no RetryAfter tag is present.
func RetryDelay(err error) (time.Duration, bool) {
	var ra *retryAfterError
	if errors.As(err, &ra) {
		return ra.delay, true
	}
	return 0, false
}

// BatchError reports that a subset of a batched handler call failed.
// Failed maps item index (position in the payload slice the handler
// received) to that item's error. Items not present in Failed are treated
// as succeeded: their messages are acked while the failed ones are retried
// or dead-lettered individually.
//
// Returning a plain error from a batch handler fails the whole batch.
type BatchError struct {
	Failed map[int]error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch: %d item(s) failed", len(e.Failed))
}

// AsBatchError extracts a *BatchError from err, if present.
func AsBatchError(err error) (*BatchError, bool) {
	var be *BatchError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
