// Package worker provides the message execution engine — an Executor
// that invokes registered job handlers through middleware and applies
// the failure classification rules, and a Pool that manages concurrent
// consumer goroutines polling the queue.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/surehelp/flume"
	"github.com/surehelp/flume/backoff"
	"github.com/surehelp/flume/codec"
	"github.com/surehelp/flume/dlq"
	"github.com/surehelp/flume/ext"
	"github.com/surehelp/flume/job"
	"github.com/surehelp/flume/middleware"
	"github.com/surehelp/flume/queue"
)

// codecFor resolves the codec a message was encoded with.
func codecFor(msg *queue.Message) codec.Codec {
	return codec.Get(msg.Codec)
}

// Executor runs messages through middleware and the registered handler,
// then settles them against the store: ack on success, nack with a
// classified delay on retriable failure, dead-letter on terminal failure.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      queue.Store
	dlqService *dlq.Service
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store queue.Store,
	dlqService *dlq.Service,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		dlqService: dlqService,
		backoff:    bo,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs a single message through the middleware chain and handler.
// On success: acks and emits MessageCompleted.
// On retriable failure: nacks with a classified delay, emits MessageRetrying.
// On terminal failure: marks dead, pushes to the DLQ, emits MessageDead.
func (e *Executor) Execute(ctx context.Context, msg *queue.Message) error {
	task, ok := e.registry.Get(msg.JobName)
	if !ok {
		return e.dead(ctx, msg, fmt.Errorf("%w: %q", flume.ErrUnknownJob, msg.JobName))
	}

	cdc := codec.Get(msg.Codec)
	terminal := func(ctx context.Context) error {
		return task.Run(ctx, cdc, msg.Payload)
	}

	start := time.Now()
	err := e.mw(ctx, msg, terminal)
	elapsed := time.Since(start)

	if err != nil {
		return e.fail(ctx, msg, err)
	}
	return e.succeed(ctx, msg, elapsed)
}

// ExecuteBatch runs one closed batch window. A nil handler error acks
// every message. A *flume.BatchError settles only its failed indices
// through the retry path; the rest ack. Any other error fails the whole
// window.
func (e *Executor) ExecuteBatch(ctx context.Context, task *job.Task, msgs []*queue.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	cdc := codec.Get(msgs[0].Codec)
	payloads := make([][]byte, len(msgs))
	for i, m := range msgs {
		payloads[i] = m.Payload
	}

	terminal := func(ctx context.Context) error {
		return task.RunBatch(ctx, cdc, payloads)
	}

	start := time.Now()
	// The middleware chain observes the window through its first message.
	err := e.mw(ctx, msgs[0], terminal)
	elapsed := time.Since(start)

	if err == nil {
		for _, m := range msgs {
			if ackErr := e.succeed(ctx, m, elapsed); ackErr != nil {
				e.logger.Error("batch ack failed",
					slog.String("message_id", m.ID.String()),
					slog.String("error", ackErr.Error()),
				)
			}
		}
		return nil
	}

	if be, ok := flume.AsBatchError(err); ok {
		for i, m := range msgs {
			if itemErr, failed := be.Failed[i]; failed {
				if failErr := e.fail(ctx, m, itemErr); failErr != nil {
					e.logger.Debug("batch item failed",
						slog.String("message_id", m.ID.String()),
						slog.String("error", failErr.Error()),
					)
				}
				continue
			}
			if ackErr := e.succeed(ctx, m, elapsed); ackErr != nil {
				e.logger.Error("batch ack failed",
					slog.String("message_id", m.ID.String()),
					slog.String("error", ackErr.Error()),
				)
			}
		}
		return err
	}

	// Whole-window failure.
	for _, m := range msgs {
		if failErr := e.fail(ctx, m, err); failErr != nil {
			e.logger.Debug("batch item failed",
				slog.String("message_id", m.ID.String()),
				slog.String("error", failErr.Error()),
			)
		}
	}
	return err
}

// ExecuteDebounced runs one closed debounce window: the latest message's
// payload executes, superseded messages ack unconditionally because the
// latest subsumes them. On failure only the latest message retries.
func (e *Executor) ExecuteDebounced(ctx context.Context, task *job.Task, key string, msgs []*queue.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	latest := msgs[len(msgs)-1]
	superseded := msgs[:len(msgs)-1]

	for _, m := range superseded {
		if ackErr := e.store.Ack(ctx, m.ID); ackErr != nil {
			e.logger.Error("failed to ack superseded message",
				slog.String("message_id", m.ID.String()),
				slog.String("key", key),
				slog.String("error", ackErr.Error()),
			)
		}
	}

	cdc := codec.Get(latest.Codec)
	terminal := func(ctx context.Context) error {
		return task.Run(ctx, cdc, latest.Payload)
	}

	start := time.Now()
	err := e.mw(ctx, latest, terminal)
	elapsed := time.Since(start)

	if err != nil {
		return e.fail(ctx, latest, err)
	}
	return e.succeed(ctx, latest, elapsed)
}

// succeed acks the message and emits the lifecycle event.
func (e *Executor) succeed(ctx context.Context, msg *queue.Message, elapsed time.Duration) error {
	if ackErr := e.store.Ack(ctx, msg.ID); ackErr != nil {
		e.logger.Error("failed to ack message after success",
			slog.String("message_id", msg.ID.String()),
			slog.String("job", msg.JobName),
			slog.String("error", ackErr.Error()),
		)
		return ackErr
	}

	msg.Status = queue.StatusDone
	e.extensions.EmitMessageCompleted(ctx, msg, elapsed)
	return nil
}

// fail classifies the handler error and settles the message: dead for
// non-retriable errors and exhausted budgets, nack with a delay
// otherwise. RetryAfter delays are honored verbatim; everything else
// follows the backoff strategy.
func (e *Executor) fail(ctx context.Context, msg *queue.Message, handlerErr error) error {
	attempt := msg.Attempts + 1
	msg.Attempts = attempt
	msg.LastError = handlerErr.Error()

	if flume.IsNonRetriable(handlerErr) {
		return e.dead(ctx, msg, handlerErr)
	}
	if attempt >= msg.MaxAttempts {
		return e.dead(ctx, msg, fmt.Errorf("%w after %d attempts: %w", flume.ErrAttemptsExhausted, attempt, handlerErr))
	}

	delay, ok := flume.RetryDelay(handlerErr)
	if !ok {
		delay = e.backoff.Delay(attempt)
	}
	nextVisibleAt := time.Now().UTC().Add(delay)

	if nackErr := e.store.Nack(ctx, msg.ID, delay, msg.LastError); nackErr != nil {
		e.logger.Error("failed to nack message for retry",
			slog.String("message_id", msg.ID.String()),
			slog.String("error", nackErr.Error()),
		)
		return nackErr
	}

	e.extensions.EmitMessageRetrying(ctx, msg, attempt, nextVisibleAt)

	e.logger.Info("message scheduled for retry",
		slog.String("message_id", msg.ID.String()),
		slog.String("job", msg.JobName),
		slog.Int("attempt", attempt),
		slog.Int("max_attempts", msg.MaxAttempts),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("job %s attempt %d/%d: %w", msg.JobName, attempt, msg.MaxAttempts, handlerErr)
}

// dead marks the message dead, pushes it to the DLQ, and emits events.
func (e *Executor) dead(ctx context.Context, msg *queue.Message, handlerErr error) error {
	if msg.LastError == "" {
		msg.LastError = handlerErr.Error()
	}

	if deadErr := e.store.MarkDead(ctx, msg.ID, handlerErr.Error()); deadErr != nil {
		e.logger.Error("failed to mark message dead",
			slog.String("message_id", msg.ID.String()),
			slog.String("error", deadErr.Error()),
		)
		return deadErr
	}
	msg.Status = queue.StatusDead

	if e.dlqService != nil {
		if dlqErr := e.dlqService.Push(ctx, msg, handlerErr); dlqErr != nil {
			e.logger.Error("failed to push message to DLQ",
				slog.String("message_id", msg.ID.String()),
				slog.String("error", dlqErr.Error()),
			)
		}
	}

	e.extensions.EmitMessageDead(ctx, msg, handlerErr)

	e.logger.Warn("message moved to DLQ",
		slog.String("message_id", msg.ID.String()),
		slog.String("job", msg.JobName),
		slog.Int("attempts", msg.Attempts),
		slog.String("error", handlerErr.Error()),
	)

	return handlerErr
}
