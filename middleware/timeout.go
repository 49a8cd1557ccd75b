package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/surehelp/flume/queue"
)

// Timeout returns middleware that enforces a per-job execution deadline.
// resolve maps a job name to its configured timeout; a zero duration
// means no deadline. When the deadline is exceeded the context is
// cancelled and the handler should return context.DeadlineExceeded.
func Timeout(logger *slog.Logger, resolve func(jobName string) time.Duration) Middleware {
	return func(ctx context.Context, msg *queue.Message, next Handler) error {
		if d := resolve(msg.JobName); d > 0 {
			logger.Debug("message timeout set",
				slog.String("message_id", msg.ID.String()),
				slog.Duration("timeout", d),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
