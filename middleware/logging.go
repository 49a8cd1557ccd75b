package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/surehelp/flume/queue"
)

// Logging returns middleware that logs message start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, msg *queue.Message, next Handler) error {
		logger.Info("message started",
			slog.String("event", msg.EventName),
			slog.String("job", msg.JobName),
			slog.String("message_id", msg.ID.String()),
			slog.Int("attempt", msg.Attempts+1),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("message failed",
				slog.String("event", msg.EventName),
				slog.String("job", msg.JobName),
				slog.String("message_id", msg.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("message completed",
				slog.String("event", msg.EventName),
				slog.String("job", msg.JobName),
				slog.String("message_id", msg.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
