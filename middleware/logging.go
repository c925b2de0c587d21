package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/ericzhng/jobmanager/job"
)

// Logging returns middleware that logs job start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, inv job.Invocation, next Handler) error {
		name := inv.Job.Name()
		logger.Info("job started",
			slog.String("job_name", name),
			slog.Int("attempt", inv.Attempt),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("job failed",
				slog.String("job_name", name),
				slog.Int("attempt", inv.Attempt),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("job completed",
				slog.String("job_name", name),
				slog.Int("attempt", inv.Attempt),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
