package middleware

import (
	"context"
	"log/slog"

	"github.com/ericzhng/jobmanager/job"
)

// Timeout returns middleware that enforces a per-job execution deadline.
// If the job's parameters carry a non-zero timeout, a context.WithTimeout
// wraps the handler call. When the deadline is exceeded the context is
// cancelled and the handler should return context.DeadlineExceeded.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, inv job.Invocation, next Handler) error {
		p := inv.Job.Parameters()
		if p == nil || p.Timeout() <= 0 {
			return next(ctx)
		}
		logger.Debug("job timeout set",
			slog.String("job_name", inv.Job.Name()),
			slog.Duration("timeout", p.Timeout()),
		)
		ctx, cancel := context.WithTimeout(ctx, p.Timeout())
		defer cancel()
		return next(ctx)
	}
}
