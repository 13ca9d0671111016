package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/famedly/requeuest/job"
	"github.com/famedly/requeuest/request"
)

// Recover returns middleware that recovers from panics in the handler
// chain. Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, _ *request.Request, next Handler) (resp *request.Response, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("delivery panicked",
					slog.String("job_id", j.ID.String()),
					slog.String("channel", j.Channel),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				resp = nil
				retErr = fmt.Errorf("panic delivering job %s: %v", j.ID, r)
			}
		}()
		return next(ctx)
	}
}
