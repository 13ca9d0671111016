package middleware

import (
	"context"
	"time"

	"github.com/famedly/requeuest/job"
	"github.com/famedly/requeuest/request"
)

// Timeout returns middleware that enforces a per-delivery deadline.
// When the deadline is exceeded the context is cancelled and the
// executor returns a transport error, which the worker treats as
// retryable. A non-positive d makes the middleware a pass-through.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *job.Job, _ *request.Request, next Handler) (*request.Response, error) {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
