package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/famedly/requeuest/job"
	"github.com/famedly/requeuest/request"
)

// Logging returns middleware that logs delivery start and outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, req *request.Request, next Handler) (*request.Response, error) {
		logger.Info("delivery started",
			slog.String("job_id", j.ID.String()),
			slog.String("channel", j.Channel),
			slog.String("method", req.Method),
			slog.String("url", req.URL),
			slog.Int("attempt", j.AttemptCount),
		)

		start := time.Now()
		resp, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("delivery failed",
				slog.String("job_id", j.ID.String()),
				slog.String("channel", j.Channel),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("delivery completed",
				slog.String("job_id", j.ID.String()),
				slog.String("channel", j.Channel),
				slog.Int("status", resp.Status),
				slog.Duration("elapsed", elapsed),
			)
		}

		return resp, err
	}
}
