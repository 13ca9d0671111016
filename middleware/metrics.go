package middleware

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/famedly/requeuest/job"
	"github.com/famedly/requeuest/request"
)

// meterName is the instrumentation scope name for requeuest metrics.
const meterName = "github.com/famedly/requeuest"

// Metrics returns middleware that records per-delivery metrics using
// the global OTel MeterProvider. If no MeterProvider is configured,
// noop instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - requeuest.delivery.duration (Float64Histogram): delivery time in
//     seconds, with attributes: channel, status
//   - requeuest.delivery.attempts (Int64Counter): total delivery
//     attempts, with attributes: channel, status
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Create instruments once at middleware construction time.
	// OTel instruments are safe for concurrent use. On error, the API
	// returns noop instruments so the middleware degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"requeuest.delivery.duration",
		metric.WithDescription("Duration of request delivery in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	attempts, aErr := meter.Int64Counter(
		"requeuest.delivery.attempts",
		metric.WithDescription("Total number of delivery attempts"),
		metric.WithUnit("{attempt}"),
	)
	_ = aErr // noop fallback guaranteed by OTel API contract

	return func(ctx context.Context, j *job.Job, _ *request.Request, next Handler) (*request.Response, error) {
		start := time.Now()
		resp, err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "error"
		if err == nil {
			status = strconv.Itoa(resp.Status)
		}

		attrs := metric.WithAttributes(
			attribute.String("channel", j.Channel),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		attempts.Add(ctx, 1, attrs)

		return resp, err
	}
}
