package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/famedly/requeuest/job"
	"github.com/famedly/requeuest/request"
)

// tracerName is the instrumentation scope name for requeuest tracing.
const tracerName = "github.com/famedly/requeuest"

// Tracing returns middleware that wraps each delivery in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a
// pass-through with zero overhead.
//
// Span attributes include: requeuest.job.id, requeuest.channel,
// requeuest.attempt, http.request.method, url.full. On error, the span
// status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided
// tracer. This variant allows injecting a specific TracerProvider for
// testing or when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, req *request.Request, next Handler) (*request.Response, error) {
		ctx, span := tracer.Start(ctx, "requeuest.deliver",
			trace.WithAttributes(
				attribute.String("requeuest.job.id", j.ID.String()),
				attribute.String("requeuest.channel", j.Channel),
				attribute.Int("requeuest.attempt", j.AttemptCount),
				attribute.String("http.request.method", req.Method),
				attribute.String("url.full", req.URL),
			),
			trace.WithSpanKind(trace.SpanKindClient),
		)
		defer span.End()

		resp, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("http.response.status_code", resp.Status))
			span.SetStatus(codes.Ok, "")
		}

		return resp, err
	}
}
