package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/famedly/requeuest/job"
	"github.com/famedly/requeuest/middleware"
	"github.com/famedly/requeuest/request"
)

func testJob(t *testing.T) (*job.Job, *request.Request) {
	t.Helper()
	req, err := request.Get("https://example.com/hook", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	payload, err := req.Marshal()
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return job.New("ch", payload, false), req
}

func TestChain_Order(t *testing.T) {
	var order []string

	mk := func(name string) middleware.Middleware {
		return func(ctx context.Context, _ *job.Job, _ *request.Request, next middleware.Handler) (*request.Response, error) {
			order = append(order, name+"-before")
			resp, err := next(ctx)
			order = append(order, name+"-after")
			return resp, err
		}
	}

	j, req := testJob(t)
	chain := middleware.Chain(mk("outer"), mk("inner"))
	_, err := chain(context.Background(), j, req, func(context.Context) (*request.Response, error) {
		order = append(order, "terminal")
		return &request.Response{Status: 200}, nil
	})
	if err != nil {
		t.Fatalf("chain error: %v", err)
	}

	want := "outer-before inner-before terminal inner-after outer-after"
	if got := strings.Join(order, " "); got != want {
		t.Errorf("order = %q, want %q", got, want)
	}
}

func TestChain_Empty(t *testing.T) {
	j, req := testJob(t)
	chain := middleware.Chain()
	resp, err := chain(context.Background(), j, req, func(context.Context) (*request.Response, error) {
		return &request.Response{Status: 204}, nil
	})
	if err != nil {
		t.Fatalf("chain error: %v", err)
	}
	if resp.Status != 204 {
		t.Errorf("status = %d, want 204", resp.Status)
	}
}

func TestRecover_ConvertsPanic(t *testing.T) {
	j, req := testJob(t)
	mw := middleware.Recover(slog.Default())

	resp, err := mw(context.Background(), j, req, func(context.Context) (*request.Response, error) {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected error from panic")
	}
	if resp != nil {
		t.Errorf("resp = %v, want nil", resp)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error %q does not mention the panic value", err)
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	j, req := testJob(t)
	mw := middleware.Recover(slog.Default())

	wantErr := errors.New("transport down")
	_, err := mw(context.Background(), j, req, func(context.Context) (*request.Response, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestLogging_PassesThrough(t *testing.T) {
	j, req := testJob(t)
	mw := middleware.Logging(slog.Default())

	resp, err := mw(context.Background(), j, req, func(context.Context) (*request.Response, error) {
		return &request.Response{Status: 201}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != 201 {
		t.Errorf("status = %d, want 201", resp.Status)
	}
}

func TestTimeout_CancelsContext(t *testing.T) {
	j, req := testJob(t)
	mw := middleware.Timeout(10 * time.Millisecond)

	_, err := mw(context.Background(), j, req, func(ctx context.Context) (*request.Response, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return &request.Response{Status: 200}, nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestTimeout_ZeroIsPassThrough(t *testing.T) {
	j, req := testJob(t)
	mw := middleware.Timeout(0)

	_, err := mw(context.Background(), j, req, func(ctx context.Context) (*request.Response, error) {
		if _, ok := ctx.Deadline(); ok {
			t.Error("deadline set despite zero timeout")
		}
		return &request.Response{Status: 200}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMetrics_PassesThrough(t *testing.T) {
	j, req := testJob(t)
	mw := middleware.MetricsWithMeter(noop.NewMeterProvider().Meter("test"))

	resp, err := mw(context.Background(), j, req, func(context.Context) (*request.Response, error) {
		return &request.Response{Status: 200}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != 200 {
		t.Errorf("status = %d, want 200", resp.Status)
	}
}
