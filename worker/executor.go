// Package worker provides the delivery engine — an Executor that sends
// one claimed job through middleware and the HTTP transport and records
// the outcome, and a Pool that manages concurrent claim loops against
// the store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	requeuest "github.com/famedly/requeuest"
	"github.com/famedly/requeuest/backoff"
	"github.com/famedly/requeuest/id"
	"github.com/famedly/requeuest/job"
	"github.com/famedly/requeuest/middleware"
	"github.com/famedly/requeuest/request"
)

// Executor runs a single claimed job: decode the payload, send the
// request through middleware, classify the outcome against the
// request's acceptance filters, and acknowledge the resulting state
// transition.
type Executor struct {
	store    job.Store
	httpExec request.Executor
	policy   backoff.Policy
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	store job.Store,
	httpExec request.Executor,
	policy backoff.Policy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		store:    store,
		httpExec: httpExec,
		policy:   policy,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Execute delivers a claimed job and records the outcome.
// An undecodable payload fails the job permanently without an attempt.
// A transport error or unaccepted status schedules a retry while the
// policy allows more attempts, and fails the job permanently after.
// An accepted response writes the completion record.
//
// The returned error reports why this attempt did not succeed; the
// durable outcome is already recorded in the store by the time Execute
// returns.
func (e *Executor) Execute(ctx context.Context, j *job.Job, workerID id.WorkerID) error {
	req, err := request.UnmarshalRequest(j.Payload)
	if err != nil {
		// Permanent: retrying cannot fix a malformed payload. The nil
		// worker ID bypasses the lease check so the failure is recorded
		// even if the lease lapses meanwhile.
		if ackErr := e.store.AckFailure(ctx, j.ID, id.Nil, err.Error()); ackErr != nil {
			e.logger.Error("failed to record undecodable job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", ackErr.Error()),
			)
		}
		return err
	}

	if startErr := e.store.StartJob(ctx, j.ID, workerID); startErr != nil {
		if errors.Is(startErr, requeuest.ErrNotLeaseOwner) {
			e.logger.Warn("lease lost before delivery started",
				slog.String("job_id", j.ID.String()),
			)
		}
		return startErr
	}

	// The terminal handler performs the actual send.
	terminal := func(ctx context.Context) (*request.Response, error) {
		return e.httpExec.Do(ctx, req)
	}

	resp, execErr := e.mw(ctx, j, req, terminal)

	switch {
	case execErr != nil:
		return e.handleRetryable(ctx, j, workerID, execErr.Error())
	case req.Accepted(resp.Status):
		return e.handleSuccess(ctx, j, workerID, resp)
	default:
		return e.handleRetryable(ctx, j, workerID,
			fmt.Sprintf("response status %d not accepted", resp.Status))
	}
}

// handleSuccess records the accepted response as the job's completion.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, workerID id.WorkerID, resp *request.Response) error {
	data, err := resp.Marshal()
	if err != nil {
		return e.handleRetryable(ctx, j, workerID, err.Error())
	}

	if ackErr := e.store.AckSuccess(ctx, j.ID, workerID, data); ackErr != nil {
		// Lease lost: another worker owns the job now. The response is
		// dropped; the other worker's attempt produces the completion.
		e.logger.Warn("failed to record success",
			slog.String("job_id", j.ID.String()),
			slog.String("error", ackErr.Error()),
		)
		return ackErr
	}

	e.logger.Info("request delivered",
		slog.String("job_id", j.ID.String()),
		slog.String("channel", j.Channel),
		slog.Int("status", resp.Status),
		slog.Int("attempt", j.AttemptCount),
	)
	return nil
}

// handleRetryable schedules a retry while the policy allows further
// attempts and fails the job permanently after.
func (e *Executor) handleRetryable(ctx context.Context, j *job.Job, workerID id.WorkerID, reason string) error {
	delay, ok := e.policy.Next(j.AttemptCount)
	if !ok {
		if ackErr := e.store.AckFailure(ctx, j.ID, workerID, reason); ackErr != nil {
			e.logger.Warn("failed to record permanent failure",
				slog.String("job_id", j.ID.String()),
				slog.String("error", ackErr.Error()),
			)
			return ackErr
		}

		e.logger.Warn("job failed permanently",
			slog.String("job_id", j.ID.String()),
			slog.String("channel", j.Channel),
			slog.Int("attempt", j.AttemptCount),
			slog.String("reason", reason),
		)
		return fmt.Errorf("worker: job %s failed after %d attempts: %s", j.ID, j.AttemptCount, reason)
	}

	notBefore := time.Now().UTC().Add(delay)
	if ackErr := e.store.AckRetry(ctx, j.ID, workerID, notBefore, reason); ackErr != nil {
		e.logger.Warn("failed to schedule retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", ackErr.Error()),
		)
		return ackErr
	}

	e.logger.Info("delivery scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("channel", j.Channel),
		slog.Int("attempt", j.AttemptCount),
		slog.Duration("delay", delay),
		slog.String("reason", reason),
	)
	return fmt.Errorf("worker: job %s attempt %d: %s", j.ID, j.AttemptCount, reason)
}
