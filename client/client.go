// Package client provides the user-facing entry point: enqueue
// requests onto channels, optionally wait for their responses, and run
// the embedded worker pool that delivers them.
//
// A Client owns one worker pool. Every process that creates a Client
// participates in delivery; coordination happens entirely through the
// shared store, so any number of processes can point at the same
// database.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	requeuest "github.com/famedly/requeuest"
	"github.com/famedly/requeuest/id"
	"github.com/famedly/requeuest/job"
	"github.com/famedly/requeuest/request"
	"github.com/famedly/requeuest/worker"
)

// Client enqueues requests and runs the embedded worker pool.
type Client struct {
	store    job.Store
	notifier job.Notifier
	config   requeuest.Config
	logger   *slog.Logger

	pool     *worker.Pool
	detached bool
}

// New creates a Client over the given store and starts its worker
// pool. notifier may be nil, in which case enqueues and completions
// are discovered by polling alone. The store itself often doubles as
// the notifier (the Postgres and memory stores both implement it).
func New(ctx context.Context, store job.Store, notifier job.Notifier, opts ...Option) (*Client, error) {
	if store == nil {
		return nil, requeuest.ErrNoStore
	}

	c := &Client{
		store:    store,
		notifier: notifier,
		config:   requeuest.DefaultConfig(),
		logger:   slog.Default(),
	}

	settings := defaultSettings()
	for _, opt := range opts {
		opt(c, settings)
	}

	exec := worker.NewExecutor(
		store,
		settings.executor,
		settings.policy,
		c.logger,
		settings.middlewares...,
	)

	poolOpts := []worker.PoolOption{
		worker.WithChannels(c.config.Channels),
		worker.WithConcurrency(c.config.Concurrency),
		worker.WithPollInterval(c.config.PollInterval),
		worker.WithLeaseDuration(c.config.LeaseDuration),
		worker.WithFailureThreshold(c.config.FailureThreshold),
	}
	if notifier != nil {
		poolOpts = append(poolOpts, worker.WithNotifier(notifier))
	}
	if settings.channelManager != nil {
		poolOpts = append(poolOpts, worker.WithChannelManager(settings.channelManager))
	}

	c.pool = worker.NewPool(store, exec, c.logger, poolOpts...)
	if err := c.pool.Start(ctx); err != nil {
		return nil, fmt.Errorf("client: start worker pool: %w", err)
	}

	return c, nil
}

// WorkerID returns the identifier of the embedded worker pool.
func (c *Client) WorkerID() id.WorkerID {
	return c.pool.WorkerID()
}

// Spawn enqueues a request for delivery on channel and returns the job
// ID. By default the job participates in the channel's ordering; see
// Unordered and Delay for per-job overrides.
func (c *Client) Spawn(ctx context.Context, channel string, req *request.Request, opts ...SpawnOption) (id.JobID, error) {
	so := spawnSettings{ordered: true}
	for _, opt := range opts {
		opt(&so)
	}

	payload, err := req.Marshal()
	if err != nil {
		return id.Nil, fmt.Errorf("client: encode request: %w", err)
	}

	j := job.New(channel, payload, so.ordered)
	if so.delay > 0 {
		j.NotBefore = j.NotBefore.Add(so.delay)
	}
	if !so.notBefore.IsZero() {
		j.NotBefore = so.notBefore.UTC()
	}

	if err := c.store.EnqueueJob(ctx, j); err != nil {
		return id.Nil, err
	}

	// Best effort: pollers pick the job up regardless.
	if c.notifier != nil {
		if notifyErr := c.notifier.NotifyEnqueued(ctx, channel); notifyErr != nil {
			c.logger.Warn("enqueue notification failed",
				slog.String("channel", channel),
				slog.String("error", notifyErr.Error()),
			)
		}
	}

	return j.ID, nil
}

// SpawnReturning enqueues a request and blocks until its response is
// available, however long delivery takes. It deliberately has no
// internal timeout: the job retries until it succeeds or is failed
// permanently. Bound the wait with ctx if needed; cancelling the wait
// does not cancel the job.
func (c *Client) SpawnReturning(ctx context.Context, channel string, req *request.Request, opts ...SpawnOption) (*request.Response, error) {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Subscribe before the enqueue so the completion signal cannot slip
	// through between enqueue and wait.
	var sub <-chan id.JobID
	if c.notifier != nil {
		var err error
		sub, err = c.notifier.SubscribeCompleted(waitCtx)
		if err != nil {
			c.logger.Warn("completion subscription unavailable, polling only",
				slog.String("error", err.Error()),
			)
			sub = nil
		}
	}

	jobID, err := c.Spawn(ctx, channel, req, opts...)
	if err != nil {
		return nil, err
	}

	return c.awaitCompletion(waitCtx, jobID, sub)
}

// Response returns the delivered response for a succeeded job, or
// requeuest.ErrCompletionNotFound while the job has not succeeded.
func (c *Client) Response(ctx context.Context, jobID id.JobID) (*request.Response, error) {
	completion, err := c.store.GetCompletion(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return request.UnmarshalResponse(completion.Response)
}

// Job returns the current state of a job.
func (c *Client) Job(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return c.store.GetJob(ctx, jobID)
}

// ──────────────────────────────────────────────────
// Verb conveniences
// ──────────────────────────────────────────────────

// Get enqueues a GET request on channel.
func (c *Client) Get(ctx context.Context, channel, url string, header http.Header, opts ...SpawnOption) (id.JobID, error) {
	req, err := request.Get(url, header)
	if err != nil {
		return id.Nil, err
	}
	return c.Spawn(ctx, channel, req, opts...)
}

// Head enqueues a HEAD request on channel.
func (c *Client) Head(ctx context.Context, channel, url string, header http.Header, opts ...SpawnOption) (id.JobID, error) {
	req, err := request.Head(url, header)
	if err != nil {
		return id.Nil, err
	}
	return c.Spawn(ctx, channel, req, opts...)
}

// Post enqueues a POST request on channel.
func (c *Client) Post(ctx context.Context, channel, url string, header http.Header, body []byte, opts ...SpawnOption) (id.JobID, error) {
	req, err := request.Post(url, header, body)
	if err != nil {
		return id.Nil, err
	}
	return c.Spawn(ctx, channel, req, opts...)
}

// Put enqueues a PUT request on channel.
func (c *Client) Put(ctx context.Context, channel, url string, header http.Header, body []byte, opts ...SpawnOption) (id.JobID, error) {
	req, err := request.Put(url, header, body)
	if err != nil {
		return id.Nil, err
	}
	return c.Spawn(ctx, channel, req, opts...)
}

// Delete enqueues a DELETE request on channel.
func (c *Client) Delete(ctx context.Context, channel, url string, header http.Header, body []byte, opts ...SpawnOption) (id.JobID, error) {
	req, err := request.Delete(url, header, body)
	if err != nil {
		return id.Nil, err
	}
	return c.Spawn(ctx, channel, req, opts...)
}

// ──────────────────────────────────────────────────
// Queue administration
// ──────────────────────────────────────────────────

// Clear removes all undelivered jobs from the given channels (none =
// all channels) and reports how many were removed. Terminal jobs and
// their completions stay.
func (c *Client) Clear(ctx context.Context, channels ...string) (int64, error) {
	return c.store.ClearChannels(ctx, channels)
}

// Count returns the number of jobs matching the given options.
func (c *Client) Count(ctx context.Context, opts job.CountOpts) (int64, error) {
	return c.store.CountJobs(ctx, opts)
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Detach hands the worker pool over to the caller: Close will no
// longer stop it. The returned handle is the only way to stop or wait
// on the pool afterwards. Calling Detach twice returns an error.
func (c *Client) Detach() (*worker.Handle, error) {
	if c.detached {
		return nil, requeuest.ErrDetached
	}
	c.detached = true
	return c.pool.Handle(), nil
}

// Detached reports whether the worker pool has been handed out via
// Detach.
func (c *Client) Detached() bool {
	return c.detached
}

// Close stops the embedded worker pool, waiting up to the configured
// shutdown timeout (or ctx's deadline, whichever is sooner). A
// detached client closes without touching the pool.
func (c *Client) Close(ctx context.Context) error {
	if c.detached {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok && c.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ShutdownTimeout)
		defer cancel()
	}
	return c.pool.Stop(ctx)
}

// awaitCompletion blocks until jobID has a completion, the job fails
// permanently, or ctx is cancelled. The subscription is a wake-up
// optimization; the poll ticker is the correctness fallback.
func (c *Client) awaitCompletion(ctx context.Context, jobID id.JobID, sub <-chan id.JobID) (*request.Response, error) {
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		completion, err := c.store.GetCompletion(ctx, jobID)
		switch {
		case err == nil:
			return request.UnmarshalResponse(completion.Response)
		case !errors.Is(err, requeuest.ErrCompletionNotFound):
			return nil, err
		}

		current, err := c.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if current.State == job.StateFailed {
			return nil, fmt.Errorf("client: job %s failed permanently: %s", jobID, current.LastError)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		case completed, ok := <-sub:
			if !ok {
				sub = nil
				continue
			}
			if completed.String() != jobID.String() {
				continue
			}
		}
	}
}
