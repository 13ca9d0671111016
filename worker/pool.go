package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/famedly/requeuest/id"
	"github.com/famedly/requeuest/job"
)

// throttleRetryInterval is how long a claim loop waits for channel
// capacity while holding a claimed job. The lease keeps the job owned
// throughout.
const throttleRetryInterval = 50 * time.Millisecond

// ChannelManager throttles deliveries per channel. The pool calls
// Acquire before starting a claimed job and Release after the attempt
// completes.
type ChannelManager interface {
	// Acquire checks rate limits and concurrency for the channel.
	// Returns true if the delivery may proceed.
	Acquire(channel string) bool
	// Release decrements the active count for the channel.
	Release(channel string)
}

// Pool manages a set of concurrent claim loops that pull jobs from the
// store and deliver them through the Executor. Wake-ups ride on the
// optional notifier; polling at PollInterval is the correctness
// fallback.
type Pool struct {
	store    job.Store
	notifier job.Notifier
	executor *Executor

	channels         []string
	concurrency      int
	pollInterval     time.Duration
	leaseDuration    time.Duration
	failureThreshold int
	channelManager   ChannelManager

	workerID id.WorkerID
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	g       *errgroup.Group
	wake    chan struct{}
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithChannels sets the channels the pool claims from. Empty means all
// channels.
func WithChannels(channels []string) PoolOption {
	return func(p *Pool) { p.channels = channels }
}

// WithConcurrency sets the number of concurrent claim loops.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how often idle loops poll for new jobs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithLeaseDuration sets the lease taken on each claim. Leases are
// renewed at half this interval while an attempt runs.
func WithLeaseDuration(d time.Duration) PoolOption {
	return func(p *Pool) { p.leaseDuration = d }
}

// WithNotifier sets the notifier used for prompt wake-ups. Without one
// the pool runs on polling alone.
func WithNotifier(n job.Notifier) PoolOption {
	return func(p *Pool) { p.notifier = n }
}

// WithChannelManager sets the channel manager for rate limiting and
// per-channel concurrency control.
func WithChannelManager(m ChannelManager) PoolOption {
	return func(p *Pool) { p.channelManager = m }
}

// WithFailureThreshold sets how many consecutive claim errors the pool
// tolerates before shutting down with an error. Zero disables the
// threshold.
func WithFailureThreshold(n int) PoolOption {
	return func(p *Pool) { p.failureThreshold = n }
}

// NewPool creates a worker pool.
func NewPool(store job.Store, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		store:         store,
		executor:      executor,
		concurrency:   4,
		pollInterval:  time.Second,
		leaseDuration: 30 * time.Second,
		workerID:      id.NewWorkerID(),
		logger:        logger,
		wake:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the claim loops. It returns immediately; the pool
// runs until Stop or until the failure threshold trips.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	g, gctx := errgroup.WithContext(runCtx)
	p.g = g

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("channels", p.channels),
	)

	if p.notifier != nil {
		sub, err := p.notifier.SubscribeEnqueued(runCtx, p.channels)
		if err != nil {
			// Polling still makes progress; notifications are an
			// optimization only.
			p.logger.Warn("enqueue subscription unavailable, polling only",
				slog.String("error", err.Error()),
			)
		} else {
			g.Go(func() error {
				for {
					select {
					case <-gctx.Done():
						return nil
					case _, ok := <-sub:
						if !ok {
							return nil
						}
						p.wakeUp()
					}
				}
			})
		}
	}

	for range p.concurrency {
		g.Go(func() error {
			return p.claimLoop(gctx)
		})
	}

	return nil
}

// Stop signals all loops to stop and waits for them to finish or for
// ctx to expire. Stopping cancels in-flight sends; any attempt cut
// short before recording an outcome is recovered later through lease
// expiry.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	cancel()

	done := make(chan struct{})
	go func() {
		_ = p.g.Wait() //nolint:errcheck // surfaced through Join
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, leases will expire")
		return ctx.Err()
	}
}

// Join blocks until all loops have exited and returns the first fatal
// error, if any. After a clean Stop it returns nil.
func (p *Pool) Join() error {
	p.mu.Lock()
	g := p.g
	p.mu.Unlock()

	if g == nil {
		return nil
	}
	return g.Wait()
}

// Handle is a reference to a running pool that outlives its creator,
// for deployments that hand the pool to a supervisor.
type Handle struct {
	p *Pool
}

// Handle returns a detachable reference to the pool.
func (p *Pool) Handle() *Handle {
	return &Handle{p: p}
}

// Stop gracefully stops the underlying pool.
func (h *Handle) Stop(ctx context.Context) error {
	return h.p.Stop(ctx)
}

// Join blocks until the underlying pool has exited.
func (h *Handle) Join() error {
	return h.p.Join()
}

// wakeUp nudges one idle claim loop. Non-blocking: a pending wake-up
// already covers the new work.
func (p *Pool) wakeUp() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// claimLoop is run by each worker goroutine.
func (p *Pool) claimLoop(ctx context.Context) error {
	failures := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		j, err := p.store.ClaimJob(ctx, p.workerID, p.channels, p.leaseDuration)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			p.logger.Error("claim error",
				slog.Int("consecutive", failures),
				slog.String("error", err.Error()),
			)
			if p.failureThreshold > 0 && failures >= p.failureThreshold {
				return fmt.Errorf("worker: %d consecutive claim failures: %w", failures, err)
			}
			p.idle(ctx)
			continue
		}
		failures = 0

		if j == nil {
			p.idle(ctx)
			continue
		}

		p.deliver(ctx, j)
	}
}

// idle waits for a wake-up, the poll interval, or shutdown.
func (p *Pool) idle(ctx context.Context) {
	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-p.wake:
	case <-timer.C:
	}
}

// deliver runs one claimed job through the executor with lease renewal
// and channel throttling around it.
func (p *Pool) deliver(ctx context.Context, j *job.Job) {
	if p.channelManager != nil {
		// Hold the claim while throttled; the lease keeps the job ours.
		for !p.channelManager.Acquire(j.Channel) {
			timer := time.NewTimer(throttleRetryInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		defer p.channelManager.Release(j.Channel)
	}

	renewCtx, stopRenew := context.WithCancel(ctx)
	defer stopRenew()
	go p.renewLoop(renewCtx, j.ID)

	if err := p.executor.Execute(ctx, j, p.workerID); err != nil {
		p.logger.Debug("delivery attempt did not succeed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// renewLoop extends the job's lease at half the lease duration until
// the attempt finishes. A rejected renewal means the lease was lost;
// the executor's final ack will be rejected the same way.
func (p *Pool) renewLoop(ctx context.Context, jobID id.JobID) {
	ticker := time.NewTicker(p.leaseDuration / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.store.RenewLease(ctx, jobID, p.workerID, p.leaseDuration); err != nil {
				if ctx.Err() == nil {
					p.logger.Warn("lease renewal failed",
						slog.String("job_id", jobID.String()),
						slog.String("error", err.Error()),
					)
				}
				return
			}
		}
	}
}
