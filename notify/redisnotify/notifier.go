// Package redisnotify provides a job.Notifier over Redis pub/sub.
//
// Deployments that already run Redis can use it to decouple wake-up
// fan-out from the database, keeping LISTEN connections off Postgres.
// Redis pub/sub is fire-and-forget, which matches the notifier
// contract exactly: lost notifications are absorbed by the consumers'
// polling fallback.
package redisnotify

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/famedly/requeuest/id"
	"github.com/famedly/requeuest/job"
)

// Pub/sub channel names.
const (
	enqueuedChannel  = "requeuest:enqueued"
	completedChannel = "requeuest:completed"
)

var _ job.Notifier = (*Notifier)(nil)

// Notifier implements job.Notifier on Redis pub/sub. The caller owns
// the client lifecycle; Notifier never closes it.
type Notifier struct {
	client goredis.UniversalClient
	logger *slog.Logger
}

// Option configures the Notifier.
type Option func(*Notifier)

// WithLogger sets the logger for the notifier.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// New creates a Notifier on an existing Redis client.
func New(client goredis.UniversalClient, opts ...Option) *Notifier {
	n := &Notifier{
		client: client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NotifyEnqueued signals that a job became available on channel.
func (n *Notifier) NotifyEnqueued(ctx context.Context, channel string) error {
	if err := n.client.Publish(ctx, enqueuedChannel, channel).Err(); err != nil {
		return fmt.Errorf("requeuest/redisnotify: notify enqueued: %w", err)
	}
	return nil
}

// SubscribeEnqueued returns a stream of channel names with newly
// available work, filtered to channels (empty = all). The stream
// closes when ctx is cancelled.
func (n *Notifier) SubscribeEnqueued(ctx context.Context, channels []string) (<-chan string, error) {
	filter := make(map[string]struct{}, len(channels))
	for _, c := range channels {
		filter[c] = struct{}{}
	}

	out := make(chan string, 16)
	n.subscribe(ctx, enqueuedChannel, func(payload string) {
		if len(filter) > 0 {
			if _, ok := filter[payload]; !ok {
				return
			}
		}
		select {
		case out <- payload:
		default:
		}
	}, func() { close(out) })
	return out, nil
}

// NotifyCompleted signals that jobID reached succeeded.
func (n *Notifier) NotifyCompleted(ctx context.Context, jobID id.JobID) error {
	if err := n.client.Publish(ctx, completedChannel, jobID.String()).Err(); err != nil {
		return fmt.Errorf("requeuest/redisnotify: notify completed: %w", err)
	}
	return nil
}

// SubscribeCompleted returns a stream of job IDs that reached
// succeeded. The stream closes when ctx is cancelled.
func (n *Notifier) SubscribeCompleted(ctx context.Context) (<-chan id.JobID, error) {
	out := make(chan id.JobID, 16)
	n.subscribe(ctx, completedChannel, func(payload string) {
		jobID, parseErr := id.ParseJobID(payload)
		if parseErr != nil {
			n.logger.Warn("discarding malformed completion notification",
				"payload", payload, "error", parseErr)
			return
		}
		select {
		case out <- jobID:
		default:
		}
	}, func() { close(out) })
	return out, nil
}

// subscribe pumps messages from a pub/sub subscription into deliver
// until ctx is cancelled, then calls done.
func (n *Notifier) subscribe(ctx context.Context, redisChannel string, deliver func(payload string), done func()) {
	sub := n.client.Subscribe(ctx, redisChannel)

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()

	go func() {
		defer done()
		for msg := range sub.Channel() {
			deliver(msg.Payload)
		}
	}()
}
