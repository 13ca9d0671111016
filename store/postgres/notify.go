package postgres

import (
	"context"
	"fmt"

	"github.com/famedly/requeuest/id"
)

// LISTEN/NOTIFY channel names. The payload carries the queue channel
// name or the job ID respectively.
const (
	notifyEnqueuedChannel  = "requeuest_enqueued"
	notifyCompletedChannel = "requeuest_completed"
)

// NotifyEnqueued signals that a job became available on channel.
func (s *Store) NotifyEnqueued(ctx context.Context, channel string) error {
	_, err := s.pool.Exec(ctx,
		`SELECT pg_notify($1, $2)`,
		notifyEnqueuedChannel, channel,
	)
	if err != nil {
		return fmt.Errorf("requeuest/postgres: notify enqueued: %w", err)
	}
	return nil
}

// SubscribeEnqueued returns a stream of channel names with newly
// available work, filtered to channels (empty = all). The stream is
// backed by a dedicated LISTEN connection and closes when ctx is
// cancelled. Notifications may be lost; callers keep a polling
// fallback.
func (s *Store) SubscribeEnqueued(ctx context.Context, channels []string) (<-chan string, error) {
	filter := make(map[string]struct{}, len(channels))
	for _, c := range channels {
		filter[c] = struct{}{}
	}

	out := make(chan string, 16)
	err := s.listen(ctx, notifyEnqueuedChannel, func(payload string) {
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
	if err != nil {
		return nil, err
	}
	return out, nil
}

// NotifyCompleted signals that jobID reached succeeded.
func (s *Store) NotifyCompleted(ctx context.Context, jobID id.JobID) error {
	_, err := s.pool.Exec(ctx,
		`SELECT pg_notify($1, $2)`,
		notifyCompletedChannel, jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("requeuest/postgres: notify completed: %w", err)
	}
	return nil
}

// SubscribeCompleted returns a stream of job IDs that reached
// succeeded. The stream closes when ctx is cancelled.
func (s *Store) SubscribeCompleted(ctx context.Context) (<-chan id.JobID, error) {
	out := make(chan id.JobID, 16)
	err := s.listen(ctx, notifyCompletedChannel, func(payload string) {
		jobID, parseErr := id.ParseJobID(payload)
		if parseErr != nil {
			s.logger.Warn("discarding malformed completion notification",
				"payload", payload, "error", parseErr)
			return
		}
		select {
		case out <- jobID:
		default:
		}
	}, func() { close(out) })
	if err != nil {
		return nil, err
	}
	return out, nil
}

// listen holds a dedicated connection on LISTEN and invokes deliver for
// each notification payload until ctx is cancelled, then calls done.
// The connection never returns to the pool while listening; a LISTEN
// session cannot be shared with query traffic.
func (s *Store) listen(ctx context.Context, pgChannel string, deliver func(payload string), done func()) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("requeuest/postgres: acquire listen connection: %w", err)
	}

	_, err = conn.Exec(ctx, `LISTEN `+pgChannel)
	if err != nil {
		conn.Release()
		return fmt.Errorf("requeuest/postgres: listen %s: %w", pgChannel, err)
	}

	go func() {
		defer done()
		defer conn.Release()

		for {
			n, waitErr := conn.Conn().WaitForNotification(ctx)
			if waitErr != nil {
				if ctx.Err() == nil {
					s.logger.Warn("notification listener stopped",
						"pg_channel", pgChannel, "error", waitErr)
				}
				return
			}
			deliver(n.Payload)
		}
	}()

	return nil
}
