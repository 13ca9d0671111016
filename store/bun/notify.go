package bunstore

import (
	"context"
	"fmt"

	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/famedly/requeuest/id"
)

// LISTEN/NOTIFY channel names, shared with the pgx store so the two
// backends interoperate on one database.
const (
	notifyEnqueuedChannel  = "requeuest_enqueued"
	notifyCompletedChannel = "requeuest_completed"
)

// NotifyEnqueued signals that a job became available on channel.
func (s *Store) NotifyEnqueued(ctx context.Context, channel string) error {
	if err := pgdriver.Notify(ctx, s.db, notifyEnqueuedChannel, channel); err != nil {
		return fmt.Errorf("requeuest/bun: notify enqueued: %w", err)
	}
	return nil
}

// SubscribeEnqueued returns a stream of channel names with newly
// available work, filtered to channels (empty = all). The stream is
// backed by a pgdriver.Listener and closes when ctx is cancelled.
// Notifications may be lost; callers keep a polling fallback.
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
	if err := pgdriver.Notify(ctx, s.db, notifyCompletedChannel, jobID.String()); err != nil {
		return fmt.Errorf("requeuest/bun: notify completed: %w", err)
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

// listen runs a pgdriver.Listener on pgChannel, invoking deliver for
// each payload until ctx is cancelled, then calls done.
func (s *Store) listen(ctx context.Context, pgChannel string, deliver func(payload string), done func()) error {
	ln := pgdriver.NewListener(s.db)
	if err := ln.Listen(ctx, pgChannel); err != nil {
		return fmt.Errorf("requeuest/bun: listen %s: %w", pgChannel, err)
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	go func() {
		defer done()
		for n := range ln.Channel() {
			deliver(n.Payload)
		}
	}()

	return nil
}
