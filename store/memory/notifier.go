package memory

import (
	"context"
	"sync"

	"github.com/famedly/requeuest/id"
)

// subscribers fans notifications out to in-process subscriptions.
// Sends never block: a subscriber that falls behind misses wake-ups and
// relies on its polling fallback, same as with a real notifier.
type subscribers struct {
	mu        sync.Mutex
	enqueued  map[int]*enqueueSub
	completed map[int]chan id.JobID
	next      int
}

type enqueueSub struct {
	channels map[string]struct{} // empty = all channels
	ch       chan string
}

func newSubscribers() *subscribers {
	return &subscribers{
		enqueued:  make(map[int]*enqueueSub),
		completed: make(map[int]chan id.JobID),
	}
}

// NotifyEnqueued signals that a job became available on channel.
func (m *Store) NotifyEnqueued(_ context.Context, channel string) error {
	m.subs.mu.Lock()
	defer m.subs.mu.Unlock()

	for _, sub := range m.subs.enqueued {
		if len(sub.channels) > 0 {
			if _, ok := sub.channels[channel]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- channel:
		default:
		}
	}
	return nil
}

// SubscribeEnqueued returns a stream of channel names with new work.
func (m *Store) SubscribeEnqueued(ctx context.Context, channels []string) (<-chan string, error) {
	sub := &enqueueSub{
		channels: make(map[string]struct{}, len(channels)),
		ch:       make(chan string, 16),
	}
	for _, c := range channels {
		sub.channels[c] = struct{}{}
	}

	m.subs.mu.Lock()
	key := m.subs.next
	m.subs.next++
	m.subs.enqueued[key] = sub
	m.subs.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.subs.mu.Lock()
		delete(m.subs.enqueued, key)
		m.subs.mu.Unlock()
		close(sub.ch)
	}()

	return sub.ch, nil
}

// NotifyCompleted signals that jobID reached succeeded.
func (m *Store) NotifyCompleted(_ context.Context, jobID id.JobID) error {
	m.subs.mu.Lock()
	defer m.subs.mu.Unlock()

	for _, ch := range m.subs.completed {
		select {
		case ch <- jobID:
		default:
		}
	}
	return nil
}

// SubscribeCompleted returns a stream of succeeded job IDs.
func (m *Store) SubscribeCompleted(ctx context.Context) (<-chan id.JobID, error) {
	ch := make(chan id.JobID, 16)

	m.subs.mu.Lock()
	key := m.subs.next
	m.subs.next++
	m.subs.completed[key] = ch
	m.subs.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.subs.mu.Lock()
		delete(m.subs.completed, key)
		m.subs.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}
