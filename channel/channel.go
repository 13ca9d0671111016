// Package channel provides per-channel delivery throttling: token
// bucket rate limits and local concurrency caps enforced by the worker
// pool before it starts a claimed job.
package channel

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-channel behaviour such as rate limiting and
// concurrency.
type Config struct {
	// Name is the channel identifier (must match the job.Channel field).
	Name string

	// MaxConcurrency limits how many deliveries from this channel may
	// run simultaneously across the local worker pool. Zero means no
	// channel-specific limit (pool-wide concurrency still applies).
	// Ordered channels are effectively serial already; this matters for
	// unordered ones.
	MaxConcurrency int

	// RateLimit is the maximum sustained deliveries per second for this
	// channel. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// channelState tracks runtime state for a single channel.
type channelState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager controls per-channel rate limiting and concurrency.
// It is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	channels map[string]*channelState
}

// NewManager creates a Manager with the given channel configurations.
// Channels not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		channels: make(map[string]*channelState, len(configs)),
	}
	for _, cfg := range configs {
		m.channels[cfg.Name] = newChannelState(cfg)
	}
	return m
}

func newChannelState(cfg Config) *channelState {
	cs := &channelState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		cs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return cs
}

// Acquire checks rate limits and concurrency for the given channel. If
// the delivery is allowed to proceed it increments the active counter
// and returns true. The caller MUST call Release when the delivery
// completes.
func (m *Manager) Acquire(channel string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs := m.channels[channel]
	if cs != nil {
		// Concurrency first: a concurrency rejection must not consume a
		// rate token, or callers retrying for a slot drain the budget.
		if cs.config.MaxConcurrency > 0 && cs.active >= cs.config.MaxConcurrency {
			return false
		}
		if cs.limiter != nil && !cs.limiter.Allow() {
			return false
		}
		cs.active++
	}

	return true
}

// Release decrements the active delivery count for the channel.
func (m *Manager) Release(channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cs := m.channels[channel]; cs != nil && cs.active > 0 {
		cs.active--
	}
}

// SetConfig dynamically updates (or creates) a channel configuration.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.channels[cfg.Name]
	cs := newChannelState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		cs.active = existing.active
	}
	m.channels[cfg.Name] = cs
}

// ActiveCount returns the current number of active deliveries for a
// channel.
func (m *Manager) ActiveCount(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cs := m.channels[channel]; cs != nil {
		return cs.active
	}
	return 0
}
