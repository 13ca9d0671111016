package requeuest

import "time"

// Config holds the worker-side configuration shared by the client and
// the worker pool.
type Config struct {
	// Channels is the list of channels this process's workers service.
	// Empty means all channels.
	Channels []string

	// Concurrency is the number of concurrent claim loops.
	Concurrency int

	// PollInterval is how often an idle worker polls the store for
	// eligible jobs when no notification arrives. It is also the cadence
	// of the completion waiter's polling fallback.
	PollInterval time.Duration

	// LeaseDuration is how long a claim remains exclusive before other
	// workers may reclaim the job. Leases are renewed at half this
	// interval while execution is in flight.
	LeaseDuration time.Duration

	// ShutdownTimeout is the maximum time Close waits for claim loops
	// to drain.
	ShutdownTimeout time.Duration

	// FailureThreshold is the number of consecutive store failures after
	// which a claim loop gives up and surfaces its error through the
	// worker handle.
	FailureThreshold int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:      4,
		PollInterval:     time.Second,
		LeaseDuration:    30 * time.Second,
		ShutdownTimeout:  30 * time.Second,
		FailureThreshold: 30,
	}
}
