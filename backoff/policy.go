package backoff

import "time"

// Policy decides what happens to a job after a failed delivery attempt:
// retry after a strategy-computed delay, or give up permanently once a
// configured attempt threshold is reached.
//
// Retry is unbounded by default. Permanent failure is opt-in: it only
// happens when MaxAttempts is set to a positive value.
type Policy struct {
	// Strategy computes the retry delay. Nil means DefaultStrategy.
	Strategy Strategy

	// MaxAttempts is the total number of delivery attempts before the
	// job is failed permanently. Zero means retry forever.
	MaxAttempts int
}

// DefaultPolicy returns an unbounded policy over DefaultStrategy.
func DefaultPolicy() Policy {
	return Policy{Strategy: DefaultStrategy()}
}

// Next returns the delay before the attempt following attempt (the
// number of attempts made so far, 1-indexed). ok is false when the
// policy's attempt budget is exhausted and the job must move to
// permanent failure instead.
func (p Policy) Next(attempt int) (delay time.Duration, ok bool) {
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		return 0, false
	}

	s := p.Strategy
	if s == nil {
		s = DefaultStrategy()
	}
	return s.Delay(attempt), true
}
