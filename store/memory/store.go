// Package memory provides a fully in-memory store and notifier.
// Safe for concurrent access. Intended for unit testing and development;
// it offers no durability and no cross-process coordination.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	requeuest "github.com/famedly/requeuest"
	"github.com/famedly/requeuest/id"
	"github.com/famedly/requeuest/job"
)

// Ensure Store implements the persistence and notification contracts.
var (
	_ job.Store    = (*Store)(nil)
	_ job.Notifier = (*Store)(nil)
)

// Store is an in-memory implementation of job.Store and job.Notifier.
type Store struct {
	mu sync.Mutex

	jobs        map[string]*job.Job
	completions map[string]*job.Completion
	sequences   map[string]int64

	subs *subscribers
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:        make(map[string]*job.Job),
		completions: make(map[string]*job.Completion),
		sequences:   make(map[string]int64),
		subs:        newSubscribers(),
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// job.Store
// ──────────────────────────────────────────────────

// EnqueueJob persists a new job in pending state, assigning the next
// per-channel sequence when ordering is requested.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return requeuest.ErrJobAlreadyExists
	}

	if j.Ordered && j.Sequence == nil {
		m.sequences[j.Channel]++
		seq := m.sequences[j.Channel]
		j.Sequence = &seq
	}

	cp := *j
	m.jobs[key] = &cp
	return nil
}

// ClaimJob atomically claims one eligible job for the given worker.
func (m *Store) ClaimJob(_ context.Context, workerID id.WorkerID, channels []string, leaseDuration time.Duration) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	channelSet := make(map[string]struct{}, len(channels))
	for _, c := range channels {
		channelSet[c] = struct{}{}
	}

	now := time.Now().UTC()

	var candidates []*job.Job
	for _, j := range m.jobs {
		if len(channelSet) > 0 {
			if _, ok := channelSet[j.Channel]; !ok {
				continue
			}
		}
		if !m.eligible(j, now) {
			continue
		}
		if j.Sequence != nil && m.blockedByPredecessor(j) {
			continue
		}
		candidates = append(candidates, j)
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	// Sequence ASC (nil last), then NotBefore ASC.
	sort.Slice(candidates, func(i, k int) bool {
		a, b := candidates[i], candidates[k]
		switch {
		case a.Sequence != nil && b.Sequence != nil && *a.Sequence != *b.Sequence:
			return *a.Sequence < *b.Sequence
		case (a.Sequence != nil) != (b.Sequence != nil):
			return a.Sequence != nil
		default:
			return a.NotBefore.Before(b.NotBefore)
		}
	})

	j := candidates[0]
	j.State = job.StateClaimed
	j.LeaseOwner = workerID
	exp := now.Add(leaseDuration)
	j.LeaseExpiresAt = &exp
	j.AttemptCount++
	j.UpdatedAt = now

	cp := *j
	return &cp, nil
}

// eligible reports whether j may be claimed at now, ordering aside.
func (m *Store) eligible(j *job.Job, now time.Time) bool {
	switch j.State {
	case job.StatePending, job.StateRetryScheduled:
		return !j.NotBefore.After(now)
	case job.StateClaimed, job.StateRunning:
		// Reclaimable only once the lease lapsed.
		return j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(now)
	default:
		return false
	}
}

// blockedByPredecessor reports whether a lower-sequence sibling on the
// same channel is still outstanding.
func (m *Store) blockedByPredecessor(j *job.Job) bool {
	for _, other := range m.jobs {
		if other.Channel != j.Channel || other.Sequence == nil {
			continue
		}
		if *other.Sequence < *j.Sequence && !other.State.Terminal() {
			return true
		}
	}
	return false
}

// StartJob moves a claimed job to running.
func (m *Store) StartJob(_ context.Context, jobID id.JobID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return requeuest.ErrJobNotFound
	}
	if j.State != job.StateClaimed || j.LeaseOwner.String() != workerID.String() {
		return requeuest.ErrNotLeaseOwner
	}

	j.State = job.StateRunning
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// RenewLease extends the lease of a leased job.
func (m *Store) RenewLease(_ context.Context, jobID id.JobID, workerID id.WorkerID, leaseDuration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.leased(jobID, workerID)
	if err != nil {
		return err
	}

	exp := time.Now().UTC().Add(leaseDuration)
	j.LeaseExpiresAt = &exp
	return nil
}

// AckSuccess moves the job to succeeded and writes its completion in
// the same critical section.
func (m *Store) AckSuccess(_ context.Context, jobID id.JobID, workerID id.WorkerID, response []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.leased(jobID, workerID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	j.State = job.StateSucceeded
	j.LeaseOwner = id.Nil
	j.LeaseExpiresAt = nil
	j.UpdatedAt = now

	m.completions[jobID.String()] = &job.Completion{
		JobID:       jobID,
		Response:    response,
		CompletedAt: now,
	}
	return nil
}

// AckRetry moves the job to retry_scheduled and clears the lease.
func (m *Store) AckRetry(_ context.Context, jobID id.JobID, workerID id.WorkerID, notBefore time.Time, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.leased(jobID, workerID)
	if err != nil {
		return err
	}

	j.State = job.StateRetryScheduled
	j.NotBefore = notBefore.UTC()
	j.LastError = lastError
	j.LeaseOwner = id.Nil
	j.LeaseExpiresAt = nil
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// AckFailure moves the job to failed permanently.
func (m *Store) AckFailure(_ context.Context, jobID id.JobID, workerID id.WorkerID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		j   *job.Job
		err error
	)
	if workerID.IsNil() {
		var ok bool
		j, ok = m.jobs[jobID.String()]
		if !ok {
			return requeuest.ErrJobNotFound
		}
		if j.State.Terminal() {
			return requeuest.ErrInvalidState
		}
	} else if j, err = m.leased(jobID, workerID); err != nil {
		return err
	}

	j.State = job.StateFailed
	j.LastError = reason
	j.LeaseOwner = id.Nil
	j.LeaseExpiresAt = nil
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// leased returns the job iff workerID currently holds its lease.
// Callers hold m.mu.
func (m *Store) leased(jobID id.JobID, workerID id.WorkerID) (*job.Job, error) {
	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, requeuest.ErrJobNotFound
	}
	if j.State != job.StateClaimed && j.State != job.StateRunning {
		return nil, requeuest.ErrNotLeaseOwner
	}
	if j.LeaseOwner.String() != workerID.String() {
		return nil, requeuest.ErrNotLeaseOwner
	}
	return j, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, requeuest.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// GetCompletion retrieves the completion record for a succeeded job.
func (m *Store) GetCompletion(_ context.Context, jobID id.JobID) (*job.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.completions[jobID.String()]
	if !ok {
		return nil, requeuest.ErrCompletionNotFound
	}
	cp := *c
	return &cp, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, j := range m.jobs {
		if opts.Channel != "" && j.Channel != opts.Channel {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		n++
	}
	return n, nil
}

// ClearChannels removes all non-terminal jobs from the given channels.
func (m *Store) ClearChannels(_ context.Context, channels []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	channelSet := make(map[string]struct{}, len(channels))
	for _, c := range channels {
		channelSet[c] = struct{}{}
	}

	var n int64
	for key, j := range m.jobs {
		if j.State.Terminal() {
			continue
		}
		if len(channelSet) > 0 {
			if _, ok := channelSet[j.Channel]; !ok {
				continue
			}
		}
		delete(m.jobs, key)
		n++
	}
	return n, nil
}

// PurgeTerminal deletes terminal jobs older than olderThan.
func (m *Store) PurgeTerminal(_ context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var n int64
	for key, j := range m.jobs {
		if !j.State.Terminal() || !j.UpdatedAt.Before(cutoff) {
			continue
		}
		delete(m.jobs, key)
		delete(m.completions, key)
		n++
	}
	return n, nil
}
