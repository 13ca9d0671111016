package job

import (
	"context"
	"time"

	"github.com/famedly/requeuest/id"
)

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Channel filters by channel name. Empty means all channels.
	Channel string
	// State filters by job state. Empty means all states.
	State State
}

// Store defines the persistence contract for jobs. Every mutation is a
// single atomic state transition; the store's row-level conditional
// update is the only mutual exclusion primitive in the system.
type Store interface {
	// EnqueueJob persists a new job in pending state. When j.Ordered is
	// set it atomically assigns the next per-channel sequence number in
	// the same transaction as the insert.
	EnqueueJob(ctx context.Context, j *Job) error

	// ClaimJob atomically claims one eligible job for the given worker:
	// state pending or retry_scheduled with NotBefore due, or claimed or
	// running with an expired lease (crash takeover). Ordered jobs are
	// eligible only once every lower-sequence sibling on their channel
	// is terminal. The claim sets state claimed, takes the lease for
	// leaseDuration, and increments AttemptCount. An empty channels
	// slice claims from all channels.
	//
	// Returns (nil, nil) when no job is eligible. No two concurrent
	// callers can claim the same job.
	ClaimJob(ctx context.Context, workerID id.WorkerID, channels []string, leaseDuration time.Duration) (*Job, error)

	// StartJob moves a claimed job to running. Fails with
	// requeuest.ErrNotLeaseOwner unless workerID holds the lease.
	StartJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// RenewLease extends the lease of a claimed or running job by
	// leaseDuration from now. Fails unless workerID holds the lease.
	RenewLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, leaseDuration time.Duration) error

	// AckSuccess moves the job to succeeded and writes its Completion
	// record in the same transaction. Fails unless workerID holds the
	// lease.
	AckSuccess(ctx context.Context, jobID id.JobID, workerID id.WorkerID, response []byte) error

	// AckRetry moves the job to retry_scheduled, eligible again at
	// notBefore, and clears the lease. Fails unless workerID holds the
	// lease.
	AckRetry(ctx context.Context, jobID id.JobID, workerID id.WorkerID, notBefore time.Time, lastError string) error

	// AckFailure moves the job to failed permanently, recording the
	// reason, and clears the lease. workerID may be id.Nil for
	// pre-execution failures such as an undecodable payload.
	AckFailure(ctx context.Context, jobID id.JobID, workerID id.WorkerID, reason string) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// GetCompletion retrieves the completion record for a succeeded job.
	// Returns requeuest.ErrCompletionNotFound while the job has not
	// succeeded.
	GetCompletion(ctx context.Context, jobID id.JobID) (*Completion, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// ClearChannels removes all non-terminal jobs from the given
	// channels (empty = all channels) and reports how many were removed.
	ClearChannels(ctx context.Context, channels []string) (int64, error)

	// PurgeTerminal deletes terminal jobs, and their completions, whose
	// last update is older than olderThan. Retention housekeeping only;
	// the queue core never calls this.
	PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Notifier wakes idle workers and completion waiters promptly when new
// work or a new completion appears. It is a liveness optimization only:
// notifications may be lost, so every consumer keeps a polling fallback.
type Notifier interface {
	// NotifyEnqueued signals that a job became available on channel.
	NotifyEnqueued(ctx context.Context, channel string) error

	// SubscribeEnqueued returns a stream of channel names with newly
	// available work, filtered to channels (empty = all). The stream
	// closes when ctx is cancelled.
	SubscribeEnqueued(ctx context.Context, channels []string) (<-chan string, error)

	// NotifyCompleted signals that jobID reached succeeded.
	NotifyCompleted(ctx context.Context, jobID id.JobID) error

	// SubscribeCompleted returns a stream of job IDs that reached
	// succeeded. The stream closes when ctx is cancelled.
	SubscribeCompleted(ctx context.Context) (<-chan id.JobID, error)
}
