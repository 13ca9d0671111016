package job

import (
	"time"

	requeuest "github.com/famedly/requeuest"
	"github.com/famedly/requeuest/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting to be picked up by a worker.
	StatePending State = "pending"
	// StateClaimed means a worker holds the job's lease but has not
	// started executing it yet.
	StateClaimed State = "claimed"
	// StateRunning means a worker is currently delivering the request.
	StateRunning State = "running"
	// StateSucceeded means the callee accepted the request. Terminal.
	StateSucceeded State = "succeeded"
	// StateRetryScheduled means delivery failed and the job becomes
	// eligible again at NotBefore.
	StateRetryScheduled State = "retry_scheduled"
	// StateFailed means the job was failed permanently. Terminal.
	StateFailed State = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Job is one enqueued request delivery.
type Job struct {
	requeuest.Entity

	ID      id.JobID `json:"id"`
	Channel string   `json:"channel"`

	// Ordered requests a per-channel sequence at enqueue time. It is
	// consumed by the store's enqueue operation and not persisted as a
	// separate column; a persisted job's ordering is visible through
	// Sequence.
	Ordered bool `json:"-"`

	// Sequence is the per-channel enqueue order position. Nil when the
	// job was enqueued without ordering.
	Sequence *int64 `json:"sequence,omitempty"`

	// Payload is the encoded request description. Its content is the
	// request package's concern, never the queue core's.
	Payload []byte `json:"payload"`

	State State `json:"state"`

	// AttemptCount is the number of delivery attempts made so far. It
	// increases by exactly one per claim, including lease-expiry
	// reclaims.
	AttemptCount int `json:"attempt_count"`

	// NotBefore is the earliest time the job may be claimed; used for
	// retry backoff and delayed initial scheduling.
	NotBefore time.Time `json:"not_before"`

	// LeaseOwner and LeaseExpiresAt identify which worker currently
	// holds the job and until when. An expired lease is reclaimable by
	// any worker.
	LeaseOwner     id.WorkerID `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time  `json:"lease_expires_at,omitempty"`

	// LastError records the most recent delivery failure, or the
	// permanent failure reason.
	LastError string `json:"last_error,omitempty"`
}

// Completion records the successful outcome of a job. It exists if and
// only if the job reached StateSucceeded, created in the same atomic
// step as that transition.
type Completion struct {
	JobID id.JobID `json:"job_id"`

	// Response is the encoded response the callee produced.
	Response []byte `json:"response"`

	CompletedAt time.Time `json:"completed_at"`
}

// New builds a pending job for the given channel and payload, eligible
// immediately. Sequence assignment for ordered jobs is the store's
// concern at enqueue time.
func New(channel string, payload []byte, ordered bool) *Job {
	return &Job{
		Entity:    requeuest.NewEntity(),
		ID:        id.NewJobID(),
		Channel:   channel,
		Ordered:   ordered,
		Payload:   payload,
		State:     StatePending,
		NotBefore: time.Now().UTC(),
	}
}
