// Package job defines the queued request entity, its lifecycle state
// machine, and the persistence and notification contracts every store
// backend implements.
//
// # Lifecycle
//
// A job is created pending, moves to claimed when a worker takes its
// lease, to running when execution starts, and from there to one of the
// terminal states (succeeded, failed) or back into the queue via
// retry_scheduled. Expired leases make claimed/running jobs reclaimable
// by any worker, which is the sole crash recovery mechanism.
//
//	pending ──► claimed ──► running ──► succeeded
//	   ▲            │           │
//	   │        (lease       ├──► retry_scheduled ──► (claimed …)
//	   │         expiry)       └──► failed
//	   └────────────┴── reclaim by another worker, attempt_count+1
//
// # Ordering
//
// Jobs enqueued with ordering enabled carry a per-channel sequence
// number allocated atomically at enqueue time. The claim predicate
// admits such a job only once every lower-sequence job on its channel
// is terminal, so ordered channels execute strictly in enqueue order.
package job
