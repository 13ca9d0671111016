package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	requeuest "github.com/famedly/requeuest"
	"github.com/famedly/requeuest/id"
	"github.com/famedly/requeuest/job"
)

// jobColumns is the canonical select list for requeuest_jobs.
const jobColumns = `
	id, channel, seq, payload, state, attempt_count, not_before,
	lease_owner, lease_expires_at, last_error, created_at, updated_at`

// EnqueueJob persists a new job in pending state. For ordered jobs the
// per-channel sequence is taken from an upsert-incremented counter row
// inside the same transaction, so concurrent enqueuers on one channel
// get distinct, monotonically increasing positions without ever
// retrying on a constraint conflict.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("requeuest/postgres: begin enqueue: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := EnqueueJobTx(ctx, tx, j); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("requeuest/postgres: commit enqueue: %w", err)
	}
	return nil
}

// EnqueueJobTx is EnqueueJob inside a caller-owned transaction, so a job
// can be enqueued atomically with the caller's own writes (for example
// in the same transaction that commits the business change the request
// announces). The caller commits or rolls back.
func EnqueueJobTx(ctx context.Context, tx pgx.Tx, j *job.Job) error {
	if j.Ordered && j.Sequence == nil {
		var seq int64
		err := tx.QueryRow(ctx, `
			INSERT INTO requeuest_channel_seq (channel, value)
			VALUES ($1, 1)
			ON CONFLICT (channel) DO UPDATE
			SET value = requeuest_channel_seq.value + 1
			RETURNING value`,
			j.Channel,
		).Scan(&seq)
		if err != nil {
			return fmt.Errorf("requeuest/postgres: next sequence: %w", err)
		}
		j.Sequence = &seq
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO requeuest_jobs (
			id, channel, seq, payload, state, attempt_count, not_before,
			lease_owner, lease_expires_at, last_error, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			NULL, NULL, $8, $9, $10
		)`,
		j.ID.String(), j.Channel, j.Sequence, j.Payload, string(j.State),
		j.AttemptCount, j.NotBefore,
		j.LastError, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		// Check for unique violation (duplicate ID).
		if isDuplicateKey(err) {
			return requeuest.ErrJobAlreadyExists
		}
		return fmt.Errorf("requeuest/postgres: enqueue job: %w", err)
	}
	return nil
}

// ClaimJob atomically claims one eligible job for the given worker.
// Eligible means due pending or retry_scheduled work, or a claimed or
// running job whose lease lapsed (crash takeover). Ordered jobs are
// additionally gated on every lower-sequence sibling of their channel
// being terminal. Returns (nil, nil) when nothing is eligible.
func (s *Store) ClaimJob(ctx context.Context, workerID id.WorkerID, channels []string, leaseDuration time.Duration) (*job.Job, error) {
	if channels == nil {
		channels = []string{}
	}

	row := s.pool.QueryRow(ctx, `
		WITH claimed AS (
			UPDATE requeuest_jobs
			SET state = 'claimed',
			    lease_owner = $1,
			    lease_expires_at = NOW() + make_interval(secs => $2),
			    attempt_count = attempt_count + 1,
			    updated_at = NOW()
			WHERE id = (
				SELECT j.id FROM requeuest_jobs j
				WHERE (cardinality($3::text[]) = 0 OR j.channel = ANY($3))
				  AND (
				    (j.state IN ('pending', 'retry_scheduled') AND j.not_before <= NOW())
				    OR (j.state IN ('claimed', 'running') AND j.lease_expires_at < NOW())
				  )
				  AND (j.seq IS NULL OR NOT EXISTS (
				    SELECT 1 FROM requeuest_jobs p
				    WHERE p.channel = j.channel
				      AND p.seq IS NOT NULL
				      AND p.seq < j.seq
				      AND p.state NOT IN ('succeeded', 'failed')
				  ))
				ORDER BY j.seq ASC NULLS LAST, j.not_before ASC
				FOR UPDATE OF j SKIP LOCKED
				LIMIT 1
			)
			RETURNING `+jobColumns+`
		)
		SELECT * FROM claimed`,
		workerID.String(), leaseDuration.Seconds(), channels,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("requeuest/postgres: claim job: %w", err)
	}
	return j, nil
}

// StartJob moves a claimed job to running.
func (s *Store) StartJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE requeuest_jobs
		SET state = 'running', updated_at = NOW()
		WHERE id = $1 AND state = 'claimed' AND lease_owner = $2`,
		jobID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("requeuest/postgres: start job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, jobID, requeuest.ErrNotLeaseOwner)
	}
	return nil
}

// RenewLease extends the lease of a claimed or running job.
func (s *Store) RenewLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, leaseDuration time.Duration) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE requeuest_jobs
		SET lease_expires_at = NOW() + make_interval(secs => $3), updated_at = NOW()
		WHERE id = $1 AND state IN ('claimed', 'running') AND lease_owner = $2`,
		jobID.String(), workerID.String(), leaseDuration.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("requeuest/postgres: renew lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, jobID, requeuest.ErrNotLeaseOwner)
	}
	return nil
}

// AckSuccess moves the job to succeeded and writes its completion
// record in the same transaction, then notifies waiters.
func (s *Store) AckSuccess(ctx context.Context, jobID id.JobID, workerID id.WorkerID, response []byte) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("requeuest/postgres: begin ack: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	tag, err := tx.Exec(ctx, `
		UPDATE requeuest_jobs
		SET state = 'succeeded', lease_owner = NULL, lease_expires_at = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND state IN ('claimed', 'running') AND lease_owner = $2`,
		jobID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("requeuest/postgres: ack success: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, jobID, requeuest.ErrNotLeaseOwner)
	}

	if response == nil {
		response = []byte{}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO requeuest_completions (job_id, response, completed_at)
		VALUES ($1, $2, NOW())`,
		jobID.String(), response,
	)
	if err != nil {
		return fmt.Errorf("requeuest/postgres: write completion: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("requeuest/postgres: commit ack: %w", err)
	}

	// Completion waiters fall back to polling if this is lost.
	if notifyErr := s.NotifyCompleted(ctx, jobID); notifyErr != nil {
		s.logger.Warn("failed to notify completion waiters",
			"job_id", jobID.String(), "error", notifyErr)
	}
	return nil
}

// AckRetry moves the job to retry_scheduled, eligible again at
// notBefore, and clears the lease.
func (s *Store) AckRetry(ctx context.Context, jobID id.JobID, workerID id.WorkerID, notBefore time.Time, lastError string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE requeuest_jobs
		SET state = 'retry_scheduled', not_before = $3, last_error = $4,
		    lease_owner = NULL, lease_expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND state IN ('claimed', 'running') AND lease_owner = $2`,
		jobID.String(), workerID.String(), notBefore.UTC(), lastError,
	)
	if err != nil {
		return fmt.Errorf("requeuest/postgres: ack retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, jobID, requeuest.ErrNotLeaseOwner)
	}
	return nil
}

// AckFailure moves the job to failed permanently. With a nil workerID
// any non-terminal job may be failed; this covers pre-execution
// failures such as an undecodable payload.
func (s *Store) AckFailure(ctx context.Context, jobID id.JobID, workerID id.WorkerID, reason string) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if workerID.IsNil() {
		tag, err = s.pool.Exec(ctx, `
			UPDATE requeuest_jobs
			SET state = 'failed', last_error = $2,
			    lease_owner = NULL, lease_expires_at = NULL, updated_at = NOW()
			WHERE id = $1 AND state NOT IN ('succeeded', 'failed')`,
			jobID.String(), reason,
		)
	} else {
		tag, err = s.pool.Exec(ctx, `
			UPDATE requeuest_jobs
			SET state = 'failed', last_error = $3,
			    lease_owner = NULL, lease_expires_at = NULL, updated_at = NOW()
			WHERE id = $1 AND state IN ('claimed', 'running') AND lease_owner = $2`,
			jobID.String(), workerID.String(), reason,
		)
	}
	if err != nil {
		return fmt.Errorf("requeuest/postgres: ack failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if workerID.IsNil() {
			return s.transitionError(ctx, jobID, requeuest.ErrInvalidState)
		}
		return s.transitionError(ctx, jobID, requeuest.ErrNotLeaseOwner)
	}
	return nil
}

// transitionError distinguishes a missing job from a conditional update
// that matched no row, after the fact.
func (s *Store) transitionError(ctx context.Context, jobID id.JobID, conflict error) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM requeuest_jobs WHERE id = $1)`,
		jobID.String(),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("requeuest/postgres: check job: %w", err)
	}
	if !exists {
		return requeuest.ErrJobNotFound
	}
	return conflict
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM requeuest_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, requeuest.ErrJobNotFound
		}
		return nil, fmt.Errorf("requeuest/postgres: get job: %w", err)
	}
	return j, nil
}

// GetCompletion retrieves the completion record for a succeeded job.
func (s *Store) GetCompletion(ctx context.Context, jobID id.JobID) (*job.Completion, error) {
	var c job.Completion
	err := s.pool.QueryRow(ctx, `
		SELECT job_id, response, completed_at
		FROM requeuest_completions
		WHERE job_id = $1`,
		jobID.String(),
	).Scan(&c.JobID, &c.Response, &c.CompletedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, requeuest.ErrCompletionNotFound
		}
		return nil, fmt.Errorf("requeuest/postgres: get completion: %w", err)
	}
	return &c, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM requeuest_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.Channel != "" {
		query += fmt.Sprintf(" AND channel = $%d", argIdx)
		args = append(args, opts.Channel)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
	}

	var count int64
	err := s.pool.QueryRow(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("requeuest/postgres: count jobs: %w", err)
	}
	return count, nil
}

// ClearChannels removes all non-terminal jobs from the given channels.
func (s *Store) ClearChannels(ctx context.Context, channels []string) (int64, error) {
	if channels == nil {
		channels = []string{}
	}

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM requeuest_jobs
		WHERE state NOT IN ('succeeded', 'failed')
		  AND (cardinality($1::text[]) = 0 OR channel = ANY($1))`,
		channels,
	)
	if err != nil {
		return 0, fmt.Errorf("requeuest/postgres: clear channels: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeTerminal deletes terminal jobs whose last update is older than
// olderThan. Completions go with their jobs via ON DELETE CASCADE.
func (s *Store) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM requeuest_jobs
		WHERE state IN ('succeeded', 'failed')
		  AND updated_at < NOW() - make_interval(secs => $1)`,
		olderThan.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("requeuest/postgres: purge terminal: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j        job.Job
		idStr    string
		stateStr string
		ownerStr *string
	)
	err := row.Scan(
		&idStr, &j.Channel, &j.Sequence, &j.Payload, &stateStr,
		&j.AttemptCount, &j.NotBefore,
		&ownerStr, &j.LeaseExpiresAt, &j.LastError,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("requeuest/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if ownerStr != nil && *ownerStr != "" {
		parsedWorker, workerErr := id.ParseWorkerID(*ownerStr)
		if workerErr != nil {
			return nil, fmt.Errorf("requeuest/postgres: parse lease owner %q for job %s: %w", *ownerStr, idStr, workerErr)
		}
		j.LeaseOwner = parsedWorker
	}

	return &j, nil
}
