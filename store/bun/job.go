package bunstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	requeuest "github.com/famedly/requeuest"
	"github.com/famedly/requeuest/id"
	"github.com/famedly/requeuest/job"
)

// EnqueueJob persists a new job in pending state inside its own
// transaction.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return EnqueueJobTx(ctx, tx, j)
	})
}

// EnqueueJobTx persists a new job inside a caller-supplied transaction,
// so the enqueue commits atomically with the caller's own writes. For
// ordered jobs the per-channel sequence comes from an upsert-incremented
// counter row in the same transaction as the insert.
func EnqueueJobTx(ctx context.Context, tx bun.Tx, j *job.Job) error {
	if j.Ordered && j.Sequence == nil {
		var seq int64
		err := tx.NewRaw(`
			INSERT INTO requeuest_channel_seq (channel, value)
			VALUES (?, 1)
			ON CONFLICT (channel) DO UPDATE
			SET value = requeuest_channel_seq.value + 1
			RETURNING value`,
			j.Channel,
		).Scan(ctx, &seq)
		if err != nil {
			return fmt.Errorf("requeuest/bun: next sequence: %w", err)
		}
		j.Sequence = &seq
	}

	m := toJobModel(j)
	_, err := tx.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return requeuest.ErrJobAlreadyExists
		}
		return fmt.Errorf("requeuest/bun: enqueue job: %w", err)
	}
	return nil
}

// ClaimJob atomically claims one eligible job for the given worker via
// raw SQL with FOR UPDATE SKIP LOCKED. Returns (nil, nil) when nothing
// is eligible. Same query shape as the pgx store.
func (s *Store) ClaimJob(ctx context.Context, workerID id.WorkerID, channels []string, leaseDuration time.Duration) (*job.Job, error) {
	if channels == nil {
		channels = []string{}
	}

	var models []jobModel
	err := s.db.NewRaw(`
		WITH claimed AS (
			UPDATE requeuest_jobs
			SET state = 'claimed',
			    lease_owner = ?0,
			    lease_expires_at = NOW() + make_interval(secs => ?1),
			    attempt_count = attempt_count + 1,
			    updated_at = NOW()
			WHERE id = (
				SELECT j.id FROM requeuest_jobs j
				WHERE (cardinality(?2::text[]) = 0 OR j.channel = ANY(?2))
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
			RETURNING *
		)
		SELECT * FROM claimed`,
		workerID.String(), leaseDuration.Seconds(), pgdialect.Array(channels),
	).Scan(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("requeuest/bun: claim job: %w", err)
	}
	if len(models) == 0 {
		return nil, nil //nolint:nilnil // no eligible job is not an error
	}
	return fromJobModel(&models[0])
}

// StartJob moves a claimed job to running.
func (s *Store) StartJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	res, err := s.db.NewUpdate().
		TableExpr("requeuest_jobs").
		Set("state = 'running'").
		Set("updated_at = NOW()").
		Where("id = ?", jobID.String()).
		Where("state = 'claimed'").
		Where("lease_owner = ?", workerID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("requeuest/bun: start job: %w", err)
	}
	return s.checkTransition(ctx, res, jobID, requeuest.ErrNotLeaseOwner)
}

// RenewLease extends the lease of a claimed or running job.
func (s *Store) RenewLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, leaseDuration time.Duration) error {
	res, err := s.db.NewUpdate().
		TableExpr("requeuest_jobs").
		Set("lease_expires_at = NOW() + make_interval(secs => ?)", leaseDuration.Seconds()).
		Set("updated_at = NOW()").
		Where("id = ?", jobID.String()).
		Where("state IN ('claimed', 'running')").
		Where("lease_owner = ?", workerID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("requeuest/bun: renew lease: %w", err)
	}
	return s.checkTransition(ctx, res, jobID, requeuest.ErrNotLeaseOwner)
}

// AckSuccess moves the job to succeeded and writes its completion
// record in the same transaction, then notifies waiters.
func (s *Store) AckSuccess(ctx context.Context, jobID id.JobID, workerID id.WorkerID, response []byte) error {
	if response == nil {
		response = []byte{}
	}

	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			TableExpr("requeuest_jobs").
			Set("state = 'succeeded'").
			Set("lease_owner = NULL").
			Set("lease_expires_at = NULL").
			Set("updated_at = NOW()").
			Where("id = ?", jobID.String()).
			Where("state IN ('claimed', 'running')").
			Where("lease_owner = ?", workerID.String()).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("requeuest/bun: ack success: %w", err)
		}
		if txErr := s.checkTransition(ctx, res, jobID, requeuest.ErrNotLeaseOwner); txErr != nil {
			return txErr
		}

		_, err = tx.NewInsert().Model(&completionModel{
			JobID:       jobID.String(),
			Response:    response,
			CompletedAt: time.Now().UTC(),
		}).Exec(ctx)
		if err != nil {
			return fmt.Errorf("requeuest/bun: write completion: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
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
	res, err := s.db.NewUpdate().
		TableExpr("requeuest_jobs").
		Set("state = 'retry_scheduled'").
		Set("not_before = ?", notBefore.UTC()).
		Set("last_error = ?", lastError).
		Set("lease_owner = NULL").
		Set("lease_expires_at = NULL").
		Set("updated_at = NOW()").
		Where("id = ?", jobID.String()).
		Where("state IN ('claimed', 'running')").
		Where("lease_owner = ?", workerID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("requeuest/bun: ack retry: %w", err)
	}
	return s.checkTransition(ctx, res, jobID, requeuest.ErrNotLeaseOwner)
}

// AckFailure moves the job to failed permanently. With a nil workerID
// any non-terminal job may be failed.
func (s *Store) AckFailure(ctx context.Context, jobID id.JobID, workerID id.WorkerID, reason string) error {
	q := s.db.NewUpdate().
		TableExpr("requeuest_jobs").
		Set("state = 'failed'").
		Set("last_error = ?", reason).
		Set("lease_owner = NULL").
		Set("lease_expires_at = NULL").
		Set("updated_at = NOW()").
		Where("id = ?", jobID.String())

	conflict := requeuest.ErrNotLeaseOwner
	if workerID.IsNil() {
		q = q.Where("state NOT IN ('succeeded', 'failed')")
		conflict = requeuest.ErrInvalidState
	} else {
		q = q.Where("state IN ('claimed', 'running')").
			Where("lease_owner = ?", workerID.String())
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("requeuest/bun: ack failure: %w", err)
	}
	return s.checkTransition(ctx, res, jobID, conflict)
}

// checkTransition distinguishes a missing job from a conditional update
// that matched no row.
func (s *Store) checkTransition(ctx context.Context, res sql.Result, jobID id.JobID, conflict error) error {
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows > 0 {
		return nil
	}

	exists, err := s.db.NewSelect().
		TableExpr("requeuest_jobs").
		Where("id = ?", jobID.String()).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("requeuest/bun: check job: %w", err)
	}
	if !exists {
		return requeuest.ErrJobNotFound
	}
	return conflict
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, requeuest.ErrJobNotFound
		}
		return nil, fmt.Errorf("requeuest/bun: get job: %w", err)
	}
	return fromJobModel(m)
}

// GetCompletion retrieves the completion record for a succeeded job.
func (s *Store) GetCompletion(ctx context.Context, jobID id.JobID) (*job.Completion, error) {
	m := new(completionModel)
	err := s.db.NewSelect().Model(m).
		Where("job_id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, requeuest.ErrCompletionNotFound
		}
		return nil, fmt.Errorf("requeuest/bun: get completion: %w", err)
	}
	return fromCompletionModel(m)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	q := s.db.NewSelect().TableExpr("requeuest_jobs")

	if opts.Channel != "" {
		q = q.Where("channel = ?", opts.Channel)
	}
	if opts.State != "" {
		q = q.Where("state = ?", string(opts.State))
	}

	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("requeuest/bun: count jobs: %w", err)
	}
	return int64(count), nil
}

// ClearChannels removes all non-terminal jobs from the given channels.
func (s *Store) ClearChannels(ctx context.Context, channels []string) (int64, error) {
	if channels == nil {
		channels = []string{}
	}

	res, err := s.db.NewDelete().
		TableExpr("requeuest_jobs").
		Where("state NOT IN ('succeeded', 'failed')").
		Where("cardinality(?::text[]) = 0 OR channel = ANY(?)",
			pgdialect.Array(channels), pgdialect.Array(channels)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("requeuest/bun: clear channels: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// PurgeTerminal deletes terminal jobs whose last update is older than
// olderThan. Completions go with their jobs via ON DELETE CASCADE.
func (s *Store) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.NewDelete().
		TableExpr("requeuest_jobs").
		Where("state IN ('succeeded', 'failed')").
		Where("updated_at < NOW() - make_interval(secs => ?)", olderThan.Seconds()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("requeuest/bun: purge terminal: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}
