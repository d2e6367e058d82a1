package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/marketfeed/catalogd/internal/core"
	"github.com/marketfeed/catalogd/internal/data/pgxutil"
)

// Advisory lock namespace for reaper operations so only one reaper instance
// sweeps at a time.
const (
	advisoryLockReaperMajor      int64 = 1000
	advisoryLockReaperStaleMinor int64 = 1
	advisoryLockReaperPurgeMinor int64 = 2
)

// FailStalePendingJobs fails pending jobs that have been waiting longer than
// maxAge. These are jobs nothing will ever pick up, usually left behind by a
// stage that was disabled or misconfigured.
func (r *JobRepo) FailStalePendingJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if batchSize < 1 {
		batchSize = 1
	}

	var total int64
	err := pgxutil.WithSQLTx(ctx, r.DB, func(tx *sql.Tx) error {
		var locked bool
		if err := tx.QueryRowContext(ctx,
			"SELECT pg_try_advisory_xact_lock($1::integer, $2::integer)",
			advisoryLockReaperMajor, advisoryLockReaperStaleMinor,
		).Scan(&locked); err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}
		if !locked {
			return nil
		}

		currentTime := r.timeProvider.Now().UTC()
		cutoff := currentTime.Add(-maxAge)

		res, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'failed',
			    last_error = 'job expired before being processed',
			    completed_at = $1,
			    updated_at = $1
			WHERE id IN (
				SELECT id FROM jobs
				WHERE status = 'pending' AND created_at < $2
				ORDER BY created_at ASC
				LIMIT $3
			)
		`, currentTime, cutoff, batchSize)
		if err != nil {
			return fmt.Errorf("fail stale pending jobs: %w", err)
		}

		ra, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		total = ra
		return nil
	})
	if err != nil {
		return 0, err
	}

	if total > 0 && r.logger != nil {
		r.logger.InfoContext(ctx, "failed stale pending jobs", "count", total)
	}
	return total, nil
}

// DeleteOldJobs removes terminal jobs past their retention windows, in
// batches. Completed and failed jobs share one window; dead-lettered jobs
// keep their own, longer window so operators can inspect them.
func (r *JobRepo) DeleteOldJobs(ctx context.Context, params core.DeleteOldJobsParams) (int64, error) {
	batchSize := params.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	var total int64
	err := pgxutil.WithSQLTx(ctx, r.DB, func(tx *sql.Tx) error {
		var locked bool
		if err := tx.QueryRowContext(ctx,
			"SELECT pg_try_advisory_xact_lock($1::integer, $2::integer)",
			advisoryLockReaperMajor, advisoryLockReaperPurgeMinor,
		).Scan(&locked); err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}
		if !locked {
			return nil
		}

		currentTime := r.timeProvider.Now().UTC()
		completedCutoff := currentTime.Add(-params.CompletedMaxAge)
		deadLetterCutoff := currentTime.Add(-params.DeadLetterMaxAge)

		res, err := tx.ExecContext(ctx, `
			DELETE FROM jobs
			WHERE id IN (
				SELECT id FROM jobs
				WHERE (status IN ('completed', 'failed') AND completed_at < $1)
				   OR (status = 'dead_letter' AND completed_at < $2)
				ORDER BY completed_at ASC
				LIMIT $3
			)
		`, completedCutoff, deadLetterCutoff, batchSize)
		if err != nil {
			return fmt.Errorf("delete old jobs: %w", err)
		}

		ra, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		total = ra
		return nil
	})
	if err != nil {
		return 0, err
	}

	if total > 0 && r.logger != nil {
		r.logger.InfoContext(ctx, "deleted old terminal jobs", "count", total)
	}
	return total, nil
}
