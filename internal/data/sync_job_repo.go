package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/marketfeed/catalogd/internal/data/pgxutil"
	"github.com/marketfeed/catalogd/internal/domain/model"
	apperrors "github.com/marketfeed/catalogd/internal/errors"
)

// SyncJobRepo provides database operations for per-seller sync records.
type SyncJobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewSyncJobRepo creates a new SyncJobRepo instance.
func NewSyncJobRepo(db *sql.DB, tp TimeProvider) *SyncJobRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &SyncJobRepo{DB: db, timeProvider: tp}
}

const syncJobColumns = `
  seller_ref,
  catalog_url,
  status,
  added,
  removed,
  updated,
  last_run_at,
  last_error,
  created_at,
  updated_at
`

// Register creates or updates the sync record for a seller. Re-registering an
// existing seller updates its catalog URL and resets the record to pending.
func (r *SyncJobRepo) Register(ctx context.Context, req model.RegisterSellerRequest) (*model.SyncJob, error) {
	if validateErr := req.Validate(); validateErr != nil {
		return nil, apperrors.Wrap(validateErr, apperrors.ErrCodeValidation, "invalid seller registration")
	}

	currentTime := r.timeProvider.Now().UTC()
	var job model.SyncJob
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			INSERT INTO sync_jobs (seller_ref, catalog_url, status, created_at, updated_at)
			VALUES ($1, $2, 'pending', $3, $3)
			ON CONFLICT (seller_ref) DO UPDATE SET
				catalog_url = EXCLUDED.catalog_url,
				status      = 'pending',
				updated_at  = EXCLUDED.updated_at
			RETURNING `+syncJobColumns, req.SellerRef, req.CatalogURL, currentTime)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()

		val, cerr := pgx.CollectOneRow(rows, pgx.RowToStructByName[model.SyncJob])
		if cerr != nil {
			return cerr
		}
		job = val
		return nil
	})
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("register seller: %w", err))
	}
	return &job, nil
}

// GetBySeller returns the sync record for a seller.
func (r *SyncJobRepo) GetBySeller(ctx context.Context, sellerRef string) (*model.SyncJob, error) {
	var job model.SyncJob
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			SELECT `+syncJobColumns+`
			FROM sync_jobs
			WHERE seller_ref = $1
		`, sellerRef)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()

		val, cerr := pgx.CollectOneRow(rows, pgx.RowToStructByName[model.SyncJob])
		if cerr != nil {
			return cerr
		}
		job = val
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("seller")
	}
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("get sync job: %w", err))
	}
	return &job, nil
}

// List returns all registered sellers ordered by seller ref.
func (r *SyncJobRepo) List(ctx context.Context) ([]*model.SyncJob, error) {
	var result []*model.SyncJob
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			SELECT `+syncJobColumns+`
			FROM sync_jobs
			ORDER BY seller_ref ASC
		`)
		if qerr != nil {
			return fmt.Errorf("query sync jobs: %w", qerr)
		}
		defer rows.Close()

		vals, cerr := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.SyncJob])
		if cerr != nil {
			return fmt.Errorf("collect sync jobs: %w", cerr)
		}
		result = vals
		return nil
	}); err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return result, nil
}

// MarkRunning transitions a seller's sync to running and stamps the run time.
func (r *SyncJobRepo) MarkRunning(ctx context.Context, sellerRef string) error {
	currentTime := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE sync_jobs
		SET status = 'running',
		    last_run_at = $2,
		    updated_at = $2
		WHERE seller_ref = $1
	`, sellerRef, currentTime)
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("mark sync running: %w", err))
	}
	return requireRowAffected(res, "seller")
}

// MarkCompleted records a successful sync with its outcome counts.
func (r *SyncJobRepo) MarkCompleted(ctx context.Context, sellerRef string, counts model.SyncCounts) error {
	currentTime := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE sync_jobs
		SET status = 'completed',
		    added = $2,
		    removed = $3,
		    updated = $4,
		    last_error = NULL,
		    updated_at = $5
		WHERE seller_ref = $1
	`, sellerRef, counts.Added, counts.Removed, counts.Updated, currentTime)
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("mark sync completed: %w", err))
	}
	return requireRowAffected(res, "seller")
}

// MarkFailed records a failed sync attempt. Counts from the previous
// completed run are left untouched.
func (r *SyncJobRepo) MarkFailed(ctx context.Context, sellerRef string, syncErr error) error {
	errMsg := "unknown error"
	if syncErr != nil {
		errMsg = syncErr.Error()
	}

	currentTime := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE sync_jobs
		SET status = 'failed',
		    last_error = $2,
		    updated_at = $3
		WHERE seller_ref = $1
	`, sellerRef, errMsg, currentTime)
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("mark sync failed: %w", err))
	}
	return requireRowAffected(res, "seller")
}

// RecordHeartbeat adds heartbeat outcome counts to a seller's record. The
// counters are additive so repeated cycles accumulate between discovery runs;
// the next MarkCompleted resets them.
func (r *SyncJobRepo) RecordHeartbeat(ctx context.Context, sellerRef string, counts model.SyncCounts) error {
	currentTime := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE sync_jobs
		SET removed = removed + $2,
		    updated = updated + $3,
		    updated_at = $4
		WHERE seller_ref = $1
	`, sellerRef, counts.Removed, counts.Updated, currentTime)
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("record heartbeat counts: %w", err))
	}
	return requireRowAffected(res, "seller")
}
