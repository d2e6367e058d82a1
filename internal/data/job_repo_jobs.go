package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/marketfeed/catalogd/internal/data/pgxutil"
	"github.com/marketfeed/catalogd/internal/domain/model"
	apperrors "github.com/marketfeed/catalogd/internal/errors"
)

const defaultRetryDelay = 30 * time.Second

func (r *JobRepo) retryDelay() time.Duration {
	if r.cfg.RetryDelay > 0 {
		return r.cfg.RetryDelay
	}
	return defaultRetryDelay
}

// SQL used by ReserveNext to atomically reserve the next job.
const reserveNextUpdateSQL = `
  WITH cte AS (
    SELECT id FROM jobs
    WHERE type = $1 AND status = 'pending' AND scheduled_at <= $2
    ORDER BY priority DESC, scheduled_at ASC, created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET
    status = 'running',
    started_at = COALESCE(j.started_at, $3),
    lease_expires_at = $4,
    updated_at = $5
  FROM cte
  WHERE j.id = cte.id
  RETURNING j.id, j.type, j.status, j.priority, j.payload, j.seller_ref, j.listing_id, j.scheduled_at, j.started_at, j.completed_at, j.retry_count, j.max_retries, j.last_error, j.lease_expires_at, j.created_at, j.updated_at`

// Create enqueues a single job and notifies waiting workers of its type.
func (r *JobRepo) Create(ctx context.Context, req model.CreateJobRequest) (*model.Job, error) {
	if validateErr := req.Validate(); validateErr != nil {
		return nil, apperrors.Wrap(validateErr, apperrors.ErrCodeValidation, "invalid job request")
	}

	var job *model.Job
	if txErr := pgxutil.WithPgxTx(ctx, r.DB, func(tx pgx.Tx) error {
		var insertErr error
		job, insertErr = r.insertJobInTx(ctx, tx, req)
		return insertErr
	}); txErr != nil {
		return nil, txErr
	}

	return job, nil
}

// CreateBatch enqueues many jobs in a single transaction. Either every job is
// created and announced, or none are. Used by the discovery stage to fan out
// hydration work for a catalog batch atomically.
func (r *JobRepo) CreateBatch(ctx context.Context, reqs []model.CreateJobRequest) ([]*model.Job, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	for i := range reqs {
		if validateErr := reqs[i].Validate(); validateErr != nil {
			return nil, apperrors.Wrapf(validateErr, apperrors.ErrCodeValidation,
				"invalid job request at index %d", i)
		}
	}

	jobs := make([]*model.Job, 0, len(reqs))
	if txErr := pgxutil.WithPgxTx(ctx, r.DB, func(tx pgx.Tx) error {
		for i := range reqs {
			job, insertErr := r.insertJobInTx(ctx, tx, reqs[i])
			if insertErr != nil {
				return fmt.Errorf("insert job %d: %w", i, insertErr)
			}
			jobs = append(jobs, job)
		}
		return nil
	}); txErr != nil {
		return nil, txErr
	}

	return jobs, nil
}

// insertJobInTx inserts a job within a pgx.Tx, announces it, and returns the created job.
func (r *JobRepo) insertJobInTx(ctx context.Context, tx pgx.Tx, req model.CreateJobRequest) (*model.Job, error) {
	query, args := r.buildInsertQuery(req)

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("insert job: %w", err))
	}
	job, collectErr := collectJobFromRows(rows)
	rows.Close()
	if collectErr != nil {
		return nil, fmt.Errorf("collect job: %w", collectErr)
	}

	channel := "job_added_" + string(req.Type)
	if _, execErr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, channel, job.ID); execErr != nil {
		return nil, fmt.Errorf("send job notification: %w", execErr)
	}

	return job, nil
}

// buildInsertQuery builds an INSERT statement for a job based on the request.
func (r *JobRepo) buildInsertQuery(req model.CreateJobRequest) (string, []any) {
	query := `
      INSERT INTO jobs(type, status, priority, payload, seller_ref, listing_id, scheduled_at, max_retries)
      VALUES ($1,'pending',$2,$3,$4,$5,$6,$7)
      RETURNING ` + jobColumns

	var scheduledAt time.Time
	if req.ScheduledAt != nil {
		scheduledAt = req.ScheduledAt.UTC()
	} else {
		scheduledAt = r.timeProvider.Now().UTC()
	}

	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	args := []any{
		req.Type,
		req.Priority,
		[]byte(payload),
		req.SellerRef,
		req.ListingID,
		scheduledAt,
		maxRetries,
	}
	return query, args
}

// collectJobFromRows collects a single job from pgx rows.
func collectJobFromRows(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}

	return job, nil
}

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	payload                                []byte
	sellerRef, listingID, lastError        sql.NullString
	startedAt, completedAt, leaseExpiresAt sql.NullTime
}

func (d *jobRowData) scanInto(scanner jobRowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.ID,
		&job.Type,
		&job.Status,
		&job.Priority,
		&d.payload,
		&d.sellerRef,
		&d.listingID,
		&job.ScheduledAt,
		&d.startedAt,
		&d.completedAt,
		&job.RetryCount,
		&job.MaxRetries,
		&d.lastError,
		&d.leaseExpiresAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
}

func (d *jobRowData) apply(job *model.Job) {
	job.Payload = cloneJSON(d.payload)
	job.SellerRef = cloneNullableString(d.sellerRef)
	job.ListingID = cloneNullableString(d.listingID)
	job.LastError = cloneNullableString(d.lastError)
	job.StartedAt = cloneNullableTime(d.startedAt)
	job.CompletedAt = cloneNullableTime(d.completedAt)
	job.LeaseExpiresAt = cloneNullableTime(d.leaseExpiresAt)
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}

	data.apply(job)
	return job, nil
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// Advisory lock namespace for requeueExpired to avoid cross-stage contention.
const advisoryLockRequeueMajor int64 = 1001

func advisoryLockRequeueMinor(jobType model.JobType) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(jobType))
	hashValue := h.Sum32()
	maxInt32 := uint32(math.MaxInt32)
	if hashValue > maxInt32 {
		hashValue &= maxInt32
	}
	return int64(hashValue)
}

// requeueExpired requeues jobs of the given type whose lease expired and
// returns the number of jobs requeued. Only one worker per stage performs the
// sweep at a time; the rest skip it.
func (r *JobRepo) requeueExpired(ctx context.Context, jobType model.JobType) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, func(tx *sql.Tx) error {
		var locked bool
		minorKey := advisoryLockRequeueMinor(jobType)
		if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1::integer, $2::integer)", advisoryLockRequeueMajor, minorKey).Scan(&locked); err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}
		if !locked {
			rowsAffected = 0
			return nil
		}

		currentTime := r.timeProvider.Now()
		res, err := tx.ExecContext(ctx, `
          UPDATE jobs
          SET status = 'pending', lease_expires_at = NULL
          WHERE type = $1 AND status = 'running'
            AND lease_expires_at IS NOT NULL
            AND lease_expires_at < $2
        `, jobType, currentTime.UTC())
		if err != nil {
			return fmt.Errorf("requeue expired: %w", err)
		}
		ra, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		rowsAffected = ra
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// ReserveNext reserves the next available job of the given type for processing.
func (r *JobRepo) ReserveNext(
	ctx context.Context,
	jobType model.JobType,
	leaseDuration time.Duration,
) (*model.Job, error) {
	if !jobType.Valid() {
		return nil, apperrors.Validationf("invalid job type: %s", jobType)
	}

	if _, err := r.requeueExpired(ctx, jobType); err != nil {
		return nil, fmt.Errorf("requeue expired jobs: %w", err)
	}

	var job *model.Job
	err := pgxutil.WithPgxTxOptions(ctx, r.DB, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		currentTime := r.timeProvider.Now()
		leaseExpiresAt := currentTime.Add(leaseDuration)

		rows, qerr := tx.Query(
			ctx,
			reserveNextUpdateSQL,
			jobType,
			currentTime.UTC(),
			currentTime.UTC(),
			leaseExpiresAt.UTC(),
			currentTime.UTC(),
		)
		if qerr != nil {
			return fmt.Errorf("reserve job: %w", qerr)
		}
		defer rows.Close()

		j, cerr := collectJobFromRows(rows)
		if errors.Is(cerr, pgx.ErrNoRows) {
			return model.ErrNoJobsAvailable
		}
		if cerr != nil {
			return fmt.Errorf("reserve job: %w", cerr)
		}
		job = j
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, err
	}
	return job, nil
}

// Heartbeat refreshes the lease on a running job.
func (r *JobRepo) Heartbeat(ctx context.Context, jobID string, leaseDuration time.Duration) error {
	if leaseDuration <= 0 {
		return apperrors.Validation("lease duration must be positive")
	}

	currentTime := r.timeProvider.Now().UTC()
	leaseExpiration := currentTime.Add(leaseDuration)

	query := `
		UPDATE jobs
		SET lease_expires_at = $2,
		    updated_at = $3
		WHERE id = $1 AND status = 'running'
	`

	res, err := r.DB.ExecContext(ctx, query, jobID, leaseExpiration, currentTime)
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("heartbeat job: %w", err))
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("heartbeat rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return apperrors.NotFound("running job")
	}

	return nil
}

// Complete marks a running job as completed successfully.
func (r *JobRepo) Complete(ctx context.Context, jobID string) error {
	currentTime := r.timeProvider.Now().UTC()

	query := `
		UPDATE jobs
		SET status = 'completed',
		    completed_at = $2,
		    updated_at = $3,
		    lease_expires_at = NULL,
		    last_error = NULL
		WHERE id = $1 AND status = 'running'
	`

	res, err := r.DB.ExecContext(ctx, query, jobID, currentTime, currentTime)
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("complete job: %w", err))
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return apperrors.NotFound("running job")
	}

	return nil
}

// Fail records a failure on a running job. Jobs with remaining retry budget
// return to pending with a backoff that doubles per prior attempt; exhausted
// jobs, and jobs whose error is known permanent, move to dead_letter. Returns
// the job in its post-transition state.
func (r *JobRepo) Fail(ctx context.Context, jobID string, jobErr error) (*model.Job, error) {
	errMsg := "unknown error"
	if jobErr != nil {
		errMsg = jobErr.Error()
	}
	retryable := !apperrors.IsPermanent(jobErr)

	currentTime := r.timeProvider.Now()

	query := `
      UPDATE jobs
      SET
        last_error = $2,
        retry_count = retry_count + 1,
        status = CASE WHEN NOT $3::boolean OR retry_count + 1 >= max_retries
                      THEN 'dead_letter' ELSE 'pending' END,
        completed_at = CASE WHEN NOT $3::boolean OR retry_count + 1 >= max_retries
                            THEN $4::timestamptz ELSE NULL END,
        lease_expires_at = NULL,
        scheduled_at = CASE WHEN NOT $3::boolean OR retry_count + 1 >= max_retries
                            THEN scheduled_at
                            ELSE $4::timestamptz + make_interval(secs => $5::double precision * power(2, retry_count)) END,
        updated_at = $4
      WHERE id = $1 AND status = 'running'
      RETURNING ` + jobColumns

	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, query,
			jobID,
			errMsg,
			retryable,
			currentTime.UTC(),
			r.retryDelay().Seconds(),
		)
		if qerr != nil {
			return fmt.Errorf("fail job: %w", qerr)
		}
		defer rows.Close()

		j, cerr := collectJobFromRows(rows)
		if cerr != nil {
			return cerr
		}
		job = j
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("running job")
	}
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}

	if job.Status == model.JobStatusDeadLettered && r.logger != nil {
		r.logger.WarnContext(ctx, "job dead-lettered",
			"job_id", job.ID,
			"type", job.Type,
			"retry_count", job.RetryCount,
			"error", errMsg,
		)
	}

	return job, nil
}

// Stats returns per-stage queue depth counters for every pipeline stage.
func (r *JobRepo) Stats(ctx context.Context) (*model.QueueStats, error) {
	stats := &model.QueueStats{Stages: make(map[model.JobType]model.JobStats)}
	for _, jt := range model.PipelineJobTypes() {
		stats.Stages[jt] = model.JobStats{}
	}

	rows, err := r.DB.QueryContext(ctx, `
  SELECT
    type,
    count(*) FILTER (WHERE status = 'pending')     AS pending,
    count(*) FILTER (WHERE status = 'running')     AS running,
    count(*) FILTER (WHERE status = 'completed')   AS completed,
    count(*) FILTER (WHERE status = 'failed')      AS failed,
    count(*) FILTER (WHERE status = 'dead_letter') AS dead_lettered
  FROM jobs
  GROUP BY type
  `)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("query job stats: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var jt model.JobType
		var s model.JobStats
		if scanErr := rows.Scan(&jt, &s.Pending, &s.Running, &s.Completed, &s.Failed, &s.DeadLettered); scanErr != nil {
			return nil, fmt.Errorf("scan job stats: %w", scanErr)
		}
		stats.Stages[jt] = s
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate job stats: %w", rowsErr)
	}

	return stats, nil
}

// WaitForNotification waits for a PostgreSQL notification indicating new jobs
// of the given type are available.
func (r *JobRepo) WaitForNotification(ctx context.Context, jobType model.JobType) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			_ = cerr
		}
	}()

	channel := "job_added_" + string(jobType)
	quoted := pgx.Identifier{channel}.Sanitize()

	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", channel, execErr)
	}
	defer func() {
		if _, execErr := conn.ExecContext(context.Background(), "UNLISTEN "+quoted); execErr != nil {
			_ = execErr
		}
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE id = $1
		`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		job, err = collectJobFromRows(rows)
		return err
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("job")
	}
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("get job: %w", err))
	}
	return job, nil
}
