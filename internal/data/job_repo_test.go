package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketfeed/catalogd/internal/domain/model"
	apperrors "github.com/marketfeed/catalogd/internal/errors"
	"github.com/marketfeed/catalogd/internal/testutil"
)

func newTestJobRepo(db *sql.DB) *JobRepo {
	return NewJobRepo(db, RepoConfig{})
}

func TestJobRepoCreateDefaults(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestJobRepo(db)
		ctx := context.Background()

		req := testutil.NewJobRequest().
			WithType(model.JobTypeDiscoverCatalog).
			WithSellerRef("seller-a").
			WithPayload(nil).
			WithMaxRetries(0).
			Build()

		job, err := repo.Create(ctx, *req)
		require.NoError(t, err)
		assert.NotEmpty(t, job.ID)
		assert.Equal(t, model.JobTypeDiscoverCatalog, job.Type)
		assert.Equal(t, model.JobStatusPending, job.Status)
		assert.JSONEq(t, `{}`, string(job.Payload))
		assert.Equal(t, 3, job.MaxRetries)
		require.NotNil(t, job.SellerRef)
		assert.Equal(t, "seller-a", *job.SellerRef)

		fetched, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, fetched.ID)
		assert.Equal(t, job.Type, fetched.Type)
	})
}

func TestJobRepoCreateRejectsInvalidType(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestJobRepo(db)

		req := testutil.NewJobRequest().WithType("mystery-stage").Build()
		_, err := repo.Create(context.Background(), *req)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
	})
}

func TestJobRepoCreateBatchEmpty(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestJobRepo(db)

		jobs, err := repo.CreateBatch(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})
}

func TestJobRepoReserveOrdersByPriorityThenAge(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestJobRepo(db)
		ctx := context.Background()

		low, err := repo.Create(ctx, *testutil.NewJobRequest().WithPriority(10).Build())
		require.NoError(t, err)
		high, err := repo.Create(ctx, *testutil.NewJobRequest().WithPriority(90).Build())
		require.NoError(t, err)

		first, err := repo.ReserveNext(ctx, model.JobTypeHydrateListing, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, high.ID, first.ID)
		assert.Equal(t, model.JobStatusRunning, first.Status)
		require.NotNil(t, first.LeaseExpiresAt)

		second, err := repo.ReserveNext(ctx, model.JobTypeHydrateListing, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, low.ID, second.ID)

		_, err = repo.ReserveNext(ctx, model.JobTypeHydrateListing, time.Minute)
		assert.ErrorIs(t, err, model.ErrNoJobsAvailable)
	})
}

func TestJobRepoReserveSkipsFutureScheduled(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestJobRepo(db)
		ctx := context.Background()

		future := time.Now().Add(time.Hour)
		_, err := repo.Create(ctx, *testutil.ScheduledJobRequest(future))
		require.NoError(t, err)

		_, err = repo.ReserveNext(ctx, model.JobTypeHydrateListing, time.Minute)
		assert.ErrorIs(t, err, model.ErrNoJobsAvailable)
	})
}

func TestJobRepoReserveRequeuesExpiredLease(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestJobRepo(db)
		ctx := context.Background()

		created, err := repo.Create(ctx, *testutil.NewJobRequest().Build())
		require.NoError(t, err)

		_, err = repo.ReserveNext(ctx, model.JobTypeHydrateListing, 10*time.Millisecond)
		require.NoError(t, err)

		time.Sleep(50 * time.Millisecond)

		// The expired lease makes the job reservable again.
		reclaimed, err := repo.ReserveNext(ctx, model.JobTypeHydrateListing, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, created.ID, reclaimed.ID)
	})
}

func TestJobRepoHeartbeat(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestJobRepo(db)
		ctx := context.Background()

		_, err := repo.Create(ctx, *testutil.NewJobRequest().Build())
		require.NoError(t, err)
		job, err := repo.ReserveNext(ctx, model.JobTypeHydrateListing, time.Minute)
		require.NoError(t, err)

		require.NoError(t, repo.Heartbeat(ctx, job.ID, 2*time.Minute))

		err = repo.Heartbeat(ctx, job.ID, 0)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))

		require.NoError(t, repo.Complete(ctx, job.ID))
		err = repo.Heartbeat(ctx, job.ID, time.Minute)
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})
}

func TestJobRepoCompleteRequiresRunning(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestJobRepo(db)
		ctx := context.Background()

		created, err := repo.Create(ctx, *testutil.NewJobRequest().Build())
		require.NoError(t, err)

		// Pending jobs cannot be completed directly.
		err = repo.Complete(ctx, created.ID)
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))

		job, err := repo.ReserveNext(ctx, model.JobTypeHydrateListing, time.Minute)
		require.NoError(t, err)
		require.NoError(t, repo.Complete(ctx, job.ID))

		fetched, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, fetched.Status)
		assert.NotNil(t, fetched.CompletedAt)
	})
}

func TestJobRepoFailSchedulesRetryWithBackoff(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestJobRepo(db)
		ctx := context.Background()

		_, err := repo.Create(ctx, *testutil.NewJobRequest().WithMaxRetries(3).Build())
		require.NoError(t, err)
		job, err := repo.ReserveNext(ctx, model.JobTypeHydrateListing, time.Minute)
		require.NoError(t, err)

		failed, err := repo.Fail(ctx, job.ID, apperrors.Unavailable("upstream timeout"))
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, failed.Status)
		assert.Equal(t, 1, failed.RetryCount)
		require.NotNil(t, failed.LastError)
		assert.Contains(t, *failed.LastError, "upstream timeout")
		assert.True(t, failed.ScheduledAt.After(time.Now()), "retry must be delayed")

		// The backoff keeps the job out of the reservable set.
		_, err = repo.ReserveNext(ctx, model.JobTypeHydrateListing, time.Minute)
		assert.ErrorIs(t, err, model.ErrNoJobsAvailable)
	})
}

func TestJobRepoFailDeadLettersPermanentErrors(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestJobRepo(db)
		ctx := context.Background()

		_, err := repo.Create(ctx, *testutil.NewJobRequest().WithMaxRetries(3).Build())
		require.NoError(t, err)
		job, err := repo.ReserveNext(ctx, model.JobTypeHydrateListing, time.Minute)
		require.NoError(t, err)

		failed, err := repo.Fail(ctx, job.ID, apperrors.Validation("listing ref is malformed"))
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusDeadLettered, failed.Status)
		assert.NotNil(t, failed.CompletedAt)
	})
}

func TestJobRepoFailDeadLettersOnExhaustedRetries(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestJobRepo(db)
		ctx := context.Background()

		_, err := repo.Create(ctx, *testutil.NewJobRequest().WithMaxRetries(1).Build())
		require.NoError(t, err)
		job, err := repo.ReserveNext(ctx, model.JobTypeHydrateListing, time.Minute)
		require.NoError(t, err)

		failed, err := repo.Fail(ctx, job.ID, apperrors.Unavailable("still down"))
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusDeadLettered, failed.Status)
		assert.Equal(t, 1, failed.RetryCount)
	})
}

func TestJobRepoStats(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestJobRepo(db)
		ctx := context.Background()

		_, err := repo.Create(ctx, *testutil.NewJobRequest().WithType(model.JobTypeHydrateListing).Build())
		require.NoError(t, err)
		_, err = repo.Create(ctx, *testutil.NewJobRequest().WithType(model.JobTypeHydrateListing).Build())
		require.NoError(t, err)
		_, err = repo.Create(ctx, *testutil.DiscoverJobRequest("seller-a"))
		require.NoError(t, err)

		reserved, err := repo.ReserveNext(ctx, model.JobTypeHydrateListing, time.Minute)
		require.NoError(t, err)
		require.NoError(t, repo.Complete(ctx, reserved.ID))

		stats, err := repo.Stats(ctx)
		require.NoError(t, err)

		// Every pipeline stage is present even when it has no jobs.
		assert.Len(t, stats.Stages, len(model.PipelineJobTypes()))
		assert.Equal(t, 1, stats.Stages[model.JobTypeHydrateListing].Pending)
		assert.Equal(t, 1, stats.Stages[model.JobTypeHydrateListing].Completed)
		assert.Equal(t, 1, stats.Stages[model.JobTypeDiscoverCatalog].Pending)
		assert.Equal(t, 0, stats.Stages[model.JobTypePersistListing].Pending)
	})
}

func TestJobRepoGetByIDNotFound(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestJobRepo(db)

		_, err := repo.GetByID(context.Background(), "00000000-0000-0000-0000-000000000000")
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})
}
