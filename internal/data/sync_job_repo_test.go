package data

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketfeed/catalogd/internal/domain/model"
	apperrors "github.com/marketfeed/catalogd/internal/errors"
	"github.com/marketfeed/catalogd/internal/testutil"
)

func newTestSyncJobRepo(db *sql.DB) *SyncJobRepo {
	return NewSyncJobRepo(db, nil)
}

func TestSyncJobRepoRegisterUpsertsSeller(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestSyncJobRepo(db)
		ctx := context.Background()

		job, err := repo.Register(ctx, model.RegisterSellerRequest{
			SellerRef:  "seller-a",
			CatalogURL: "https://shop.example.com/catalog",
		})
		require.NoError(t, err)
		assert.Equal(t, "seller-a", job.SellerRef)
		assert.Equal(t, model.SyncStatusPending, job.Status)

		// Re-registering swaps the catalog URL and resets the record to pending.
		require.NoError(t, repo.MarkFailed(ctx, "seller-a", errors.New("catalog unreachable")))
		job, err = repo.Register(ctx, model.RegisterSellerRequest{
			SellerRef:  "seller-a",
			CatalogURL: "https://shop.example.com/catalog-v2",
		})
		require.NoError(t, err)
		assert.Equal(t, "https://shop.example.com/catalog-v2", job.CatalogURL)
		assert.Equal(t, model.SyncStatusPending, job.Status)
	})
}

func TestSyncJobRepoRegisterValidation(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestSyncJobRepo(db)

		_, err := repo.Register(context.Background(), model.RegisterSellerRequest{
			SellerRef:  "seller-a",
			CatalogURL: "not-a-url",
		})
		assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
	})
}

func TestSyncJobRepoGetBySellerNotFound(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestSyncJobRepo(db)

		_, err := repo.GetBySeller(context.Background(), "seller-missing")
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})
}

func TestSyncJobRepoListOrdersBySeller(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestSyncJobRepo(db)
		ctx := context.Background()

		for _, ref := range []string{"seller-b", "seller-a"} {
			_, err := repo.Register(ctx, model.RegisterSellerRequest{
				SellerRef:  ref,
				CatalogURL: "https://example.com/" + ref,
			})
			require.NoError(t, err)
		}

		jobs, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, "seller-a", jobs[0].SellerRef)
		assert.Equal(t, "seller-b", jobs[1].SellerRef)
	})
}

func TestSyncJobRepoRunLifecycle(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestSyncJobRepo(db)
		ctx := context.Background()

		_, err := repo.Register(ctx, model.RegisterSellerRequest{
			SellerRef:  "seller-a",
			CatalogURL: "https://example.com/catalog",
		})
		require.NoError(t, err)

		require.NoError(t, repo.MarkRunning(ctx, "seller-a"))
		job, err := repo.GetBySeller(ctx, "seller-a")
		require.NoError(t, err)
		assert.Equal(t, model.SyncStatusRunning, job.Status)
		assert.NotNil(t, job.LastRunAt)

		require.NoError(t, repo.MarkCompleted(ctx, "seller-a", model.SyncCounts{Added: 5, Removed: 1, Updated: 2}))
		job, err = repo.GetBySeller(ctx, "seller-a")
		require.NoError(t, err)
		assert.Equal(t, model.SyncStatusCompleted, job.Status)
		assert.Equal(t, 5, job.Added)
		assert.Equal(t, 1, job.Removed)
		assert.Equal(t, 2, job.Updated)
		assert.Nil(t, job.LastError)

		require.NoError(t, repo.MarkFailed(ctx, "seller-a", errors.New("catalog page 3 timed out")))
		job, err = repo.GetBySeller(ctx, "seller-a")
		require.NoError(t, err)
		assert.Equal(t, model.SyncStatusFailed, job.Status)
		require.NotNil(t, job.LastError)
		assert.Contains(t, *job.LastError, "timed out")
		// Counts from the last completed run survive a failure.
		assert.Equal(t, 5, job.Added)
	})
}

func TestSyncJobRepoRecordHeartbeatAccumulates(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestSyncJobRepo(db)
		ctx := context.Background()

		_, err := repo.Register(ctx, model.RegisterSellerRequest{
			SellerRef:  "seller-a",
			CatalogURL: "https://example.com/catalog",
		})
		require.NoError(t, err)
		require.NoError(t, repo.MarkCompleted(ctx, "seller-a", model.SyncCounts{Added: 10, Removed: 1, Updated: 2}))

		// Two heartbeat cycles add onto the last discovery's counts.
		require.NoError(t, repo.RecordHeartbeat(ctx, "seller-a", model.SyncCounts{Removed: 2, Updated: 1}))
		require.NoError(t, repo.RecordHeartbeat(ctx, "seller-a", model.SyncCounts{Updated: 3}))

		job, err := repo.GetBySeller(ctx, "seller-a")
		require.NoError(t, err)
		assert.Equal(t, 10, job.Added)
		assert.Equal(t, 3, job.Removed)
		assert.Equal(t, 6, job.Updated)
		assert.Equal(t, model.SyncStatusCompleted, job.Status, "heartbeat counts do not change sync status")

		// The next discovery run resets the counters.
		require.NoError(t, repo.MarkCompleted(ctx, "seller-a", model.SyncCounts{Added: 4}))
		job, err = repo.GetBySeller(ctx, "seller-a")
		require.NoError(t, err)
		assert.Equal(t, 4, job.Added)
		assert.Equal(t, 0, job.Removed)
		assert.Equal(t, 0, job.Updated)
	})
}

func TestSyncJobRepoTransitionsRequireExistingSeller(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestSyncJobRepo(db)
		ctx := context.Background()

		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(repo.MarkRunning(ctx, "seller-missing")))
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(repo.MarkCompleted(ctx, "seller-missing", model.SyncCounts{})))
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(repo.MarkFailed(ctx, "seller-missing", nil)))
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(repo.RecordHeartbeat(ctx, "seller-missing", model.SyncCounts{Removed: 1})))
	})
}
