package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/marketfeed/catalogd/config"
	"github.com/marketfeed/catalogd/internal/core"
	apperrors "github.com/marketfeed/catalogd/internal/errors"
	"github.com/marketfeed/catalogd/internal/mocks"
)

func testReaperConfig() config.ReaperConfig {
	return config.ReaperConfig{
		Interval:         time.Minute,
		PendingMaxAge:    time.Hour,
		CompletedMaxAge:  24 * time.Hour,
		DeadLetterMaxAge: 90 * 24 * time.Hour,
		BatchSize:        100,
	}
}

func newTestReaperService(t *testing.T, repo core.ReaperRepository) *ReaperService {
	t.Helper()
	svc, err := NewReaperService(ReaperServiceOptions{
		Repo:   repo,
		Config: testReaperConfig(),
	})
	require.NoError(t, err)
	return svc
}

func TestNewReaperServiceRequiresRepo(t *testing.T) {
	_, err := NewReaperService(ReaperServiceOptions{Config: testReaperConfig()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ReaperRepository is required")
}

func TestRunCleanupDrainsBatches(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockReaperRepository(ctrl)
	svc := newTestReaperService(t, repo)
	ctx := context.Background()

	// Two full batches of stale pending jobs, then empty.
	gomock.InOrder(
		repo.EXPECT().FailStalePendingJobs(ctx, time.Hour, 100).Return(int64(100), nil),
		repo.EXPECT().FailStalePendingJobs(ctx, time.Hour, 100).Return(int64(40), nil),
		repo.EXPECT().FailStalePendingJobs(ctx, time.Hour, 100).Return(int64(0), nil),
	)
	gomock.InOrder(
		repo.EXPECT().DeleteOldJobs(ctx, gomock.Any()).
			DoAndReturn(func(_ context.Context, params core.DeleteOldJobsParams) (int64, error) {
				assert.Equal(t, 24*time.Hour, params.CompletedMaxAge)
				assert.Equal(t, 90*24*time.Hour, params.DeadLetterMaxAge)
				assert.Equal(t, 100, params.BatchSize)
				return 7, nil
			}),
		repo.EXPECT().DeleteOldJobs(ctx, gomock.Any()).Return(int64(0), nil),
	)

	require.NoError(t, svc.runCleanup(ctx))
}

func TestRunCleanupAggregatesErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockReaperRepository(ctrl)
	svc := newTestReaperService(t, repo)
	ctx := context.Background()

	repo.EXPECT().FailStalePendingJobs(ctx, gomock.Any(), gomock.Any()).
		Return(int64(0), apperrors.Unavailable("db down"))
	repo.EXPECT().DeleteOldJobs(ctx, gomock.Any()).Return(int64(0), nil)

	err := svc.runCleanup(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fail stale pending jobs")
}

func TestRunCleanupMapsCancellation(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockReaperRepository(ctrl)
	svc := newTestReaperService(t, repo)
	ctx := context.Background()

	repo.EXPECT().FailStalePendingJobs(ctx, gomock.Any(), gomock.Any()).
		Return(int64(0), context.Canceled)
	repo.EXPECT().DeleteOldJobs(ctx, gomock.Any()).Return(int64(0), context.Canceled)

	err := svc.runCleanup(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReaperRunStopsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockReaperRepository(ctrl)
	repo.EXPECT().FailStalePendingJobs(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(int64(0), nil).AnyTimes()
	repo.EXPECT().DeleteOldJobs(gomock.Any(), gomock.Any()).
		Return(int64(0), nil).AnyTimes()

	svc := newTestReaperService(t, repo)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err, "cancellation is a graceful shutdown")
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop after context cancellation")
	}
}
