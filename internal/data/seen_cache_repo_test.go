package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/marketfeed/catalogd/internal/errors"
	"github.com/marketfeed/catalogd/internal/testutil"
)

func TestSeenCacheFilterNewPreservesOrder(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	repo := NewSeenCacheRepo(client, time.Hour)
	ctx := context.Background()

	fresh, err := repo.FilterNew(ctx, "seller-a", []string{"lst-1", "lst-2", "lst-3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"lst-1", "lst-2", "lst-3"}, fresh)

	require.NoError(t, repo.MarkSeen(ctx, "seller-a", []string{"lst-2"}))

	fresh, err = repo.FilterNew(ctx, "seller-a", []string{"lst-1", "lst-2", "lst-3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"lst-1", "lst-3"}, fresh)
}

func TestSeenCacheIsScopedPerSeller(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	repo := NewSeenCacheRepo(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, repo.MarkSeen(ctx, "seller-a", []string{"lst-1"}))

	fresh, err := repo.FilterNew(ctx, "seller-b", []string{"lst-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"lst-1"}, fresh)
}

func TestSeenCacheEmptyInputs(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	repo := NewSeenCacheRepo(client, time.Hour)
	ctx := context.Background()

	fresh, err := repo.FilterNew(ctx, "seller-a", nil)
	require.NoError(t, err)
	assert.Nil(t, fresh)

	require.NoError(t, repo.MarkSeen(ctx, "seller-a", nil))

	_, err = repo.FilterNew(ctx, "", []string{"lst-1"})
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(repo.MarkSeen(ctx, "", []string{"lst-1"})))
}

func TestSeenCacheEntriesExpire(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	repo := NewSeenCacheRepo(client, 100*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, repo.MarkSeen(ctx, "seller-a", []string{"lst-1"}))
	time.Sleep(200 * time.Millisecond)

	fresh, err := repo.FilterNew(ctx, "seller-a", []string{"lst-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"lst-1"}, fresh)
}

func TestSeenCacheHealth(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	repo := NewSeenCacheRepo(client, time.Hour)

	assert.NoError(t, repo.Health(context.Background()))
}
