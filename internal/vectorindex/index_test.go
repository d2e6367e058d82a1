package vectorindex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketfeed/catalogd/internal/domain/model"
	apperrors "github.com/marketfeed/catalogd/internal/errors"
)

func unitVector(hot int) []float32 {
	v := make([]float32, model.EmbeddingDim)
	v[hot] = 1
	return v
}

func embeddingFor(id string, hot int) *model.EmbeddingVector {
	return &model.EmbeddingVector{ListingID: id, HybridVector: unitVector(hot)}
}

func TestMemoryQueryReturnsNearestFirst(t *testing.T) {
	idx := NewMemory()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, embeddingFor("aaaa", 0)))
	require.NoError(t, idx.Upsert(ctx, embeddingFor("bbbb", 1)))
	require.NoError(t, idx.Upsert(ctx, embeddingFor("cccc", 2)))

	matches, err := idx.Query(ctx, unitVector(1), 2, 0)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, "bbbb", matches[0].ListingID, "identical vector must rank first")
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestMemoryQueryAppliesMinScore(t *testing.T) {
	idx := NewMemory()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, embeddingFor("aaaa", 0)))
	require.NoError(t, idx.Upsert(ctx, embeddingFor("bbbb", 1)))

	matches, err := idx.Query(ctx, unitVector(0), 10, 0.9)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "aaaa", matches[0].ListingID)
}

func TestMemoryUpsertIsLastWriteWins(t *testing.T) {
	idx := NewMemory()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, embeddingFor("aaaa", 0)))
	require.NoError(t, idx.Upsert(ctx, embeddingFor("aaaa", 3)))
	assert.Equal(t, 1, idx.Len())

	matches, err := idx.Query(ctx, unitVector(3), 1, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
}

func TestMemoryRejectsWrongDimension(t *testing.T) {
	idx := NewMemory()
	err := idx.Upsert(context.Background(), &model.EmbeddingVector{
		ListingID:    "aaaa",
		HybridVector: []float32{1, 2, 3},
	})
	assert.True(t, apperrors.IsValidation(err))

	_, err = idx.Query(context.Background(), []float32{1}, 1, 0)
	assert.True(t, apperrors.IsValidation(err))
}

func TestMemoryConcurrentUpsertsAndQueries(t *testing.T) {
	idx := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a'+i%8)) + "-listing"
			_ = idx.Upsert(ctx, embeddingFor(id, i%model.EmbeddingDim))
			_, _ = idx.Query(ctx, unitVector(i%model.EmbeddingDim), 3, 0)
			_ = idx.Remove(ctx, id)
		}(i)
	}
	wg.Wait()
}

func TestFailoverFallsBackToMemoryQueries(t *testing.T) {
	memory := NewMemory()
	ctx := context.Background()

	var remoteDown bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if remoteDown {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.URL.Path == "/query" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"matches": []model.IndexMatch{{ListingID: "remote-answer", Score: 0.99}},
			})
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	failover := NewFailover(NewRemote(RemoteOptions{Endpoint: srv.URL}), memory, nil)

	require.NoError(t, failover.Upsert(ctx, embeddingFor("aaaa", 0)))

	matches, err := failover.Query(ctx, unitVector(0), 1, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "remote-answer", matches[0].ListingID)

	remoteDown = true
	matches, err = failover.Query(ctx, unitVector(0), 1, 0)
	require.NoError(t, err, "remote failure must fall through to memory")
	require.Len(t, matches, 1)
	assert.Equal(t, "aaaa", matches[0].ListingID)
}

func TestFailoverUpsertSurvivesRemoteFailure(t *testing.T) {
	memory := NewMemory()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	failover := NewFailover(NewRemote(RemoteOptions{Endpoint: srv.URL}), memory, nil)
	require.NoError(t, failover.Upsert(context.Background(), embeddingFor("aaaa", 0)))
	assert.Equal(t, 1, memory.Len())
}

func TestScore(t *testing.T) {
	a := unitVector(0)
	assert.InDelta(t, 1.0, Score(a, a), 1e-9, "identical vectors score 1")

	b := unitVector(1)
	assert.InDelta(t, Score(a, b), Score(b, a), 1e-12, "score is symmetric")
	assert.Less(t, Score(a, b), 1.0)
	assert.Greater(t, Score(a, b), 0.0)
}
