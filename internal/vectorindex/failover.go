package vectorindex

import (
	"context"
	"log/slog"

	"github.com/marketfeed/catalogd/internal/core"
	"github.com/marketfeed/catalogd/internal/domain/model"
)

// Failover serves queries from the remote index when it is healthy and falls
// through to the in-memory index when it is not. The memory index receives
// every upsert and removal so it is always ready to answer.
type Failover struct {
	remote core.VectorIndex
	memory core.VectorIndex
	logger *slog.Logger
}

// NewFailover wraps a remote and a memory index. Remote may be nil, in which
// case every call goes straight to memory.
func NewFailover(remote, memory core.VectorIndex, logger *slog.Logger) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	return &Failover{
		remote: remote,
		memory: memory,
		logger: logger.With("component", "vectorindex"),
	}
}

// Upsert writes to memory first, then mirrors to the remote index. A remote
// failure is logged, never surfaced; the memory copy keeps queries correct.
func (f *Failover) Upsert(ctx context.Context, vec *model.EmbeddingVector) error {
	if err := f.memory.Upsert(ctx, vec); err != nil {
		return err
	}
	if f.remote != nil {
		if err := f.remote.Upsert(ctx, vec); err != nil {
			f.logger.WarnContext(ctx, "remote index upsert failed, memory copy retained",
				"listing_id", vec.ListingID, "error", err)
		}
	}
	return nil
}

// Remove drops a listing from both indexes.
func (f *Failover) Remove(ctx context.Context, listingID string) error {
	if err := f.memory.Remove(ctx, listingID); err != nil {
		return err
	}
	if f.remote != nil {
		if err := f.remote.Remove(ctx, listingID); err != nil {
			f.logger.WarnContext(ctx, "remote index remove failed",
				"listing_id", listingID, "error", err)
		}
	}
	return nil
}

// Query prefers the remote index and falls back to memory on any remote
// failure. The fallback is per call; a recovered remote is used again on the
// next query.
func (f *Failover) Query(ctx context.Context, vector []float32, k int, minScore float64) ([]model.IndexMatch, error) {
	if f.remote != nil {
		matches, err := f.remote.Query(ctx, vector, k, minScore)
		if err == nil {
			return matches, nil
		}
		f.logger.WarnContext(ctx, "remote index query failed, falling back to memory", "error", err)
	}
	return f.memory.Query(ctx, vector, k, minScore)
}

var _ core.VectorIndex = (*Failover)(nil)
