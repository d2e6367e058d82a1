package data

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/marketfeed/catalogd/internal/errors"
)

// SeenCacheRepo remembers which listing ids were already discovered per
// seller, backed by Redis. Keys expire after the configured TTL so listings
// that vanish and reappear much later are treated as new again.
type SeenCacheRepo struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewSeenCacheRepo creates a new SeenCacheRepo with the given Redis client.
func NewSeenCacheRepo(client redis.UniversalClient, ttl time.Duration) *SeenCacheRepo {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &SeenCacheRepo{client: client, ttl: ttl}
}

func seenKey(sellerRef, listingID string) string {
	return "seen:" + sellerRef + ":" + listingID
}

// FilterNew returns the subset of ids not yet seen for the seller, preserving
// input order. A missing key means the id is new.
func (r *SeenCacheRepo) FilterNew(ctx context.Context, sellerRef string, ids []string) ([]string, error) {
	if sellerRef == "" {
		return nil, apperrors.Validation("seller ref is required")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = seenKey(sellerRef, id)
	}

	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "seen cache mget")
	}

	fresh := make([]string, 0, len(ids))
	for i, v := range vals {
		if v == nil {
			fresh = append(fresh, ids[i])
		}
	}
	return fresh, nil
}

// MarkSeen records ids as discovered for the seller, refreshing the TTL on
// ids seen before.
func (r *SeenCacheRepo) MarkSeen(ctx context.Context, sellerRef string, ids []string) error {
	if sellerRef == "" {
		return apperrors.Validation("seller ref is required")
	}
	if len(ids) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, id := range ids {
		pipe.Set(ctx, seenKey(sellerRef, id), "1", r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "seen cache set")
	}
	return nil
}

// Health checks the health of the Redis connection.
func (r *SeenCacheRepo) Health(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// NewRedisClient creates a Redis client for the seen-listing cache.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}
