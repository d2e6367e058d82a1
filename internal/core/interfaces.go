// Package core defines the ports between catalogd services and their
// collaborators: persistence repositories, the seen-listing cache, and the
// external capabilities (discovery, hydration, embedding, moderation,
// similarity search) that pipeline stages depend on.
package core

import (
	"context"
	"time"

	"github.com/marketfeed/catalogd/internal/domain/model"
)

// JobRepository is the durable queue backing the pipeline.
type JobRepository interface {
	// Create enqueues a single job and notifies any waiting workers.
	Create(ctx context.Context, req model.CreateJobRequest) (*model.Job, error)

	// CreateBatch enqueues many jobs in one transaction. Used by the scout
	// stage to fan out hydration work for a discovery batch atomically.
	CreateBatch(ctx context.Context, reqs []model.CreateJobRequest) ([]*model.Job, error)

	// GetByID returns a job by id, or a not_found error.
	GetByID(ctx context.Context, id string) (*model.Job, error)

	// ReserveNext atomically claims the next pending job of the given type
	// and leases it for leaseDuration. Returns model.ErrNoJobsAvailable when
	// the queue is empty.
	ReserveNext(ctx context.Context, jobType model.JobType, leaseDuration time.Duration) (*model.Job, error)

	// WaitForNotification blocks until a job of the given type is enqueued,
	// or ctx is done.
	WaitForNotification(ctx context.Context, jobType model.JobType) error

	// Heartbeat extends the lease on a running job.
	Heartbeat(ctx context.Context, jobID string, leaseDuration time.Duration) error

	// Complete marks a running job completed.
	Complete(ctx context.Context, jobID string) error

	// Fail records a failure on a running job. Jobs with remaining retry
	// budget return to pending with a delayed scheduled_at; exhausted jobs
	// move to dead_letter.
	Fail(ctx context.Context, jobID string, jobErr error) (*model.Job, error)

	// Stats returns per-stage queue depth counters.
	Stats(ctx context.Context) (*model.QueueStats, error)
}

// ReaperRepository exposes the queue cleanup operations used by the reaper.
type ReaperRepository interface {
	// FailStalePendingJobs fails pending jobs older than maxAge, in batches.
	FailStalePendingJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)

	// DeleteOldJobs removes terminal jobs past their retention windows.
	DeleteOldJobs(ctx context.Context, params DeleteOldJobsParams) (int64, error)
}

// DeleteOldJobsParams bounds a reaper deletion pass. Dead-lettered jobs are
// retained longer than completed ones so operators can inspect them.
type DeleteOldJobsParams struct {
	CompletedMaxAge  time.Duration
	DeadLetterMaxAge time.Duration
	BatchSize        int
}

// ListingRepository persists the marketplace catalog.
type ListingRepository interface {
	// Upsert inserts or replaces a listing record keyed by listing id.
	Upsert(ctx context.Context, listing *model.Listing) error

	// GetByID returns a listing by id, or a not_found error.
	GetByID(ctx context.Context, listingID string) (*model.Listing, error)

	// ListApprovedBySeller returns a seller's approved, visible listings.
	// Used by the heartbeat to pick which listings to re-check.
	ListApprovedBySeller(ctx context.Context, sellerRef string) ([]*model.Listing, error)

	// ListBySeller returns all of a seller's listings regardless of status.
	ListBySeller(ctx context.Context, sellerRef string) ([]*model.Listing, error)

	// UpdatePrice records a new price for a listing.
	UpdatePrice(ctx context.Context, listingID string, priceCents int64) error

	// Purge marks a listing invisible. The row is kept for audit.
	Purge(ctx context.Context, listingID string) error

	// UpdateVerdict applies a moderation verdict to an existing listing.
	UpdateVerdict(ctx context.Context, verdict model.ModerationVerdict) error

	// RecordEvent appends a lifecycle event for a listing.
	RecordEvent(ctx context.Context, event *model.ListingEvent) error

	// ListEvents returns a listing's lifecycle events, newest first.
	ListEvents(ctx context.Context, listingID string, limit int) ([]*model.ListingEvent, error)
}

// SyncJobRepository tracks per-seller catalog sync state.
type SyncJobRepository interface {
	// Register creates or updates the sync record for a seller.
	Register(ctx context.Context, req model.RegisterSellerRequest) (*model.SyncJob, error)

	// GetBySeller returns the sync record for a seller, or not_found.
	GetBySeller(ctx context.Context, sellerRef string) (*model.SyncJob, error)

	// List returns all registered sellers.
	List(ctx context.Context) ([]*model.SyncJob, error)

	// MarkRunning transitions a seller's sync to running.
	MarkRunning(ctx context.Context, sellerRef string) error

	// MarkCompleted records a successful sync with its outcome counts.
	MarkCompleted(ctx context.Context, sellerRef string, counts model.SyncCounts) error

	// MarkFailed records a failed sync attempt.
	MarkFailed(ctx context.Context, sellerRef string, syncErr error) error

	// RecordHeartbeat adds heartbeat outcome counts to a seller's sync
	// record. Counts accumulate until the next discovery run resets them.
	RecordHeartbeat(ctx context.Context, sellerRef string, counts model.SyncCounts) error
}

// SeenListingCache remembers which listing ids were already discovered so
// repeated syncs only enqueue genuinely new work.
type SeenListingCache interface {
	// FilterNew returns the subset of ids not yet seen for the seller.
	FilterNew(ctx context.Context, sellerRef string, ids []string) ([]string, error)

	// MarkSeen records ids as discovered for the seller.
	MarkSeen(ctx context.Context, sellerRef string, ids []string) error
}

// Discoverer walks a seller's public catalog and returns the listing
// references found on it.
type Discoverer interface {
	Discover(ctx context.Context, sellerRef, catalogURL string) ([]model.ListingRef, error)
}

// Hydrator fetches full listing details from a seller's detail endpoint.
type Hydrator interface {
	// Hydrate fetches details for one listing, retrying rate-limit errors.
	Hydrate(ctx context.Context, ref model.ListingRef) (*model.HydratedListing, error)

	// CheckBatch probes each ref once, without retries, under the same
	// per-batch concurrency bound as hydration. Used by the heartbeat; each
	// result carries either the fresh listing or the probe error so the
	// caller can tell a dead listing from an unverifiable one.
	CheckBatch(ctx context.Context, refs []model.ListingRef) ([]model.ProbeResult, error)
}

// Embedder produces the hybrid vector for a hydrated listing.
type Embedder interface {
	Embed(ctx context.Context, listing *model.HydratedListing) (*model.EmbeddingVector, error)
}

// Reviewer is the moderation decision capability.
type Reviewer interface {
	Review(ctx context.Context, listing *model.HydratedListing) (*model.ModerationVerdict, error)
}

// VectorIndex stores hybrid vectors and answers nearest-neighbour queries.
type VectorIndex interface {
	// Upsert inserts or replaces the vector for a listing.
	Upsert(ctx context.Context, vec *model.EmbeddingVector) error

	// Remove drops a listing's vector from the index.
	Remove(ctx context.Context, listingID string) error

	// Query returns up to k matches with score >= minScore, ordered by
	// descending score.
	Query(ctx context.Context, vector []float32, k int, minScore float64) ([]model.IndexMatch, error)
}
