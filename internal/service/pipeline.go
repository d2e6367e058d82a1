package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/marketfeed/catalogd/config"
	"github.com/marketfeed/catalogd/internal/core"
	"github.com/marketfeed/catalogd/internal/domain/model"
	apperrors "github.com/marketfeed/catalogd/internal/errors"
	"github.com/marketfeed/catalogd/internal/observability/metrics"
	"github.com/marketfeed/catalogd/internal/observability/statsd"
)

// StageHandler processes one reserved job. A nil return completes the job; an
// error fails it and the error's classification decides retry vs dead-letter.
type StageHandler func(ctx context.Context, job *model.Job) error

// PipelineServiceOptions groups the dependencies for PipelineService.
type PipelineServiceOptions struct {
	Jobs       *JobService             // Required: queue operations
	Listings   core.ListingRepository  // Required: catalog persistence
	SyncJobs   core.SyncJobRepository  // Required: per-seller sync state
	SeenCache  core.SeenListingCache   // Optional: discovery dedupe cache
	Discoverer core.Discoverer         // Required: catalog page walker
	Hydrator   core.Hydrator           // Required: listing detail fetcher
	Embedder   core.Embedder           // Required: hybrid vector generator
	Reviewer   core.Reviewer           // Required: moderation gate
	Index      core.VectorIndex        // Required: similarity index
	Config     config.PipelineConfig   // Required: retry budget for enqueued jobs
	Logger     *slog.Logger            // Optional: structured logger
	Metrics    statsd.Sink             // Optional: metrics sink
}

// PipelineService implements the five stage handlers that move a listing from
// discovery to a persisted, moderated catalog record. Stages communicate only
// through the job queue; each handler enqueues the next stage's job.
type PipelineService struct {
	jobs       *JobService
	listings   core.ListingRepository
	syncJobs   core.SyncJobRepository
	seenCache  core.SeenListingCache
	discoverer core.Discoverer
	hydrator   core.Hydrator
	embedder   core.Embedder
	reviewer   core.Reviewer
	index      core.VectorIndex
	config     config.PipelineConfig
	logger     *slog.Logger
	metrics    statsd.Sink
}

// NewPipelineService constructs a new PipelineService.
func NewPipelineService(opts PipelineServiceOptions) (*PipelineService, error) {
	switch {
	case opts.Jobs == nil:
		return nil, errors.New("JobService is required")
	case opts.Listings == nil:
		return nil, errors.New("ListingRepository is required")
	case opts.SyncJobs == nil:
		return nil, errors.New("SyncJobRepository is required")
	case opts.Discoverer == nil:
		return nil, errors.New("Discoverer is required")
	case opts.Hydrator == nil:
		return nil, errors.New("Hydrator is required")
	case opts.Embedder == nil:
		return nil, errors.New("Embedder is required")
	case opts.Reviewer == nil:
		return nil, errors.New("Reviewer is required")
	case opts.Index == nil:
		return nil, errors.New("VectorIndex is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &PipelineService{
		jobs:       opts.Jobs,
		listings:   opts.Listings,
		syncJobs:   opts.SyncJobs,
		seenCache:  opts.SeenCache,
		discoverer: opts.Discoverer,
		hydrator:   opts.Hydrator,
		embedder:   opts.Embedder,
		reviewer:   opts.Reviewer,
		index:      opts.Index,
		config:     opts.Config,
		logger:     logger.With("component", "pipeline_service"),
		metrics:    opts.Metrics,
	}, nil
}

// Handlers returns the stage handler for each pipeline job type. The runner
// builds one worker pool per entry.
func (s *PipelineService) Handlers() map[model.JobType]StageHandler {
	return map[model.JobType]StageHandler{
		model.JobTypeDiscoverCatalog:   s.HandleDiscoverCatalog,
		model.JobTypeHydrateListing:    s.HandleHydrateListing,
		model.JobTypeGenerateEmbedding: s.HandleGenerateEmbedding,
		model.JobTypeModerateListing:   s.HandleModerateListing,
		model.JobTypePersistListing:    s.HandlePersistListing,
	}
}

// HandleDiscoverCatalog walks a seller's catalog page, filters out listings
// already seen, and fans out one hydrate job per new listing in a single
// transaction. The seller's sync record tracks the outcome.
func (s *PipelineService) HandleDiscoverCatalog(ctx context.Context, job *model.Job) error {
	var payload model.DiscoverCatalogPayload
	if err := model.UnmarshalPayload(job.Payload, &payload); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "discover payload")
	}

	if err := s.syncJobs.MarkRunning(ctx, payload.SellerRef); err != nil && !apperrors.IsNotFound(err) {
		return fmt.Errorf("mark sync running for %s: %w", payload.SellerRef, err)
	}

	added, err := s.discoverSeller(ctx, payload)
	if err != nil {
		if markErr := s.syncJobs.MarkFailed(ctx, payload.SellerRef, err); markErr != nil {
			s.logger.ErrorContext(ctx, "failed to record sync failure",
				"seller_ref", payload.SellerRef, "error", markErr)
		}
		return err
	}

	if err := s.syncJobs.MarkCompleted(ctx, payload.SellerRef, model.SyncCounts{Added: added}); err != nil {
		return fmt.Errorf("mark sync completed for %s: %w", payload.SellerRef, err)
	}

	s.logger.InfoContext(ctx, "catalog discovered",
		"seller_ref", payload.SellerRef, "new_listings", added)
	s.emitStageMetric(model.JobTypeDiscoverCatalog, added)
	return nil
}

func (s *PipelineService) discoverSeller(ctx context.Context, payload model.DiscoverCatalogPayload) (int, error) {
	refs, err := s.discoverer.Discover(ctx, payload.SellerRef, payload.CatalogURL)
	if err != nil {
		return 0, fmt.Errorf("discover catalog for %s: %w", payload.SellerRef, err)
	}
	if len(refs) == 0 {
		return 0, nil
	}

	ids := make([]string, len(refs))
	refByID := make(map[string]model.ListingRef, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ListingID
		refByID[ref.ListingID] = ref
	}

	newIDs := ids
	if s.seenCache != nil {
		filtered, filterErr := s.seenCache.FilterNew(ctx, payload.SellerRef, ids)
		if filterErr != nil {
			// A cache outage must not stall ingestion; upserts downstream are
			// idempotent, so treating everything as new is safe.
			s.logger.WarnContext(ctx, "seen cache unavailable, treating all listings as new",
				"seller_ref", payload.SellerRef, "error", filterErr)
		} else {
			newIDs = filtered
		}
	}
	if len(newIDs) == 0 {
		return 0, nil
	}

	reqs := make([]model.CreateJobRequest, 0, len(newIDs))
	for _, id := range newIDs {
		ref := refByID[id]
		raw, marshalErr := model.MarshalPayload(model.HydrateListingPayload{Ref: ref})
		if marshalErr != nil {
			return 0, marshalErr
		}
		sellerRef, listingID := ref.SellerRef, ref.ListingID
		reqs = append(reqs, model.CreateJobRequest{
			Type:       model.JobTypeHydrateListing,
			Payload:    raw,
			SellerRef:  &sellerRef,
			ListingID:  &listingID,
			MaxRetries: s.config.MaxRetries,
		})
	}

	if _, err := s.jobs.CreateBatch(ctx, reqs); err != nil {
		return 0, fmt.Errorf("enqueue hydrate jobs for %s: %w", payload.SellerRef, err)
	}

	if s.seenCache != nil {
		if err := s.seenCache.MarkSeen(ctx, payload.SellerRef, newIDs); err != nil {
			// Worst case the next sync re-enqueues these ids; hydration is
			// idempotent so only wasted work is at stake.
			s.logger.WarnContext(ctx, "failed to mark listings seen",
				"seller_ref", payload.SellerRef, "count", len(newIDs), "error", err)
		}
	}

	return len(newIDs), nil
}

// HandleHydrateListing fetches the full public record for one listing and
// enqueues embedding generation. A listing that is gone or below the content
// bar is dropped silently; that is a normal outcome, not a failure.
func (s *PipelineService) HandleHydrateListing(ctx context.Context, job *model.Job) error {
	var payload model.HydrateListingPayload
	if err := model.UnmarshalPayload(job.Payload, &payload); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "hydrate payload")
	}

	listing, err := s.hydrator.Hydrate(ctx, payload.Ref)
	if err != nil {
		if apperrors.IsNotFound(err) {
			s.logger.InfoContext(ctx, "listing gone or not hydratable, dropping",
				"listing_id", payload.Ref.ListingID, "seller_ref", payload.Ref.SellerRef)
			return nil
		}
		return fmt.Errorf("hydrate listing %s: %w", payload.Ref.ListingID, err)
	}

	return s.enqueueNext(ctx, job, model.JobTypeGenerateEmbedding,
		model.GenerateEmbeddingPayload{Listing: *listing})
}

// HandleGenerateEmbedding computes the hybrid vector for a hydrated listing,
// stores it in the similarity index, and enqueues moderation. Image encoding
// failures degrade to a text-only vector rather than blocking the listing.
func (s *PipelineService) HandleGenerateEmbedding(ctx context.Context, job *model.Job) error {
	var payload model.GenerateEmbeddingPayload
	if err := model.UnmarshalPayload(job.Payload, &payload); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "embedding payload")
	}

	vec, err := s.embedder.Embed(ctx, &payload.Listing)
	if err != nil {
		return fmt.Errorf("embed listing %s: %w", payload.Listing.ListingID, err)
	}

	if err := s.index.Upsert(ctx, vec); err != nil {
		return fmt.Errorf("index listing %s: %w", payload.Listing.ListingID, err)
	}

	if vec.Degraded {
		s.logger.WarnContext(ctx, "embedding degraded to text-only",
			"listing_id", payload.Listing.ListingID)
	}

	return s.enqueueNext(ctx, job, model.JobTypeModerateListing,
		model.ModerateListingPayload{Listing: payload.Listing, EmbeddingDegraded: vec.Degraded})
}

// HandleModerateListing runs the moderation gate and enqueues persistence.
// The gate is total: every listing leaves this stage with a verdict.
func (s *PipelineService) HandleModerateListing(ctx context.Context, job *model.Job) error {
	var payload model.ModerateListingPayload
	if err := model.UnmarshalPayload(job.Payload, &payload); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "moderate payload")
	}

	verdict, err := s.reviewer.Review(ctx, &payload.Listing)
	if err != nil {
		return fmt.Errorf("moderate listing %s: %w", payload.Listing.ListingID, err)
	}

	return s.enqueueNext(ctx, job, model.JobTypePersistListing, model.PersistListingPayload{
		Listing:           payload.Listing,
		Verdict:           *verdict,
		EmbeddingDegraded: payload.EmbeddingDegraded,
	})
}

// HandlePersistListing writes the final catalog record. Only approved
// listings become visible to collaborators.
func (s *PipelineService) HandlePersistListing(ctx context.Context, job *model.Job) error {
	var payload model.PersistListingPayload
	if err := model.UnmarshalPayload(job.Payload, &payload); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "persist payload")
	}

	now := time.Now().UTC()
	listing := &model.Listing{
		ListingID:            payload.Listing.ListingID,
		SellerRef:            payload.Listing.SellerRef,
		Title:                payload.Listing.Title,
		Description:          payload.Listing.Description,
		PriceCents:           payload.Listing.PriceCents,
		ImageRef:             payload.Listing.ImageRef,
		ModerationDecision:   payload.Verdict.Decision,
		ModerationReason:     payload.Verdict.Reason,
		ModerationConfidence: payload.Verdict.Confidence,
		EmbeddingDegraded:    payload.EmbeddingDegraded,
		Visible:              payload.Verdict.Decision == model.DecisionApproved,
		HydratedAt:           payload.Listing.FetchedAt,
		ModeratedAt:          now,
	}

	if err := s.listings.Upsert(ctx, listing); err != nil {
		return fmt.Errorf("persist listing %s: %w", listing.ListingID, err)
	}

	s.logger.InfoContext(ctx, "listing persisted",
		"listing_id", listing.ListingID,
		"seller_ref", listing.SellerRef,
		"decision", listing.ModerationDecision,
		"visible", listing.Visible,
	)
	return nil
}

// enqueueNext enqueues the next stage's job, carrying the listing identifiers
// forward for traceability.
func (s *PipelineService) enqueueNext(ctx context.Context, job *model.Job, next model.JobType, payload any) error {
	raw, err := model.MarshalPayload(payload)
	if err != nil {
		return err
	}

	if _, err := s.jobs.Create(ctx, model.CreateJobRequest{
		Type:       next,
		Payload:    raw,
		Priority:   job.Priority,
		SellerRef:  job.SellerRef,
		ListingID:  job.ListingID,
		MaxRetries: s.config.MaxRetries,
	}); err != nil {
		return fmt.Errorf("enqueue %s job: %w", next, err)
	}
	return nil
}

func (s *PipelineService) emitStageMetric(jobType model.JobType, count int) {
	if s.metrics == nil || count <= 0 {
		return
	}
	s.metrics.Count("pipeline.fanout", int64(count), map[string]string{
		"job_type": string(jobType),
		"result":   metrics.ResultSuccess,
	})
}
