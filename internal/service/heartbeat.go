package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marketfeed/catalogd/config"
	"github.com/marketfeed/catalogd/internal/core"
	"github.com/marketfeed/catalogd/internal/domain/model"
	apperrors "github.com/marketfeed/catalogd/internal/errors"
	"github.com/marketfeed/catalogd/internal/observability/statsd"
)

// HeartbeatServiceOptions groups the dependencies for HeartbeatService.
type HeartbeatServiceOptions struct {
	Listings   core.ListingRepository // Required: catalog persistence
	SyncJobs   core.SyncJobRepository // Required: registered sellers
	Hydrator   core.Hydrator          // Required: liveness probe
	Index      core.VectorIndex       // Required: similarity index
	Jobs       *JobService            // Required: re-moderation enqueue
	Config     config.HeartbeatConfig // Required: cycle configuration
	MaxRetries int                    // Optional: retry budget for re-moderation jobs
	Logger     *slog.Logger           // Optional: structured logger
	Metrics    statsd.Sink            // Optional: metrics sink
}

// HeartbeatService re-checks every approved listing on a schedule and keeps
// the catalog honest: dead listings are purged, price drifts are recorded,
// and large price jumps send the listing back through moderation.
type HeartbeatService struct {
	listings   core.ListingRepository
	syncJobs   core.SyncJobRepository
	hydrator   core.Hydrator
	index      core.VectorIndex
	jobs       *JobService
	config     config.HeartbeatConfig
	maxRetries int
	logger     *slog.Logger
	metrics    statsd.Sink
}

// NewHeartbeatService constructs a new HeartbeatService.
func NewHeartbeatService(opts HeartbeatServiceOptions) (*HeartbeatService, error) {
	switch {
	case opts.Listings == nil:
		return nil, errors.New("ListingRepository is required")
	case opts.SyncJobs == nil:
		return nil, errors.New("SyncJobRepository is required")
	case opts.Hydrator == nil:
		return nil, errors.New("Hydrator is required")
	case opts.Index == nil:
		return nil, errors.New("VectorIndex is required")
	case opts.Jobs == nil:
		return nil, errors.New("JobService is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HeartbeatService{
		listings:   opts.Listings,
		syncJobs:   opts.SyncJobs,
		hydrator:   opts.Hydrator,
		index:      opts.Index,
		jobs:       opts.Jobs,
		config:     opts.Config,
		maxRetries: opts.MaxRetries,
		logger:     logger.With("component", "heartbeat_service"),
		metrics:    opts.Metrics,
	}, nil
}

// CycleStats accumulates the outcome of one heartbeat cycle. Unverifiable
// counts listings whose probe failed transiently; they are left untouched
// until a later cycle can reach them.
type CycleStats struct {
	Checked      int
	Purged       int
	PriceUpdated int
	ReModerated  int
	Unverifiable int
}

func (s *CycleStats) add(other CycleStats) {
	s.Checked += other.Checked
	s.Purged += other.Purged
	s.PriceUpdated += other.PriceUpdated
	s.ReModerated += other.ReModerated
	s.Unverifiable += other.Unverifiable
}

// Run executes heartbeat cycles at the configured interval until the context
// is cancelled. Returns nil on graceful shutdown.
func (s *HeartbeatService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting heartbeat service", "interval", s.config.Interval)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "heartbeat service stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			stats, err := s.RunCycle(ctx)
			if err != nil {
				if isContextCancellation(err) {
					continue
				}
				s.logger.ErrorContext(ctx, "heartbeat cycle failed", "error", err)
				continue
			}
			s.logger.InfoContext(ctx, "heartbeat cycle finished",
				"checked", stats.Checked,
				"purged", stats.Purged,
				"price_updated", stats.PriceUpdated,
				"re_moderated", stats.ReModerated,
				"unverifiable", stats.Unverifiable,
			)
		}
	}
}

// RunCycle performs one full pass over every registered seller. Sellers run
// in parallel; each seller's probes are bounded inside the hydrator, so one
// slow seller never starves the others. Per-seller failures are recorded on
// that seller's sync record and do not abort the cycle.
func (s *HeartbeatService) RunCycle(ctx context.Context) (CycleStats, error) {
	start := time.Now()

	sellers, err := s.syncJobs.List(ctx)
	if err != nil {
		return CycleStats{}, fmt.Errorf("list sellers: %w", err)
	}

	var (
		mu    sync.Mutex
		stats CycleStats
	)
	group, groupCtx := errgroup.WithContext(ctx)

	for _, seller := range sellers {
		group.Go(func() error {
			sellerStats, sellerErr := s.syncSeller(groupCtx, seller.SellerRef)
			mu.Lock()
			stats.add(sellerStats)
			mu.Unlock()

			if sellerErr != nil {
				if isContextCancellation(sellerErr) {
					return sellerErr
				}
				s.logger.ErrorContext(groupCtx, "seller heartbeat failed",
					"seller_ref", seller.SellerRef, "error", sellerErr)
				if markErr := s.syncJobs.MarkFailed(groupCtx, seller.SellerRef, sellerErr); markErr != nil {
					s.logger.ErrorContext(groupCtx, "failed to record seller heartbeat failure",
						"seller_ref", seller.SellerRef, "error", markErr)
				}
			}
			return nil
		})
	}

	if waitErr := group.Wait(); waitErr != nil {
		return stats, waitErr
	}

	s.emitCycleMetrics(stats, time.Since(start))
	return stats, nil
}

// syncSeller re-checks one seller's approved listings and records the outcome
// counts on its sync record.
func (s *HeartbeatService) syncSeller(ctx context.Context, sellerRef string) (CycleStats, error) {
	listings, err := s.listings.ListApprovedBySeller(ctx, sellerRef)
	if err != nil {
		return CycleStats{}, fmt.Errorf("list approved listings: %w", err)
	}
	if len(listings) == 0 {
		return CycleStats{}, nil
	}

	refs := make([]model.ListingRef, len(listings))
	byID := make(map[string]*model.Listing, len(listings))
	for i, listing := range listings {
		refs[i] = model.ListingRef{ListingID: listing.ListingID, SellerRef: listing.SellerRef}
		byID[listing.ListingID] = listing
	}

	results, err := s.hydrator.CheckBatch(ctx, refs)
	if err != nil {
		return CycleStats{}, fmt.Errorf("probe listings: %w", err)
	}

	var stats CycleStats
	for _, result := range results {
		listing, ok := byID[result.Ref.ListingID]
		if !ok {
			continue
		}
		stats.Checked++
		switch s.applyProbe(ctx, listing, result) {
		case outcomePurged:
			stats.Purged++
		case outcomePriceUpdated:
			stats.PriceUpdated++
		case outcomeReModerated:
			stats.ReModerated++
		case outcomeUnverifiable:
			stats.Unverifiable++
		}
	}

	if stats.Purged > 0 || stats.PriceUpdated > 0 || stats.ReModerated > 0 {
		counts := model.SyncCounts{
			Removed: stats.Purged,
			Updated: stats.PriceUpdated + stats.ReModerated,
		}
		if recordErr := s.syncJobs.RecordHeartbeat(ctx, sellerRef, counts); recordErr != nil {
			s.logger.WarnContext(ctx, "failed to record heartbeat counts",
				"seller_ref", sellerRef, "error", recordErr)
		}
	}
	return stats, nil
}

type checkOutcome int

const (
	outcomeUnchanged checkOutcome = iota
	outcomePurged
	outcomePriceUpdated
	outcomeReModerated
	outcomeUnverifiable
)

// applyProbe applies the transition for one probe result. Only a stable
// not-found probe purges; a transient failure leaves the listing untouched
// so a flaky seller endpoint cannot empty its own catalog.
func (s *HeartbeatService) applyProbe(ctx context.Context, listing *model.Listing, result model.ProbeResult) checkOutcome {
	if result.Err != nil {
		if apperrors.IsNotFound(result.Err) {
			s.purgeListing(ctx, listing, result.Err)
			return outcomePurged
		}
		if apperrors.IsCanceled(result.Err) && ctx.Err() != nil {
			return outcomeUnchanged
		}
		s.logger.WarnContext(ctx, "listing probe inconclusive",
			"listing_id", listing.ListingID, "seller_ref", listing.SellerRef, "error", result.Err)
		return outcomeUnverifiable
	}

	fresh := result.Listing
	if fresh.PriceCents == listing.PriceCents {
		return outcomeUnchanged
	}

	change := model.PriceChange{
		ListingID:     listing.ListingID,
		OldPriceCents: listing.PriceCents,
		NewPriceCents: fresh.PriceCents,
	}
	if change.ExceedsThreshold(s.config.PriceDeltaThreshold) {
		s.reModerate(ctx, listing, fresh, change)
		return outcomeReModerated
	}

	s.updatePrice(ctx, listing, change)
	return outcomePriceUpdated
}

func (s *HeartbeatService) purgeListing(ctx context.Context, listing *model.Listing, probeErr error) {
	if err := s.listings.Purge(ctx, listing.ListingID); err != nil {
		s.logger.ErrorContext(ctx, "failed to purge listing",
			"listing_id", listing.ListingID, "error", err)
		return
	}
	if err := s.index.Remove(ctx, listing.ListingID); err != nil {
		s.logger.WarnContext(ctx, "failed to remove purged listing from index",
			"listing_id", listing.ListingID, "error", err)
	}
	s.recordEvent(ctx, listing.ListingID, model.EventPurged, map[string]any{
		"probe_error": probeErr.Error(),
	})
	s.logger.InfoContext(ctx, "listing purged",
		"listing_id", listing.ListingID, "seller_ref", listing.SellerRef)
}

func (s *HeartbeatService) updatePrice(ctx context.Context, listing *model.Listing, change model.PriceChange) {
	if err := s.listings.UpdatePrice(ctx, listing.ListingID, change.NewPriceCents); err != nil {
		s.logger.ErrorContext(ctx, "failed to update listing price",
			"listing_id", listing.ListingID, "error", err)
		return
	}
	s.recordEvent(ctx, listing.ListingID, model.EventPriceChanged, map[string]any{
		"old_price_cents": change.OldPriceCents,
		"new_price_cents": change.NewPriceCents,
	})
}

// reModerate sends a listing with a suspicious price jump back through the
// moderation and persist stages. The price is not updated here; the persist
// stage writes the fresh record together with the new verdict.
func (s *HeartbeatService) reModerate(ctx context.Context, listing *model.Listing, fresh *model.HydratedListing, change model.PriceChange) {
	raw, err := model.MarshalPayload(model.ModerateListingPayload{
		Listing:           *fresh,
		EmbeddingDegraded: listing.EmbeddingDegraded,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to build re-moderation payload",
			"listing_id", listing.ListingID, "error", err)
		return
	}

	sellerRef, listingID := listing.SellerRef, listing.ListingID
	if _, err := s.jobs.Create(ctx, model.CreateJobRequest{
		Type:       model.JobTypeModerateListing,
		Payload:    raw,
		SellerRef:  &sellerRef,
		ListingID:  &listingID,
		MaxRetries: s.maxRetries,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to enqueue re-moderation",
			"listing_id", listing.ListingID, "error", err)
		return
	}

	s.recordEvent(ctx, listing.ListingID, model.EventReModerated, map[string]any{
		"old_price_cents": change.OldPriceCents,
		"new_price_cents": change.NewPriceCents,
	})
	s.logger.InfoContext(ctx, "listing sent back to moderation",
		"listing_id", listing.ListingID,
		"old_price_cents", change.OldPriceCents,
		"new_price_cents", change.NewPriceCents,
	)
}

func (s *HeartbeatService) recordEvent(ctx context.Context, listingID string, eventType model.ListingEventType, detail map[string]any) {
	err := s.listings.RecordEvent(ctx, &model.ListingEvent{
		ListingID: listingID,
		Type:      eventType,
		Detail:    detail,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record listing event",
			"listing_id", listingID, "event_type", eventType, "error", err)
	}
}

func (s *HeartbeatService) emitCycleMetrics(stats CycleStats, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.Count("heartbeat.checked", int64(stats.Checked), nil)
	s.metrics.Count("heartbeat.purged", int64(stats.Purged), nil)
	s.metrics.Count("heartbeat.price_updated", int64(stats.PriceUpdated), nil)
	s.metrics.Count("heartbeat.re_moderated", int64(stats.ReModerated), nil)
	s.metrics.Count("heartbeat.unverifiable", int64(stats.Unverifiable), nil)
	s.metrics.Timing("heartbeat.cycle_duration", elapsed, nil)
	s.metrics.Gauge("heartbeat.last_cycle_epoch", float64(time.Now().Unix()), nil)
}
