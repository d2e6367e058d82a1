package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/marketfeed/catalogd/config"
	"github.com/marketfeed/catalogd/internal/domain/model"
	apperrors "github.com/marketfeed/catalogd/internal/errors"
	"github.com/marketfeed/catalogd/internal/mocks"
)

type heartbeatMocks struct {
	listings *mocks.MockListingRepository
	syncJobs *mocks.MockSyncJobRepository
	hydrator *mocks.MockHydrator
	index    *mocks.MockVectorIndex
	jobs     *mocks.MockJobRepository
}

func newTestHeartbeatService(t *testing.T, ctrl *gomock.Controller) (*HeartbeatService, heartbeatMocks) {
	t.Helper()

	deps := heartbeatMocks{
		listings: mocks.NewMockListingRepository(ctrl),
		syncJobs: mocks.NewMockSyncJobRepository(ctrl),
		hydrator: mocks.NewMockHydrator(ctrl),
		index:    mocks.NewMockVectorIndex(ctrl),
		jobs:     mocks.NewMockJobRepository(ctrl),
	}

	jobService := MustNewJobService(JobServiceOptions{
		Repo:         deps.jobs,
		DefaultLease: 30 * time.Second,
		Notifier:     &stubJobNotifier{},
	})

	svc, err := NewHeartbeatService(HeartbeatServiceOptions{
		Listings: deps.listings,
		SyncJobs: deps.syncJobs,
		Hydrator: deps.hydrator,
		Index:    deps.index,
		Jobs:     jobService,
		Config: config.HeartbeatConfig{
			Interval:            time.Hour,
			CheckTimeout:        time.Second,
			PriceDeltaThreshold: 0.5,
		},
		MaxRetries: 3,
	})
	require.NoError(t, err)
	return svc, deps
}

func approvedListing(id string, priceCents int64) *model.Listing {
	return &model.Listing{
		ListingID:          id,
		SellerRef:          "seller-a",
		Title:              "Vintage lamp",
		PriceCents:         priceCents,
		ModerationDecision: model.DecisionApproved,
		Visible:            true,
	}
}

func sellerFixture() []*model.SyncJob {
	return []*model.SyncJob{{
		SellerRef:  "seller-a",
		CatalogURL: "https://market.example.com/sellers/seller-a",
		Status:     model.SyncStatusCompleted,
	}}
}

func probeOK(listing *model.Listing, fresh *model.HydratedListing) []model.ProbeResult {
	return []model.ProbeResult{{
		Ref:     model.ListingRef{ListingID: listing.ListingID, SellerRef: listing.SellerRef},
		Listing: fresh,
	}}
}

func probeFailed(listing *model.Listing, probeErr error) []model.ProbeResult {
	return []model.ProbeResult{{
		Ref: model.ListingRef{ListingID: listing.ListingID, SellerRef: listing.SellerRef},
		Err: probeErr,
	}}
}

func TestRunCycleDeadListingIsPurged(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc, deps := newTestHeartbeatService(t, ctrl)
	ctx := context.Background()

	listing := approvedListing("1111111111111111", 4200)

	deps.syncJobs.EXPECT().List(ctx).Return(sellerFixture(), nil)
	deps.listings.EXPECT().ListApprovedBySeller(gomock.Any(), "seller-a").Return([]*model.Listing{listing}, nil)
	deps.hydrator.EXPECT().
		CheckBatch(gomock.Any(), []model.ListingRef{{ListingID: listing.ListingID, SellerRef: "seller-a"}}).
		Return(probeFailed(listing, apperrors.NotFound("410 gone")), nil)
	deps.listings.EXPECT().Purge(gomock.Any(), listing.ListingID).Return(nil)
	deps.index.EXPECT().Remove(gomock.Any(), listing.ListingID).Return(nil)
	deps.listings.EXPECT().
		RecordEvent(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, event *model.ListingEvent) error {
			assert.Equal(t, model.EventPurged, event.Type)
			assert.Equal(t, listing.ListingID, event.ListingID)
			return nil
		})
	deps.syncJobs.EXPECT().
		RecordHeartbeat(gomock.Any(), "seller-a", model.SyncCounts{Removed: 1}).
		Return(nil)

	stats, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Checked: 1, Purged: 1}, stats)
}

func TestRunCycleTransientProbeFailureLeavesListingAlone(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc, deps := newTestHeartbeatService(t, ctrl)
	ctx := context.Background()

	listing := approvedListing("1111111111111111", 4200)

	deps.syncJobs.EXPECT().List(ctx).Return(sellerFixture(), nil)
	deps.listings.EXPECT().ListApprovedBySeller(gomock.Any(), "seller-a").Return([]*model.Listing{listing}, nil)
	deps.hydrator.EXPECT().
		CheckBatch(gomock.Any(), gomock.Any()).
		Return(probeFailed(listing, apperrors.Unavailable("listing returned 503")), nil)
	// No Purge, Remove, or event expectations: a flaky endpoint must not
	// empty its own catalog.

	stats, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Checked: 1, Unverifiable: 1}, stats)
}

func TestRunCycleTimeoutProbeIsUnverifiable(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc, deps := newTestHeartbeatService(t, ctrl)
	ctx := context.Background()

	listing := approvedListing("1111111111111111", 4200)

	deps.syncJobs.EXPECT().List(ctx).Return(sellerFixture(), nil)
	deps.listings.EXPECT().ListApprovedBySeller(gomock.Any(), "seller-a").Return([]*model.Listing{listing}, nil)
	deps.hydrator.EXPECT().
		CheckBatch(gomock.Any(), gomock.Any()).
		Return(probeFailed(listing, apperrors.Timeout("probe timed out")), nil)

	stats, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Checked: 1, Unverifiable: 1}, stats)
}

func TestRunCycleSmallPriceDriftIsRecorded(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc, deps := newTestHeartbeatService(t, ctrl)
	ctx := context.Background()

	listing := approvedListing("1111111111111111", 4000)
	fresh := &model.HydratedListing{
		ListingID:  listing.ListingID,
		SellerRef:  "seller-a",
		Title:      listing.Title,
		ImageRef:   "https://img.example.com/lamp.jpg",
		PriceCents: 4400, // +10%, under the 50% threshold
	}

	deps.syncJobs.EXPECT().List(ctx).Return(sellerFixture(), nil)
	deps.listings.EXPECT().ListApprovedBySeller(gomock.Any(), "seller-a").Return([]*model.Listing{listing}, nil)
	deps.hydrator.EXPECT().CheckBatch(gomock.Any(), gomock.Any()).Return(probeOK(listing, fresh), nil)
	deps.listings.EXPECT().UpdatePrice(gomock.Any(), listing.ListingID, int64(4400)).Return(nil)
	deps.listings.EXPECT().
		RecordEvent(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, event *model.ListingEvent) error {
			assert.Equal(t, model.EventPriceChanged, event.Type)
			assert.Equal(t, int64(4000), event.Detail["old_price_cents"])
			assert.Equal(t, int64(4400), event.Detail["new_price_cents"])
			return nil
		})
	deps.syncJobs.EXPECT().
		RecordHeartbeat(gomock.Any(), "seller-a", model.SyncCounts{Updated: 1}).
		Return(nil)

	stats, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Checked: 1, PriceUpdated: 1}, stats)
}

func TestRunCycleLargePriceJumpTriggersReModeration(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc, deps := newTestHeartbeatService(t, ctrl)
	ctx := context.Background()

	listing := approvedListing("1111111111111111", 4000)
	listing.EmbeddingDegraded = true
	fresh := &model.HydratedListing{
		ListingID:  listing.ListingID,
		SellerRef:  "seller-a",
		Title:      listing.Title,
		ImageRef:   "https://img.example.com/lamp.jpg",
		PriceCents: 9000, // +125%, over the 50% threshold
	}

	deps.syncJobs.EXPECT().List(ctx).Return(sellerFixture(), nil)
	deps.listings.EXPECT().ListApprovedBySeller(gomock.Any(), "seller-a").Return([]*model.Listing{listing}, nil)
	deps.hydrator.EXPECT().CheckBatch(gomock.Any(), gomock.Any()).Return(probeOK(listing, fresh), nil)
	deps.jobs.EXPECT().
		Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req model.CreateJobRequest) (*model.Job, error) {
			assert.Equal(t, model.JobTypeModerateListing, req.Type)
			var payload model.ModerateListingPayload
			require.NoError(t, model.UnmarshalPayload(req.Payload, &payload))
			assert.Equal(t, int64(9000), payload.Listing.PriceCents, "re-moderation must see the new price")
			assert.True(t, payload.EmbeddingDegraded, "degraded flag carries over")
			return &model.Job{ID: "job-m"}, nil
		})
	deps.listings.EXPECT().
		RecordEvent(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, event *model.ListingEvent) error {
			assert.Equal(t, model.EventReModerated, event.Type)
			return nil
		})
	deps.syncJobs.EXPECT().
		RecordHeartbeat(gomock.Any(), "seller-a", model.SyncCounts{Updated: 1}).
		Return(nil)

	stats, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Checked: 1, ReModerated: 1}, stats)
}

func TestRunCycleUnchangedListingIsLeftAlone(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc, deps := newTestHeartbeatService(t, ctrl)
	ctx := context.Background()

	listing := approvedListing("1111111111111111", 4200)
	fresh := &model.HydratedListing{
		ListingID:  listing.ListingID,
		SellerRef:  "seller-a",
		Title:      listing.Title,
		ImageRef:   "https://img.example.com/lamp.jpg",
		PriceCents: 4200,
	}

	deps.syncJobs.EXPECT().List(ctx).Return(sellerFixture(), nil)
	deps.listings.EXPECT().ListApprovedBySeller(gomock.Any(), "seller-a").Return([]*model.Listing{listing}, nil)
	deps.hydrator.EXPECT().CheckBatch(gomock.Any(), gomock.Any()).Return(probeOK(listing, fresh), nil)
	// Nothing changed, so no sync counts are recorded either.

	stats, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Checked: 1}, stats)
}

func TestRunCycleSellerListFailureIsRecordedOnSyncJob(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc, deps := newTestHeartbeatService(t, ctrl)
	ctx := context.Background()

	deps.syncJobs.EXPECT().List(ctx).Return(sellerFixture(), nil)
	deps.listings.EXPECT().
		ListApprovedBySeller(gomock.Any(), "seller-a").
		Return(nil, apperrors.Unavailable("db down"))
	deps.syncJobs.EXPECT().
		MarkFailed(gomock.Any(), "seller-a", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, syncErr error) error {
			assert.ErrorContains(t, syncErr, "db down")
			return nil
		})

	stats, err := svc.RunCycle(ctx)
	require.NoError(t, err, "per-seller failures must not abort the cycle")
	assert.Equal(t, CycleStats{}, stats)
}

func TestRunCycleFailedSellerDoesNotAffectOthers(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc, deps := newTestHeartbeatService(t, ctrl)
	ctx := context.Background()

	sellers := []*model.SyncJob{
		{SellerRef: "seller-a", CatalogURL: "https://market.example.com/sellers/seller-a"},
		{SellerRef: "seller-b", CatalogURL: "https://market.example.com/sellers/seller-b"},
	}
	listing := approvedListing("2222222222222222", 1500)
	listing.SellerRef = "seller-b"
	fresh := &model.HydratedListing{
		ListingID:  listing.ListingID,
		SellerRef:  "seller-b",
		Title:      listing.Title,
		ImageRef:   "https://img.example.com/chair.jpg",
		PriceCents: 1500,
	}

	deps.syncJobs.EXPECT().List(ctx).Return(sellers, nil)
	deps.listings.EXPECT().
		ListApprovedBySeller(gomock.Any(), "seller-a").
		Return(nil, apperrors.Unavailable("db down"))
	deps.syncJobs.EXPECT().MarkFailed(gomock.Any(), "seller-a", gomock.Any()).Return(nil)
	deps.listings.EXPECT().
		ListApprovedBySeller(gomock.Any(), "seller-b").
		Return([]*model.Listing{listing}, nil)
	deps.hydrator.EXPECT().CheckBatch(gomock.Any(), gomock.Any()).Return(probeOK(listing, fresh), nil)

	stats, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Checked: 1}, stats)
}
