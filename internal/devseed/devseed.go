// Package devseed populates a development database with demo sellers and
// listings so the ops API and pipeline have data to work against.
package devseed

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/marketfeed/catalogd/internal/data"
	"github.com/marketfeed/catalogd/internal/domain/model"
	"github.com/marketfeed/catalogd/internal/service"
)

// Services bundles the dependencies needed for development seeding.
type Services struct {
	DB       *sql.DB
	sync     *service.SyncService
	listings *data.ListingRepo
}

// NewServices constructs all required services for seeding using the provided DB.
func NewServices(db *sql.DB) (Services, error) {
	jobRepo := data.NewJobRepo(db, data.RepoConfig{})
	jobService, err := service.NewJobService(service.JobServiceOptions{
		Repo:         jobRepo,
		DefaultLease: time.Minute,
	})
	if err != nil {
		return Services{}, fmt.Errorf("create job service: %w", err)
	}

	syncService, err := service.NewSyncService(service.SyncServiceOptions{
		Repo: data.NewSyncJobRepo(db, nil),
		Jobs: jobService,
	})
	if err != nil {
		return Services{}, fmt.Errorf("create sync service: %w", err)
	}

	return Services{
		DB:       db,
		sync:     syncService,
		listings: data.NewListingRepo(db, data.ListingRepoOptions{}),
	}, nil
}

// Run executes the full development seeding workflow against the provided DB.
// Seeding is idempotent: sellers and listings are upserted, so re-running
// refreshes the demo data instead of duplicating it.
func Run(ctx context.Context, svcs Services, logger *slog.Logger) error {
	failures := 0
	failures += seedSellers(ctx, svcs.sync, logger)
	failures += seedListings(ctx, svcs.listings, logger)
	if failures > 0 {
		return fmt.Errorf("%d seed errors; check logs", failures)
	}
	return nil
}

func seedSellers(ctx context.Context, svc *service.SyncService, logger *slog.Logger) int {
	failures := 0
	for _, req := range defaultSellers() {
		if _, err := svc.Register(ctx, req); err != nil {
			if logger != nil {
				logger.ErrorContext(ctx, "failed to register seller", "seller", req.SellerRef, "error", err)
			}
			failures++
			continue
		}
		if logger != nil {
			logger.InfoContext(ctx, "registered seller", "seller", req.SellerRef)
		}
	}
	return failures
}

func defaultSellers() []model.RegisterSellerRequest {
	return []model.RegisterSellerRequest{
		{SellerRef: "atelier-ceramics", CatalogURL: "https://atelier-ceramics.example.com/catalog"},
		{SellerRef: "vintage-threads", CatalogURL: "https://vintage-threads.example.com/shop"},
		{SellerRef: "print-and-paper", CatalogURL: "https://print-and-paper.example.com/listings"},
	}
}

func seedListings(ctx context.Context, repo *data.ListingRepo, logger *slog.Logger) int {
	failures := 0
	for _, listing := range defaultListings() {
		if err := repo.Upsert(ctx, listing); err != nil {
			if logger != nil {
				logger.ErrorContext(ctx, "failed to seed listing",
					"listing", listing.ListingID, "seller", listing.SellerRef, "error", err)
			}
			failures++
			continue
		}
		if logger != nil {
			logger.InfoContext(ctx, "seeded listing", "listing", listing.ListingID, "seller", listing.SellerRef)
		}
	}
	return failures
}

func defaultListings() []*model.Listing {
	return []*model.Listing{
		{
			ListingID:            "atl-0001",
			SellerRef:            "atelier-ceramics",
			Title:                "Hand-thrown stoneware mug",
			Description:          "Speckled glaze, holds 350ml. Dishwasher safe.",
			PriceCents:           2800,
			ImageRef:             "https://img.example.com/atl-0001.jpg",
			ModerationDecision:   model.DecisionApproved,
			ModerationConfidence: 0.96,
			Visible:              true,
		},
		{
			ListingID:            "atl-0002",
			SellerRef:            "atelier-ceramics",
			Title:                "Raku-fired vase",
			Description:          "One of a kind crackle finish, 22cm tall.",
			PriceCents:           9500,
			ImageRef:             "https://img.example.com/atl-0002.jpg",
			ModerationDecision:   model.DecisionApproved,
			ModerationConfidence: 0.91,
			Visible:              true,
		},
		{
			ListingID:            "vtg-0001",
			SellerRef:            "vintage-threads",
			Title:                "1970s denim jacket",
			Description:          "Faded wash, size M, light wear on cuffs.",
			PriceCents:           6400,
			ImageRef:             "https://img.example.com/vtg-0001.jpg",
			ModerationDecision:   model.DecisionFlagged,
			ModerationReason:     "image_blurry",
			ModerationConfidence: 0.55,
			Visible:              false,
		},
		{
			ListingID:            "ppr-0001",
			SellerRef:            "print-and-paper",
			Title:                "Letterpress greeting card set",
			Description:          "Set of six cards with envelopes, cotton paper.",
			PriceCents:           1800,
			ImageRef:             "https://img.example.com/ppr-0001.jpg",
			ModerationDecision:   model.DecisionApproved,
			ModerationConfidence: 0.98,
			Visible:              true,
			EmbeddingDegraded:    true,
		},
	}
}
