package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/marketfeed/catalogd/internal/core"
	"github.com/marketfeed/catalogd/internal/domain/model"
	apperrors "github.com/marketfeed/catalogd/internal/errors"
)

// SyncServiceOptions groups the dependencies for SyncService.
type SyncServiceOptions struct {
	Repo       core.SyncJobRepository // Required: sync job repository
	Jobs       *JobService            // Required: queue operations
	MaxRetries int                    // Optional: retry budget for discover jobs
	Logger     *slog.Logger           // Optional: structured logger
}

// SyncService manages seller registrations and catalog sync runs. Registering
// a seller records the catalog URL; triggering a sync enqueues a
// discover-catalog job that the pipeline picks up.
type SyncService struct {
	repo       core.SyncJobRepository
	jobs       *JobService
	maxRetries int
	logger     *slog.Logger
}

// NewSyncService constructs a new SyncService.
func NewSyncService(opts SyncServiceOptions) (*SyncService, error) {
	if opts.Repo == nil {
		return nil, errors.New("SyncJobRepository is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("JobService is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SyncService{
		repo:       opts.Repo,
		jobs:       opts.Jobs,
		maxRetries: opts.MaxRetries,
		logger:     logger.With("component", "sync_service"),
	}, nil
}

// Register creates or updates a seller's sync record and kicks off a sync run.
func (s *SyncService) Register(ctx context.Context, req model.RegisterSellerRequest) (*model.SyncJob, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "register seller")
	}

	syncJob, err := s.repo.Register(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("register seller %s: %w", req.SellerRef, err)
	}

	if err := s.enqueueDiscover(ctx, syncJob); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "seller registered",
		"seller_ref", syncJob.SellerRef, "catalog_url", syncJob.CatalogURL)
	return syncJob, nil
}

// Trigger starts a new sync run for an already-registered seller.
func (s *SyncService) Trigger(ctx context.Context, sellerRef string) (*model.SyncJob, error) {
	syncJob, err := s.repo.GetBySeller(ctx, sellerRef)
	if err != nil {
		return nil, err
	}
	if syncJob.Status == model.SyncStatusRunning {
		return nil, apperrors.Conflictf("sync already running for seller %s", sellerRef)
	}

	if err := s.enqueueDiscover(ctx, syncJob); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "sync triggered", "seller_ref", sellerRef)
	return syncJob, nil
}

// Status returns the sync record for a seller.
func (s *SyncService) Status(ctx context.Context, sellerRef string) (*model.SyncJob, error) {
	return s.repo.GetBySeller(ctx, sellerRef)
}

// List returns every registered seller's sync record.
func (s *SyncService) List(ctx context.Context) ([]*model.SyncJob, error) {
	return s.repo.List(ctx)
}

func (s *SyncService) enqueueDiscover(ctx context.Context, syncJob *model.SyncJob) error {
	raw, err := model.MarshalPayload(model.DiscoverCatalogPayload{
		SellerRef:  syncJob.SellerRef,
		CatalogURL: syncJob.CatalogURL,
	})
	if err != nil {
		return err
	}

	sellerRef := syncJob.SellerRef
	if _, err := s.jobs.Create(ctx, model.CreateJobRequest{
		Type:       model.JobTypeDiscoverCatalog,
		Payload:    raw,
		SellerRef:  &sellerRef,
		MaxRetries: s.maxRetries,
	}); err != nil {
		return fmt.Errorf("enqueue discover job for %s: %w", sellerRef, err)
	}
	return nil
}
