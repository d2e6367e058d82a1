// Package heartbeat provides the adapter for running the catalog integrity
// sync loop.
package heartbeat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/marketfeed/catalogd/config"
	"github.com/marketfeed/catalogd/internal/core"
	"github.com/marketfeed/catalogd/internal/data"
	"github.com/marketfeed/catalogd/internal/observability/statsd"
	"github.com/marketfeed/catalogd/internal/service"
)

// Runner constructs the heartbeat service over the catalog repositories and
// runs its cycle loop.
type Runner struct {
	heartbeat *service.HeartbeatService
	logger    *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB         *sql.DB
	Config     config.HeartbeatConfig
	MaxRetries int
	Logger     *slog.Logger

	// Required capabilities built by the caller.
	Hydrator core.Hydrator
	Index    core.VectorIndex
	Jobs     *service.JobService

	// Optional dependency injections for testing/decoupling
	Listings core.ListingRepository
	SyncJobs core.SyncJobRepository
	Metrics  statsd.Sink
}

// NewRunner creates a new heartbeat runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.DB == nil && (opts.Listings == nil || opts.SyncJobs == nil) {
		return nil, errors.New("either DB or Listings and SyncJobs must be provided")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	listings := opts.Listings
	if listings == nil {
		listings = data.NewListingRepo(opts.DB, data.ListingRepoOptions{Logger: opts.Logger})
	}
	syncJobs := opts.SyncJobs
	if syncJobs == nil {
		syncJobs = data.NewSyncJobRepo(opts.DB, nil)
	}

	heartbeat, err := service.NewHeartbeatService(service.HeartbeatServiceOptions{
		Listings:   listings,
		SyncJobs:   syncJobs,
		Hydrator:   opts.Hydrator,
		Index:      opts.Index,
		Jobs:       opts.Jobs,
		Config:     opts.Config,
		MaxRetries: opts.MaxRetries,
		Logger:     opts.Logger,
		Metrics:    opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("wire heartbeat service: %w", err)
	}

	return &Runner{
		heartbeat: heartbeat,
		logger:    opts.Logger,
	}, nil
}

// Run starts the heartbeat loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting heartbeat runner")
	return r.heartbeat.Run(ctx)
}
