package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/marketfeed/catalogd/config"
	"github.com/marketfeed/catalogd/internal/adapters/heartbeat"
	"github.com/marketfeed/catalogd/internal/adapters/pipelinerunner"
	"github.com/marketfeed/catalogd/internal/adapters/reaper"
	"github.com/marketfeed/catalogd/internal/observability/statsd"
)

// PipelineRunnerConfig contains configuration for the stage worker pools.
type PipelineRunnerConfig struct {
	Services ServiceContainer
	Config   config.PipelineConfig
	Logger   *slog.Logger
	Metrics  statsd.Sink
}

// RunPipeline starts one worker pool per pipeline stage and blocks until the
// context is cancelled or a runner fails.
func RunPipeline(ctx context.Context, cfg PipelineRunnerConfig) error {
	if cfg.Services.Pipeline == nil {
		return fmt.Errorf("pipeline service is required")
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for jobType, handler := range cfg.Services.Pipeline.Handlers() {
		runner, err := pipelinerunner.NewRunner(pipelinerunner.RunnerOptions{
			Jobs:        cfg.Services.Jobs,
			JobType:     jobType,
			Handler:     handler,
			Lease:       cfg.Config.JobLease,
			Concurrency: cfg.Config.WorkersPerStage,
			Logger:      cfg.Logger,
			Metrics:     cfg.Metrics,
		})
		if err != nil {
			return fmt.Errorf("create %s runner: %w", jobType, err)
		}
		group.Go(func() error {
			return runner.Run(groupCtx)
		})
	}

	return group.Wait()
}

// HeartbeatRunnerConfig contains configuration for the integrity sync loop.
type HeartbeatRunnerConfig struct {
	Services   ServiceContainer
	Config     config.HeartbeatConfig
	MaxRetries int
	Logger     *slog.Logger
	Metrics    statsd.Sink
}

// RunHeartbeat starts the heartbeat integrity sync loop.
func RunHeartbeat(ctx context.Context, cfg HeartbeatRunnerConfig) error {
	runner, err := heartbeat.NewRunner(heartbeat.RunnerOptions{
		Config:     cfg.Config,
		MaxRetries: cfg.MaxRetries,
		Logger:     cfg.Logger,
		Hydrator:   cfg.Services.Hydrator,
		Index:      cfg.Services.Index,
		Jobs:       cfg.Services.Jobs,
		Listings:   cfg.Services.Listings,
		SyncJobs:   cfg.Services.SyncJobs,
		Metrics:    cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create heartbeat runner: %w", err)
	}

	return runner.Run(ctx)
}

// ReaperRunnerConfig contains configuration for the job reaper.
type ReaperRunnerConfig struct {
	DB      *sql.DB
	Config  config.ReaperConfig
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// RunReaper starts the reaper service.
func RunReaper(ctx context.Context, cfg ReaperRunnerConfig) error {
	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		DB:      cfg.DB,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}

	return runner.Run(ctx)
}
