// Package pipelinerunner pulls jobs for one pipeline stage and executes the
// stage handler with a worker pool. One runner is started per stage; workers
// share a single queue notification subscription.
package pipelinerunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marketfeed/catalogd/internal/domain/model"
	obserrors "github.com/marketfeed/catalogd/internal/observability/errors"
	"github.com/marketfeed/catalogd/internal/observability/metrics"
	"github.com/marketfeed/catalogd/internal/observability/statsd"
	"github.com/marketfeed/catalogd/internal/service"
)

// RunnerOptions configures a stage runner.
type RunnerOptions struct {
	Jobs    *service.JobService  // Required: queue operations
	JobType model.JobType        // Required: which stage this runner processes
	Handler service.StageHandler // Required: the stage handler

	Lease       time.Duration // per-job lease duration; defaults to the job service default
	Concurrency int           // number of worker goroutines; defaults to 1
	Logger      *slog.Logger  // Optional: structured logger
	Metrics     statsd.Sink   // Optional: metrics sink
}

// Runner executes one stage's jobs until its context is cancelled.
type Runner struct {
	jobs    *service.JobService
	jobType model.JobType
	handler service.StageHandler
	lease   time.Duration
	workers int
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewRunner constructs a stage runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobService is required")
	}
	if !opts.JobType.Valid() {
		return nil, fmt.Errorf("invalid job type %q", opts.JobType)
	}
	if opts.Handler == nil {
		return nil, errors.New("stage handler is required")
	}

	lease := opts.Lease
	if lease <= 0 {
		lease = opts.Jobs.DefaultLease()
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		jobs:    opts.Jobs,
		jobType: opts.JobType,
		handler: opts.Handler,
		lease:   lease,
		workers: workers,
		logger:  logger.With("component", "pipeline_runner", "job_type", opts.JobType),
		metrics: opts.Metrics,
	}, nil
}

// Run starts worker goroutines and processes jobs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting stage runner", "workers", r.workers, "lease", r.lease)

	// Derive a cancellable context that we can signal on first fatal error
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Workers share one notification subscription for this stage
	unsub, ch := r.jobs.Subscribe(r.jobType)
	defer unsub()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	for range r.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.workerLoop(ctx, ch); err != nil {
				// first error wins, cancels all workers
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

func (r *Runner) workerLoop(ctx context.Context, notify <-chan struct{}) error {
	for ctx.Err() == nil {
		job, err := r.jobs.ReserveNext(ctx, r.jobType, r.lease)
		switch {
		case err == nil:
			if job != nil {
				r.processJob(ctx, job)
			}
		case errors.Is(err, model.ErrNoJobsAvailable):
			if !r.waitForNotify(ctx, notify) {
				return nil
			}
		default:
			return fmt.Errorf("reserve next: %w", err)
		}
	}
	return ctx.Err()
}

func (r *Runner) waitForNotify(ctx context.Context, notify <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return false
	case <-notify:
		return true
	}
}

func (r *Runner) processJob(ctx context.Context, job *model.Job) {
	start := time.Now()
	emit := func(transition, result string, err error) {
		metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
			JobType:    string(job.Type),
			Transition: transition,
			Result:     result,
			Duration:   time.Since(start),
			Err:        err,
		})
	}

	if err := r.handler(ctx, job); err != nil {
		failed, failErr := r.jobs.Fail(ctx, job.ID, err)
		if failErr != nil {
			r.logger.ErrorContext(ctx, "fail job error",
				"job_id", job.ID, "error", failErr, "original_error", err)
		} else if failed.Status == model.JobStatusDeadLettered {
			r.logger.WarnContext(ctx, "job dead-lettered",
				"job_id", job.ID,
				"retry_count", failed.RetryCount,
				"error", err,
				"error_class", obserrors.Classify(err),
			)
		}
		emit("failed", metrics.ResultError, err)
		return
	}

	if err := r.jobs.Complete(ctx, job.ID); err != nil {
		r.logger.ErrorContext(ctx, "complete job error", "job_id", job.ID, "error", err)
		emit("completed", metrics.ResultError, err)
		return
	}
	emit("completed", metrics.ResultSuccess, nil)
}
