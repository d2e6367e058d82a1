// Package service contains the application services that sit between the
// HTTP/runner adapters and the data layer: queue operations, pipeline stage
// handlers, seller sync, the heartbeat integrity cycle, and the reaper.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/marketfeed/catalogd/internal/core"
	domainjob "github.com/marketfeed/catalogd/internal/domain/job"
	"github.com/marketfeed/catalogd/internal/domain/model"
)

// JobServiceOptions groups the dependencies for JobService.
type JobServiceOptions struct {
	Repo            core.JobRepository        // Required: job repository
	DefaultLease    time.Duration             // Required: default lease for reservations
	Logger          *slog.Logger              // Optional: structured logger
	LeasePolicy     *domainjob.LeasePolicy    // Optional: custom lease resolution
	Notifier        domainjob.Notifier        // Optional: notification fan-out
	NotifierOptions domainjob.NotifierOptions // Optional: options for the default notifier
}

// JobService provides queue operations for pipeline jobs: enqueueing,
// reservation with leases, heartbeats, completion, failure with retry
// bookkeeping, and availability notifications.
type JobService struct {
	repo        core.JobRepository
	logger      *slog.Logger
	leasePolicy *domainjob.LeasePolicy
	notifier    domainjob.Notifier
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}

	leasePolicy := opts.LeasePolicy
	if leasePolicy == nil {
		policy, err := domainjob.NewLeasePolicy(opts.DefaultLease)
		if err != nil {
			return nil, fmt.Errorf("invalid default lease: %w", err)
		}
		leasePolicy = policy
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifierOpts := opts.NotifierOptions
		if notifierOpts.Waiter == nil {
			notifierOpts.Waiter = opts.Repo
		}
		built, err := domainjob.NewNotifier(notifierOpts)
		if err != nil {
			return nil, fmt.Errorf("build notifier: %w", err)
		}
		notifier = built
	}

	return &JobService{
		repo:        opts.Repo,
		logger:      opts.Logger,
		leasePolicy: leasePolicy,
		notifier:    notifier,
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// Create enqueues a new job and notifies waiting workers.
func (s *JobService) Create(ctx context.Context, req model.CreateJobRequest) (*model.Job, error) {
	job, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "job created", "id", job.ID, "type", job.Type)
	}

	return job, nil
}

// CreateBatch enqueues many jobs in one transaction. Either every job in the
// batch is enqueued or none is.
func (s *JobService) CreateBatch(ctx context.Context, reqs []model.CreateJobRequest) ([]*model.Job, error) {
	jobs, err := s.repo.CreateBatch(ctx, reqs)
	if err != nil {
		return nil, fmt.Errorf("create job batch: %w", err)
	}

	if s.logger != nil && len(jobs) > 0 {
		s.logger.DebugContext(ctx, "job batch created", "count", len(jobs), "type", jobs[0].Type)
	}

	return jobs, nil
}

// GetByID returns a job by id.
func (s *JobService) GetByID(ctx context.Context, id string) (*model.Job, error) {
	return s.repo.GetByID(ctx, id)
}

// ReserveNext atomically claims the next pending job of the given type.
// A zero lease falls back to the configured default.
func (s *JobService) ReserveNext(ctx context.Context, jobType model.JobType, lease time.Duration) (*model.Job, error) {
	decision := s.leasePolicy.Resolve(lease)
	if s.logger != nil && decision.Clamped() {
		s.logger.WarnContext(ctx, "lease clamped to minimum",
			"job_type", jobType,
			"requested", decision.Requested,
			"lease", decision.Lease,
		)
	}

	job, err := s.repo.ReserveNext(ctx, jobType, decision.Lease)
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, err
		}
		return nil, fmt.Errorf("reserve next %s job: %w", jobType, err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "job reserved",
			"id", job.ID,
			"type", job.Type,
			"lease", decision.Lease,
		)
	}

	return job, nil
}

// Heartbeat extends the lease on a running job.
func (s *JobService) Heartbeat(ctx context.Context, id string, lease time.Duration) error {
	decision := s.leasePolicy.Resolve(lease)
	if err := s.repo.Heartbeat(ctx, id, decision.Lease); err != nil {
		return fmt.Errorf("heartbeat job %s: %w", id, err)
	}
	return nil
}

// Complete marks a running job as completed.
func (s *JobService) Complete(ctx context.Context, id string) error {
	if err := s.repo.Complete(ctx, id); err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "job completed", "id", id)
	}

	return nil
}

// Fail records a failure on a running job. The error's classification decides
// whether the job gets another attempt or is dead-lettered immediately.
// Returns the job in its post-transition state.
func (s *JobService) Fail(ctx context.Context, id string, jobErr error) (*model.Job, error) {
	if jobErr == nil {
		return nil, errors.New("job error is required")
	}

	job, err := s.repo.Fail(ctx, id, jobErr)
	if err != nil {
		return nil, fmt.Errorf("fail job %s: %w", id, err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "job failed",
			"id", id,
			"status", job.Status,
			"retry_count", job.RetryCount,
			"error", jobErr,
		)
	}

	return job, nil
}

// Subscribe registers for new-job notifications for the given type. The
// returned function cancels the subscription.
func (s *JobService) Subscribe(jobType model.JobType) (func(), <-chan struct{}) {
	if s.notifier == nil {
		ch := make(chan struct{})
		close(ch)
		return func() {}, ch
	}
	return s.notifier.Subscribe(jobType)
}

// StopNotifier shuts down the notification listeners. Called on shutdown.
func (s *JobService) StopNotifier() {
	if s.notifier != nil {
		s.notifier.StopAll()
	}
}

// Stats returns per-stage queue depth counters.
func (s *JobService) Stats(ctx context.Context) (*model.QueueStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	return stats, nil
}

// DefaultLease exposes the resolved default lease for runner configuration.
func (s *JobService) DefaultLease() time.Duration {
	return s.leasePolicy.Default()
}
