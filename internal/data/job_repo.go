// Package data provides the PostgreSQL and Redis implementations of the
// catalogd repository ports.
package data

import (
	"database/sql"
	"log/slog"
	"time"
)

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	// RetryDelay is the base delay before a failed job becomes eligible
	// again. The effective delay doubles with each prior attempt.
	RetryDelay   time.Duration
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for the durable job queue.
type JobRepo struct {
	DB           *sql.DB
	cfg          RepoConfig
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &JobRepo{
		DB:           db,
		cfg:          cfg,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const jobColumns = `
  id,
  type,
  status,
  priority,
  payload,
  seller_ref,
  listing_id,
  scheduled_at,
  started_at,
  completed_at,
  retry_count,
  max_retries,
  last_error,
  lease_expires_at,
  created_at,
  updated_at
`
