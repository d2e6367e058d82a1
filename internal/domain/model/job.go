// Package model defines the core data types shared across the catalogd ingestion pipeline.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobType represents a pipeline stage a job belongs to.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobTypeDiscoverCatalog walks a seller's catalog page and fans out hydrate jobs.
	JobTypeDiscoverCatalog JobType = "discover-catalog"
	// JobTypeHydrateListing fetches public metadata for a single listing.
	JobTypeHydrateListing JobType = "hydrate-listing"
	// JobTypeGenerateEmbedding computes the hybrid vector for a hydrated listing.
	JobTypeGenerateEmbedding JobType = "generate-embedding"
	// JobTypeModerateListing runs the moderation gate over a hydrated listing.
	JobTypeModerateListing JobType = "moderate-listing"
	// JobTypePersistListing writes the final listing record for collaborators.
	JobTypePersistListing JobType = "persist-listing"

	// JobStatusPending indicates a job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates a job has finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job failed and is awaiting a retry slot.
	JobStatusFailed JobStatus = "failed"
	// JobStatusDeadLettered indicates a job exhausted its retries and is
	// preserved for inspection. Terminal.
	JobStatusDeadLettered JobStatus = "dead_letter"
)

// ErrNoJobsAvailable is returned when no jobs are available for reservation.
var ErrNoJobsAvailable = errors.New("no jobs available")

// PipelineJobTypes lists every stage type in causal order.
func PipelineJobTypes() []JobType {
	return []JobType{
		JobTypeDiscoverCatalog,
		JobTypeHydrateListing,
		JobTypeGenerateEmbedding,
		JobTypeModerateListing,
		JobTypePersistListing,
	}
}

// UnmarshalText implements encoding.TextUnmarshaler for JobType to allow env parsing.
func (t *JobType) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jt := JobType(v)
	if jt.Valid() {
		*t = jt
		return nil
	}
	return fmt.Errorf("invalid JobType: %q", v)
}

// Valid returns true if the JobType is one of the pipeline stages.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeDiscoverCatalog, JobTypeHydrateListing, JobTypeGenerateEmbedding,
		JobTypeModerateListing, JobTypePersistListing:
		return true
	default:
		return false
	}
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted,
		JobStatusFailed, JobStatusDeadLettered:
		return true
	default:
		return false
	}
}

// Terminal reports whether a job in this status will never run again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusDeadLettered
}

// Job represents a single unit of pipeline work with its retry bookkeeping.
// State transitions are monotonic: pending → running → {completed, pending
// (retry, retry_count+1), dead_letter}.
type Job struct {
	ID             string          `json:"id"                         db:"id"`
	Type           JobType         `json:"type"                       db:"type"`
	Status         JobStatus       `json:"status"                     db:"status"`
	Priority       int             `json:"priority"                   db:"priority"`
	Payload        json.RawMessage `json:"payload"                    db:"payload"`
	SellerRef      *string         `json:"seller_ref,omitempty"       db:"seller_ref"`
	ListingID      *string         `json:"listing_id,omitempty"       db:"listing_id"`
	ScheduledAt    time.Time       `json:"scheduled_at"               db:"scheduled_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"       db:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"     db:"completed_at"`
	RetryCount     int             `json:"retry_count"                db:"retry_count"`
	MaxRetries     int             `json:"max_retries"                db:"max_retries"`
	LastError      *string         `json:"last_error,omitempty"       db:"last_error"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	CreatedAt      time.Time       `json:"created_at"                 db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"                 db:"updated_at"`
}

// CreateJobRequest represents a request to enqueue a new pipeline job.
type CreateJobRequest struct {
	Type        JobType         `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority,omitempty"`
	SellerRef   *string         `json:"seller_ref,omitempty"`
	ListingID   *string         `json:"listing_id,omitempty"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
	MaxRetries  int             `json:"max_retries"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if !r.Type.Valid() {
		return errors.New("invalid job type")
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	if r.Priority < 0 || r.Priority > 100 {
		return errors.New("priority must be between 0 and 100")
	}
	if r.MaxRetries < 0 {
		return errors.New("max retries must be >= 0")
	}
	return nil
}

// JobStats represents counts of jobs per state for one job type.
type JobStats struct {
	Pending      int `json:"pending"`
	Running      int `json:"running"`
	Completed    int `json:"completed"`
	Failed       int `json:"failed"`
	DeadLettered int `json:"dead_lettered"`
}

// QueueStats groups per-stage stats for the queue stats endpoint.
type QueueStats struct {
	Stages map[JobType]JobStats `json:"stages"`
}
