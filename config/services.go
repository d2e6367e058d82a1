package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the operational HTTP API.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModePipeline runs the stage worker pools.
	ServiceModePipeline ServiceMode = "pipeline"
	// ServiceModeHeartbeat runs the recurring integrity sync.
	ServiceModeHeartbeat ServiceMode = "heartbeat"
	// ServiceModeReaper runs the job reaper for queue cleanup.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModePipeline,
		ServiceModeHeartbeat,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns
// the enabled services. It validates that all service names are valid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModePipeline, ServiceModeHeartbeat, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, pipeline, heartbeat, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// PipelineConfig contains stage worker configuration for the orchestrator.
type PipelineConfig struct {
	// WorkersPerStage is the number of worker goroutines per pipeline stage.
	WorkersPerStage int `env:"PIPELINE_WORKERS_PER_STAGE" envDefault:"5"`

	// JobLease is the duration a reserved job is leased to a worker.
	JobLease time.Duration `env:"PIPELINE_JOB_LEASE" envDefault:"60s"`

	// MaxRetries is the retry budget before a job is dead-lettered.
	MaxRetries int `env:"PIPELINE_MAX_RETRIES" envDefault:"3"`

	// RetryDelay is the base delay applied before a failed job becomes
	// eligible again; the repo doubles it per attempt.
	RetryDelay time.Duration `env:"PIPELINE_RETRY_DELAY" envDefault:"5s"`
}

// Sanitize applies guardrails to pipeline configuration values.
func (p *PipelineConfig) Sanitize() {
	if p.WorkersPerStage < 1 {
		p.WorkersPerStage = 1
	}
	if p.JobLease < 5*time.Second {
		p.JobLease = 5 * time.Second
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.RetryDelay < time.Second {
		p.RetryDelay = time.Second
	}
}

// HeartbeatConfig contains integrity sync configuration.
type HeartbeatConfig struct {
	// Interval is how often every seller's approved listings are re-checked.
	Interval time.Duration `env:"INTERVAL" envDefault:"6h"`

	// CheckTimeout bounds each per-listing reachability check.
	CheckTimeout time.Duration `env:"CHECK_TIMEOUT" envDefault:"5s"`

	// PriceDeltaThreshold is the relative price change above which a listing
	// is re-moderated instead of silently repriced.
	PriceDeltaThreshold float64 `env:"PRICE_DELTA_THRESHOLD" envDefault:"0.5"`
}

// Sanitize applies guardrails to heartbeat configuration values.
func (h *HeartbeatConfig) Sanitize() {
	if h.Interval < time.Minute {
		h.Interval = time.Minute
	}
	if h.CheckTimeout <= 0 {
		h.CheckTimeout = 5 * time.Second
	}
	if h.PriceDeltaThreshold <= 0 {
		h.PriceDeltaThreshold = 0.5
	}
}

// ReaperConfig contains job reaper configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"INTERVAL" envDefault:"5m"`

	// PendingMaxAge is the maximum age for pending jobs before they are failed.
	PendingMaxAge time.Duration `env:"PENDING_MAX_AGE" envDefault:"1h"`

	// CompletedMaxAge is the maximum age for completed jobs before deletion.
	CompletedMaxAge time.Duration `env:"COMPLETED_MAX_AGE" envDefault:"168h"` // 7 days

	// DeadLetterMaxAge is the retention window for dead-lettered jobs. Kept
	// much longer than completed jobs so operators can inspect them.
	DeadLetterMaxAge time.Duration `env:"DEAD_LETTER_MAX_AGE" envDefault:"2160h"` // 90 days

	// BatchSize is the maximum number of rows to process per operation.
	BatchSize int `env:"BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < time.Minute {
		r.Interval = time.Minute
	}
	if r.PendingMaxAge < 5*time.Minute {
		r.PendingMaxAge = 5 * time.Minute
	}
	if r.CompletedMaxAge < time.Hour {
		r.CompletedMaxAge = time.Hour
	}
	if r.DeadLetterMaxAge < 24*time.Hour {
		r.DeadLetterMaxAge = 24 * time.Hour
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
