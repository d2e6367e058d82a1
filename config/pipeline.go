package config

import (
	"strings"
	"time"
)

// ScoutConfig contains catalog discovery configuration.
type ScoutConfig struct {
	// Timeout bounds the single catalog page load.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

// Sanitize applies guardrails to scout configuration values.
func (s *ScoutConfig) Sanitize() {
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}
}

// HydratorConfig contains listing hydration configuration.
type HydratorConfig struct {
	// BaseURL is the listing-detail endpoint prefix. Detail URLs are built as
	// <BaseURL>/<listing-id>/<seller-ref>.
	BaseURL string `env:"BASE_URL"`

	// Concurrency bounds parallel per-listing fetches within one batch.
	Concurrency int `env:"CONCURRENCY" envDefault:"20"`

	// ItemTimeout bounds each per-listing fetch attempt.
	ItemTimeout time.Duration `env:"ITEM_TIMEOUT" envDefault:"10s"`

	// MaxAttempts is the per-item retry cap on rate-limit signals.
	MaxAttempts int `env:"MAX_ATTEMPTS" envDefault:"3"`

	// RequestsPerSecond optionally paces requests against one seller.
	// Zero disables pacing; the semaphore is then the only limiting device.
	RequestsPerSecond float64 `env:"REQUESTS_PER_SECOND" envDefault:"0"`
}

// Sanitize applies guardrails to hydrator configuration values.
func (h *HydratorConfig) Sanitize() {
	h.BaseURL = strings.TrimRight(strings.TrimSpace(h.BaseURL), "/")
	if h.Concurrency < 1 {
		h.Concurrency = 1
	}
	if h.ItemTimeout <= 0 {
		h.ItemTimeout = 10 * time.Second
	}
	if h.MaxAttempts < 1 {
		h.MaxAttempts = 1
	}
	if h.RequestsPerSecond < 0 {
		h.RequestsPerSecond = 0
	}
}

// EmbeddingConfig contains hybrid embedding configuration.
type EmbeddingConfig struct {
	// ImageTimeout bounds the transient image fetch during encoding.
	ImageTimeout time.Duration `env:"IMAGE_TIMEOUT" envDefault:"10s"`
}

// Sanitize applies guardrails to embedding configuration values.
func (e *EmbeddingConfig) Sanitize() {
	if e.ImageTimeout <= 0 {
		e.ImageTimeout = 10 * time.Second
	}
}

// ModerationConfig contains moderation decision-service configuration.
type ModerationConfig struct {
	// Endpoint is the decision service URL. Empty disables the remote call;
	// the gate then returns the defined degraded verdict for every review.
	Endpoint string `env:"ENDPOINT"`

	// Timeout bounds each review call.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`

	// Response field mapping, as jmespath expressions over the provider's
	// JSON response. Defaults match the reference provider schema.
	DecisionPath   string `env:"DECISION_PATH"   envDefault:"decision"`
	ConfidencePath string `env:"CONFIDENCE_PATH" envDefault:"confidence"`
	ReasonPath     string `env:"REASON_PATH"     envDefault:"reason"`
	FlagsPath      string `env:"FLAGS_PATH"      envDefault:"flags"`
}

// Sanitize applies guardrails to moderation configuration values.
func (m *ModerationConfig) Sanitize() {
	m.Endpoint = strings.TrimSpace(m.Endpoint)
	if m.Timeout <= 0 {
		m.Timeout = 30 * time.Second
	}
	if m.DecisionPath == "" {
		m.DecisionPath = "decision"
	}
	if m.ConfidencePath == "" {
		m.ConfidencePath = "confidence"
	}
	if m.ReasonPath == "" {
		m.ReasonPath = "reason"
	}
	if m.FlagsPath == "" {
		m.FlagsPath = "flags"
	}
}

// VectorIndexConfig contains similarity index configuration.
type VectorIndexConfig struct {
	// Endpoint is the external vector-search service address. Empty runs the
	// in-process index only.
	Endpoint string `env:"ENDPOINT"`

	// Timeout bounds each upsert/query call against the remote service.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

// Sanitize applies guardrails to vector index configuration values.
func (v *VectorIndexConfig) Sanitize() {
	v.Endpoint = strings.TrimSpace(v.Endpoint)
	if v.Timeout <= 0 {
		v.Timeout = 30 * time.Second
	}
}
