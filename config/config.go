// Package config holds the environment-driven configuration for catalogd.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See the individual files for the
// available variables:
//   - database.go: postgres and redis configuration
//   - services.go: service mode and per-stage worker configuration
//   - pipeline.go: scout, hydrator, embedding, moderation, vector index
//   - observability.go: metrics emission
package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct composing
// domain-specific configuration from separate files.
type AppConfig struct {
	// IsDev controls development mode behavior. Set DEV=true for dev mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Postgres and redis configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Services is the comma-separated list of enabled service modes.
	Services string `env:"SERVICES" envDefault:"http,pipeline"`

	// Pipeline stage configuration
	Pipeline PipelineConfig

	// Component configuration
	Scout       ScoutConfig       `envPrefix:"SCOUT_"`
	Hydrator    HydratorConfig    `envPrefix:"HYDRATOR_"`
	Embedding   EmbeddingConfig   `envPrefix:"EMBEDDING_"`
	Moderation  ModerationConfig  `envPrefix:"MODERATION_"`
	VectorIndex VectorIndexConfig `envPrefix:"VECTOR_INDEX_"`

	// Heartbeat integrity sync configuration
	Heartbeat HeartbeatConfig `envPrefix:"HEARTBEAT_"`

	// Reaper configuration
	Reaper ReaperConfig `envPrefix:"REAPER_"`

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// Call after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.HTTP.Sanitize()
	c.Pipeline.Sanitize()
	c.Scout.Sanitize()
	c.Hydrator.Sanitize()
	c.Embedding.Sanitize()
	c.Moderation.Sanitize()
	c.VectorIndex.Sanitize()
	c.Heartbeat.Sanitize()
	c.Reaper.Sanitize()
	c.Observability.Sanitize()
	c.detectDevMode()
}

func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		appEnv := strings.ToLower(os.Getenv("APP_ENV"))
		c.IsDev = appEnv == "development" || appEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsHTTPServerEnabled returns true if the HTTP ops API is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool {
	return c.isEnabled(ServiceModeHTTP)
}

// IsPipelineEnabled returns true if the stage workers are enabled.
func (c *AppConfig) IsPipelineEnabled() bool {
	return c.isEnabled(ServiceModePipeline)
}

// IsHeartbeatEnabled returns true if the integrity sync scheduler is enabled.
func (c *AppConfig) IsHeartbeatEnabled() bool {
	return c.isEnabled(ServiceModeHeartbeat)
}

// IsReaperEnabled returns true if the job reaper is enabled.
func (c *AppConfig) IsReaperEnabled() bool {
	return c.isEnabled(ServiceModeReaper)
}

func (c *AppConfig) isEnabled(mode ServiceMode) bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[mode]
}

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the ops API server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// ReadHeaderTimeoutSeconds bounds slow-client header reads.
	ReadHeaderTimeoutSeconds int `env:"HTTP_READ_HEADER_TIMEOUT_SECONDS" envDefault:"10"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.ReadHeaderTimeoutSeconds < 1 {
		h.ReadHeaderTimeoutSeconds = 1
	}
}
