package config

import "time"

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"catalogd"`
	Password string `env:"PASSWORD" envDefault:"catalogd"`
	Name     string `env:"NAME"     envDefault:"catalogd"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"` // 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether migrations are applied during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains redis configuration for the seen-listing cache.
type RedisConfig struct {
	URI      string `env:"URI"      envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB"       envDefault:"0"`

	// SeenTTL is how long a discovered listing id is remembered. Ids older
	// than this are treated as newly discovered on the next sync.
	SeenTTL time.Duration `env:"SEEN_TTL" envDefault:"720h"` // 30 days
}
