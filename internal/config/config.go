package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the failsafe scheduling engine.
// Environment variables are parsed from the EVERKEEP_ prefix.
type Config struct {
	// Build target selects high-level environment: local, cloud-dev, cloud
	BuildTarget string `envconfig:"BUILD_TARGET" default:"cloud-dev"`

	// Derived or override driver
	DBDriver string `envconfig:"DB_DRIVER" default:"auto"`

	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// HTTP Configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Postgres Configuration
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`

	// SQLite Configuration (local build target)
	SQLitePath string `envconfig:"SQLITE_PATH" default:"everkeep.db"`

	// Notification gateway (webhook) configuration
	GatewayURL   string        `envconfig:"GATEWAY_URL" default:"http://localhost:9400"`
	GatewayToken string        `envconfig:"GATEWAY_TOKEN" default:""`
	DispatchTimeout time.Duration `envconfig:"DISPATCH_TIMEOUT" default:"30s"`

	// Scheduler worker tuning
	WorkerInterval    time.Duration `envconfig:"WORKER_INTERVAL" default:"15s"`
	WorkerBatchSize   int           `envconfig:"WORKER_BATCH_SIZE" default:"50"`
	WorkerParallelism int           `envconfig:"WORKER_PARALLELISM" default:"8"`
	RetryDelay        time.Duration `envconfig:"RETRY_DELAY" default:"30s"`
	RetryMaxAttempts  int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`

	// Recovery monitor tuning
	RecoveryInterval time.Duration `envconfig:"RECOVERY_INTERVAL" default:"1m"`
	StuckAfter       time.Duration `envconfig:"STUCK_AFTER" default:"5m"`

	// Client sync
	CacheTTL       time.Duration `envconfig:"CACHE_TTL" default:"3s"`
	EventBusBuffer int           `envconfig:"EVENT_BUS_BUFFER" default:"256"`
}

// ResolveDefaults validates BuildTarget and derives DBDriver when set to
// "auto" or empty.
func (c *Config) ResolveDefaults() error {
	var defaultDB string

	switch c.BuildTarget {
	case "cloud-dev", "cloud":
		defaultDB = "postgres"
	case "local":
		defaultDB = "sqlite"
	default:
		return fmt.Errorf("unsupported BUILD_TARGET: %s", c.BuildTarget)
	}

	if c.DBDriver == "" || c.DBDriver == "auto" {
		c.DBDriver = defaultDB
	}

	allowedDB := map[string]bool{"postgres": true, "sqlite": true}
	if !allowedDB[c.DBDriver] {
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	return nil
}

// New creates a new Config by parsing environment variables.
// Environment variables are prefixed with EVERKEEP_
// Example: EVERKEEP_HTTP_PORT, EVERKEEP_POSTGRES_DSN
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("EVERKEEP", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("build_target", cfg.BuildTarget).
		Str("db_driver", cfg.DBDriver).
		Str("environment", string(cfg.Environment)).
		Int("port", cfg.HTTPPort).
		Str("gateway_url", cfg.GatewayURL).
		Dur("worker_interval", cfg.WorkerInterval).
		Str("postgres_dsn_present", func() string {
			if cfg.PostgresDSN != "" {
				return "true"
			}
			return "false"
		}()).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config specifically for testing.
func NewForTesting() *Config {
	cfg := &Config{
		Environment: EnvTesting,
		BuildTarget: "local",
		DBDriver:    "auto",
		HTTPPort:    8080,
		SQLitePath:  ":memory:",

		GatewayURL:      "http://localhost:9400",
		DispatchTimeout: 5 * time.Second,

		WorkerInterval:    time.Second,
		WorkerBatchSize:   10,
		WorkerParallelism: 2,
		RetryDelay:        time.Second,
		RetryMaxAttempts:  3,

		RecoveryInterval: time.Second,
		StuckAfter:       time.Minute,

		CacheTTL:       3 * time.Second,
		EventBusBuffer: 16,
	}
	_ = cfg.ResolveDefaults()
	return cfg
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
