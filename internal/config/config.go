package config

import (
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pkg/errors"
)

type (
	// Config is the application configuration
	Config struct {
		App     `yaml:"app"`
		Log     `yaml:"logger"`
		Storage `yaml:"storage"`
		Refresh `yaml:"refresh"`
	}

	// App identifies the application
	App struct {
		Name    string `yaml:"name" env:"APP_NAME"`
		Version string `yaml:"version" env:"APP_VERSION"`
	}

	// Log configures logging
	Log struct {
		Level string `yaml:"log-level" env:"LOG_LEVEL"`
	}

	// Storage selects and configures the entity store
	Storage struct {
		PGURI  string `yaml:"pg-uri" env:"PG_URI"`
		Memory bool   `yaml:"memory" env:"MEMORY_DB"`
	}

	// Refresh configures reconciliation behavior
	Refresh struct {
		// OrphanGracePeriodDays controls orphan deletion: positive N deletes
		// entities orphaned for more than N days, 0 deletes immediately,
		// negative never deletes.
		OrphanGracePeriodDays int `yaml:"orphan-grace-period-days" env:"ORPHAN_GRACE_PERIOD_DAYS"`

		// RatePerSecond and RateBurst bound how fast refresh invocations are
		// admitted.
		RatePerSecond float64 `yaml:"rate-per-second" env:"REFRESH_RATE_PER_SECOND"`
		RateBurst     int     `yaml:"rate-burst" env:"REFRESH_RATE_BURST"`
	}
)

// NewConfig loads configuration from the given yaml file, if present, with
// environment variables taking precedence
func NewConfig(path string) (*Config, error) {
	cfg := &Config{}

	cfg.App.Name = "entitle-pg-backend"
	cfg.App.Version = "v1.0.0"
	cfg.Log.Level = "info"
	cfg.Refresh.OrphanGracePeriodDays = -1
	cfg.Refresh.RatePerSecond = 10
	cfg.Refresh.RateBurst = 5

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, cfg); err != nil {
				return nil, errors.Wrapf(err, "reading config file %s", path)
			}
		}
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, errors.Wrap(err, "reading config from environment")
	}

	return cfg, nil
}

// Validate checks the configuration for contradictions
func (c *Config) Validate() error {
	if !c.Storage.Memory && c.Storage.PGURI == "" {
		return errors.New("either storage.pg-uri or storage.memory must be set")
	}
	if c.Refresh.RatePerSecond <= 0 {
		return errors.New("refresh.rate-per-second must be positive")
	}
	if c.Refresh.RateBurst <= 0 {
		return errors.New("refresh.rate-burst must be positive")
	}
	return nil
}
