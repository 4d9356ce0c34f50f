package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Defaults.
const (
	DefaultPort           = "8080"
	DefaultSQLitePath     = "flyclaim.db"
	DefaultSweepInterval  = time.Hour
	DefaultRateLimitRPS   = 20.0
	DefaultRateLimitBurst = 40
	DefaultRulesCacheTTL  = 5 * time.Minute
)

// Config is the service configuration: defaults, then the YAML file,
// then environment variables.
type Config struct {
	Port           string        `yaml:"port"`
	DatabaseURL    string        `yaml:"database_url"`
	StoreDriver    string        `yaml:"store_driver"`
	SQLitePath     string        `yaml:"sqlite_path"`
	RedisURL       string        `yaml:"redis_url"`
	RulesCacheTTL  time.Duration `yaml:"rules_cache_ttl"`
	SeedRules      bool          `yaml:"seed_rules"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	RateLimitBurst int           `yaml:"rate_limit_burst"`
	LogLevel       string        `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:           DefaultPort,
		SQLitePath:     DefaultSQLitePath,
		RulesCacheTTL:  DefaultRulesCacheTTL,
		SeedRules:      true,
		SweepInterval:  DefaultSweepInterval,
		RateLimitRPS:   DefaultRateLimitRPS,
		RateLimitBurst: DefaultRateLimitBurst,
		LogLevel:       "INFO",
	}
}

// Load builds the configuration. path may be empty; a named file that
// cannot be read is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if cfg.StoreDriver == "" {
		cfg.StoreDriver = DriverMemory
		if cfg.DatabaseURL != "" {
			cfg.StoreDriver = DriverPostgres
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("PORT", &c.Port)
	str("DATABASE_URL", &c.DatabaseURL)
	str("SQLITE_PATH", &c.SQLitePath)
	str("REDIS_URL", &c.RedisURL)
	str("LOG_LEVEL", &c.LogLevel)
	if v, ok := lookup("STORE_DRIVER"); ok && v != "" {
		c.StoreDriver = strings.ToLower(v)
	}

	if v, ok := lookup("SWEEP_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SWEEP_INTERVAL %q: %w", v, err)
		}
		c.SweepInterval = d
	}
	if v, ok := lookup("RULES_CACHE_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid RULES_CACHE_TTL %q: %w", v, err)
		}
		c.RulesCacheTTL = d
	}
	if v, ok := lookup("RATE_LIMIT_RPS"); ok && v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_RPS %q: %w", v, err)
		}
		c.RateLimitRPS = rps
	}
	if v, ok := lookup("RATE_LIMIT_BURST"); ok && v != "" {
		burst, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_BURST %q: %w", v, err)
		}
		c.RateLimitBurst = burst
	}
	if v, ok := lookup("SEED_RULES"); ok && v != "" {
		seed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid SEED_RULES %q: %w", v, err)
		}
		c.SeedRules = seed
	}
	return nil
}

// Validate checks the combination of settings.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("store driver %s requires DATABASE_URL", c.StoreDriver)
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("store driver %s requires SQLITE_PATH", c.StoreDriver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", c.SweepInterval)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit must be non-negative")
	}
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	return nil
}
