// Package config handles loading and parsing application configuration.
// The YAML file path comes from (in priority order):
//  1. An environment variable:  CONFIG_PATH=/path/to/config.yaml
//  2. The --config flag of the setu-events command
//
// Every key can also be overridden by its env:"..." variable.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Storage drivers understood by the server.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the root configuration structure.
//
// Fields tagged env-required:"true" must be set or Load fails.
type Config struct {
	// Env controls log format and verbosity: "dev", "staging" or "prod".
	Env string `yaml:"env" env:"ENV" env-required:"true"`

	Storage    Storage `yaml:"storage"`
	HTTPServer `yaml:"http_server"`
	Auth       Auth `yaml:"auth"`
}

// Storage selects and configures the relational backend.
type Storage struct {
	Driver string `yaml:"driver" env:"STORAGE_DRIVER" env-required:"true"`

	// Path is the SQLite database file; used when Driver is "sqlite".
	Path string `yaml:"path" env:"STORAGE_PATH" env-default:"storage/setu.db"`

	// DatabaseURL is the PostgreSQL connection string; used when Driver
	// is "postgres".
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`

	// Migrate applies pending schema migrations at startup.
	Migrate bool `yaml:"migrate" env:"STORAGE_MIGRATE" env-default:"true"`
}

// HTTPServer holds settings specific to the HTTP server.
type HTTPServer struct {
	Addr            string        `yaml:"address"          env:"HTTP_SERVER_ADDR" env-required:"true"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"HTTP_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"HTTP_WRITE_TIMEOUT" env-default:"10s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"5s"`

	// RateLimitPerMinute caps requests per client address; 0 disables it.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute" env:"HTTP_RATE_LIMIT_PER_MINUTE" env-default:"0"`
}

// Auth configures verification of the bearer tokens issued by the
// authentication module.
type Auth struct {
	JWTSecret string        `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	Issuer    string        `yaml:"issuer"     env:"JWT_ISSUER" env-default:"setu"`
	TokenTTL  time.Duration `yaml:"token_ttl"  env:"JWT_TTL" env-default:"168h"`
}

// Load reads and validates the config at path. An empty path falls back
// to CONFIG_PATH.
func Load(path string) (*Config, error) {
	if env := os.Getenv("CONFIG_PATH"); env != "" {
		path = env
	}
	if path == "" {
		return nil, errors.New("config path is not set: use --config flag or CONFIG_PATH env var")
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("storage.database_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	return nil
}
