package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Storage drivers accepted by STORAGE_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrInvalidConfig is wrapped by every validation failure in Load.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config holds the application's configuration values.
// Tags like `envconfig:"APP_ENV"` specify the environment variable name.
// `default:""` provides a default value if the env var is not set.
type Config struct {
	AppEnv     string `envconfig:"APP_ENV" default:"development"` // e.g., development, staging, production
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`      // e.g., debug, info, warn, error
	HttpServer ServerConfig
	GrpcServer GrpcServerConfig
	Backend    BackendConfig
	Carts      CartsConfig
	Storage    StorageConfig
	Postgres   PostgresConfig
}

// ServerConfig holds HTTP server-specific configurations.
type ServerConfig struct {
	Port         string        `envconfig:"HTTP_SERVER_PORT" default:"8080"`
	TimeoutRead  time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_READ" default:"15s"`
	TimeoutWrite time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_WRITE" default:"15s"`
	TimeoutIdle  time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_IDLE" default:"60s"`
}

// GrpcServerConfig holds gRPC server-specific configurations.
type GrpcServerConfig struct {
	Port           string        `envconfig:"GRPC_SERVER_PORT" default:"9090"`
	HealthInterval time.Duration `envconfig:"GRPC_HEALTH_INTERVAL" default:"10s"`
}

// BackendConfig points at the storefront REST backend and its tax service.
type BackendConfig struct {
	BaseURL    string        `envconfig:"BACKEND_BASE_URL" default:"http://localhost:8000/api"`
	TaxBaseURL string        `envconfig:"TAX_BASE_URL"` // Defaults to BACKEND_BASE_URL
	Timeout    time.Duration `envconfig:"BACKEND_TIMEOUT" default:"10s"`
	TaxTimeout time.Duration `envconfig:"TAX_TIMEOUT" default:"3s"`
}

// CartsConfig bounds the in-memory device carts.
type CartsConfig struct {
	MaxDevices int `envconfig:"CART_MAX_DEVICES" default:"10000"`
}

// StorageConfig selects where local cart snapshots live.
type StorageConfig struct {
	Driver     string `envconfig:"STORAGE_DRIVER" default:"sqlite"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"storefront-cart.db"`
}

// PostgresConfig holds PostgreSQL database connection details.
// Only required when STORAGE_DRIVER=postgres.
type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST"`
	Port     string `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER"`
	Password string `envconfig:"POSTGRES_PASSWORD"`
	DBName   string `envconfig:"POSTGRES_DBNAME"`
	SSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`
}

// DSN constructs the Data Source Name string for connecting to PostgreSQL.
func (pc *PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		pc.Host, pc.Port, pc.User, pc.Password, pc.DBName, pc.SSLMode)
}

// StorageDSN returns the driver name and DSN for the configured snapshot store.
func (c *Config) StorageDSN() (driver, dsn string) {
	if c.Storage.Driver == DriverPostgres {
		return DriverPostgres, c.Postgres.DSN()
	}
	return DriverSQLite, c.Storage.SQLitePath
}

// Load initializes the configuration from environment variables.
// It should be called once during application startup.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process configuration: %w", err)
	}
	if cfg.Backend.TaxBaseURL == "" {
		cfg.Backend.TaxBaseURL = cfg.Backend.BaseURL
	}
	cfg.Storage.Driver = strings.ToLower(cfg.Storage.Driver)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	urls := []struct{ name, raw string }{
		{"BACKEND_BASE_URL", c.Backend.BaseURL},
		{"TAX_BASE_URL", c.Backend.TaxBaseURL},
	}
	for _, u := range urls {
		parsed, err := url.Parse(u.raw)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%w: %s must be an absolute URL, got %q", ErrInvalidConfig, u.name, u.raw)
		}
	}
	if c.Backend.Timeout <= 0 || c.Backend.TaxTimeout <= 0 {
		return fmt.Errorf("%w: backend timeouts must be positive", ErrInvalidConfig)
	}
	if c.Carts.MaxDevices <= 0 {
		return fmt.Errorf("%w: CART_MAX_DEVICES must be positive", ErrInvalidConfig)
	}

	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("%w: SQLITE_PATH is required for the sqlite driver", ErrInvalidConfig)
		}
	case DriverPostgres:
		var missing []string
		for name, v := range map[string]string{
			"POSTGRES_HOST":     c.Postgres.Host,
			"POSTGRES_USER":     c.Postgres.User,
			"POSTGRES_PASSWORD": c.Postgres.Password,
			"POSTGRES_DBNAME":   c.Postgres.DBName,
		} {
			if v == "" {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			slices.Sort(missing)
			return fmt.Errorf("%w: postgres driver requires %s", ErrInvalidConfig, strings.Join(missing, ", "))
		}
	default:
		return fmt.Errorf("%w: unknown STORAGE_DRIVER %q", ErrInvalidConfig, c.Storage.Driver)
	}
	return nil
}

