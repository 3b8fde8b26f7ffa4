package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full service configuration, loaded from environment variables.
type Config struct {
	Service  ServiceConfig
	Server   ServerConfig
	Database DatabaseConfig
	NATS     NATSConfig
	Approval ApprovalConfig
}

// ServiceConfig identifies the running service instance.
type ServiceConfig struct {
	Name        string `env:"SERVICE_NAME" envDefault:"cmd-gateway"`
	Version     string `env:"SERVICE_VERSION" envDefault:"dev"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	RequestTimeout  time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	Host        string        `env:"DB_HOST" envDefault:"localhost"`
	Port        int           `env:"DB_PORT" envDefault:"5432"`
	User        string        `env:"DB_USER" envDefault:"gateway"`
	Password    string        `env:"DB_PASSWORD" envDefault:"gateway"`
	Database    string        `env:"DB_NAME" envDefault:"cmd_gateway"`
	SSLMode     string        `env:"DB_SSLMODE" envDefault:"disable"`
	MaxConns    int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	MinConns    int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	MaxConnTime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"30m"`
	MaxIdleTime time.Duration `env:"DB_MAX_CONN_IDLE" envDefault:"5m"`
}

// NATSConfig holds notification transport settings. An empty URL disables
// outbound notifications.
type NATSConfig struct {
	URL string `env:"NATS_URL"`
}

// ApprovalConfig holds approval workflow settings.
type ApprovalConfig struct {
	RequestTTL time.Duration `env:"APPROVAL_REQUEST_TTL" envDefault:"24h"`
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
