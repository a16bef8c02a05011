package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the environment driven configuration for the party server.
type Config struct {
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"karayouke-server"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	HTTPPort        int           `env:"PORT" envDefault:"8000"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Origins allowed to call the API from a browser.
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`

	// Session behavior
	SessionCodeLength int `env:"SESSION_CODE_LENGTH" envDefault:"5"`

	// Long-poll queue wait
	QueueWaitTimeout      time.Duration `env:"QUEUE_WAIT_TIMEOUT" envDefault:"25s"`
	QueueWaitPollInterval time.Duration `env:"QUEUE_WAIT_POLL_INTERVAL" envDefault:"500ms"`

	// External video catalog search proxy
	CatalogBaseURL string        `env:"CATALOG_BASE_URL" envDefault:"https://inv.nadeko.net"`
	CatalogTimeout time.Duration `env:"CATALOG_TIMEOUT" envDefault:"15s"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.HTTPPort)
	}
	return cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
