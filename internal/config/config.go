// Package config provides configuration loading for adaptd.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SERVER_HTTP_PORT, TELEMETRY_ENDPOINT, ...)
//  2. YAML config file (~/.config/adaptd/config.yaml by default)
//  3. Hardcoded defaults
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/adaptd/internal/adaptation"
	"github.com/fyrsmithlabs/adaptd/internal/logging"
	"github.com/fyrsmithlabs/adaptd/internal/orchestrator"
	"github.com/fyrsmithlabs/adaptd/internal/pipeline"
	"github.com/fyrsmithlabs/adaptd/internal/telemetry"
)

// Config is the complete adaptd configuration.
type Config struct {
	Server        ServerConfig           `koanf:"server"`
	Logging       *logging.Config        `koanf:"logging"`
	Telemetry     *telemetry.Config      `koanf:"telemetry"`
	Store         StoreConfig            `koanf:"store"`
	Auth          AuthConfig             `koanf:"auth"`
	Orchestration *orchestrator.Config   `koanf:"orchestration"`
	Experiment    ExperimentConfig       `koanf:"experiment"`
	Retrieval     RetrievalConfig        `koanf:"retrieval"`
	Pipelines     []pipeline.Config      `koanf:"pipelines"`
	Templates     []*adaptation.Template `koanf:"templates"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPPort        int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	// Path is the SQLite database file. Empty means the default path under
	// the user's config directory.
	Path string `koanf:"path"`
}

// AuthConfig maps API keys to user identities.
type AuthConfig struct {
	APIKeys map[string]string `koanf:"api_keys"`
}

// ExperimentConfig names the personalization experiment new orchestrations
// are assigned into. An empty ID disables assignment.
type ExperimentConfig struct {
	ID string `koanf:"id"`
}

// RetrievalConfig tunes the memory retrieval stage.
type RetrievalConfig struct {
	Limit int `koanf:"limit"`
}

// New returns the default configuration.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        9464,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging:       logging.NewDefaultConfig(),
		Telemetry:     telemetry.NewDefaultConfig(),
		Orchestration: orchestrator.NewDefaultConfig(),
		Retrieval:     RetrievalConfig{Limit: 20},
		Pipelines:     pipeline.Defaults(),
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port must be in 1..65535, got %d", c.Server.HTTPPort)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}
	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return fmt.Errorf("logging: %w", err)
		}
	}
	if c.Telemetry != nil {
		if err := c.Telemetry.Validate(); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}
	if c.Orchestration != nil {
		if err := c.Orchestration.Validate(); err != nil {
			return fmt.Errorf("orchestration: %w", err)
		}
	}
	if c.Retrieval.Limit <= 0 {
		return fmt.Errorf("retrieval.limit must be positive")
	}
	for i := range c.Pipelines {
		if err := c.Pipelines[i].Validate(); err != nil {
			return fmt.Errorf("pipelines[%d]: %w", i, err)
		}
	}
	return nil
}

// applyDefaults fills zero values left after file and env loading.
func applyDefaults(cfg *Config) {
	def := New()

	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = def.Server.HTTPPort
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if cfg.Logging == nil {
		cfg.Logging = def.Logging
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = def.Telemetry
	}
	if cfg.Orchestration == nil {
		cfg.Orchestration = def.Orchestration
	}
	if cfg.Retrieval.Limit == 0 {
		cfg.Retrieval.Limit = def.Retrieval.Limit
	}
	if len(cfg.Pipelines) == 0 {
		cfg.Pipelines = def.Pipelines
	}
}
