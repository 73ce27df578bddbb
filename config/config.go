package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alexitosrv/atlas/component"
	"github.com/alexitosrv/atlas/errors"
	"github.com/alexitosrv/atlas/processor/lwc"
	"github.com/alexitosrv/atlas/service"
)

// Config represents the complete application configuration
type Config struct {
	Source      ComponentConfig         `json:"source"`
	Stage       lwc.Config              `json:"stage"`
	Reconnect   service.ReconnectConfig `json:"reconnect"`
	StopTimeout component.Duration      `json:"stop_timeout"`
	Sink        ComponentConfig         `json:"sink"`
	Metrics     MetricsConfig           `json:"metrics"`
	Log         LogConfig               `json:"log"`
}

// ComponentConfig selects a registered component and holds its own
// configuration, which the component factory parses.
type ComponentConfig struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// LogConfig configures the process logger
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// Default returns the configuration used for every field a file leaves out.
func Default() *Config {
	pipeline := service.DefaultConfig()
	return &Config{
		Source:      ComponentConfig{Type: "sse"},
		Stage:       pipeline.Stage,
		Reconnect:   pipeline.Reconnect,
		StopTimeout: pipeline.StopTimeout,
		Sink:        ComponentConfig{Type: "file"},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Source.Type == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "source.type is required")
	}
	if c.Sink.Type == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "sink.type is required")
	}

	pipeline := c.Pipeline()
	if err := pipeline.Validate(); err != nil {
		return err
	}

	if c.Metrics.Enabled {
		if err := component.ValidatePortNumber(c.Metrics.Port); err != nil {
			return errors.Wrap(err, "Config", "Validate", "metrics.port")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("metrics.path %q must start with /", c.Metrics.Path))
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("invalid log.level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("invalid log.format %q", c.Log.Format))
	}

	return nil
}

// Pipeline returns the settings of the host pipeline.
func (c *Config) Pipeline() service.Config {
	return service.Config{
		Stage:       c.Stage,
		Reconnect:   c.Reconnect,
		StopTimeout: c.StopTimeout,
	}
}

// ShutdownTimeout is the time the process waits for the pipeline after a
// signal: the sink stop timeout plus a grace period.
func (c *Config) ShutdownTimeout() time.Duration {
	return c.StopTimeout.Std() + 5*time.Second
}
