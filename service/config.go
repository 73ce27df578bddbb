package service

import (
	"time"

	"github.com/alexitosrv/atlas/component"
	"github.com/alexitosrv/atlas/errors"
	"github.com/alexitosrv/atlas/pkg/retry"
	"github.com/alexitosrv/atlas/processor/lwc"
)

// Config holds the pipeline configuration
type Config struct {
	Stage       lwc.Config         `json:"stage" yaml:"stage"`
	Reconnect   ReconnectConfig    `json:"reconnect" yaml:"reconnect"`
	StopTimeout component.Duration `json:"stop_timeout" yaml:"stop_timeout"` // Time the sink gets to flush on shutdown
}

// ReconnectConfig is the backoff between upstream connections.
type ReconnectConfig struct {
	MaxAttempts  int                `json:"max_attempts" yaml:"max_attempts"` // 0 reconnects forever
	InitialDelay component.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay     component.Duration `json:"max_delay" yaml:"max_delay"`
	Multiplier   float64            `json:"multiplier" yaml:"multiplier"`
	Jitter       bool               `json:"jitter" yaml:"jitter"`
}

// DefaultConfig returns the default pipeline configuration
func DefaultConfig() Config {
	policy := retry.DefaultConfig()
	return Config{
		Stage: lwc.DefaultConfig(),
		Reconnect: ReconnectConfig{
			MaxAttempts:  policy.MaxAttempts,
			InitialDelay: component.Duration(policy.InitialDelay),
			MaxDelay:     component.Duration(policy.MaxDelay),
			Multiplier:   policy.Multiplier,
			Jitter:       policy.AddJitter,
		},
		StopTimeout: component.Duration(5 * time.Second),
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if err := c.Stage.Validate(); err != nil {
		return err
	}
	if c.StopTimeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "stop_timeout cannot be negative")
	}
	return c.Reconnect.Policy().Validate()
}

// Policy returns the reconnect backoff as a retry configuration.
func (r ReconnectConfig) Policy() retry.Config {
	return retry.Config{
		MaxAttempts:  r.MaxAttempts,
		InitialDelay: r.InitialDelay.Std(),
		MaxDelay:     r.MaxDelay.Std(),
		Multiplier:   r.Multiplier,
		AddJitter:    r.Jitter,
	}
}
