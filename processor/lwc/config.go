package lwc

import (
	"github.com/alexitosrv/atlas/errors"
)

// Config holds configuration for an LWC stage
type Config struct {
	// Name labels logs and metrics; stages of one pipeline share it.
	Name string `json:"name" yaml:"name"`
	// InitialBufferSize is the starting size of the scratch buffer. It grows
	// to the largest payload seen.
	InitialBufferSize int `json:"initial_buffer_size" yaml:"initial_buffer_size"`
}

// DefaultConfig returns the default stage configuration
func DefaultConfig() Config {
	return Config{
		Name:              "lwc",
		InitialBufferSize: 4096,
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "name is required")
	}
	if c.InitialBufferSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"initial_buffer_size cannot be negative")
	}
	return nil
}
