package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
	ListComponents  bool
}

func parseFlags(args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)

	// Define flags with environment variable fallback
	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("ATLAS_LWC_CONFIG", ""),
		"Path to YAML or JSON configuration file; defaults only when empty (env: ATLAS_LWC_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("ATLAS_LWC_CONFIG", ""),
		"Path to configuration file (env: ATLAS_LWC_CONFIG)")

	// Empty keeps the value from the configuration file
	fs.StringVar(&cfg.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error (overrides log.level)")
	fs.StringVar(&cfg.LogFormat, "log-format", "",
		"Log format: json, text (overrides log.format)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("ATLAS_LWC_SHUTDOWN_TIMEOUT", 0),
		"Graceful shutdown timeout, 0 derives it from stop_timeout (env: ATLAS_LWC_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration, print the effective configuration and exit")
	fs.BoolVar(&cfg.ListComponents, "list-components", false, "List available sources and sinks and exit")

	fs.SetOutput(io.Discard)
	fs.Usage = func() {}
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			cfg.ShowHelp = true
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	// Skip validation for special flags
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	switch cfg.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	switch cfg.LogFormat {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}

	return nil
}

func printDetailedHelp(w io.Writer) {
	_, _ = fmt.Fprintf(w, `%s - LWC stream to datapoint pipeline

Connects to an LWC stream (SSE, WebSocket or a replayed capture), decodes its
frames into datapoints and heartbeats, and publishes them to a sink (JSON
lines file, NATS, MQTT or HTTP POST).

Usage: %s [options]

Options:
  -c, -config PATH          Configuration file (env: ATLAS_LWC_CONFIG)
  -log-level LEVEL          debug, info, warn, error
  -log-format FORMAT        json, text
  -shutdown-timeout DUR     Graceful shutdown timeout (env: ATLAS_LWC_SHUTDOWN_TIMEOUT)
  -validate                 Validate configuration and exit
  -list-components          List sources and sinks and exit
  -v, -version              Show version information
  -h, -help                 Show this help

Examples:
  # Stream to stdout as JSON lines
  ATLAS_LWC_SOURCE_URL=http://localhost:7101/lwc/api/v1/stream/i-1 %s

  # Replay a captured stream into NATS
  %s -config replay-nats.yaml -log-format text

  # Validate configuration only
  %s -config atlas-lwc.yaml -validate

Version: %s
Build: %s
`, appName, appName, appName, appName, appName, Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
