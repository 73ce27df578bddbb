// Package main implements the atlas-lwc binary: it turns an LWC stream into
// datapoints and publishes them to a sink until it is signalled to stop.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alexitosrv/atlas/component"
	"github.com/alexitosrv/atlas/componentregistry"
	"github.com/alexitosrv/atlas/config"
	"github.com/alexitosrv/atlas/errors"
	"github.com/alexitosrv/atlas/health"
	"github.com/alexitosrv/atlas/input"
	"github.com/alexitosrv/atlas/metric"
	"github.com/alexitosrv/atlas/output"
	"github.com/alexitosrv/atlas/service"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "atlas-lwc"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cli, err := parseFlags(args)
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cli); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cli.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cli.ShowHelp {
		printDetailedHelp(os.Stdout)
		return nil
	}

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	logger := setupLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cli.Validate {
		out, err := config.Encode(cfg)
		if err != nil {
			return err
		}
		_, _ = os.Stdout.Write(out)
		logger.Info("Configuration is valid")
		return nil
	}

	registry := component.NewRegistry()
	if err := componentregistry.Register(registry); err != nil {
		return fmt.Errorf("register components: %w", err)
	}
	if cli.ListComponents {
		listComponents(os.Stdout, registry)
		return nil
	}

	logger.Info("Starting atlas-lwc",
		"build_time", BuildTime,
		"config_path", cli.ConfigPath,
		"source", cfg.Source.Type,
		"sink", cfg.Sink.Type)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTimeout := cli.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = cfg.ShutdownTimeout()
	}
	return runPipeline(ctx, cfg, registry, logger, shutdownTimeout)
}

// loadConfig loads the configuration file, or only defaults and environment
// overrides when no file is given, and applies the log flags.
func loadConfig(cli *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()

	var cfg *config.Config
	var err error
	if cli.ConfigPath == "" {
		cfg, err = loader.Load(nil)
	} else {
		cfg, err = loader.LoadFile(cli.ConfigPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}
	return cfg, nil
}

// buildComponents creates the configured source connector and sink.
func buildComponents(
	registry *component.Registry, cfg *config.Config, deps component.Dependencies,
) (input.Connector, output.Sink, error) {
	source, err := registry.Create("input", cfg.Source.Type, cfg.Source.Config, deps)
	if err != nil {
		return nil, nil, fmt.Errorf("create source %s: %w", cfg.Source.Type, err)
	}
	connector, ok := source.(input.Connector)
	if !ok {
		return nil, nil, errors.WrapInvalid(errors.ErrUnsupportedSource, "main", "buildComponents",
			fmt.Sprintf("%s is not a stream connector", cfg.Source.Type))
	}

	created, err := registry.Create("output", cfg.Sink.Type, cfg.Sink.Config, deps)
	if err != nil {
		return nil, nil, fmt.Errorf("create sink %s: %w", cfg.Sink.Type, err)
	}
	sink, ok := created.(output.Sink)
	if !ok {
		return nil, nil, errors.WrapInvalid(errors.ErrUnsupportedSink, "main", "buildComponents",
			fmt.Sprintf("%s is not a datapoint sink", cfg.Sink.Type))
	}

	return connector, sink, nil
}

// runPipeline runs the pipeline, and the metrics server when enabled, until
// ctx is done, the pipeline ends by itself or the metrics server fails.
func runPipeline(
	ctx context.Context,
	cfg *config.Config,
	registry *component.Registry,
	logger *slog.Logger,
	shutdownTimeout time.Duration,
) error {
	var metricsRegistry *metric.MetricsRegistry
	if cfg.Metrics.Enabled {
		metricsRegistry = metric.NewMetricsRegistry()
	}
	deps := component.Dependencies{
		MetricsRegistry: metricsRegistry,
		Logger:          logger,
	}

	connector, sink, err := buildComponents(registry, cfg, deps)
	if err != nil {
		return err
	}

	pipeline, err := service.NewPipeline(cfg.Pipeline(), connector, sink, deps)
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		// The metrics server goes down with the pipeline.
		defer cancel()
		if err := pipeline.Run(gctx); err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
		return nil
	})

	if metricsRegistry != nil {
		server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry)
		server.SetHealthHandler(health.Handler(pipeline.Health))
		g.Go(func() error {
			logger.Info("Metrics server listening", "address", server.Address())
			return server.Start()
		})
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			if err := server.Stop(stopCtx); err != nil {
				logger.Warn("Failed to stop metrics server", "error", err)
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
		logger.Info("atlas-lwc finished", "pipeline", pipeline.Info())
		return nil
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	}

	select {
	case err := <-done:
		if err != nil {
			return err
		}
		logger.Info("atlas-lwc shutdown complete", "pipeline", pipeline.Info())
		return nil
	case <-time.After(shutdownTimeout):
		return errors.WrapFatal(errors.ErrShuttingDown, "main", "runPipeline",
			fmt.Sprintf("pipeline did not stop within %s", shutdownTimeout))
	}
}

func listComponents(w io.Writer, registry *component.Registry) {
	for _, reg := range registry.List() {
		_, _ = fmt.Fprintf(w, "%-7s %-10s %-10s %s\n", reg.Type, reg.Name, reg.Protocol, reg.Description)
	}
}
