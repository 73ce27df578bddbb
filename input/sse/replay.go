package sse

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/alexitosrv/atlas/component"
	"github.com/alexitosrv/atlas/errors"
	"github.com/alexitosrv/atlas/input"
	"github.com/alexitosrv/atlas/processor/lwc"
)

// NewReaderSource returns a source reading one frame per non-empty line of r.
// It returns io.EOF at the end of r. ctx is checked before each read but
// cannot interrupt a read already blocked on r.
func NewReaderSource(r io.Reader) lwc.Source {
	lines := newLineReader(r, 64*1024, 0)
	return lwc.SourceFunc(func(ctx context.Context) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return lines.next()
	})
}

// ReplayConfig holds configuration for the replay connector
type ReplayConfig struct {
	// Path of a captured stream. "-" reads stdin.
	Path string `json:"path"`
}

// Validate checks the configuration for errors
func (c *ReplayConfig) Validate() error {
	if c.Path == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ReplayConfig", "Validate", "path is required")
	}
	return nil
}

// ReplayConnector replays a captured stream once. The second Connect returns
// io.EOF, which tells the pipeline the source is exhausted.
type ReplayConnector struct {
	name   string
	config ReplayConfig
	stdin  io.Reader
	logger *slog.Logger
	stats  *input.Stats
	used   atomic.Bool
}

var _ input.Connector = (*ReplayConnector)(nil)

// NewReplayConnector creates a replay connector from raw JSON configuration
func NewReplayConnector(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	config := ReplayConfig{Path: "-"}
	if err := component.SafeUnmarshal(rawConfig, &config); err != nil {
		return nil, errors.WrapInvalid(err, "ReplayConnector", "NewReplayConnector", "config unmarshal")
	}
	return NewReplay(config, deps)
}

// NewReplay creates a replay connector from a typed configuration.
func NewReplay(config ReplayConfig, deps component.Dependencies) (*ReplayConnector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &ReplayConnector{
		name:   "replay-input",
		config: config,
		stdin:  os.Stdin,
		logger: deps.GetLogger(),
		stats:  input.NewStats(),
	}, nil
}

// Connect opens the capture.
func (r *ReplayConnector) Connect(_ context.Context) (input.Connection, error) {
	if !r.used.CompareAndSwap(false, true) {
		return nil, io.EOF
	}

	var rc io.ReadCloser
	if r.config.Path == "-" {
		rc = io.NopCloser(r.stdin)
	} else {
		f, err := os.Open(r.config.Path)
		if err != nil {
			r.stats.Error(err)
			return nil, errors.WrapFatal(err, "ReplayConnector", "Connect", "open capture")
		}
		rc = f
	}

	r.stats.Opened()
	r.logger.Info("Replaying captured stream", "component", r.name, "path", r.config.Path)

	return &replayConnection{
		source: NewReaderSource(rc),
		closer: rc,
		stats:  r.stats,
	}, nil
}

// Meta returns component metadata
func (r *ReplayConnector) Meta() component.Metadata {
	return component.Metadata{
		Name:        r.name,
		Type:        "input",
		Description: "Replays a captured LWC stream from a file or stdin",
		Version:     "0.1.0",
	}
}

// Health returns the current health status
func (r *ReplayConnector) Health() component.HealthStatus {
	return r.stats.Health()
}

// DataFlow returns current data flow metrics
func (r *ReplayConnector) DataFlow() component.FlowMetrics {
	return r.stats.DataFlow()
}

type replayConnection struct {
	source    lwc.Source
	closer    io.Closer
	stats     *input.Stats
	closeOnce sync.Once
	closeErr  error
}

func (c *replayConnection) Next(ctx context.Context) ([]byte, error) {
	frame, err := c.source.Next(ctx)
	if err == nil {
		c.stats.Frame(len(frame))
	}
	return frame, err
}

func (c *replayConnection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.closer.Close()
		c.stats.Closed()
	})
	return c.closeErr
}

// RegisterReplay registers the replay connector with the given registry
func RegisterReplay(registry *component.Registry) error {
	return registry.Register(component.Registration{
		Name:        "replay",
		Type:        "input",
		Protocol:    "file",
		Description: "Replays a captured LWC stream from a file or stdin",
		Version:     "0.1.0",
		Factory:     NewReplayConnector,
	})
}
