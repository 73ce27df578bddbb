// Package file provides an output that writes datapoints as JSON lines.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alexitosrv/atlas/component"
	"github.com/alexitosrv/atlas/errors"
	"github.com/alexitosrv/atlas/message"
	"github.com/alexitosrv/atlas/metric"
	"github.com/alexitosrv/atlas/output"
	"github.com/alexitosrv/atlas/processor/lwc"
)

// Config holds configuration for file output component
type Config struct {
	// Path of the output file. "-" writes to stdout.
	Path              string             `json:"path"`
	Append            bool               `json:"append"`
	IncludeHeartbeats bool               `json:"include_heartbeats"`
	BufferSize        int                `json:"buffer_size"`    // bufio buffer in bytes
	FlushInterval     component.Duration `json:"flush_interval"` // 0 flushes after every write
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "path is required")
	}
	if c.BufferSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"buffer_size cannot be negative")
	}
	if c.FlushInterval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"flush_interval cannot be negative")
	}
	return nil
}

// DefaultConfig returns default configuration for file output
func DefaultConfig() Config {
	return Config{
		Path:          "-",
		Append:        true,
		BufferSize:    64 * 1024,
		FlushInterval: component.Duration(time.Second),
	}
}

// Output writes one JSON object per line
type Output struct {
	name    string
	config  Config
	codec   message.JSONCodec
	logger  *slog.Logger
	metrics *metric.Metrics

	// stdout stands in for os.Stdout so tests can capture it
	stdout io.Writer

	file   *os.File
	writer *bufio.Writer
	fileMu sync.Mutex

	shutdown  chan struct{}
	wg        sync.WaitGroup
	running   bool
	startTime time.Time
	mu        sync.RWMutex

	messagesWritten atomic.Int64
	bytesWritten    atomic.Int64
	errors          atomic.Int64
	lastActivity    atomic.Int64 // unix nanos
}

var _ output.Sink = (*Output)(nil)

// NewOutput creates a new file output from configuration
func NewOutput(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	config := DefaultConfig()
	if err := component.SafeUnmarshal(rawConfig, &config); err != nil {
		return nil, errors.WrapInvalid(err, "Output", "NewOutput", "config unmarshal")
	}
	return New(config, deps)
}

// New creates a file output from a typed configuration.
func New(config Config, deps component.Dependencies) (*Output, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Output{
		name:     "file-output",
		config:   config,
		logger:   deps.GetLogger(),
		metrics:  deps.CoreMetrics(),
		stdout:   os.Stdout,
		shutdown: make(chan struct{}),
	}, nil
}

// Start opens the output file and starts the periodic flush
func (f *Output) Start(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Output", "Start", "check running state")
	}

	target := f.stdout
	if f.config.Path != "-" {
		if err := os.MkdirAll(filepath.Dir(f.config.Path), 0o755); err != nil {
			return errors.WrapFatal(err, "Output", "Start", "create output directory")
		}

		flags := os.O_CREATE | os.O_WRONLY
		if f.config.Append {
			flags |= os.O_APPEND
		} else {
			flags |= os.O_TRUNC
		}

		file, err := os.OpenFile(f.config.Path, flags, 0o644)
		if err != nil {
			return errors.WrapFatal(err, "Output", "Start", "open output file")
		}
		f.file = file
		target = file
	}

	size := f.config.BufferSize
	if size == 0 {
		size = 4096
	}
	f.fileMu.Lock()
	f.writer = bufio.NewWriterSize(target, size)
	f.fileMu.Unlock()

	if interval := f.config.FlushInterval.Std(); interval > 0 {
		f.wg.Add(1)
		go f.flushLoop(interval)
	}

	f.running = true
	f.startTime = time.Now()

	f.logger.Info("File output started",
		"component", f.name,
		"path", f.config.Path,
		"append", f.config.Append,
		"include_heartbeats", f.config.IncludeHeartbeats)

	return nil
}

// Emit writes one datapoint. Heartbeats are skipped unless
// include_heartbeats is set.
func (f *Output) Emit(ctx context.Context, dp lwc.Datapoint) error {
	if dp.IsHeartbeat() && !f.config.IncludeHeartbeats {
		return nil
	}

	data, err := f.codec.Encode(message.FromDatapoint(dp, output.ConnectionID(ctx)))
	if err != nil {
		f.errors.Add(1)
		f.metrics.RecordSinkError(f.name)
		return err
	}

	f.fileMu.Lock()
	defer f.fileMu.Unlock()

	if f.writer == nil {
		return errors.WrapTransient(errors.ErrNotStarted, "Output", "Emit", "write datapoint")
	}

	n, err := f.writer.Write(append(data, '\n'))
	if err == nil && f.config.FlushInterval == 0 {
		err = f.writer.Flush()
	}
	if err != nil {
		f.errors.Add(1)
		f.metrics.RecordSinkError(f.name)
		return errors.WrapFatal(err, "Output", "Emit", "write datapoint")
	}

	f.messagesWritten.Add(1)
	f.bytesWritten.Add(int64(n))
	f.lastActivity.Store(time.Now().UnixNano())
	f.metrics.RecordPublished(f.name, dp.Kind())
	return nil
}

// Stop flushes buffered data and closes the file
func (f *Output) Stop(timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return nil
	}

	close(f.shutdown)

	waitCh := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-time.After(timeout):
		f.logger.Warn("File output flush loop did not stop in time", "component", f.name, "timeout", timeout)
	}

	f.fileMu.Lock()
	defer f.fileMu.Unlock()

	var stopErr error
	if err := f.writer.Flush(); err != nil {
		stopErr = errors.Wrap(err, "Output", "Stop", "flush output")
	}
	f.writer = nil

	if f.file != nil {
		if err := f.file.Close(); err != nil && stopErr == nil {
			stopErr = errors.Wrap(err, "Output", "Stop", "close output file")
		}
		f.file = nil
	}

	f.running = false
	return stopErr
}

func (f *Output) flushLoop(interval time.Duration) {
	defer f.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.shutdown:
			return
		case <-ticker.C:
			f.flush()
		}
	}
}

func (f *Output) flush() {
	f.fileMu.Lock()
	defer f.fileMu.Unlock()

	if f.writer == nil || f.writer.Buffered() == 0 {
		return
	}
	if err := f.writer.Flush(); err != nil {
		f.errors.Add(1)
		f.logger.Error("Failed to flush output file", "component", f.name, "error", err)
	}
}

// Meta returns component metadata
func (f *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        f.name,
		Type:        "output",
		Description: "JSON lines file output",
		Version:     "0.1.0",
	}
}

// Health returns the current health status
func (f *Output) Health() component.HealthStatus {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var uptime time.Duration
	if f.running {
		uptime = time.Since(f.startTime)
	}
	return component.HealthStatus{
		Healthy:    f.running,
		LastCheck:  time.Now(),
		ErrorCount: int(f.errors.Load()),
		Uptime:     uptime,
	}
}

// DataFlow returns current data flow metrics
func (f *Output) DataFlow() component.FlowMetrics {
	f.mu.RLock()
	elapsed := time.Since(f.startTime)
	f.mu.RUnlock()

	written := f.messagesWritten.Load()
	errorCount := f.errors.Load()

	var errorRate float64
	if total := written + errorCount; total > 0 {
		errorRate = float64(errorCount) / float64(total)
	}

	var lastActivity time.Time
	if nanos := f.lastActivity.Load(); nanos > 0 {
		lastActivity = time.Unix(0, nanos)
	}

	return component.FlowMetrics{
		MessagesPerSecond: component.Rate(written, elapsed),
		BytesPerSecond:    component.Rate(f.bytesWritten.Load(), elapsed),
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Register registers the file output component with the given registry
func Register(registry *component.Registry) error {
	return registry.Register(component.Registration{
		Name:        "file",
		Type:        "output",
		Protocol:    "file",
		Description: "Writes datapoints as JSON lines to a file or stdout",
		Version:     "0.1.0",
		Factory:     NewOutput,
	})
}
