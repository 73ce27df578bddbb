// Package sse provides a connector for LWC streams served over HTTP as
// text/event-stream.
//
// Every non-empty line of the response body is one frame, e.g.
//
//	info: subscribe {"metrics":[...]}
//	data: metric {"id":"...","timestamp":...,"tags":{...},"value":1.0}
//
// Lines are read only when the stage asks for the next frame, so the TCP
// receive window is what pushes back on the server.
package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/alexitosrv/atlas/component"
	"github.com/alexitosrv/atlas/errors"
	"github.com/alexitosrv/atlas/input"
	"github.com/alexitosrv/atlas/pkg/retry"
	"github.com/alexitosrv/atlas/pkg/tlsutil"
)

// Config holds configuration for the SSE connector
type Config struct {
	URL            string                `json:"url"`
	Headers        map[string]string     `json:"headers,omitempty"`
	Auth           *input.AuthConfig     `json:"auth,omitempty"`
	ConnectTimeout component.Duration    `json:"connect_timeout"`
	ReadBufferSize int                   `json:"read_buffer_size"`
	MaxFrameSize   int                   `json:"max_frame_size"` // 0 is unlimited
	TLS            *tlsutil.ClientConfig `json:"tls,omitempty"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "invalid URL format")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("url scheme must be http or https, got %q", u.Scheme))
	}
	if c.ConnectTimeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "connect_timeout cannot be negative")
	}
	if c.ReadBufferSize < 0 || c.MaxFrameSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "sizes cannot be negative")
	}
	if err := c.TLS.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// DefaultConfig returns default configuration for the SSE connector
func DefaultConfig() Config {
	return Config{
		URL:            "http://localhost:7101/lwc/api/v1/stream/default",
		ConnectTimeout: component.Duration(30 * time.Second),
		ReadBufferSize: 64 * 1024,
		MaxFrameSize:   8 * 1024 * 1024,
	}
}

// Connector opens HTTP streaming connections
type Connector struct {
	name       string
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
	stats      *input.Stats
}

var _ input.Connector = (*Connector)(nil)

// NewConnector creates an SSE connector from raw JSON configuration
func NewConnector(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	config := DefaultConfig()
	if err := component.SafeUnmarshal(rawConfig, &config); err != nil {
		return nil, errors.WrapInvalid(err, "Connector", "NewConnector", "config unmarshal")
	}
	return New(config, deps)
}

// New creates an SSE connector from a typed configuration.
func New(config Config, deps component.Dependencies) (*Connector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// No client timeout: it would cut off the stream. The connect timeout
	// bounds the wait for response headers instead.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = config.ConnectTimeout.Std()
	tlsConfig, err := config.TLS.Load()
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}

	return &Connector{
		name:       "sse-input",
		config:     config,
		httpClient: &http.Client{Transport: transport},
		logger:     deps.GetLogger(),
		stats:      input.NewStats(),
	}, nil
}

// Connect issues the streaming GET request. Client errors (4xx) are fatal,
// everything else is transient.
func (c *Connector) Connect(ctx context.Context) (input.Connection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.URL, nil)
	if err != nil {
		return nil, errors.WrapFatal(err, "Connector", "Connect", "build request")
	}
	req.Header.Set("Accept", "text/event-stream")
	for key, value := range c.config.Headers {
		req.Header.Set(key, value)
	}
	c.config.Auth.Apply(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.stats.Error(err)
		return nil, errors.WrapTransient(err, "Connector", "Connect", "request "+c.config.URL)
	}

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		statusErr := fmt.Errorf("%w: %s", errors.ErrUnexpectedStatus, resp.Status)
		c.stats.Error(statusErr)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.NonRetryable(errors.WrapFatal(statusErr, "Connector", "Connect", "request "+c.config.URL))
		}
		return nil, errors.WrapTransient(statusErr, "Connector", "Connect", "request "+c.config.URL)
	}

	c.stats.Opened()
	c.logger.Info("LWC stream connected", "component", c.name, "url", c.config.URL)

	reader := newLineReader(resp.Body, c.config.ReadBufferSize, c.config.MaxFrameSize)
	reader.skipped = func(err error) {
		c.stats.Error(err)
		c.logger.Warn("Skipped oversized frame", "component", c.name, "error", err)
	}
	return &connection{
		reader: reader,
		body:   resp.Body,
		stats:  c.stats,
	}, nil
}

// Meta returns component metadata
func (c *Connector) Meta() component.Metadata {
	return component.Metadata{
		Name:        c.name,
		Type:        "input",
		Description: "LWC stream over HTTP text/event-stream",
		Version:     "0.1.0",
	}
}

// Health returns the current health status
func (c *Connector) Health() component.HealthStatus {
	return c.stats.Health()
}

// DataFlow returns current data flow metrics
func (c *Connector) DataFlow() component.FlowMetrics {
	return c.stats.DataFlow()
}

type connection struct {
	reader *lineReader
	body   io.ReadCloser
	stats  *input.Stats

	closeOnce sync.Once
	closeErr  error
}

// Next reads the next non-empty line. Cancelling ctx closes the body, which
// unblocks a pending read.
func (c *connection) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	frame, err := c.reader.next()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, io.EOF) {
			c.stats.Error(err)
		}
		return nil, err
	}
	c.stats.Frame(len(frame))
	return frame, nil
}

func (c *connection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.body.Close()
		c.stats.Closed()
	})
	return c.closeErr
}

// lineReader splits a stream into non-empty lines. Lines longer than
// maxFrame are dropped whole and reported to skipped; the stream goes on.
type lineReader struct {
	r        *bufio.Reader
	maxFrame int
	skipped  func(err error)
}

func newLineReader(r io.Reader, bufferSize, maxFrame int) *lineReader {
	if bufferSize <= 0 {
		bufferSize = 4096
	}
	return &lineReader{r: bufio.NewReaderSize(r, bufferSize), maxFrame: maxFrame}
}

// next returns the next non-empty line without its line ending. A final line
// without a newline is still returned; io.EOF follows it.
func (l *lineReader) next() ([]byte, error) {
	for {
		line, err := l.readLine()
		if len(line) > 0 {
			return line, nil
		}
		if errors.Is(err, errors.ErrResourceExhausted) {
			if l.skipped != nil {
				l.skipped(err)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

func (l *lineReader) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := l.r.ReadSlice('\n')
		line = append(line, chunk...)
		if l.maxFrame > 0 && len(bytes.TrimRight(line, "\r\n")) > l.maxFrame {
			size := len(line)
			if errors.Is(err, bufio.ErrBufferFull) {
				n, discardErr := l.discardLine()
				size += n
				if discardErr != nil && !errors.Is(discardErr, io.EOF) {
					return nil, discardErr
				}
			}
			return nil, errors.WrapInvalid(errors.ErrResourceExhausted, "lineReader", "readLine",
				fmt.Sprintf("frame of %d bytes exceeds %d", size, l.maxFrame))
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		line = bytes.TrimRight(line, "\r\n")
		if err != nil && len(line) > 0 && errors.Is(err, io.EOF) {
			return line, nil
		}
		return line, err
	}
}

// discardLine skips the rest of the current line and returns its length.
func (l *lineReader) discardLine() (int, error) {
	n := 0
	for {
		chunk, err := l.r.ReadSlice('\n')
		n += len(chunk)
		if !errors.Is(err, bufio.ErrBufferFull) {
			return n, err
		}
	}
}

// Register registers the SSE connector with the given registry
func Register(registry *component.Registry) error {
	return registry.Register(component.Registration{
		Name:        "sse",
		Type:        "input",
		Protocol:    "http",
		Description: "Reads LWC frames from an HTTP text/event-stream response",
		Version:     "0.1.0",
		Factory:     NewConnector,
	})
}
