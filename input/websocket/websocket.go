package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alexitosrv/atlas/component"
	"github.com/alexitosrv/atlas/errors"
	"github.com/alexitosrv/atlas/input"
	"github.com/alexitosrv/atlas/pkg/retry"
	"github.com/alexitosrv/atlas/pkg/tlsutil"
)

// Config holds configuration for the WebSocket connector
type Config struct {
	URL              string                `json:"url"`
	Headers          map[string]string     `json:"headers,omitempty"`
	Auth             *input.AuthConfig     `json:"auth,omitempty"`
	Subscribe        json.RawMessage       `json:"subscribe,omitempty"` // sent as a text message after connecting
	HandshakeTimeout component.Duration    `json:"handshake_timeout"`
	ReadTimeout      component.Duration    `json:"read_timeout"` // 0 waits forever for the next message
	ReadLimit        int64                 `json:"read_limit"`   // max message size in bytes, 0 is unlimited
	ReadBufferSize   int                   `json:"read_buffer_size"`
	TLS              *tlsutil.ClientConfig `json:"tls,omitempty"`
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
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("url scheme must be ws or wss, got %q", u.Scheme))
	}
	if c.HandshakeTimeout < 0 || c.ReadTimeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "timeouts cannot be negative")
	}
	if c.ReadLimit < 0 || c.ReadBufferSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "sizes cannot be negative")
	}
	if len(c.Subscribe) > 0 && !json.Valid(c.Subscribe) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "subscribe must be valid JSON")
	}
	if err := c.TLS.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// DefaultConfig returns the default configuration for the WebSocket connector
func DefaultConfig() Config {
	return Config{
		URL:              "ws://localhost:7101/lwc/api/v1/subscribe",
		HandshakeTimeout: component.Duration(45 * time.Second),
		ReadLimit:        8 * 1024 * 1024,
		ReadBufferSize:   64 * 1024,
	}
}

// Connector dials WebSocket connections to an LWC endpoint
type Connector struct {
	name   string
	config Config
	dialer *websocket.Dialer
	logger *slog.Logger
	stats  *input.Stats
}

var _ input.Connector = (*Connector)(nil)

// NewConnector creates a WebSocket connector from raw JSON configuration
func NewConnector(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	config := DefaultConfig()
	if err := component.SafeUnmarshal(rawConfig, &config); err != nil {
		return nil, errors.WrapInvalid(err, "Connector", "NewConnector", "config unmarshal")
	}
	return New(config, deps)
}

// New creates a WebSocket connector from a typed configuration.
func New(config Config, deps component.Dependencies) (*Connector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	tlsConfig, err := config.TLS.Load()
	if err != nil {
		return nil, err
	}
	return &Connector{
		name:   "websocket-input",
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout.Std(),
			ReadBufferSize:   config.ReadBufferSize,
			TLSClientConfig:  tlsConfig,
		},
		logger: deps.GetLogger(),
		stats:  input.NewStats(),
	}, nil
}

// Connect performs the handshake and sends the subscribe message, if any.
// A 4xx handshake response is fatal.
func (c *Connector) Connect(ctx context.Context) (input.Connection, error) {
	headers := http.Header{}
	for key, value := range c.config.Headers {
		headers.Set(key, value)
	}
	c.config.Auth.Apply(headers)

	conn, resp, err := c.dialer.DialContext(ctx, c.config.URL, headers)
	if err != nil {
		c.stats.Error(err)
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			statusErr := fmt.Errorf("%w: %s", errors.ErrUnexpectedStatus, resp.Status)
			return nil, retry.NonRetryable(errors.WrapFatal(statusErr, "Connector", "Connect", "dial "+c.config.URL))
		}
		return nil, errors.WrapTransient(err, "Connector", "Connect", "dial "+c.config.URL)
	}

	if c.config.ReadLimit > 0 {
		conn.SetReadLimit(c.config.ReadLimit)
	}

	if len(c.config.Subscribe) > 0 {
		if err := conn.WriteMessage(websocket.TextMessage, c.config.Subscribe); err != nil {
			conn.Close()
			c.stats.Error(err)
			return nil, errors.WrapTransient(err, "Connector", "Connect", "send subscribe message")
		}
	}

	c.stats.Opened()
	c.logger.Info("LWC websocket connected", "component", c.name, "url", c.config.URL)

	return &connection{
		conn:        conn,
		readTimeout: c.config.ReadTimeout.Std(),
		stats:       c.stats,
	}, nil
}

// Meta returns component metadata
func (c *Connector) Meta() component.Metadata {
	return component.Metadata{
		Name:        c.name,
		Type:        "input",
		Description: "LWC stream over WebSocket",
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

// connection reads one WebSocket message per Next call. gorilla allows one
// concurrent reader, which matches the single outstanding request of a stage.
type connection struct {
	conn        *websocket.Conn
	readTimeout time.Duration
	stats       *input.Stats

	closeOnce sync.Once
	closeErr  error
}

// Next returns the next text or binary message. A normal close from the
// server is the end of the stream.
func (c *connection) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deadline := time.Time{}
	if c.readTimeout > 0 {
		deadline = time.Now().Add(c.readTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			c.stats.Error(err)
			return nil, err
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		c.stats.Frame(len(data))
		return data, nil
	}
}

// Close sends a close frame and closes the connection.
func (c *connection) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
		c.stats.Closed()
	})
	return c.closeErr
}

// Register registers the WebSocket connector with the given registry
func Register(registry *component.Registry) error {
	return registry.Register(component.Registration{
		Name:        "websocket",
		Type:        "input",
		Protocol:    "websocket",
		Description: "Reads LWC frames from WebSocket messages",
		Version:     "0.1.0",
		Factory:     NewConnector,
	})
}
