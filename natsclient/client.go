package natsclient

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/alexitosrv/atlas/errors"
)

// ConnectionStatus is the state of the client's NATS connection
type ConnectionStatus int32

// Connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

var statusNames = [...]string{
	StatusDisconnected: "disconnected",
	StatusConnecting:   "connecting",
	StatusConnected:    "connected",
	StatusReconnecting: "reconnecting",
	StatusCircuitOpen:  "circuit_open",
}

func (s ConnectionStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

var (
	// ErrNotConnected is returned by operations that need a live connection.
	ErrNotConnected = stderrors.New("not connected to NATS")
	// ErrCircuitOpen is returned by Connect while the circuit breaker is open.
	ErrCircuitOpen = stderrors.New("circuit breaker is open")
)

// Client owns one NATS connection used to publish encoded datapoints.
type Client struct {
	url    string
	logger *slog.Logger

	status  atomic.Int32
	closed  atomic.Bool
	breaker *circuitBreaker

	mu   sync.RWMutex
	conn *nats.Conn
	js   jetstream.JetStream
	subs []*nats.Subscription

	settings
}

// settings are fixed by options before the first Connect.
type settings struct {
	clientName       string
	timeout          time.Duration
	drainTimeout     time.Duration
	maxReconnects    int
	reconnectWait    time.Duration
	pingInterval     time.Duration
	circuitThreshold int32
	maxBackoff       time.Duration

	username  string
	password  string
	token     string
	tlsConfig *tls.Config
}

// NewClient creates a disconnected client for url.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "NewClient", "url is required")
	}

	c := &Client{
		url:    url,
		logger: slog.Default(),
		settings: settings{
			timeout:          5 * time.Second,
			drainTimeout:     30 * time.Second,
			maxReconnects:    -1,
			reconnectWait:    2 * time.Second,
			pingInterval:     30 * time.Second,
			circuitThreshold: 5,
			maxBackoff:       time.Minute,
		},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	c.breaker = newCircuitBreaker(c.circuitThreshold, c.maxBackoff)
	return c, nil
}

// URL returns the NATS server URL
func (c *Client) URL() string { return c.url }

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	return ConnectionStatus(c.status.Load())
}

func (c *Client) setStatus(s ConnectionStatus) {
	c.status.Store(int32(s))
}

func (c *Client) swapStatus(from, to ConnectionStatus) bool {
	return c.status.CompareAndSwap(int32(from), int32(to))
}

// IsHealthy reports whether the client is connected
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Failures returns the connect failures since the last success
func (c *Client) Failures() int32 { return c.breaker.failures() }

// Backoff returns how long the circuit stays open the next time it trips
func (c *Client) Backoff() time.Duration { return c.breaker.nextBackoff() }

// LastFailure returns when the last connect failure happened
func (c *Client) LastFailure() time.Time { return c.breaker.lastFailureTime() }

// connectFailed records a failed connect and opens the circuit when the
// breaker trips. It reports whether the circuit is open.
func (c *Client) connectFailed() bool {
	hold, tripped := c.breaker.failure()
	if !tripped {
		return c.Status() == StatusCircuitOpen
	}

	prev := c.Status()
	if prev == StatusCircuitOpen {
		c.logger.Warn("NATS circuit breaker still open", "url", c.url, "backoff", hold)
		return true
	}
	if c.swapStatus(prev, StatusCircuitOpen) {
		c.logger.Warn("NATS circuit breaker opened",
			"url", c.url,
			"failures", c.breaker.failures(),
			"backoff", hold)
		time.AfterFunc(hold, c.halfOpen)
	}
	return true
}

// halfOpen lets the next Connect through as a probe.
func (c *Client) halfOpen() {
	if c.swapStatus(StatusCircuitOpen, StatusDisconnected) {
		c.logger.Debug("NATS circuit breaker half-open", "url", c.url)
	}
}

func (c *Client) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if c.closed.Load() {
				return
			}
			c.setStatus(StatusReconnecting)
			c.logger.Warn("NATS disconnected", "url", c.url, "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.setStatus(StatusConnected)
			c.breaker.reset()
			c.logger.Info("NATS reconnected", "url", c.url)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.setStatus(StatusDisconnected)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			c.logger.Error("NATS async error", "url", c.url, "error", err)
		}),
	}

	switch {
	case c.token != "":
		opts = append(opts, nats.Token(c.token))
	case c.username != "":
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.tlsConfig != nil {
		opts = append(opts, nats.Secure(c.tlsConfig))
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}
	return opts
}

// Connect dials the server. It fails fast while the circuit is open, and
// for good once the client was closed. Reconnects after a successful
// Connect are handled by nats.go.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.WrapFatal(errors.ErrShuttingDown, "Client", "Connect", "connect closed client")
	}
	if c.Status() == StatusCircuitOpen {
		return errors.WrapTransient(ErrCircuitOpen, "Client", "Connect", "check circuit breaker")
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS", "url", c.url)

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	opts := c.connectionOptions()
	go func() {
		conn, err := nats.Connect(c.url, opts...)
		done <- result{conn, err}
	}()

	var connErr error
	select {
	case r := <-done:
		if r.err == nil {
			js, err := jetstream.New(r.conn)
			if err != nil {
				r.conn.Close()
				return errors.WrapFatal(err, "Client", "Connect", "create JetStream context")
			}
			c.mu.Lock()
			c.conn = r.conn
			c.js = js
			c.mu.Unlock()
			c.setStatus(StatusConnected)
			c.breaker.reset()
			c.logger.Info("Connected to NATS", "url", c.url)
			return nil
		}
		connErr = r.err
	case <-ctx.Done():
		connErr = ctx.Err()
		// A dial that completes after cancellation is discarded.
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
	}

	if c.connectFailed() {
		return errors.WrapTransient(fmt.Errorf("%w: %w", ErrCircuitOpen, connErr), "Client", "Connect", "establish connection")
	}
	c.setStatus(StatusDisconnected)
	return errors.WrapTransient(connErr, "Client", "Connect", "establish connection")
}

func (c *Client) connection() (*nats.Conn, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return nil, ErrNotConnected
	}
	return conn, nil
}

// Publish hands data to the connection's outgoing buffer. Delivery is
// confirmed by Flush.
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	conn, err := c.connection()
	if err == nil {
		err = conn.Publish(subject, data)
	}
	if err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish to "+subject)
	}
	return nil
}

// Flush waits until the server has processed everything published so far.
// Without a ctx deadline the connect timeout applies.
func (c *Client) Flush(ctx context.Context) error {
	conn, err := c.connection()
	if err != nil {
		return errors.WrapTransient(err, "Client", "Flush", "flush")
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := conn.FlushWithContext(ctx); err != nil {
		return errors.WrapTransient(err, "Client", "Flush", "flush")
	}
	return nil
}

// JetStream returns the JetStream context of the current connection.
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()

	if _, err := c.connection(); err != nil || js == nil {
		return nil, ErrNotConnected
	}
	return js, nil
}

// EnsureStream creates the stream, or updates it when it already exists.
func (c *Client) EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "EnsureStream", "get JetStream context")
	}
	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "EnsureStream", "create stream "+cfg.Name)
	}
	return stream, nil
}

// PublishToStream publishes to a subject bound to a JetStream stream and
// waits for the server acknowledgement.
func (c *Client) PublishToStream(ctx context.Context, subject string, data []byte) error {
	js, err := c.JetStream()
	if err == nil {
		_, err = js.Publish(ctx, subject, data)
	}
	if err != nil {
		return errors.WrapTransient(err, "Client", "PublishToStream", "publish to "+subject)
	}
	return nil
}

// RTT returns the round-trip time to the server
func (c *Client) RTT() (time.Duration, error) {
	conn, err := c.connection()
	if err != nil {
		return 0, err
	}
	return conn.RTT()
}

// Subscribe delivers messages on subject to handler. It exists for tests
// that observe what a sink published.
func (c *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}
	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(ctx, msg.Data)
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe", "subscribe to "+subject)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return nil
}

// Close drains the connection within the drain timeout or ctx, whichever
// ends first, and forgets the credentials. Further calls are no-ops.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	conn, subs := c.conn, c.subs
	c.conn, c.js, c.subs = nil, nil, nil
	c.username, c.password, c.token = "", "", ""
	c.mu.Unlock()
	defer c.setStatus(StatusDisconnected)

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe"))
		}
	}

	if conn != nil {
		drainCtx, cancel := context.WithTimeout(ctx, c.drainTimeout)
		defer cancel()

		drained := make(chan error, 1)
		go func() { drained <- conn.Drain() }()

		select {
		case err := <-drained:
			if err != nil {
				errs = append(errs, errors.Wrap(err, "Client", "Close", "drain connection"))
			}
		case <-drainCtx.Done():
			errs = append(errs, errors.WrapTransient(drainCtx.Err(), "Client", "Close", "drain connection"))
		}
		conn.Close()
	}

	if err := stderrors.Join(errs...); err != nil {
		c.logger.Error("NATS close failed", "url", c.url, "error", err)
		return err
	}
	return nil
}
