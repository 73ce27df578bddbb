package httppost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/alexitosrv/atlas/component"
	"github.com/alexitosrv/atlas/errors"
	"github.com/alexitosrv/atlas/message"
	"github.com/alexitosrv/atlas/metric"
	"github.com/alexitosrv/atlas/output"
	"github.com/alexitosrv/atlas/pkg/retry"
	"github.com/alexitosrv/atlas/pkg/tlsutil"
	"github.com/alexitosrv/atlas/processor/lwc"
)

// Config holds configuration for HTTP POST output component
type Config struct {
	URL               string                `json:"url"`
	Headers           map[string]string     `json:"headers"`
	Codec             string                `json:"codec"`
	Timeout           component.Duration    `json:"timeout"`
	RetryCount        int                   `json:"retry_count"`
	RetryBackoff      component.Duration    `json:"retry_backoff"`
	IncludeHeartbeats bool                  `json:"include_heartbeats"`
	RateLimit         float64               `json:"rate_limit"` // posts per second, 0 is unlimited
	RateBurst         int                   `json:"rate_burst"`
	TLS               *tlsutil.ClientConfig `json:"tls,omitempty"`
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

	if c.Timeout < 0 || c.Timeout.Std() > 5*time.Minute {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"timeout must be between 0 and 5m")
	}

	if c.RetryCount < 0 || c.RetryCount > 10 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"retry_count must be between 0 and 10")
	}
	if c.RetryBackoff < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"retry_backoff cannot be negative")
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"rate_limit and rate_burst cannot be negative")
	}
	if err := c.TLS.Validate(); err != nil {
		return err
	}

	_, err = message.NewCodec(c.Codec)
	return err
}

// DefaultConfig returns default configuration for HTTP POST output
func DefaultConfig() Config {
	return Config{
		URL:          "http://localhost:8080/datapoints",
		Headers:      make(map[string]string),
		Codec:        "json",
		Timeout:      component.Duration(30 * time.Second),
		RetryCount:   3,
		RetryBackoff: component.Duration(100 * time.Millisecond),
	}
}

// Output posts every datapoint to an HTTP endpoint
type Output struct {
	name       string
	config     Config
	codec      message.Codec
	httpClient *http.Client
	limiter    *rate.Limiter // nil when unlimited
	logger     *slog.Logger
	metrics    *metric.Metrics

	running   bool
	startTime time.Time
	mu        sync.RWMutex

	messagesSent    atomic.Int64
	messagesRetried atomic.Int64
	bytesSent       atomic.Int64
	errors          atomic.Int64
	lastActivity    atomic.Int64 // unix nanos
	lastError       atomic.Value // string
}

var _ output.Sink = (*Output)(nil)

// NewOutput creates a new HTTP POST output from configuration
func NewOutput(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	config := DefaultConfig()
	if err := component.SafeUnmarshal(rawConfig, &config); err != nil {
		return nil, errors.WrapInvalid(err, "Output", "NewOutput", "config unmarshal")
	}
	return New(config, deps)
}

// New creates an HTTP POST output from a typed configuration.
func New(config Config, deps component.Dependencies) (*Output, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	codec, err := message.NewCodec(config.Codec)
	if err != nil {
		return nil, err
	}

	timeout := config.Timeout.Std()
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	tlsConfig, err := config.TLS.Load()
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}

	return &Output{
		name:       "httppost-output",
		config:     config,
		codec:      codec,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		limiter:    newLimiter(config.RateLimit, config.RateBurst),
		logger:     deps.GetLogger(),
		metrics:    deps.CoreMetrics(),
	}, nil
}

func newLimiter(limit float64, burst int) *rate.Limiter {
	if limit == 0 {
		return nil
	}
	if burst == 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(limit), burst)
}

// Start marks the output running. Connections are opened per request.
func (h *Output) Start(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Output", "Start", "check running state")
	}

	h.running = true
	h.startTime = time.Now()

	h.logger.Info("HTTP POST output started",
		"component", h.name,
		"url", h.config.URL,
		"codec", h.codec.Name(),
		"retry_count", h.config.RetryCount)
	return nil
}

// Stop releases idle connections
func (h *Output) Stop(_ time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return nil
	}
	h.running = false
	h.httpClient.CloseIdleConnections()
	return nil
}

func (h *Output) retryPolicy() retry.Config {
	policy := retry.Config{
		MaxAttempts:  h.config.RetryCount + 1,
		InitialDelay: h.config.RetryBackoff.Std(),
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
	if policy.MaxDelay < policy.InitialDelay {
		policy.MaxDelay = policy.InitialDelay
	}
	return policy
}

// Emit posts one datapoint, retrying transport errors and 5xx responses.
func (h *Output) Emit(ctx context.Context, dp lwc.Datapoint) error {
	if dp.IsHeartbeat() && !h.config.IncludeHeartbeats {
		return nil
	}

	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return errors.WrapTransient(errors.ErrNotStarted, "Output", "Emit", "post datapoint")
	}

	data, err := h.codec.Encode(message.FromDatapoint(dp, output.ConnectionID(ctx)))
	if err != nil {
		h.recordError(err)
		return err
	}

	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return errors.WrapTransient(err, "Output", "Emit", "wait for rate limiter")
		}
	}

	attempt := 0
	err = retry.Do(ctx, h.retryPolicy(), func() error {
		attempt++
		if attempt > 1 {
			h.messagesRetried.Add(1)
		}
		return h.sendHTTPPost(ctx, data)
	})
	if err != nil {
		err = errors.WrapTransient(err, "Output", "Emit", "post datapoint")
		h.recordError(err)
		return err
	}

	h.messagesSent.Add(1)
	h.bytesSent.Add(int64(len(data)))
	h.lastActivity.Store(time.Now().UnixNano())
	h.metrics.RecordPublished(h.name, dp.Kind())
	return nil
}

func (h *Output) recordError(err error) {
	h.errors.Add(1)
	h.lastError.Store(err.Error())
	h.metrics.RecordSinkError(h.name)
	h.logger.Warn("HTTP POST failed", "component", h.name, "url", h.config.URL, "error", err)
}

// sendHTTPPost sends a single HTTP POST request. Client errors other than
// 408 and 429 are not retried.
func (h *Output) sendHTTPPost(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.config.URL, bytes.NewReader(data))
	if err != nil {
		return retry.NonRetryable(err)
	}

	req.Header.Set("Content-Type", h.codec.ContentType())
	for key, value := range h.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Read and discard body to reuse connection
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	statusErr := fmt.Errorf("%w: %s", errors.ErrUnexpectedStatus, resp.Status)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		return retry.NonRetryable(statusErr)
	}
	return statusErr
}

// Meta returns component metadata
func (h *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        h.name,
		Type:        "output",
		Description: "HTTP POST output for sending datapoints to HTTP endpoints",
		Version:     "0.1.0",
	}
}

// Health returns the current health status
func (h *Output) Health() component.HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := component.HealthStatus{
		Healthy:    h.running,
		LastCheck:  time.Now(),
		ErrorCount: int(h.errors.Load()),
	}
	if h.running {
		status.Uptime = time.Since(h.startTime)
	}
	if msg, ok := h.lastError.Load().(string); ok {
		status.LastError = msg
	}
	return status
}

// DataFlow returns current data flow metrics
func (h *Output) DataFlow() component.FlowMetrics {
	h.mu.RLock()
	elapsed := time.Since(h.startTime)
	h.mu.RUnlock()

	sent := h.messagesSent.Load()
	errorCount := h.errors.Load()

	var errorRate float64
	if total := sent + errorCount; total > 0 {
		errorRate = float64(errorCount) / float64(total)
	}

	var lastActivity time.Time
	if nanos := h.lastActivity.Load(); nanos > 0 {
		lastActivity = time.Unix(0, nanos)
	}

	return component.FlowMetrics{
		MessagesPerSecond: component.Rate(sent, elapsed),
		BytesPerSecond:    component.Rate(h.bytesSent.Load(), elapsed),
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Register registers the HTTP POST output component with the given registry
func Register(registry *component.Registry) error {
	return registry.Register(component.Registration{
		Name:        "httppost",
		Type:        "output",
		Protocol:    "http",
		Description: "HTTP POST output for sending datapoints to HTTP endpoints with retries",
		Version:     "0.1.0",
		Factory:     NewOutput,
	})
}
