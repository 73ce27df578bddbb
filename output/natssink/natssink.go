// Package natssink provides an output that publishes datapoints to NATS.
//
// Datapoints are published to "<subject_prefix>.datapoint" and heartbeats to
// "<subject_prefix>.heartbeat", encoded with the configured message codec.
// The sink owns its NATS connection; reconnects after the initial connect
// are handled by the client.
//
// With a jetstream block the same subjects are published through JetStream
// and every publish waits for the stream's acknowledgement:
//
//	jetstream:
//	  stream: ATLAS_LWC
//	  create: true      # create or update a stream on "<subject_prefix>.>"
//	  storage: file     # file or memory
//	  max_age: 24h
package natssink

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/alexitosrv/atlas/component"
	"github.com/alexitosrv/atlas/errors"
	"github.com/alexitosrv/atlas/message"
	"github.com/alexitosrv/atlas/metric"
	"github.com/alexitosrv/atlas/natsclient"
	"github.com/alexitosrv/atlas/output"
	"github.com/alexitosrv/atlas/pkg/retry"
	"github.com/alexitosrv/atlas/pkg/tlsutil"
	"github.com/alexitosrv/atlas/processor/lwc"
)

// Config holds configuration for the NATS sink
type Config struct {
	URL             string                `json:"url"`
	SubjectPrefix   string                `json:"subject_prefix"`
	Codec           string                `json:"codec"` // json or msgpack
	ClientName      string                `json:"client_name"`
	Token           string                `json:"token,omitempty"`
	Username        string                `json:"username,omitempty"`
	Password        string                `json:"password,omitempty"`
	Timeout         component.Duration    `json:"timeout"`
	ConnectAttempts int                   `json:"connect_attempts"` // 0 retries until cancelled
	ConnectBackoff  component.Duration    `json:"connect_backoff"`
	MaxReconnects   int                   `json:"max_reconnects"` // after a connection is lost, -1 forever
	ReconnectWait   component.Duration    `json:"reconnect_wait"`
	TLS             *tlsutil.ClientConfig `json:"tls,omitempty"`
	JetStream       *JetStreamConfig      `json:"jetstream,omitempty"`
}

// JetStreamConfig switches the sink to acknowledged JetStream publishes.
type JetStreamConfig struct {
	Stream  string             `json:"stream"`
	Create  bool               `json:"create"`
	Storage string             `json:"storage,omitempty"` // file (default) or memory
	MaxAge  component.Duration `json:"max_age,omitempty"` // 0 keeps messages forever
}

// Validate checks the configuration for errors. A nil config is valid.
func (j *JetStreamConfig) Validate() error {
	if j == nil {
		return nil
	}
	if j.Stream == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "JetStreamConfig", "Validate", "stream is required")
	}
	if strings.ContainsAny(j.Stream, " \t.*>/\\") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "JetStreamConfig", "Validate",
			"stream name cannot contain whitespace, dots, wildcards or slashes")
	}
	switch j.Storage {
	case "", "file", "memory":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "JetStreamConfig", "Validate",
			"storage must be file or memory")
	}
	if j.MaxAge < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "JetStreamConfig", "Validate", "max_age cannot be negative")
	}
	return nil
}

// streamConfig is the stream created for subjectPrefix when Create is set.
func (j *JetStreamConfig) streamConfig(subjectPrefix string) jetstream.StreamConfig {
	storage := jetstream.FileStorage
	if j.Storage == "memory" {
		storage = jetstream.MemoryStorage
	}
	return jetstream.StreamConfig{
		Name:     j.Stream,
		Subjects: []string{subjectPrefix + ".>"},
		Storage:  storage,
		MaxAge:   j.MaxAge.Std(),
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "url is required")
	}
	if c.SubjectPrefix == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "subject_prefix is required")
	}
	if strings.ContainsAny(c.SubjectPrefix, " \t*>") || strings.HasSuffix(c.SubjectPrefix, ".") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"subject_prefix must be a literal subject without wildcards or a trailing dot")
	}
	if _, err := message.NewCodec(c.Codec); err != nil {
		return err
	}
	if c.Timeout < 0 || c.ReconnectWait < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "durations cannot be negative")
	}
	if c.MaxReconnects < -1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "max_reconnects must be -1 or more")
	}
	if err := c.TLS.Validate(); err != nil {
		return err
	}
	if err := c.JetStream.Validate(); err != nil {
		return err
	}
	return c.connectPolicy().Validate()
}

func (c *Config) connectPolicy() retry.Config {
	policy := retry.Quick()
	policy.MaxAttempts = c.ConnectAttempts
	if c.ConnectBackoff > 0 {
		policy.InitialDelay = c.ConnectBackoff.Std()
		if policy.MaxDelay < policy.InitialDelay {
			policy.MaxDelay = policy.InitialDelay
		}
	}
	return policy
}

// DefaultConfig returns default configuration for the NATS sink
func DefaultConfig() Config {
	return Config{
		URL:             "nats://localhost:4222",
		SubjectPrefix:   "atlas.lwc",
		Codec:           "json",
		ClientName:      "atlas-lwc",
		Timeout:         component.Duration(5 * time.Second),
		ConnectAttempts: retry.Quick().MaxAttempts,
		ConnectBackoff:  component.Duration(retry.Quick().InitialDelay),
		MaxReconnects:   -1,
		ReconnectWait:   component.Duration(2 * time.Second),
	}
}

// publisher is the part of natsclient.Client the sink uses
type publisher interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, subject string, data []byte) error
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
	IsHealthy() bool
	EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// Sink publishes stage outputs to NATS
type Sink struct {
	name    string
	config  Config
	codec   message.Codec
	client  publisher
	logger  *slog.Logger
	metrics *metric.Metrics

	datapointSubject string
	heartbeatSubject string

	running   bool
	startTime time.Time
	mu        sync.RWMutex

	published    atomic.Int64
	bytesOut     atomic.Int64
	errors       atomic.Int64
	lastActivity atomic.Int64 // unix nanos
	lastError    atomic.Value // string
}

var _ output.Sink = (*Sink)(nil)

// NewSink creates a NATS sink from raw JSON configuration
func NewSink(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	config := DefaultConfig()
	if err := component.SafeUnmarshal(rawConfig, &config); err != nil {
		return nil, errors.WrapInvalid(err, "Sink", "NewSink", "config unmarshal")
	}
	return New(config, deps)
}

// New creates a NATS sink from a typed configuration.
func New(config Config, deps component.Dependencies) (*Sink, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	codec, err := message.NewCodec(config.Codec)
	if err != nil {
		return nil, err
	}

	logger := deps.GetLogger()
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithName(config.ClientName),
		natsclient.WithMaxReconnects(config.MaxReconnects),
	}
	if config.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(config.ReconnectWait.Std()))
	}
	if config.Timeout > 0 {
		opts = append(opts, natsclient.WithTimeout(config.Timeout.Std()))
	}
	if config.Token != "" {
		opts = append(opts, natsclient.WithToken(config.Token))
	}
	if config.Username != "" {
		opts = append(opts, natsclient.WithCredentials(config.Username, config.Password))
	}
	tlsConfig, err := config.TLS.Load()
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		opts = append(opts, natsclient.WithTLS(tlsConfig))
	}

	client, err := natsclient.NewClient(config.URL, opts...)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Sink", "New", "create NATS client")
	}
	return newSink(config, codec, client, deps), nil
}

func newSink(config Config, codec message.Codec, client publisher, deps component.Dependencies) *Sink {
	return &Sink{
		name:             "nats-sink",
		config:           config,
		codec:            codec,
		client:           client,
		logger:           deps.GetLogger(),
		metrics:          deps.CoreMetrics(),
		datapointSubject: config.SubjectPrefix + ".datapoint",
		heartbeatSubject: config.SubjectPrefix + ".heartbeat",
	}
}

// Start connects to NATS, retrying with the connect policy
func (s *Sink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Sink", "Start", "check running state")
	}

	err := retry.Do(ctx, s.config.connectPolicy(), func() error {
		if err := s.client.Connect(ctx); err != nil {
			s.logger.Warn("NATS connect failed", "component", s.name, "url", s.config.URL, "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		return errors.WrapTransient(err, "Sink", "Start", "connect to NATS")
	}

	if js := s.config.JetStream; js != nil && js.Create {
		if _, err := s.client.EnsureStream(ctx, js.streamConfig(s.config.SubjectPrefix)); err != nil {
			_ = s.client.Close(ctx)
			return errors.Wrap(err, "Sink", "Start", "ensure stream "+js.Stream)
		}
	}

	s.running = true
	s.startTime = time.Now()

	s.logger.Info("NATS sink started",
		"component", s.name,
		"url", s.config.URL,
		"datapoint_subject", s.datapointSubject,
		"heartbeat_subject", s.heartbeatSubject,
		"jetstream", s.config.JetStream != nil,
		"codec", s.codec.Name())

	return nil
}

// Subject returns the subject a datapoint is published to.
func (s *Sink) Subject(dp lwc.Datapoint) string {
	if dp.IsHeartbeat() {
		return s.heartbeatSubject
	}
	return s.datapointSubject
}

// Emit encodes and publishes one datapoint
func (s *Sink) Emit(ctx context.Context, dp lwc.Datapoint) error {
	data, err := s.codec.Encode(message.FromDatapoint(dp, output.ConnectionID(ctx)))
	if err != nil {
		s.recordError(err)
		return err
	}

	if s.config.JetStream != nil {
		err = s.client.PublishToStream(ctx, s.Subject(dp), data)
	} else {
		err = s.client.Publish(ctx, s.Subject(dp), data)
	}
	if err != nil {
		s.recordError(err)
		return err
	}

	s.published.Add(1)
	s.bytesOut.Add(int64(len(data)))
	s.lastActivity.Store(time.Now().UnixNano())
	s.metrics.RecordPublished(s.name, dp.Kind())
	return nil
}

func (s *Sink) recordError(err error) {
	s.errors.Add(1)
	s.lastError.Store(err.Error())
	s.metrics.RecordSinkError(s.name)
}

// Stop flushes pending publishes and closes the connection
func (s *Sink) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.client.Flush(ctx); err != nil {
		s.logger.Warn("NATS flush on stop failed", "component", s.name, "error", err)
	}
	if err := s.client.Close(ctx); err != nil {
		return errors.Wrap(err, "Sink", "Stop", "close NATS connection")
	}
	return nil
}

// Meta returns component metadata
func (s *Sink) Meta() component.Metadata {
	return component.Metadata{
		Name:        s.name,
		Type:        "output",
		Description: "Publishes datapoints to NATS subjects",
		Version:     "0.1.0",
	}
}

// Health returns the current health status
func (s *Sink) Health() component.HealthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := component.HealthStatus{
		Healthy:    s.running && s.client.IsHealthy(),
		LastCheck:  time.Now(),
		ErrorCount: int(s.errors.Load()),
	}
	if s.running {
		status.Uptime = time.Since(s.startTime)
	}
	if msg, ok := s.lastError.Load().(string); ok {
		status.LastError = msg
	}
	return status
}

// DataFlow returns current data flow metrics
func (s *Sink) DataFlow() component.FlowMetrics {
	s.mu.RLock()
	elapsed := time.Since(s.startTime)
	s.mu.RUnlock()

	published := s.published.Load()
	errorCount := s.errors.Load()

	var errorRate float64
	if total := published + errorCount; total > 0 {
		errorRate = float64(errorCount) / float64(total)
	}

	var lastActivity time.Time
	if nanos := s.lastActivity.Load(); nanos > 0 {
		lastActivity = time.Unix(0, nanos)
	}

	return component.FlowMetrics{
		MessagesPerSecond: component.Rate(published, elapsed),
		BytesPerSecond:    component.Rate(s.bytesOut.Load(), elapsed),
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Register registers the NATS sink with the given registry
func Register(registry *component.Registry) error {
	return registry.Register(component.Registration{
		Name:        "nats",
		Type:        "output",
		Protocol:    "nats",
		Description: "Publishes datapoints and heartbeats to NATS subjects",
		Version:     "0.1.0",
		Factory:     NewSink,
	})
}
