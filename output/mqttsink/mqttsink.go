// Package mqttsink provides an output that publishes datapoints to an MQTT
// broker.
//
// Datapoints go to "<topic>/datapoint" and heartbeats to "<topic>/heartbeat".
// Publishes wait for the broker acknowledgement required by the configured
// QoS, so a slow broker slows the stage that feeds the sink.
package mqttsink

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/alexitosrv/atlas/component"
	"github.com/alexitosrv/atlas/errors"
	"github.com/alexitosrv/atlas/message"
	"github.com/alexitosrv/atlas/metric"
	"github.com/alexitosrv/atlas/output"
	"github.com/alexitosrv/atlas/pkg/tlsutil"
	"github.com/alexitosrv/atlas/processor/lwc"
)

// Config holds configuration for the MQTT sink
type Config struct {
	Broker         string                `json:"broker"`
	Topic          string                `json:"topic"`
	ClientID       string                `json:"client_id"` // generated when empty
	QoS            int                   `json:"qos"`
	Retained       bool                  `json:"retained"`
	Codec          string                `json:"codec"`
	Username       string                `json:"username,omitempty"`
	Password       string                `json:"password,omitempty"`
	KeepAlive      component.Duration    `json:"keep_alive"`
	ConnectTimeout component.Duration    `json:"connect_timeout"`
	PublishTimeout component.Duration    `json:"publish_timeout"`
	Quiesce        component.Duration    `json:"quiesce"`       // time allowed for in-flight work on disconnect
	TLS            *tlsutil.ClientConfig `json:"tls,omitempty"` // for ssl:// and tls:// brokers
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Broker == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "broker is required")
	}
	if c.Topic == "" || strings.ContainsAny(c.Topic, "+#") || strings.HasSuffix(c.Topic, "/") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"topic must be a literal topic without wildcards or a trailing slash")
	}
	if c.QoS < 0 || c.QoS > 2 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("qos must be 0, 1 or 2, got %d", c.QoS))
	}
	if _, err := message.NewCodec(c.Codec); err != nil {
		return err
	}
	if c.KeepAlive < 0 || c.ConnectTimeout < 0 || c.PublishTimeout < 0 || c.Quiesce < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "durations cannot be negative")
	}
	return c.TLS.Validate()
}

// DefaultConfig returns default configuration for the MQTT sink
func DefaultConfig() Config {
	return Config{
		Broker:         "tcp://localhost:1883",
		Topic:          "atlas/lwc",
		QoS:            1,
		Codec:          "json",
		KeepAlive:      component.Duration(30 * time.Second),
		ConnectTimeout: component.Duration(10 * time.Second),
		PublishTimeout: component.Duration(5 * time.Second),
		Quiesce:        component.Duration(250 * time.Millisecond),
	}
}

// Sink publishes stage outputs to MQTT
type Sink struct {
	name    string
	config  Config
	codec   message.Codec
	client  mqtt.Client
	logger  *slog.Logger
	metrics *metric.Metrics

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

// NewSink creates an MQTT sink from raw JSON configuration
func NewSink(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	config := DefaultConfig()
	if err := component.SafeUnmarshal(rawConfig, &config); err != nil {
		return nil, errors.WrapInvalid(err, "Sink", "NewSink", "config unmarshal")
	}
	return New(config, deps)
}

// New creates an MQTT sink from a typed configuration.
func New(config Config, deps component.Dependencies) (*Sink, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	codec, err := message.NewCodec(config.Codec)
	if err != nil {
		return nil, err
	}
	if config.ClientID == "" {
		config.ClientID = "atlas-lwc-" + uuid.NewString()
	}

	tlsConfig, err := config.TLS.Load()
	if err != nil {
		return nil, err
	}

	s := &Sink{
		name:    "mqtt-sink",
		config:  config,
		codec:   codec,
		logger:  deps.GetLogger(),
		metrics: deps.CoreMetrics(),
	}
	s.client = mqtt.NewClient(s.clientOptions(tlsConfig))
	return s, nil
}

func (s *Sink) clientOptions(tlsConfig *tls.Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.config.Broker)
	opts.SetClientID(s.config.ClientID)
	opts.SetKeepAlive(s.config.KeepAlive.Std())
	opts.SetConnectTimeout(s.config.ConnectTimeout.Std())
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.Username = s.config.Username
	opts.Password = s.config.Password
	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		s.logger.Warn("MQTT connection lost", "component", s.name, "broker", s.config.Broker, "error", err)
	}
	opts.OnConnect = func(_ mqtt.Client) {
		s.logger.Info("MQTT connected", "component", s.name, "broker", s.config.Broker)
	}
	return opts
}

// Topic returns the topic a datapoint is published to.
func (s *Sink) Topic(dp lwc.Datapoint) string {
	return s.config.Topic + "/" + dp.Kind()
}

// Start connects to the broker
func (s *Sink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Sink", "Start", "check running state")
	}

	if err := s.wait(ctx, s.client.Connect(), s.config.ConnectTimeout.Std()); err != nil {
		return errors.WrapTransient(err, "Sink", "Start", "connect to "+s.config.Broker)
	}

	s.running = true
	s.startTime = time.Now()

	s.logger.Info("MQTT sink started",
		"component", s.name,
		"broker", s.config.Broker,
		"topic", s.config.Topic,
		"client_id", s.config.ClientID,
		"qos", s.config.QoS,
		"codec", s.codec.Name())

	return nil
}

// wait blocks until token completes, ctx is done or timeout elapses.
func (s *Sink) wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = time.Minute
	}
	done := make(chan bool, 1)
	go func() {
		done <- token.WaitTimeout(timeout)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case completed := <-done:
		if !completed {
			return errors.ErrConnectionTimeout
		}
		return token.Error()
	}
}

// Emit encodes and publishes one datapoint
func (s *Sink) Emit(ctx context.Context, dp lwc.Datapoint) error {
	if !s.client.IsConnectionOpen() {
		err := errors.WrapTransient(errors.ErrNoConnection, "Sink", "Emit", "publish to "+s.Topic(dp))
		s.recordError(err)
		return err
	}

	data, err := s.codec.Encode(message.FromDatapoint(dp, output.ConnectionID(ctx)))
	if err != nil {
		s.recordError(err)
		return err
	}

	topic := s.Topic(dp)
	token := s.client.Publish(topic, byte(s.config.QoS), s.config.Retained, data)
	if err := s.wait(ctx, token, s.config.PublishTimeout.Std()); err != nil {
		err = errors.WrapTransient(err, "Sink", "Emit", "publish to "+topic)
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

// Stop disconnects from the broker, allowing in-flight publishes up to the
// smaller of timeout and the configured quiesce period.
func (s *Sink) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	quiesce := s.config.Quiesce.Std()
	if timeout < quiesce {
		quiesce = timeout
	}
	s.client.Disconnect(uint(quiesce.Milliseconds()))
	s.running = false

	s.logger.Info("MQTT sink stopped", "component", s.name, "published", s.published.Load())
	return nil
}

// Meta returns component metadata
func (s *Sink) Meta() component.Metadata {
	return component.Metadata{
		Name:        s.name,
		Type:        "output",
		Description: "Publishes datapoints to MQTT topics",
		Version:     "0.1.0",
	}
}

// Health returns the current health status
func (s *Sink) Health() component.HealthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := component.HealthStatus{
		Healthy:    s.running && s.client.IsConnectionOpen(),
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

// Register registers the MQTT sink with the given registry
func Register(registry *component.Registry) error {
	return registry.Register(component.Registration{
		Name:        "mqtt",
		Type:        "output",
		Protocol:    "mqtt",
		Description: "Publishes datapoints and heartbeats to MQTT topics",
		Version:     "0.1.0",
		Factory:     NewSink,
	})
}
