package natssink

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexitosrv/atlas/component"
	"github.com/alexitosrv/atlas/errors"
	"github.com/alexitosrv/atlas/message"
	"github.com/alexitosrv/atlas/metric"
	"github.com/alexitosrv/atlas/output"
	"github.com/alexitosrv/atlas/pkg/tlsutil"
	"github.com/alexitosrv/atlas/processor/lwc"
	atlastest "github.com/alexitosrv/atlas/testutil"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"msgpack codec", func(c *Config) { c.Codec = "msgpack" }, false},
		{"missing url", func(c *Config) { c.URL = "" }, true},
		{"missing prefix", func(c *Config) { c.SubjectPrefix = "" }, true},
		{"wildcard prefix", func(c *Config) { c.SubjectPrefix = "atlas.>" }, true},
		{"trailing dot", func(c *Config) { c.SubjectPrefix = "atlas." }, true},
		{"unknown codec", func(c *Config) { c.Codec = "xml" }, true},
		{"negative attempts", func(c *Config) { c.ConnectAttempts = -1 }, true},
		{"negative timeout", func(c *Config) { c.Timeout = -1 }, true},
		{"no reconnects", func(c *Config) { c.MaxReconnects = 0 }, false},
		{"bad max reconnects", func(c *Config) { c.MaxReconnects = -2 }, true},
		{"negative reconnect wait", func(c *Config) { c.ReconnectWait = -1 }, true},
		{"tls key without cert", func(c *Config) { c.TLS = &tlsutil.ClientConfig{KeyFile: "key.pem"} }, true},
		{"jetstream", func(c *Config) { c.JetStream = &JetStreamConfig{Stream: "ATLAS_LWC", Create: true} }, false},
		{"jetstream without stream", func(c *Config) { c.JetStream = &JetStreamConfig{} }, true},
		{"jetstream dotted stream", func(c *Config) { c.JetStream = &JetStreamConfig{Stream: "atlas.lwc"} }, true},
		{"jetstream bad storage", func(c *Config) { c.JetStream = &JetStreamConfig{Stream: "S", Storage: "disk"} }, true},
		{"jetstream negative max age", func(c *Config) { c.JetStream = &JetStreamConfig{Stream: "S", MaxAge: -1} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConfig_ConnectPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConnectAttempts = 3
	cfg.ConnectBackoff = component.Duration(2 * time.Second)

	policy := cfg.connectPolicy()
	assert.Equal(t, 3, policy.MaxAttempts)
	assert.Equal(t, 2*time.Second, policy.InitialDelay)
	assert.Equal(t, 2*time.Second, policy.MaxDelay)
}

func TestNewSink(t *testing.T) {
	raw := json.RawMessage(`{"url":"nats://nats:4222","subject_prefix":"lwc.cpu","codec":"msgpack","timeout":"2s"}`)
	comp, err := NewSink(raw, component.Dependencies{})
	require.NoError(t, err)

	sink, ok := comp.(*Sink)
	require.True(t, ok)
	assert.Equal(t, "msgpack", sink.codec.Name())
	assert.Equal(t, 2*time.Second, sink.config.Timeout.Std())
	assert.Equal(t, "lwc.cpu.datapoint", sink.Subject(lwc.Datapoint{Expression: "x"}))
	assert.Equal(t, "lwc.cpu.heartbeat", sink.Subject(lwc.NewHeartbeat(1, time.Second)))

	meta := sink.Meta()
	assert.Equal(t, "nats-sink", meta.Name)
	assert.Equal(t, "output", meta.Type)

	_, err = NewSink(json.RawMessage(`{"codec":"xml"}`), component.Dependencies{})
	assert.Error(t, err)
}

func TestSink_EmitWithoutConnection(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	sink, err := New(DefaultConfig(), component.Dependencies{MetricsRegistry: registry})
	require.NoError(t, err)

	err = sink.Emit(context.Background(), lwc.Datapoint{Expression: "x", Step: time.Second})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))

	health := sink.Health()
	assert.False(t, health.Healthy)
	assert.Equal(t, 1, health.ErrorCount)
	assert.NotEmpty(t, health.LastError)
	assert.Equal(t, 1.0, sink.DataFlow().ErrorRate)
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.CoreMetrics().SinkErrors.WithLabelValues("nats-sink")))

	// Stop before Start is a no-op.
	assert.NoError(t, sink.Stop(time.Second))
}

func newMockSink(t *testing.T, cfg Config, registry *metric.MetricsRegistry) (*Sink, *atlastest.MockNATSClient) {
	t.Helper()
	codec, err := message.NewCodec(cfg.Codec)
	require.NoError(t, err)
	client := atlastest.NewMockNATSClient()
	return newSink(cfg, codec, client, component.Dependencies{MetricsRegistry: registry}), client
}

func TestSink_PublishesBySubject(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	cfg := DefaultConfig()
	cfg.SubjectPrefix = "lwc.cpu"
	sink, client := newMockSink(t, cfg, registry)

	ctx := context.Background()
	require.NoError(t, sink.Start(ctx))
	assert.True(t, sink.Health().Healthy)

	assert.Error(t, sink.Start(ctx))

	emitCtx := output.WithConnectionID(ctx, "conn-1")
	require.NoError(t, sink.Emit(emitCtx, lwc.Datapoint{
		Timestamp:  1700000000000,
		Step:       time.Minute,
		Expression: "name,cpu,:eq",
		Source:     "1",
		Tags:       map[string]string{"name": "cpu"},
		Value:      0.5,
	}))
	require.NoError(t, sink.Emit(emitCtx, lwc.NewHeartbeat(1700000060000, time.Minute)))

	datapoints := client.GetMessages("lwc.cpu.datapoint")
	require.Len(t, datapoints, 1)
	msg, err := message.JSONCodec{}.Decode(datapoints[0])
	require.NoError(t, err)
	assert.Equal(t, "conn-1", msg.Connection)
	assert.Equal(t, "name,cpu,:eq", msg.Expression)
	assert.Equal(t, int64(60000), msg.StepMillis)
	assert.Equal(t, message.Float(0.5), msg.Value)

	heartbeats := client.GetMessages("lwc.cpu.heartbeat")
	require.Len(t, heartbeats, 1)
	hb, err := message.JSONCodec{}.Decode(heartbeats[0])
	require.NoError(t, err)
	assert.True(t, hb.IsHeartbeat())

	core := registry.CoreMetrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(core.SinkPublished.WithLabelValues("nats-sink", "datapoint")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.SinkPublished.WithLabelValues("nats-sink", "heartbeat")))

	require.NoError(t, sink.Stop(time.Second))
	assert.True(t, client.IsClosed())
	assert.False(t, sink.Health().Healthy)
}

func TestSink_PublishError(t *testing.T) {
	sink, client := newMockSink(t, DefaultConfig(), nil)
	require.NoError(t, sink.Start(context.Background()))

	client.PublishErr = errors.WrapTransient(errors.ErrConnectionLost, "mock", "Publish", "publish")
	err := sink.Emit(context.Background(), lwc.NewHeartbeat(1, time.Second))
	assert.ErrorIs(t, err, errors.ErrConnectionLost)
	assert.Equal(t, 1, sink.Health().ErrorCount)
	assert.Zero(t, client.GetMessageCount("atlas.lwc.heartbeat"))
}

func TestSink_JetStreamPublishes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SubjectPrefix = "lwc.mem"
	cfg.JetStream = &JetStreamConfig{
		Stream:  "ATLAS_LWC",
		Create:  true,
		Storage: "memory",
		MaxAge:  component.Duration(time.Hour),
	}
	sink, client := newMockSink(t, cfg, nil)
	require.NoError(t, sink.Start(context.Background()))

	streams := client.Streams()
	require.Len(t, streams, 1)
	assert.Equal(t, "ATLAS_LWC", streams[0].Name)
	assert.Equal(t, []string{"lwc.mem.>"}, streams[0].Subjects)
	assert.Equal(t, jetstream.MemoryStorage, streams[0].Storage)
	assert.Equal(t, time.Hour, streams[0].MaxAge)

	require.NoError(t, sink.Emit(context.Background(), lwc.NewHeartbeat(1, time.Second)))
	assert.Len(t, client.GetStreamMessages("lwc.mem.heartbeat"), 1)
	assert.Zero(t, client.GetMessageCount("lwc.mem.heartbeat"), "no plain publish in jetstream mode")
}

func TestSink_JetStreamExistingStream(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JetStream = &JetStreamConfig{Stream: "ATLAS_LWC"}
	sink, client := newMockSink(t, cfg, nil)
	require.NoError(t, sink.Start(context.Background()))

	assert.Empty(t, client.Streams(), "streams are only created when asked to")
	require.NoError(t, sink.Emit(context.Background(), lwc.NewHeartbeat(1, time.Second)))
	assert.Len(t, client.GetStreamMessages("atlas.lwc.heartbeat"), 1)
}

func TestSink_JetStreamStreamError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JetStream = &JetStreamConfig{Stream: "ATLAS_LWC", Create: true}
	sink, client := newMockSink(t, cfg, nil)
	client.StreamErr = errors.WrapTransient(errors.ErrConnectionTimeout, "mock", "EnsureStream", "create stream")

	err := sink.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.True(t, client.IsClosed())
	assert.False(t, sink.Health().Healthy)
}

func TestSink_StartRetriesConnect(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConnectAttempts = 3
	cfg.ConnectBackoff = component.Duration(time.Millisecond)
	sink, client := newMockSink(t, cfg, nil)
	client.ConnectErr = errors.ErrConnectionLost

	err := sink.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, 3, client.Connects())
}

func TestSink_StartCancelled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "nats://127.0.0.1:1"
	cfg.ConnectAttempts = 0

	sink, err := New(cfg, component.Dependencies{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err = sink.Start(ctx)
	require.Error(t, err)
	assert.False(t, sink.Health().Healthy)
}

func TestRegister(t *testing.T) {
	registry := component.NewRegistry()
	require.NoError(t, Register(registry))

	comp, err := registry.Create("output", "nats", nil, component.Dependencies{})
	require.NoError(t, err)
	assert.IsType(t, &Sink{}, comp)
}
