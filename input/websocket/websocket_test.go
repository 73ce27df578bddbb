package websocket

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexitosrv/atlas/component"
	"github.com/alexitosrv/atlas/errors"
	"github.com/alexitosrv/atlas/input"
	"github.com/alexitosrv/atlas/pkg/retry"
	"github.com/alexitosrv/atlas/processor/lwc"
	"github.com/alexitosrv/atlas/testutil"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// newServer starts a WebSocket server running handler for every connection
// and returns a connector pointed at it.
func newServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *Connector {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("Upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn, r)
	}))
	t.Cleanup(server.Close)

	cfg := DefaultConfig()
	cfg.URL = "ws" + strings.TrimPrefix(server.URL, "http")
	connector, err := New(cfg, component.Dependencies{})
	require.NoError(t, err)
	return connector
}

func closeNormally(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	// Wait for the client's close reply so the frame is not lost.
	_, _, _ = conn.ReadMessage()
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"wss", func(c *Config) { c.URL = "wss://lwc.example.com/subscribe" }, false},
		{"missing url", func(c *Config) { c.URL = "" }, true},
		{"http scheme", func(c *Config) { c.URL = "http://localhost/stream" }, true},
		{"negative read timeout", func(c *Config) { c.ReadTimeout = -1 }, true},
		{"negative read limit", func(c *Config) { c.ReadLimit = -1 }, true},
		{"invalid subscribe", func(c *Config) { c.Subscribe = json.RawMessage(`{`) }, true},
		{"bad auth", func(c *Config) { c.Auth = &input.AuthConfig{Type: "digest"} }, true},
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

func TestConnector_ReadsMessagesAsFrames(t *testing.T) {
	frames := [][]byte{
		testutil.SubscribeFrame(testutil.TestSubscription{ID: "a", Expression: "name,cpu,:eq", StepMillis: 60000}),
		testutil.MetricFrame("a", 1700000000000, map[string]string{"name": "cpu"}, 1.25),
		testutil.HeartbeatFrame(1700000060000, 60000),
	}

	connector := newServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for i, frame := range frames {
			messageType := websocket.TextMessage
			if i == 1 {
				messageType = websocket.BinaryMessage
			}
			if err := conn.WriteMessage(messageType, frame); err != nil {
				return
			}
		}
		closeNormally(conn)
	})

	conn, err := connector.Connect(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	for _, want := range frames {
		got, err := conn.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err = conn.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, int64(3), connector.stats.Frames())
}

func TestConnector_StageEndToEnd(t *testing.T) {
	connector := newServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_ = conn.WriteMessage(websocket.TextMessage,
			testutil.SubscribeFrame(testutil.TestSubscription{ID: "a", Expression: "name,cpu,:eq", StepMillis: 10000}))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`data: metric {"id":"a",`))
		_ = conn.WriteMessage(websocket.TextMessage, testutil.MetricFrame("a", 1, nil, 3))
		closeNormally(conn)
	})

	conn, err := connector.Connect(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	stage, err := lwc.NewStage(conn, lwc.DefaultConfig(), component.Dependencies{})
	require.NoError(t, err)

	sink := testutil.NewMockSink[lwc.Datapoint]()
	require.NoError(t, stage.Run(context.Background(), sink))

	require.Equal(t, 1, sink.Len())
	assert.Equal(t, 10*time.Second, sink.Items()[0].Step)
	assert.Equal(t, int64(1), stage.Failures())
}

func TestConnector_SendsSubscribeAndAuth(t *testing.T) {
	type request struct {
		auth      string
		subscribe string
	}
	got := make(chan request, 1)

	connector := newServer(t, func(conn *websocket.Conn, r *http.Request) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		got <- request{auth: r.Header.Get("Authorization"), subscribe: string(data)}
		closeNormally(conn)
	})
	t.Setenv("ATLAS_WS_TOKEN", "secret")
	connector.config.Auth = &input.AuthConfig{Type: "bearer", BearerTokenEnv: "ATLAS_WS_TOKEN"}
	connector.config.Subscribe = json.RawMessage(`[{"expression":"name,cpu,:eq","step":60000}]`)

	conn, err := connector.Connect(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	select {
	case req := <-got:
		assert.Equal(t, "Bearer secret", req.auth)
		assert.JSONEq(t, `[{"expression":"name,cpu,:eq","step":60000}]`, req.subscribe)
	case <-time.After(5 * time.Second):
		t.Fatal("subscribe message not received")
	}
}

func TestConnector_ReadsOnlyOnDemand(t *testing.T) {
	written := make(chan struct{})
	connector := newServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for i := 0; i < 3; i++ {
			_ = conn.WriteMessage(websocket.TextMessage, testutil.HeartbeatFrame(int64(i), 1000))
		}
		close(written)
		closeNormally(conn)
	})

	conn, err := connector.Connect(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	<-written
	_, err = conn.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), connector.stats.Frames())
}

func TestConnector_CancelUnblocksNext(t *testing.T) {
	release := make(chan struct{})
	connector := newServer(t, func(_ *websocket.Conn, _ *http.Request) {
		<-release
	})
	defer close(release)

	conn, err := connector.Connect(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err = conn.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConnector_ReadTimeout(t *testing.T) {
	release := make(chan struct{})
	connector := newServer(t, func(_ *websocket.Conn, _ *http.Request) {
		<-release
	})
	defer close(release)
	connector.config.ReadTimeout = component.Duration(50 * time.Millisecond)

	conn, err := connector.Connect(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Next(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, connector.Health().ErrorCount)
}

func TestConnector_HandshakeRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.URL = "ws" + strings.TrimPrefix(server.URL, "http")
	connector, err := New(cfg, component.Dependencies{})
	require.NoError(t, err)

	_, err = connector.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnexpectedStatus)
	assert.True(t, retry.IsNonRetryable(err))
}

func TestConnector_DialFailureIsTransient(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "ws://127.0.0.1:1/stream"
	connector, err := New(cfg, component.Dependencies{})
	require.NoError(t, err)

	_, err = connector.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.False(t, retry.IsNonRetryable(err))
}

func TestRegister(t *testing.T) {
	registry := component.NewRegistry()
	require.NoError(t, Register(registry))

	comp, err := registry.Create("input", "websocket", json.RawMessage(`{"url":"ws://localhost:7101/subscribe","read_timeout":"30s"}`), component.Dependencies{})
	require.NoError(t, err)

	connector, ok := comp.(*Connector)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, connector.config.ReadTimeout.Std())
	assert.Equal(t, "input", connector.Meta().Type)
}
