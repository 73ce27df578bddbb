// Package input defines the connectors that open LWC streams.
//
// A Connector is configured once and opens a fresh Connection every time the
// pipeline (re)connects. Each Connection is an lwc.Source: Next returns one
// frame per call and io.EOF when the server ends the stream.
package input

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/alexitosrv/atlas/component"
	"github.com/alexitosrv/atlas/errors"
	"github.com/alexitosrv/atlas/processor/lwc"
)

// Connector opens connections to an LWC stream. Connect returns io.EOF when
// the source is exhausted and must not be reconnected, e.g. a replayed
// capture.
type Connector interface {
	component.Discoverable
	Connect(ctx context.Context) (Connection, error)
}

// Connection is one upstream connection. Close must be safe to call after
// Next has returned an error.
type Connection interface {
	lwc.Source
	Close() error
}

// AuthConfig selects the credentials sent when connecting. Secrets are read
// from the named environment variables at connect time.
type AuthConfig struct {
	Type             string `json:"type"` // none, bearer or basic
	BearerTokenEnv   string `json:"bearer_token_env,omitempty"`
	BasicUsernameEnv string `json:"basic_username_env,omitempty"`
	BasicPasswordEnv string `json:"basic_password_env,omitempty"`
}

// Validate checks the configuration for errors
func (a *AuthConfig) Validate() error {
	if a == nil {
		return nil
	}
	switch a.Type {
	case "", "none":
		return nil
	case "bearer":
		if a.BearerTokenEnv == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "AuthConfig", "Validate",
				"bearer auth requires bearer_token_env")
		}
	case "basic":
		if a.BasicUsernameEnv == "" || a.BasicPasswordEnv == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "AuthConfig", "Validate",
				"basic auth requires basic_username_env and basic_password_env")
		}
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "AuthConfig", "Validate",
			fmt.Sprintf("unknown auth type %q", a.Type))
	}
	return nil
}

// Apply adds the configured credentials to h.
func (a *AuthConfig) Apply(h http.Header) {
	if a == nil {
		return
	}

	switch a.Type {
	case "bearer":
		if token := os.Getenv(a.BearerTokenEnv); token != "" {
			h.Set("Authorization", "Bearer "+token)
		}
	case "basic":
		username := os.Getenv(a.BasicUsernameEnv)
		password := os.Getenv(a.BasicPasswordEnv)
		if username != "" && password != "" {
			encoded := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
			h.Set("Authorization", "Basic "+encoded)
		}
	}
}

// Stats tracks the traffic of a connector across all of its connections.
type Stats struct {
	startTime    time.Time
	connections  atomic.Int64
	active       atomic.Int64
	frames       atomic.Int64
	bytes        atomic.Int64
	errors       atomic.Int64
	lastActivity atomic.Int64 // unix nanos
	lastError    atomic.Value // string
}

// NewStats creates stats starting now.
func NewStats() *Stats {
	return &Stats{startTime: time.Now()}
}

// Opened records a new connection.
func (s *Stats) Opened() {
	s.connections.Add(1)
	s.active.Add(1)
}

// Closed records a closed connection.
func (s *Stats) Closed() {
	s.active.Add(-1)
}

// Frame records one frame of n bytes.
func (s *Stats) Frame(n int) {
	s.frames.Add(1)
	s.bytes.Add(int64(n))
	s.lastActivity.Store(time.Now().UnixNano())
}

// Error records a connect or read failure.
func (s *Stats) Error(err error) {
	s.errors.Add(1)
	s.lastError.Store(err.Error())
}

// Connections returns the number of connections opened.
func (s *Stats) Connections() int64 {
	return s.connections.Load()
}

// Frames returns the number of frames read.
func (s *Stats) Frames() int64 {
	return s.frames.Load()
}

// Health reports the connector healthy while at least one connection is
// open.
func (s *Stats) Health() component.HealthStatus {
	status := component.HealthStatus{
		Healthy:    s.active.Load() > 0,
		LastCheck:  time.Now(),
		ErrorCount: int(s.errors.Load()),
		Uptime:     time.Since(s.startTime),
	}
	if msg, ok := s.lastError.Load().(string); ok {
		status.LastError = msg
	}
	return status
}

// DataFlow returns frame and byte rates since the connector was created.
func (s *Stats) DataFlow() component.FlowMetrics {
	elapsed := time.Since(s.startTime)
	frames := s.frames.Load()
	errorCount := s.errors.Load()

	var errorRate float64
	if total := frames + errorCount; total > 0 {
		errorRate = float64(errorCount) / float64(total)
	}

	var lastActivity time.Time
	if nanos := s.lastActivity.Load(); nanos > 0 {
		lastActivity = time.Unix(0, nanos)
	}

	return component.FlowMetrics{
		MessagesPerSecond: component.Rate(frames, elapsed),
		BytesPerSecond:    component.Rate(s.bytes.Load(), elapsed),
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}
