package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugawarayuuta/sonnet"

	"github.com/alexitosrv/atlas/component"
)

type fakeComponent struct {
	health component.HealthStatus
	flow   component.FlowMetrics
}

func (f fakeComponent) Meta() component.Metadata { return component.Metadata{Name: "fake"} }
func (f fakeComponent) Health() component.HealthStatus { return f.health }
func (f fakeComponent) DataFlow() component.FlowMetrics { return f.flow }

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", ""},
		{"unix path", "failed to open /etc/atlas/config.yaml", "failed to open [PATH]"},
		{"windows path", "cannot read C:\\Users\\Admin\\config.yaml", "cannot read [PATH]"},
		{"http url", "connection failed to https://lwc.example.com/api/v1/stream", "connection failed to [URL]"},
		{"nats url", "cannot connect to nats://localhost:4222", "cannot connect to [URL]"},
		{"mqtt url", "dial tcp://broker:1883 refused", "dial [URL] refused"},
		{"ip address", "timeout connecting to 192.168.1.100", "timeout connecting to [IP]"},
		{"port", "failed to bind to :8080", "failed to bind to [PORT]"},
		{"credentials", "auth failed with password:secretpass123", "auth failed with [REDACTED]"},
		{"combined", "failed to connect to https://192.168.1.1:8080/api with token=abc123def", "failed to connect to [URL] with [REDACTED]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeErrorMessage(tt.input))
		})
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name  string
		subs  []Status
		state string
	}{
		{"empty", nil, StateHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StateHealthy},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StateDegraded},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, StateUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := Aggregate("pipeline", tt.subs)
			assert.Equal(t, tt.state, status.Status)
			assert.Equal(t, tt.state == StateHealthy, status.Healthy)
			assert.Len(t, status.SubStatuses, len(tt.subs))
		})
	}

	status := Aggregate("pipeline", []Status{NewUnhealthy("source", ""), NewUnhealthy("sink", "")})
	assert.Equal(t, "unhealthy: source, sink", status.Message)
}

func TestWithSubStatus_SliceIsolation(t *testing.T) {
	original := NewHealthy("parent", "")
	original.SubStatuses = make([]Status, 1, 4)
	original.SubStatuses[0] = NewHealthy("child1", "")

	a := original.WithSubStatus(NewHealthy("child2", ""))
	b := original.WithSubStatus(NewHealthy("child3", ""))

	assert.Len(t, original.SubStatuses, 1)
	assert.Equal(t, "child2", a.SubStatuses[1].Component)
	assert.Equal(t, "child3", b.SubStatuses[1].Component)
}

func TestFromComponent(t *testing.T) {
	healthy := fakeComponent{
		health: component.HealthStatus{Healthy: true, Uptime: time.Minute},
		flow:   component.FlowMetrics{MessagesPerSecond: 10},
	}
	status := FromComponent("sink", healthy)
	assert.True(t, status.IsHealthy())
	require.NotNil(t, status.Metrics)
	assert.Equal(t, time.Minute, status.Metrics.Uptime)
	assert.Equal(t, 10.0, status.Metrics.MessagesPerSecond)

	degraded := fakeComponent{
		health: component.HealthStatus{Healthy: true, ErrorCount: 2, LastError: "publish to nats://10.0.0.1:4222 failed"},
		flow:   component.FlowMetrics{ErrorRate: 0.1},
	}
	status = FromComponent("sink", degraded)
	assert.True(t, status.IsDegraded())
	assert.Equal(t, "publish to [URL] failed", status.Message)

	status = FromComponent("source", fakeComponent{})
	assert.True(t, status.IsUnhealthy())
}

func TestHandler(t *testing.T) {
	current := NewHealthy("pipeline", "ok")
	handler := Handler(func() Status { return current })

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var decoded Status
	require.NoError(t, sonnet.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.Equal(t, "pipeline", decoded.Component)
	assert.True(t, decoded.Healthy)

	current = NewDegraded("pipeline", "errors")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	current = NewUnhealthy("pipeline", "down")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
