package lwc

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugawarayuuta/sonnet"

	"github.com/alexitosrv/atlas/component"
	"github.com/alexitosrv/atlas/errors"
	"github.com/alexitosrv/atlas/metric"
	"github.com/alexitosrv/atlas/testutil"
)

func quietDeps() component.Dependencies {
	return component.Dependencies{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func newTestStage(t *testing.T, source Source, opts ...Option) *Stage {
	t.Helper()
	stage, err := NewStage(source, DefaultConfig(), quietDeps(), opts...)
	require.NoError(t, err)
	return stage
}

// runToEnd drives the stage into a mock sink until the source ends.
func runToEnd(t *testing.T, stage *Stage) []Datapoint {
	t.Helper()
	sink := testutil.NewMockSink[Datapoint]()
	require.NoError(t, stage.Run(context.Background(), sink))
	return sink.Items()
}

func cpuSubscription() testutil.TestSubscription {
	return testutil.TestSubscription{ID: "a", Expression: "name,cpu,:eq", StepMillis: 60000}
}

func TestNewStage_Validation(t *testing.T) {
	_, err := NewStage(nil, DefaultConfig(), quietDeps())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMissingConfig))

	_, err = NewStage(testutil.NewMockSource(), Config{}, quietDeps())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))

	_, err = NewStage(testutil.NewMockSource(), Config{Name: "lwc", InitialBufferSize: -1}, quietDeps())
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	stage, err := NewStage(testutil.NewMockSource(), DefaultConfig(), component.Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingDemand, stage.State())
}

func TestStage_ResolvedDatapoint(t *testing.T) {
	source := testutil.NewMockSource(
		testutil.SubscribeFrame(cpuSubscription()),
		testutil.MetricFrame("a", 1700000000000, map[string]string{"host": "i-1"}, 42.5),
	)
	stage := newTestStage(t, source)

	dp, err := stage.Pull(context.Background())
	require.NoError(t, err)

	assert.False(t, dp.IsHeartbeat())
	assert.Equal(t, int64(1700000000000), dp.Timestamp)
	assert.Equal(t, time.Minute, dp.Step)
	assert.Equal(t, "name,cpu,:eq", dp.Expression)
	assert.Equal(t, "1", dp.Source)
	assert.Equal(t, map[string]string{"host": "i-1"}, dp.Tags)
	assert.Equal(t, 42.5, dp.Value)
	assert.Equal(t, int64(0), stage.Failures())
}

func TestStage_SourceIDsIncrease(t *testing.T) {
	source := testutil.NewMockSource(
		testutil.SubscribeFrame(cpuSubscription()),
		testutil.MetricFrame("a", 1, nil, 1),
		testutil.HeartbeatFrame(1, 60000),
		testutil.MetricFrame("a", 2, nil, 2),
		testutil.MetricFrame("a", 3, nil, 3),
	)
	outputs := runToEnd(t, newTestStage(t, source))

	var sources []string
	for _, dp := range outputs {
		if !dp.IsHeartbeat() {
			sources = append(sources, dp.Source)
		}
	}
	assert.Equal(t, []string{"1", "2", "3"}, sources)
}

func TestStage_UnresolvedDatapointIsDropped(t *testing.T) {
	source := testutil.NewMockSource(
		testutil.MetricFrame("missing", 1, nil, 1),
	)
	stage := newTestStage(t, source)

	outputs := runToEnd(t, stage)
	assert.Empty(t, outputs)
	assert.Equal(t, int64(0), stage.Failures())
	assert.Equal(t, int64(1), stage.FramesReceived())
}

func TestStage_HeartbeatWithoutSubscriptions(t *testing.T) {
	source := testutil.NewMockSource(
		testutil.HeartbeatFrame(1000, 60000),
		testutil.HeartbeatFrame(61000, 60000),
	)
	stage := newTestStage(t, source)

	outputs := runToEnd(t, stage)
	require.Len(t, outputs, 2)
	for _, dp := range outputs {
		assert.True(t, dp.IsHeartbeat())
	}
	assert.Equal(t, int64(61000), outputs[1].Timestamp)
	assert.Equal(t, int64(2), stage.Heartbeats())
	assert.Equal(t, int64(2), stage.Emitted())
}

func TestStage_HeartbeatWithoutStep(t *testing.T) {
	source := testutil.NewMockSource(
		testutil.RawFrame(string(HeartbeatPrefix), `{"timestamp":5}`),
		testutil.RawFrame(string(HeartbeatPrefix), `{"timestamp":6,"step":0}`),
	)
	stage := newTestStage(t, source)

	outputs := runToEnd(t, stage)
	require.Len(t, outputs, 2)
	assert.Equal(t, int64(5), outputs[0].Timestamp)
	assert.Equal(t, time.Duration(0), outputs[0].Step)
	assert.True(t, outputs[1].IsHeartbeat())
	assert.Equal(t, int64(0), stage.Failures())
}

func TestStage_MissingIDIsDropped(t *testing.T) {
	source := testutil.NewMockSource(
		testutil.SubscribeFrame(cpuSubscription()),
		testutil.RawFrame(string(MetricPrefix), `{"timestamp":1,"value":1}`),
		testutil.RawFrame(string(DiagnosticPrefix), `{"message":"lost"}`),
		testutil.MetricFrame("a", 2, nil, 3),
	)
	stage := newTestStage(t, source)

	outputs := runToEnd(t, stage)
	require.Len(t, outputs, 1)
	assert.Equal(t, int64(2), outputs[0].Timestamp)
	assert.Equal(t, int64(0), stage.Failures())
}

func TestStage_ResubscribeLastWriteWins(t *testing.T) {
	source := testutil.NewMockSource(
		testutil.SubscribeFrame(testutil.TestSubscription{ID: "a", Expression: "E1", StepMillis: 60000}),
		testutil.SubscribeFrame(testutil.TestSubscription{ID: "a", Expression: "E2", StepMillis: 10000}),
		testutil.MetricFrame("a", 1, nil, 1),
	)
	outputs := runToEnd(t, newTestStage(t, source))

	require.Len(t, outputs, 1)
	assert.Equal(t, "E2", outputs[0].Expression)
	assert.Equal(t, 10*time.Second, outputs[0].Step)
}

func TestStage_MalformedFramesAreIsolated(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	metrics, err := NewMetrics(registry)
	require.NoError(t, err)

	source := testutil.NewMockSource(
		testutil.SubscribeFrame(cpuSubscription()),
		testutil.RawFrame(string(SubscribePrefix), `{not json`),
		testutil.RawFrame(string(MetricPrefix), `{not json`),
		testutil.RawFrame(string(DiagnosticPrefix), `{not json`),
		testutil.RawFrame(string(HeartbeatPrefix), `{not json`),
		testutil.MetricFrame("a", 1, nil, 7),
	)
	stage := newTestStage(t, source, WithMetrics(metrics))

	outputs := runToEnd(t, stage)
	require.Len(t, outputs, 1, "the stream continues after malformed frames")
	assert.Equal(t, 7.0, outputs[0].Value)

	assert.Equal(t, int64(4), stage.Failures())
	assert.Equal(t, 4.0, promtestutil.ToFloat64(metrics.failures.WithLabelValues("lwc")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(metrics.emitted.WithLabelValues("lwc", "datapoint")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(metrics.subscriptions.WithLabelValues("lwc")))

	health := stage.Health()
	assert.Equal(t, 4, health.ErrorCount)
	assert.Contains(t, health.LastError, "malformed frame")
}

func TestStage_MalformedFrameIsLoggedEscaped(t *testing.T) {
	var buf bytes.Buffer
	deps := component.Dependencies{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	bad := append([]byte("data: metric {\"id\":"), 0x01, '}')
	stage, err := NewStage(testutil.NewMockSource(bad), DefaultConfig(), deps)
	require.NoError(t, err)

	_, err = stage.Pull(context.Background())
	require.ErrorIs(t, err, io.EOF)

	var warnings []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var record map[string]any
		require.NoError(t, sonnet.Unmarshal([]byte(line), &record))
		if record["level"] == "WARN" {
			warnings = append(warnings, record)
		}
	}

	require.Len(t, warnings, 1)
	assert.Equal(t, "Failed to process frame", warnings[0]["msg"])
	assert.Equal(t, "lwc", warnings[0]["component"])
	assert.Equal(t, `data: metric {"id":\x01}`, warnings[0]["frame"])
	assert.NotEmpty(t, warnings[0]["error"])
}

func TestStage_UnknownFramesAreSilent(t *testing.T) {
	var buf bytes.Buffer
	deps := component.Dependencies{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	source := testutil.NewMockSource(
		[]byte(`data: evaluation {"id":"a"}`),
		[]byte(``),
		[]byte(`: keepalive`),
	)
	stage, err := NewStage(source, DefaultConfig(), deps)
	require.NoError(t, err)

	outputs := runToEnd(t, stage)
	assert.Empty(t, outputs)
	assert.Equal(t, int64(0), stage.Failures())
	assert.NotContains(t, buf.String(), "WARN")
}

func TestStage_ReadsOnlyOnDemand(t *testing.T) {
	source := testutil.NewMockSource(
		testutil.SubscribeFrame(cpuSubscription()),
		testutil.MetricFrame("a", 1, nil, 1),
		testutil.DiagnosticFrame("a", "slow"),
		testutil.MetricFrame("a", 2, nil, 2),
		testutil.HeartbeatFrame(3, 60000),
	)
	stage := newTestStage(t, source)
	ctx := context.Background()

	assert.Equal(t, 0, source.Requests(), "no reads before demand")

	_, err := stage.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, source.Requests())
	assert.Equal(t, StateAwaitingDemand, stage.State())

	_, err = stage.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, source.Requests())

	_, err = stage.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, source.Requests())
	assert.Equal(t, 0, source.Remaining())

	_, err = stage.Pull(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 6, source.Requests())
	assert.Equal(t, StateCompleted, stage.State())
}

func TestStage_OneReadInFlight(t *testing.T) {
	source := testutil.NewMockSource(
		testutil.SubscribeFrame(cpuSubscription()),
		testutil.MetricFrame("a", 1, nil, 1),
		testutil.MetricFrame("missing", 2, nil, 2),
		testutil.HeartbeatFrame(3, 60000),
	)
	stage := newTestStage(t, source)

	var statesSeen []State
	source.BeforeNext = func(int) {
		statesSeen = append(statesSeen, stage.State())
	}

	pulls := 0
	for {
		_, err := stage.Pull(context.Background())
		pulls++
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
	}

	assert.Equal(t, 1, source.MaxInFlight())
	assert.LessOrEqual(t, stage.Emitted(), int64(pulls))
	for _, state := range statesSeen {
		assert.Equal(t, StateAwaitingInput, state, "reads happen only while demand is held")
	}
}

func TestStage_ReentrantPullIsRejected(t *testing.T) {
	source := testutil.NewMockSource(testutil.HeartbeatFrame(1, 60000))
	stage := newTestStage(t, source)

	var nestedErr error
	source.BeforeNext = func(request int) {
		if request == 1 {
			_, nestedErr = stage.Pull(context.Background())
		}
	}

	dp, err := stage.Pull(context.Background())
	require.NoError(t, err)
	assert.True(t, dp.IsHeartbeat())
	assert.ErrorIs(t, nestedErr, ErrDemandPending)
	assert.Equal(t, 1, source.Requests())
}

func TestStage_EndOfStream(t *testing.T) {
	source := testutil.NewMockSource()
	stage := newTestStage(t, source)

	_, err := stage.Pull(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, StateCompleted, stage.State())

	_, err = stage.Pull(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 1, source.Requests(), "no reads after completion")
	assert.False(t, stage.Health().Healthy)
}

func TestStage_CancelledBeforePull(t *testing.T) {
	source := testutil.NewMockSource(testutil.HeartbeatFrame(1, 60000))
	stage := newTestStage(t, source)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := stage.Pull(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateCompleted, stage.State())
	assert.Equal(t, 0, source.Requests())

	_, err = stage.Pull(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 0, source.Requests())
}

func TestStage_CancelledWhileAwaitingInput(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := testutil.NewMockSource(
		testutil.MetricFrame("missing", 1, nil, 1),
		testutil.HeartbeatFrame(2, 60000),
	)
	source.BeforeNext = func(request int) {
		if request == 1 {
			cancel()
		}
	}
	stage := newTestStage(t, source)

	_, err := stage.Pull(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateCompleted, stage.State())
	assert.Equal(t, 1, source.Requests())
	assert.Equal(t, int64(0), stage.Emitted())
}

func TestStage_SourceFailureIsTransient(t *testing.T) {
	reads := 0
	source := SourceFunc(func(context.Context) ([]byte, error) {
		reads++
		return nil, stderrors.New("read: connection reset by peer")
	})
	stage := newTestStage(t, source)

	_, err := stage.Pull(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, StateCompleted, stage.State())

	_, err = stage.Pull(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 1, reads)
}

func TestStage_RunStopsOnSinkError(t *testing.T) {
	source := testutil.NewMockSource(
		testutil.HeartbeatFrame(1, 60000),
		testutil.HeartbeatFrame(2, 60000),
	)
	stage := newTestStage(t, source)

	sink := testutil.NewMockSink[Datapoint]()
	sink.Err = stderrors.New("downstream closed")

	err := stage.Run(context.Background(), sink)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, StateCompleted, stage.State())
	assert.Equal(t, 1, source.Requests())
}

func TestStage_ChannelAdapters(t *testing.T) {
	frames := make(chan []byte)
	outputs := make(chan Datapoint)

	stage := newTestStage(t, ChannelSource(frames))

	done := make(chan error, 1)
	go func() {
		done <- stage.Run(context.Background(), ChannelSink(outputs))
	}()

	frames <- testutil.SubscribeFrame(cpuSubscription())
	frames <- testutil.MetricFrame("a", 1, nil, 3)

	select {
	case dp := <-outputs:
		assert.Equal(t, 3.0, dp.Value)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for datapoint")
	}

	close(frames)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stage to finish")
	}
}

func TestStage_DataFlow(t *testing.T) {
	source := testutil.NewMockSource(
		testutil.HeartbeatFrame(1, 60000),
		testutil.RawFrame(string(HeartbeatPrefix), `nope`),
	)
	stage := newTestStage(t, source)
	runToEnd(t, stage)

	flow := stage.DataFlow()
	assert.InDelta(t, 0.5, flow.ErrorRate, 0.0001)
	assert.False(t, flow.LastActivity.IsZero())

	meta := stage.Meta()
	assert.Equal(t, "lwc", meta.Name)
	assert.Equal(t, "processor", meta.Type)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "awaiting_demand", StateAwaitingDemand.String())
	assert.Equal(t, "awaiting_input", StateAwaitingInput.String())
	assert.Equal(t, "completed", StateCompleted.String())
	assert.Equal(t, "unknown", State(9).String())
}
