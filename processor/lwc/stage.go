package lwc

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alexitosrv/atlas/component"
	"github.com/alexitosrv/atlas/errors"
)

// ErrDemandPending is returned by Pull when another Pull on the same stage
// has not returned yet.
var ErrDemandPending = errors.New("demand already pending")

// State is the flow control state of a stage.
type State int32

const (
	// StateAwaitingDemand means no output has been requested. The stage does
	// not read from its source in this state.
	StateAwaitingDemand State = iota
	// StateAwaitingInput means one output has been requested and the stage is
	// reading frames until one of them produces it.
	StateAwaitingInput
	// StateCompleted means the source ended or the stage was cancelled.
	StateCompleted
)

// String returns a string representation of the state
func (s State) String() string {
	switch s {
	case StateAwaitingDemand:
		return "awaiting_demand"
	case StateAwaitingInput:
		return "awaiting_input"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Source delivers frames one at a time. Next returns io.EOF once the stream
// has ended.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]byte, error)

// Next calls f(ctx).
func (f SourceFunc) Next(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// ChannelSource reads frames from ch. A closed channel is the end of the
// stream.
func ChannelSource(ch <-chan []byte) Source {
	return SourceFunc(func(ctx context.Context) ([]byte, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case frame, ok := <-ch:
			if !ok {
				return nil, io.EOF
			}
			return frame, nil
		}
	})
}

// Sink receives the outputs of a stage. Emit returning is what allows the
// stage to produce the next output.
type Sink interface {
	Emit(ctx context.Context, dp Datapoint) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, dp Datapoint) error

// Emit calls f(ctx, dp).
func (f SinkFunc) Emit(ctx context.Context, dp Datapoint) error {
	return f(ctx, dp)
}

// ChannelSink sends outputs on ch. With an unbuffered channel every receive
// is one unit of demand.
func ChannelSink(ch chan<- Datapoint) Sink {
	return SinkFunc(func(ctx context.Context, dp Datapoint) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ch <- dp:
			return nil
		}
	})
}

// Option configures optional stage collaborators.
type Option func(*Stage)

// WithDiagnostics sets the logger that receives diagnostic frames. The
// default writes them to the stage logger.
func WithDiagnostics(d DiagnosticLogger) Option {
	return func(s *Stage) {
		if d != nil {
			s.diagnostics = d
		}
	}
}

// WithMetrics sets the Prometheus collectors shared by the pipeline.
func WithMetrics(m *Metrics) Option {
	return func(s *Stage) {
		s.metrics = m
	}
}

// Stage turns the frames of one LWC connection into datapoints.
//
// Output is pulled: each Pull is one unit of demand, and the stage reads one
// frame at a time from its source until a frame yields an output. Frames that
// cannot be decoded are logged, counted and skipped. A stage owns its
// subscription table and scratch buffer, so a new stage is needed for every
// connection. Pull must not be called concurrently; Health, DataFlow, State
// and the counters may be read from any goroutine.
type Stage struct {
	name        string
	source      Source
	logger      *slog.Logger
	diagnostics DiagnosticLogger
	metrics     *Metrics

	// Only touched from Pull.
	scratch    *ScratchBuffer
	subs       *SubscriptionTable
	nextSource uint64

	state atomic.Int32

	framesReceived atomic.Int64
	bytesReceived  atomic.Int64
	emitted        atomic.Int64
	heartbeats     atomic.Int64
	failures       atomic.Int64
	lastActivity   atomic.Int64 // unix nanos
	lastError      atomic.Value // string
	startTime      time.Time
}

var _ component.Discoverable = (*Stage)(nil)

// NewStage creates a stage reading from source.
func NewStage(source Source, cfg Config, deps component.Dependencies, opts ...Option) (*Stage, error) {
	if source == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Stage", "NewStage", "source is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.GetLogger()
	s := &Stage{
		name:        cfg.Name,
		source:      source,
		logger:      logger,
		diagnostics: SlogDiagnostics{Logger: logger},
		scratch:     NewScratchBuffer(cfg.InitialBufferSize),
		subs:        NewSubscriptionTable(),
		startTime:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state.Store(int32(StateAwaitingDemand))

	return s, nil
}

// State returns the current flow control state.
func (s *Stage) State() State {
	return State(s.state.Load())
}

// Pull requests one output. It reads frames until one of them produces a
// datapoint or heartbeat and returns it. It returns io.EOF once the source
// has ended, ctx.Err() when ctx is cancelled, and a transient error when the
// source failed; after any of these the stage is completed and never reads
// from its source again.
func (s *Stage) Pull(ctx context.Context) (Datapoint, error) {
	if !s.state.CompareAndSwap(int32(StateAwaitingDemand), int32(StateAwaitingInput)) {
		if s.State() == StateCompleted {
			return Datapoint{}, io.EOF
		}
		return Datapoint{}, ErrDemandPending
	}

	for {
		if err := ctx.Err(); err != nil {
			s.complete()
			return Datapoint{}, err
		}

		frame, err := s.source.Next(ctx)
		if err != nil {
			return Datapoint{}, s.terminate(ctx, err)
		}

		s.framesReceived.Add(1)
		s.bytesReceived.Add(int64(len(frame)))
		s.lastActivity.Store(time.Now().UnixNano())

		dp, ok, err := s.process(frame)
		if err != nil {
			s.isolate(frame, err)
			continue
		}
		if !ok {
			continue
		}

		if dp.IsHeartbeat() {
			s.heartbeats.Add(1)
		}
		s.emitted.Add(1)
		s.metrics.recordEmitted(s.name, dp)
		s.state.CompareAndSwap(int32(StateAwaitingInput), int32(StateAwaitingDemand))
		return dp, nil
	}
}

// Run pulls outputs and hands them to sink until the source ends, ctx is
// cancelled or sink fails. The end of the source is a normal return.
func (s *Stage) Run(ctx context.Context, sink Sink) error {
	s.logger.Debug("LWC stage running", "component", s.name)

	for {
		dp, err := s.Pull(ctx)
		if err != nil {
			if errors.IsEndOfStream(err) {
				s.logger.Debug("LWC stream ended", "component", s.name,
					"frames", s.framesReceived.Load(),
					"emitted", s.emitted.Load(),
					"failures", s.failures.Load())
				return nil
			}
			return err
		}

		if err := sink.Emit(ctx, dp); err != nil {
			s.complete()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.WrapTransient(err, "Stage", "Run", "emit datapoint")
		}
	}
}

// process classifies and decodes one frame. It returns the output, whether
// there is one, and the decode error if the frame is malformed.
func (s *Stage) process(frame []byte) (Datapoint, bool, error) {
	frameType, prefixLen := Classify(frame)
	s.metrics.recordFrame(s.name, frameType)

	switch frameType {
	case FrameSubscription:
		return Datapoint{}, false, s.decodeSubscription(frame, prefixLen)
	case FrameDatapoint:
		return s.decodeDatapoint(frame, prefixLen)
	case FrameDiagnostic:
		return Datapoint{}, false, s.decodeDiagnostic(frame, prefixLen)
	case FrameHeartbeat:
		return s.decodeHeartbeat(frame, prefixLen)
	default:
		return Datapoint{}, false, nil
	}
}

// isolate records a frame that failed to decode.
func (s *Stage) isolate(frame []byte, err error) {
	s.failures.Add(1)
	s.lastError.Store(err.Error())
	s.metrics.recordFailure(s.name)
	s.logger.Warn("Failed to process frame",
		"component", s.name,
		"frame", EscapeBytes(frame),
		"size_bytes", len(frame),
		"error", err)
}

func (s *Stage) terminate(ctx context.Context, err error) error {
	s.complete()
	switch {
	case errors.IsEndOfStream(err):
		return io.EOF
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		s.lastError.Store(err.Error())
		return errors.WrapTransient(err, "Stage", "Pull", "read frame")
	}
}

func (s *Stage) complete() {
	s.state.Store(int32(StateCompleted))
}

// Failures returns the number of frames that could not be decoded.
func (s *Stage) Failures() int64 {
	return s.failures.Load()
}

// Emitted returns the number of outputs produced, heartbeats included.
func (s *Stage) Emitted() int64 {
	return s.emitted.Load()
}

// Heartbeats returns the number of heartbeat outputs produced.
func (s *Stage) Heartbeats() int64 {
	return s.heartbeats.Load()
}

// FramesReceived returns the number of frames read from the source.
func (s *Stage) FramesReceived() int64 {
	return s.framesReceived.Load()
}

// Meta returns metadata describing this processor component.
func (s *Stage) Meta() component.Metadata {
	return component.Metadata{
		Name:        s.name,
		Type:        "processor",
		Description: "LWC frame to datapoint stage",
		Version:     "0.1.0",
	}
}

// Health returns the current health status of this stage.
func (s *Stage) Health() component.HealthStatus {
	status := component.HealthStatus{
		Healthy:    s.State() != StateCompleted,
		LastCheck:  time.Now(),
		ErrorCount: int(s.failures.Load()),
		Uptime:     time.Since(s.startTime),
	}
	if msg, ok := s.lastError.Load().(string); ok {
		status.LastError = msg
	}
	return status
}

// DataFlow returns current data flow metrics for this stage.
func (s *Stage) DataFlow() component.FlowMetrics {
	elapsed := time.Since(s.startTime)
	frames := s.framesReceived.Load()

	var errorRate float64
	if frames > 0 {
		errorRate = float64(s.failures.Load()) / float64(frames)
	}

	var lastActivity time.Time
	if nanos := s.lastActivity.Load(); nanos > 0 {
		lastActivity = time.Unix(0, nanos)
	}

	return component.FlowMetrics{
		MessagesPerSecond: component.Rate(frames, elapsed),
		BytesPerSecond:    component.Rate(s.bytesReceived.Load(), elapsed),
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}
