package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alexitosrv/atlas/component"
	"github.com/alexitosrv/atlas/errors"
	"github.com/alexitosrv/atlas/health"
	"github.com/alexitosrv/atlas/input"
	"github.com/alexitosrv/atlas/metric"
	"github.com/alexitosrv/atlas/output"
	"github.com/alexitosrv/atlas/pkg/retry"
	"github.com/alexitosrv/atlas/processor/lwc"
)

// Status represents the current status of a pipeline
type Status int

// Possible pipeline statuses
const (
	StatusStopped Status = iota
	StatusConnecting
	StatusStreaming
	StatusReconnecting
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusConnecting:
		return "connecting"
	case StatusStreaming:
		return "streaming"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Info holds runtime information for a pipeline
type Info struct {
	Name        string        `json:"name"`
	Status      string        `json:"status"`
	Uptime      time.Duration `json:"uptime"`
	StartTime   time.Time     `json:"start_time"`
	Connections int64         `json:"connections"`
	Reconnects  int64         `json:"reconnects"`
	Emitted     int64         `json:"emitted"`
	Failures    int64         `json:"failures"`
}

// Option is a functional option for configuring a Pipeline
type Option func(*Pipeline)

// WithDiagnostics sets the logger receiving diagnostic frames of every
// connection.
func WithDiagnostics(d lwc.DiagnosticLogger) Option {
	return func(p *Pipeline) {
		if d != nil {
			p.diagnostics = d
		}
	}
}

// Pipeline streams datapoints from one LWC source to one sink.
type Pipeline struct {
	name      string
	cfg       Config
	connector input.Connector
	sink      output.Sink
	deps      component.Dependencies
	logger    *slog.Logger

	diagnostics  lwc.DiagnosticLogger
	coreMetrics  *metric.Metrics
	stageMetrics *lwc.Metrics

	running atomic.Bool
	status  atomic.Int32
	current atomic.Pointer[lwc.Stage]

	startTime   atomic.Int64 // unix nanos
	connections atomic.Int64
	reconnects  atomic.Int64

	// totals of finished connections; folded is the last stage added to them
	totalsMu sync.Mutex
	emitted  int64
	failures int64
	folded   *lwc.Stage
}

// NewPipeline creates a pipeline. The stage metrics are registered once here
// and shared by the stages of all connections.
func NewPipeline(
	cfg Config, connector input.Connector, sink output.Sink, deps component.Dependencies, opts ...Option,
) (*Pipeline, error) {
	if connector == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Pipeline", "NewPipeline", "connector is required")
	}
	if sink == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Pipeline", "NewPipeline", "sink is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	stageMetrics, err := lwc.NewMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.Wrap(err, "Pipeline", "NewPipeline", "register stage metrics")
	}

	logger := deps.GetLoggerWithComponent(cfg.Stage.Name)
	p := &Pipeline{
		name:         cfg.Stage.Name,
		cfg:          cfg,
		connector:    connector,
		sink:         sink,
		deps:         deps,
		logger:       logger,
		diagnostics:  lwc.SlogDiagnostics{Logger: logger},
		coreMetrics:  deps.CoreMetrics(),
		stageMetrics: stageMetrics,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the pipeline name
func (p *Pipeline) Name() string {
	return p.name
}

// Status returns the current pipeline status
func (p *Pipeline) Status() Status {
	return Status(p.status.Load())
}

func (p *Pipeline) setStatus(s Status) {
	p.status.Store(int32(s))
}

// Run starts the sink and streams until ctx is cancelled, the connector is
// exhausted, a connection fails with a non-retryable error, or the reconnect
// attempts run out. Cancellation and exhaustion return nil. The sink is
// stopped before Run returns.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	if !p.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Pipeline", "Run", "pipeline already running")
	}
	defer p.running.Store(false)
	defer p.setStatus(StatusStopped)

	if err := p.sink.Start(ctx); err != nil {
		return errors.Wrap(err, "Pipeline", "Run", "start sink")
	}
	defer func() {
		if stopErr := p.sink.Stop(p.cfg.StopTimeout.Std()); stopErr != nil {
			p.logger.Error("Failed to stop sink", "error", stopErr)
			if err == nil {
				err = stopErr
			}
		}
	}()

	p.startTime.Store(time.Now().UnixNano())
	p.logger.Info("Pipeline started",
		"source", p.connector.Meta().Name,
		"sink", p.sink.Meta().Name)

	backoff := retry.NewBackoff(p.cfg.Reconnect.Policy())
	for {
		streamed, connErr := p.runConnection(ctx)

		switch {
		case ctx.Err() != nil:
			p.logger.Info("Pipeline stopped")
			return nil
		case errors.IsEndOfStream(connErr):
			p.logger.Info("Source exhausted, pipeline stopped")
			return nil
		case retry.IsNonRetryable(connErr):
			p.logger.Error("Pipeline failed", "error", connErr)
			return connErr
		}

		if streamed {
			backoff.Reset()
			// A stream that delivered frames and then ended cleanly is
			// reopened right away.
			if connErr == nil {
				p.recordReconnect(0, nil)
				continue
			}
		}

		delay, ok := backoff.Next()
		if !ok {
			return errors.WrapFatal(connErr, "Pipeline", "Run",
				fmt.Sprintf("giving up after %d reconnect attempts", backoff.Attempts()))
		}
		p.recordReconnect(delay, connErr)

		if err := retry.Sleep(ctx, delay); err != nil {
			p.logger.Info("Pipeline stopped")
			return nil
		}
	}
}

func (p *Pipeline) recordReconnect(delay time.Duration, cause error) {
	p.setStatus(StatusReconnecting)
	p.reconnects.Add(1)
	p.coreMetrics.RecordReconnect(p.name)
	if cause != nil {
		p.logger.Warn("Upstream connection lost, reconnecting",
			"delay", delay,
			"error", cause)
		return
	}
	p.logger.Info("Upstream stream ended, reconnecting")
}

// runConnection opens one connection and streams it through a new stage. It
// reports whether any frame was received, and returns nil when the upstream
// ended the stream normally.
func (p *Pipeline) runConnection(ctx context.Context) (bool, error) {
	p.setStatus(StatusConnecting)

	conn, err := p.connector.Connect(ctx)
	if err != nil {
		return false, err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			p.logger.Debug("Failed to close connection", "error", err)
		}
	}()

	id := uuid.NewString()
	logger := p.logger.With("connection", id)

	stage, err := lwc.NewStage(conn, p.cfg.Stage, p.deps,
		lwc.WithMetrics(p.stageMetrics),
		lwc.WithDiagnostics(p.diagnostics))
	if err != nil {
		return false, retry.NonRetryable(err)
	}

	p.connections.Add(1)
	p.current.Store(stage)
	p.setStatus(StatusStreaming)
	p.coreMetrics.RecordConnectionStatus(p.name, true)
	logger.Info("Upstream connected")

	err = stage.Run(output.WithConnectionID(ctx, id), p.sink)

	p.coreMetrics.RecordConnectionStatus(p.name, false)
	p.fold(stage)
	logger.Info("Upstream disconnected",
		"frames", stage.FramesReceived(),
		"emitted", stage.Emitted(),
		"failures", stage.Failures())

	return stage.FramesReceived() > 0, err
}

// fold adds the counters of a finished stage to the pipeline totals.
func (p *Pipeline) fold(stage *lwc.Stage) {
	p.totalsMu.Lock()
	defer p.totalsMu.Unlock()
	p.emitted += stage.Emitted()
	p.failures += stage.Failures()
	p.folded = stage
}

// totals returns outputs and failures of all connections, the current one
// included.
func (p *Pipeline) totals() (emitted, failures int64) {
	p.totalsMu.Lock()
	defer p.totalsMu.Unlock()
	emitted, failures = p.emitted, p.failures
	if stage := p.current.Load(); stage != nil && stage != p.folded {
		emitted += stage.Emitted()
		failures += stage.Failures()
	}
	return emitted, failures
}

// Info returns the current pipeline information
func (p *Pipeline) Info() Info {
	emitted, failures := p.totals()

	var startTime time.Time
	var uptime time.Duration
	if nanos := p.startTime.Load(); nanos > 0 {
		startTime = time.Unix(0, nanos)
		if p.Status() != StatusStopped {
			uptime = time.Since(startTime)
		}
	}

	return Info{
		Name:        p.name,
		Status:      p.Status().String(),
		Uptime:      uptime,
		StartTime:   startTime,
		Connections: p.connections.Load(),
		Reconnects:  p.reconnects.Load(),
		Emitted:     emitted,
		Failures:    failures,
	}
}

// Health combines the health of the source, the current stage and the sink.
// A stopped pipeline is unhealthy; one that is still connecting is at best
// degraded.
func (p *Pipeline) Health() health.Status {
	subs := []health.Status{health.FromComponent("source", p.connector)}
	if stage := p.current.Load(); stage != nil {
		subs = append(subs, health.FromComponent("stage", stage))
	}
	subs = append(subs, health.FromComponent("sink", p.sink))

	status := health.Aggregate(p.name, subs)
	switch p.Status() {
	case StatusStopped:
		stopped := health.NewUnhealthy(p.name, "pipeline is not running")
		stopped.SubStatuses = status.SubStatuses
		return stopped
	case StatusConnecting, StatusReconnecting:
		if status.IsHealthy() {
			connecting := health.NewDegraded(p.name, "pipeline is "+p.Status().String())
			connecting.SubStatuses = status.SubStatuses
			return connecting
		}
	}
	return status
}
