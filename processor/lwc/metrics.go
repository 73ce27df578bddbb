package lwc

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/alexitosrv/atlas/metric"
)

// Metrics holds the Prometheus collectors for LWC stages. One instance is
// shared by every stage of a pipeline since a stage only lives as long as its
// connection; the pipeline label tells pipelines apart.
type Metrics struct {
	framesReceived *prometheus.CounterVec // By pipeline and frame type
	emitted        *prometheus.CounterVec // By pipeline and kind (datapoint/heartbeat)
	failures       *prometheus.CounterVec // By pipeline
	subscriptions  *prometheus.GaugeVec   // By pipeline
}

// NewMetrics creates and registers the stage collectors. It returns nil, nil
// when registry is nil.
func NewMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atlas_lwc",
			Subsystem: "stage",
			Name:      "frames_received_total",
			Help:      "Total number of frames received from upstream",
		}, []string{"pipeline", "type"}),

		emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atlas_lwc",
			Subsystem: "stage",
			Name:      "emitted_total",
			Help:      "Total number of datapoints and heartbeats emitted downstream",
		}, []string{"pipeline", "kind"}),

		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atlas_lwc",
			Subsystem: "stage",
			Name:      "frame_failures_total",
			Help:      "Total number of frames that could not be decoded",
		}, []string{"pipeline"}),

		subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "atlas_lwc",
			Subsystem: "stage",
			Name:      "subscriptions",
			Help:      "Number of subscriptions known to the current stage",
		}, []string{"pipeline"}),
	}

	if err := registry.Register("lwc_stage", "frames_received", m.framesReceived); err != nil {
		return nil, err
	}
	if err := registry.Register("lwc_stage", "emitted", m.emitted); err != nil {
		return nil, err
	}
	if err := registry.Register("lwc_stage", "frame_failures", m.failures); err != nil {
		return nil, err
	}
	if err := registry.Register("lwc_stage", "subscriptions", m.subscriptions); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) recordFrame(pipeline string, frameType FrameType) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(pipeline, frameType.String()).Inc()
}

func (m *Metrics) recordEmitted(pipeline string, dp Datapoint) {
	if m == nil {
		return
	}
	m.emitted.WithLabelValues(pipeline, dp.Kind()).Inc()
}

func (m *Metrics) recordFailure(pipeline string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(pipeline).Inc()
}

func (m *Metrics) setSubscriptions(pipeline string, n int) {
	if m == nil {
		return
	}
	m.subscriptions.WithLabelValues(pipeline).Set(float64(n))
}
