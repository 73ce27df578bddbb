package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "atlas_lwc"

// Metrics contains the pipeline-level metrics shared by every connection.
// Per-stage frame metrics live with the stage itself.
type Metrics struct {
	ConnectionStatus *prometheus.GaugeVec
	ConnectionsTotal *prometheus.CounterVec
	Reconnects       *prometheus.CounterVec
	SinkPublished    *prometheus.CounterVec
	SinkErrors       *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "source",
				Name:      "connected",
				Help:      "Upstream connection status (0=disconnected, 1=connected)",
			},
			[]string{"pipeline"},
		),

		ConnectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "source",
				Name:      "connections_total",
				Help:      "Total number of upstream connections opened",
			},
			[]string{"pipeline"},
		),

		Reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "source",
				Name:      "reconnects_total",
				Help:      "Total number of upstream reconnection attempts",
			},
			[]string{"pipeline"},
		),

		SinkPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "published_total",
				Help:      "Total number of datapoints handed to a sink",
			},
			[]string{"sink", "kind"},
		),

		SinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "errors_total",
				Help:      "Total number of sink write failures",
			},
			[]string{"sink"},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ConnectionStatus,
		c.ConnectionsTotal,
		c.Reconnects,
		c.SinkPublished,
		c.SinkErrors,
	}
}

// RecordConnectionStatus updates the upstream connection gauge
func (c *Metrics) RecordConnectionStatus(pipeline string, connected bool) {
	if c == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
		c.ConnectionsTotal.WithLabelValues(pipeline).Inc()
	}
	c.ConnectionStatus.WithLabelValues(pipeline).Set(value)
}

// RecordReconnect increments the reconnection counter
func (c *Metrics) RecordReconnect(pipeline string) {
	if c == nil {
		return
	}
	c.Reconnects.WithLabelValues(pipeline).Inc()
}

// RecordPublished increments the sink publish counter
func (c *Metrics) RecordPublished(sink, kind string) {
	if c == nil {
		return
	}
	c.SinkPublished.WithLabelValues(sink, kind).Inc()
}

// RecordSinkError increments the sink error counter
func (c *Metrics) RecordSinkError(sink string) {
	if c == nil {
		return
	}
	c.SinkErrors.WithLabelValues(sink).Inc()
}
