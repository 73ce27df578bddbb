// Package metric provides the Prometheus registry shared by the LWC pipeline.
//
// MetricsRegistry wraps a private prometheus.Registry and tracks every
// collector by "<service>.<metric>" so a component cannot register the same
// metric twice. Components create their own collectors and register them
// through the registry; a nil registry means metrics are disabled and every
// record helper becomes a no-op.
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//	go server.Start()
package metric
