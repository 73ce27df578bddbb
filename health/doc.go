// Package health reports the health of a running pipeline.
//
// A Status is healthy, degraded or unhealthy. Component health from the
// source connector, the stage of the current connection and the sink is
// converted with FromComponent and combined with Aggregate: any unhealthy
// part makes the whole unhealthy, otherwise any degraded part makes it
// degraded. Handler serves a status as JSON for liveness probes, answering
// 503 while it is unhealthy.
//
// Error messages copied from components are sanitized so that URLs, paths,
// addresses and credentials do not leak through the probe endpoint.
package health
