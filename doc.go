// Package atlas turns Atlas LWC (last write cache) streams into datapoints.
//
// An LWC stream is a sequence of text frames. Subscription frames announce
// which expression and step each id stands for, metric frames carry values
// for those ids, diagnostic frames carry messages about them, and heartbeat
// frames mark the passage of a step. The stage in processor/lwc resolves
// metric frames against the subscriptions it has seen and produces one
// datapoint per metric frame and one heartbeat per heartbeat frame.
//
// # Architecture
//
//	┌──────────────┐   frames   ┌──────────────┐  datapoints  ┌──────────────┐
//	│    input     │ ─────────▶ │ processor/lwc│ ───────────▶ │    output    │
//	│ sse, ws,     │   (pull)   │    Stage     │   (pull)     │ file, nats,  │
//	│ replay       │            │              │              │ mqtt, http   │
//	└──────────────┘            └──────────────┘              └──────────────┘
//	        ▲                                                          │
//	        └──────────── service.Pipeline: reconnect, health ─────────┘
//
// Flow control is pull based end to end. The sink accepting an output is the
// demand for the next one, and the stage reads exactly one frame at a time
// from its connection, so a slow sink slows the upstream read instead of
// filling a queue.
//
// Frames that cannot be decoded never stop the stream: they are logged with
// an escaped rendering of their bytes, counted, and skipped.
//
// # Packages
//
//   - processor/lwc: frame classification, decoding, subscription state and flow control
//   - input: stream connectors (SSE over HTTP, WebSocket, replay of captures)
//   - output: sinks (JSON lines, NATS, MQTT, HTTP POST)
//   - message: wire form of datapoints with JSON and MessagePack codecs
//   - service: the pipeline host that reconnects and reports health
//   - config: YAML/JSON configuration with schema validation and env overrides
//   - metric, health, errors, natsclient, pkg/retry: supporting infrastructure
//
// The atlas-lwc binary in cmd/atlas-lwc wires these together.
package atlas
