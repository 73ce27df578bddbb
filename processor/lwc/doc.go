// Package lwc converts the frames of an LWC (lightweight metrics
// subscription) stream into datapoints ready for aggregation.
//
// # Overview
//
// An LWC server pushes one frame per line over a long lived connection. Each
// frame starts with a prefix naming its type, followed by a JSON document:
//
//	info: subscribe {"expression":"...","metrics":[{"id":"a1","expression":"name,cpu,:eq,:sum","step":60000}]}
//	data: metric {"id":"a1","timestamp":1700000000000,"tags":{"name":"cpu"},"value":42.0}
//	data: diagnostic {"id":"a1","message":"expression uses a deprecated operator"}
//	data: heartbeat {"timestamp":1700000000000,"step":60000}
//
// Subscribe frames fill the stage's subscription table. Metric frames are
// resolved against it and become Datapoints carrying the subscription's
// expression and step. Diagnostic frames are handed to a DiagnosticLogger.
// Heartbeats always become heartbeat Datapoints. Frames with any other
// prefix are ignored, as are metric and diagnostic frames for unknown ids.
//
// # Flow Control
//
// The stage is pulled. Every call to Pull is one unit of demand: the stage
// moves from StateAwaitingDemand to StateAwaitingInput, reads frames one at
// a time from its Source and returns as soon as one of them produces an
// output. It never reads from the Source without pending demand and never
// has more than one read outstanding. Run drives Pull into a Sink.
//
//	stage, err := lwc.NewStage(source, lwc.DefaultConfig(), deps)
//	if err != nil {
//	    return err
//	}
//	return stage.Run(ctx, sink)
//
// # Malformed Frames
//
// A frame whose JSON cannot be decoded is logged at warn level with its
// bytes escaped (non printable bytes as \xHH), counted in
// atlas_lwc_stage_frame_failures_total and skipped. Decoding happens in
// full before any state is touched, so a bad subscribe frame never leaves
// the table half updated.
//
// # Limitations
//
// Datapoint.Source is a per-stage counter, not the identity of the
// instance that produced the value; values from several stages for the same
// series cannot be deduplicated with it. The subscription table is never
// pruned and grows with the number of distinct ids seen on a connection.
package lwc
