package lwc

import "bytes"

// FrameType identifies which decoder handles a frame.
type FrameType int

const (
	// FrameUnknown is any frame whose prefix is not recognized. Such frames
	// are discarded so newer publishers can add frame types.
	FrameUnknown FrameType = iota
	// FrameSubscription carries the expressions the server evaluates for this
	// connection, keyed by subscription id.
	FrameSubscription
	// FrameDatapoint carries one value for a subscription id.
	FrameDatapoint
	// FrameDiagnostic carries a message about a subscription id.
	FrameDiagnostic
	// FrameHeartbeat carries the server clock and step.
	FrameHeartbeat
)

// String returns the label used for logs and metrics.
func (t FrameType) String() string {
	switch t {
	case FrameSubscription:
		return "subscription"
	case FrameDatapoint:
		return "datapoint"
	case FrameDiagnostic:
		return "diagnostic"
	case FrameHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// Frame prefixes. None is a prefix of another, so the match order only
// matters for speed: datapoints are by far the most common frame.
var (
	SubscribePrefix  = []byte("info: subscribe ")
	MetricPrefix     = []byte("data: metric ")
	DiagnosticPrefix = []byte("data: diagnostic ")
	HeartbeatPrefix  = []byte("data: heartbeat ")
)

var framePrefixes = [...]struct {
	frameType FrameType
	prefix    []byte
}{
	{FrameSubscription, SubscribePrefix},
	{FrameDatapoint, MetricPrefix},
	{FrameDiagnostic, DiagnosticPrefix},
	{FrameHeartbeat, HeartbeatPrefix},
}

// Classify returns the type of frame and the length of the matched prefix.
// Unrecognized frames return FrameUnknown and a zero length.
func Classify(frame []byte) (FrameType, int) {
	for _, p := range framePrefixes {
		if bytes.HasPrefix(frame, p.prefix) {
			return p.frameType, len(p.prefix)
		}
	}
	return FrameUnknown, 0
}
