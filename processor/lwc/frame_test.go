package lwc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		frame      string
		expected   FrameType
		prefixSize int
	}{
		{"subscribe", `info: subscribe {"metrics":[]}`, FrameSubscription, len(SubscribePrefix)},
		{"metric", `data: metric {"id":"a"}`, FrameDatapoint, len(MetricPrefix)},
		{"diagnostic", `data: diagnostic {"id":"a"}`, FrameDiagnostic, len(DiagnosticPrefix)},
		{"heartbeat", `data: heartbeat {"step":60000}`, FrameHeartbeat, len(HeartbeatPrefix)},
		{"prefix only", `data: heartbeat `, FrameHeartbeat, len(HeartbeatPrefix)},
		{"future frame type", `data: evaluation {"id":"a"}`, FrameUnknown, 0},
		{"missing space", `data: metric{"id":"a"}`, FrameUnknown, 0},
		{"sse comment", `: keepalive`, FrameUnknown, 0},
		{"empty", ``, FrameUnknown, 0},
		{"case sensitive", `DATA: METRIC {}`, FrameUnknown, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frameType, n := Classify([]byte(tt.frame))
			assert.Equal(t, tt.expected, frameType)
			assert.Equal(t, tt.prefixSize, n)
		})
	}
}

func TestFramePrefixesDoNotOverlap(t *testing.T) {
	for i, a := range framePrefixes {
		for j, b := range framePrefixes {
			if i == j {
				continue
			}
			frameType, _ := Classify(a.prefix)
			assert.Equal(t, a.frameType, frameType, "prefix %q must classify as itself", a.prefix)
			assert.False(t, bytes.HasPrefix(a.prefix, b.prefix), "prefix %q overlaps %q", a.prefix, b.prefix)
		}
	}
}

func TestFrameType_String(t *testing.T) {
	assert.Equal(t, "subscription", FrameSubscription.String())
	assert.Equal(t, "datapoint", FrameDatapoint.String())
	assert.Equal(t, "diagnostic", FrameDiagnostic.String())
	assert.Equal(t, "heartbeat", FrameHeartbeat.String())
	assert.Equal(t, "unknown", FrameUnknown.String())
	assert.Equal(t, "unknown", FrameType(42).String())
}
