package testutil

import (
	"fmt"

	"github.com/sugawarayuuta/sonnet"
)

// SubscribeFrame builds an "info: subscribe" frame with one entry per
// subscription.
func SubscribeFrame(subs ...TestSubscription) []byte {
	metrics := make([]map[string]any, 0, len(subs))
	for _, s := range subs {
		metrics = append(metrics, map[string]any{
			"id":         s.ID,
			"expression": s.Expression,
			"step":       s.StepMillis,
		})
	}
	return frame("info: subscribe ", map[string]any{"metrics": metrics})
}

// TestSubscription describes one subscription for SubscribeFrame.
type TestSubscription struct {
	ID         string
	Expression string
	StepMillis int64
}

// MetricFrame builds a "data: metric" frame.
func MetricFrame(id string, timestamp int64, tags map[string]string, value float64) []byte {
	return frame("data: metric ", map[string]any{
		"id":        id,
		"timestamp": timestamp,
		"tags":      tags,
		"value":     value,
	})
}

// DiagnosticFrame builds a "data: diagnostic" frame.
func DiagnosticFrame(id, message string) []byte {
	return frame("data: diagnostic ", map[string]any{"id": id, "message": message})
}

// HeartbeatFrame builds a "data: heartbeat" frame.
func HeartbeatFrame(timestamp, stepMillis int64) []byte {
	return frame("data: heartbeat ", map[string]any{"timestamp": timestamp, "step": stepMillis})
}

// RawFrame joins a prefix and an arbitrary payload, e.g. to build malformed
// frames.
func RawFrame(prefix, payload string) []byte {
	return []byte(prefix + payload)
}

func frame(prefix string, payload any) []byte {
	data, err := sonnet.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("testutil: marshal frame payload: %v", err))
	}
	return append([]byte(prefix), data...)
}
