package lwc

import "time"

// Datapoint is the output of the stage. It is either a value for a resolved
// subscription or a heartbeat carrying only the timestamp and step.
type Datapoint struct {
	Timestamp  int64
	Step       time.Duration
	Expression string
	// Source identifies the producer of the value. It is a per-stage counter
	// until the server reports real source identities, so it cannot be used
	// to deduplicate values across stages.
	Source    string
	Tags      map[string]string
	Value     float64
	heartbeat bool
}

// NewHeartbeat returns a heartbeat for the given time and step.
func NewHeartbeat(timestamp int64, step time.Duration) Datapoint {
	return Datapoint{Timestamp: timestamp, Step: step, heartbeat: true}
}

// IsHeartbeat reports whether d is a heartbeat rather than a value.
func (d Datapoint) IsHeartbeat() bool {
	return d.heartbeat
}

// Kind returns "heartbeat" or "datapoint".
func (d Datapoint) Kind() string {
	if d.heartbeat {
		return "heartbeat"
	}
	return "datapoint"
}
