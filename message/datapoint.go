package message

import (
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sugawarayuuta/sonnet"

	"github.com/alexitosrv/atlas/errors"
	"github.com/alexitosrv/atlas/processor/lwc"
)

// DatapointMessage is the encoded form of one stage output.
type DatapointMessage struct {
	ID         string            `json:"id" msgpack:"id"`
	Type       string            `json:"type" msgpack:"type"`
	Connection string            `json:"connection,omitempty" msgpack:"connection,omitempty"`
	Timestamp  int64             `json:"timestamp" msgpack:"timestamp"` // Unix milliseconds
	Time       string            `json:"time,omitempty" msgpack:"-"`    // RFC3339, for humans reading JSON
	StepMillis int64             `json:"step" msgpack:"step"`
	Expression string            `json:"expression,omitempty" msgpack:"expression,omitempty"`
	Source     string            `json:"source,omitempty" msgpack:"source,omitempty"`
	Tags       map[string]string `json:"tags,omitempty" msgpack:"tags,omitempty"`
	Value      Float             `json:"value" msgpack:"value"`
}

// FromDatapoint converts a stage output. connection identifies the upstream
// connection that produced it and may be empty.
func FromDatapoint(dp lwc.Datapoint, connection string) *DatapointMessage {
	msg := &DatapointMessage{
		ID:         uuid.New().String(),
		Connection: connection,
		Timestamp:  dp.Timestamp,
		Time:       formatMillis(dp.Timestamp),
		StepMillis: dp.Step.Milliseconds(),
	}

	if dp.IsHeartbeat() {
		msg.Type = HeartbeatType.Key()
		return msg
	}

	msg.Type = DatapointType.Key()
	msg.Expression = dp.Expression
	msg.Source = dp.Source
	msg.Tags = dp.Tags
	msg.Value = Float(dp.Value)
	return msg
}

// IsHeartbeat reports whether the message carries a heartbeat.
func (m *DatapointMessage) IsHeartbeat() bool {
	return m.Type == HeartbeatType.Key()
}

// Validate checks the fields every message must carry.
func (m *DatapointMessage) Validate() error {
	switch {
	case m.ID == "":
		return errors.WrapInvalid(errors.ErrInvalidData, "DatapointMessage", "Validate", "id is required")
	case m.Type != DatapointType.Key() && m.Type != HeartbeatType.Key():
		return errors.WrapInvalid(errors.ErrInvalidData, "DatapointMessage", "Validate", "unknown type "+m.Type)
	case m.StepMillis <= 0:
		return errors.WrapInvalid(errors.ErrInvalidData, "DatapointMessage", "Validate", "step must be positive")
	case !m.IsHeartbeat() && m.Expression == "":
		return errors.WrapInvalid(errors.ErrInvalidData, "DatapointMessage", "Validate", "expression is required")
	}
	return nil
}

// Float is a float64 whose JSON form allows NaN and infinities.
type Float float64

// MarshalJSON writes non-finite values as strings.
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Infinity"`), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

// UnmarshalJSON accepts a number or one of the non-finite strings.
func (f *Float) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := sonnet.Unmarshal(data, &s); err != nil {
			return err
		}
		switch s {
		case "NaN":
			*f = Float(math.NaN())
		case "Infinity":
			*f = Float(math.Inf(1))
		case "-Infinity":
			*f = Float(math.Inf(-1))
		default:
			return errors.WrapInvalid(errors.ErrParsingFailed, "Float", "UnmarshalJSON", "unexpected value "+s)
		}
		return nil
	}

	var v float64
	if err := sonnet.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// formatMillis renders Unix milliseconds as RFC3339 in UTC, or "" for zero.
func formatMillis(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
