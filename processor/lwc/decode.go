package lwc

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/alexitosrv/atlas/errors"
)

// subscriptionMessage is the payload of an "info: subscribe" frame.
type subscriptionMessage struct {
	Expression string     `json:"expression,omitempty"`
	Metrics    []dataExpr `json:"metrics"`
}

type dataExpr struct {
	ID         string `json:"id"`
	Expression string `json:"expression,omitempty"`
	Expr       string `json:"expr,omitempty"` // older publishers
	Step       int64  `json:"step"`           // milliseconds
}

func (e dataExpr) subscription() (Subscription, error) {
	expr := e.Expression
	if expr == "" {
		expr = e.Expr
	}
	switch {
	case e.ID == "":
		return Subscription{}, fmt.Errorf("subscription without id")
	case expr == "":
		return Subscription{}, fmt.Errorf("subscription %s without expression", e.ID)
	case e.Step <= 0:
		return Subscription{}, fmt.Errorf("subscription %s has invalid step %d", e.ID, e.Step)
	}
	return Subscription{
		ID:         e.ID,
		Expression: expr,
		Step:       time.Duration(e.Step) * time.Millisecond,
	}, nil
}

// datapointMessage is the payload of a "data: metric" frame.
type datapointMessage struct {
	ID        string            `json:"id"`
	Timestamp int64             `json:"timestamp"`
	Tags      map[string]string `json:"tags"`
	Value     jsonFloat         `json:"value"`
}

// diagnosticMessage is the payload of a "data: diagnostic" frame.
type diagnosticMessage struct {
	ID      string         `json:"id"`
	Message diagnosticText `json:"message"`
}

// heartbeatMessage is the payload of a "data: heartbeat" frame.
type heartbeatMessage struct {
	Timestamp int64 `json:"timestamp"`
	Step      int64 `json:"step"` // milliseconds
}

// jsonFloat accepts a JSON number or one of the strings "NaN", "Infinity" and
// "-Infinity", which is how non-finite values are written by the server.
type jsonFloat float64

func (f *jsonFloat) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := sonnet.Unmarshal(data, &s); err != nil {
			return err
		}
		switch s {
		case "NaN":
			*f = jsonFloat(math.NaN())
		case "Infinity", "+Infinity":
			*f = jsonFloat(math.Inf(1))
		case "-Infinity":
			*f = jsonFloat(math.Inf(-1))
		default:
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("invalid value %q", s)
			}
			*f = jsonFloat(v)
		}
		return nil
	}

	var v float64
	if err := sonnet.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = jsonFloat(v)
	return nil
}

// diagnosticText accepts either a plain string or an object with a message
// field, e.g. {"type":"error","message":"..."}.
type diagnosticText string

func (d *diagnosticText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}
		if err := sonnet.Unmarshal(data, &obj); err != nil {
			return err
		}
		*d = diagnosticText(obj.Message)
		return nil
	}

	var s string
	if err := sonnet.Unmarshal(data, &s); err != nil {
		return err
	}
	*d = diagnosticText(s)
	return nil
}

func malformed(err error, method string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrMalformedFrame, err), "Stage", method, "decode payload")
}

// payload stages the bytes after the prefix in the scratch buffer and returns
// exactly those bytes.
func (s *Stage) payload(frame []byte, prefixLen int) []byte {
	n := s.scratch.CopyPayload(frame, prefixLen)
	return s.scratch.Bytes(n)
}

// decodeSubscription validates every entry before the first upsert so a bad
// message leaves the table untouched.
func (s *Stage) decodeSubscription(frame []byte, prefixLen int) error {
	var msg subscriptionMessage
	if err := sonnet.Unmarshal(s.payload(frame, prefixLen), &msg); err != nil {
		return malformed(err, "decodeSubscription")
	}

	subs := make([]Subscription, 0, len(msg.Metrics))
	for _, m := range msg.Metrics {
		sub, err := m.subscription()
		if err != nil {
			return malformed(err, "decodeSubscription")
		}
		subs = append(subs, sub)
	}

	for _, sub := range subs {
		s.subs.Upsert(sub)
	}
	s.metrics.setSubscriptions(s.name, s.subs.Len())
	return nil
}

func (s *Stage) decodeDatapoint(frame []byte, prefixLen int) (Datapoint, bool, error) {
	var msg datapointMessage
	if err := sonnet.Unmarshal(s.payload(frame, prefixLen), &msg); err != nil {
		return Datapoint{}, false, malformed(err, "decodeDatapoint")
	}

	sub, ok := s.subs.Lookup(msg.ID)
	if !ok {
		return Datapoint{}, false, nil
	}

	tags := msg.Tags
	if tags == nil {
		tags = make(map[string]string)
	}

	s.nextSource++
	return Datapoint{
		Timestamp:  msg.Timestamp,
		Step:       sub.Step,
		Expression: sub.Expression,
		Source:     strconv.FormatUint(s.nextSource, 10),
		Tags:       tags,
		Value:      float64(msg.Value),
	}, true, nil
}

func (s *Stage) decodeDiagnostic(frame []byte, prefixLen int) error {
	var msg diagnosticMessage
	if err := sonnet.Unmarshal(s.payload(frame, prefixLen), &msg); err != nil {
		return malformed(err, "decodeDiagnostic")
	}

	if sub, ok := s.subs.Lookup(msg.ID); ok {
		s.diagnostics.Log(sub.Expression, string(msg.Message))
	}
	return nil
}

func (s *Stage) decodeHeartbeat(frame []byte, prefixLen int) (Datapoint, bool, error) {
	var msg heartbeatMessage
	if err := sonnet.Unmarshal(s.payload(frame, prefixLen), &msg); err != nil {
		return Datapoint{}, false, malformed(err, "decodeHeartbeat")
	}
	return NewHeartbeat(msg.Timestamp, time.Duration(msg.Step)*time.Millisecond), true, nil
}
