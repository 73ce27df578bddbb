package message

import (
	"fmt"

	"github.com/sugawarayuuta/sonnet"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/alexitosrv/atlas/errors"
)

// Codec encodes messages for a sink.
type Codec interface {
	// Name is the config value selecting the codec.
	Name() string
	// ContentType is the MIME type of the encoded form.
	ContentType() string
	Encode(msg *DatapointMessage) ([]byte, error)
	Decode(data []byte) (*DatapointMessage, error)
}

// NewCodec returns the codec registered under name. An empty name selects
// JSON.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Codec", "NewCodec",
			fmt.Sprintf("unknown codec %q", name))
	}
}

// JSONCodec encodes messages as JSON objects.
type JSONCodec struct{}

// Name implements Codec.
func (JSONCodec) Name() string { return "json" }

// ContentType implements Codec.
func (JSONCodec) ContentType() string { return "application/json" }

// Encode implements Codec.
func (JSONCodec) Encode(msg *DatapointMessage) ([]byte, error) {
	data, err := sonnet.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "JSONCodec", "Encode", "marshal message")
	}
	return data, nil
}

// Decode implements Codec.
func (JSONCodec) Decode(data []byte) (*DatapointMessage, error) {
	var msg DatapointMessage
	if err := sonnet.Unmarshal(data, &msg); err != nil {
		return nil, errors.WrapInvalid(err, "JSONCodec", "Decode", "unmarshal message")
	}
	return &msg, nil
}

// MsgpackCodec encodes messages as MessagePack maps.
type MsgpackCodec struct{}

// Name implements Codec.
func (MsgpackCodec) Name() string { return "msgpack" }

// ContentType implements Codec.
func (MsgpackCodec) ContentType() string { return "application/msgpack" }

// Encode implements Codec.
func (MsgpackCodec) Encode(msg *DatapointMessage) ([]byte, error) {
	data, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "MsgpackCodec", "Encode", "marshal message")
	}
	return data, nil
}

// Decode implements Codec.
func (MsgpackCodec) Decode(data []byte) (*DatapointMessage, error) {
	var msg DatapointMessage
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return nil, errors.WrapInvalid(err, "MsgpackCodec", "Decode", "unmarshal message")
	}
	return &msg, nil
}
