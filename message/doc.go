// Package message defines the wire form of stage outputs handed to external
// sinks.
//
// A DatapointMessage carries either a datapoint or a heartbeat produced by the
// LWC stage, plus a message id and the id of the connection it came from.
// Messages are encoded with a Codec:
//
//	codec, err := message.NewCodec("msgpack")
//	data, err := codec.Encode(message.FromDatapoint(dp, connectionID))
//
// The JSON codec writes non-finite values as the strings "NaN", "Infinity"
// and "-Infinity", the same convention the LWC server uses on its stream.
package message
