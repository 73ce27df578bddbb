// Package websocket provides a connector for LWC streams delivered over a
// WebSocket.
//
// # Overview
//
// Each text or binary message is one frame. A connection reads exactly one
// message per Next call and never reads ahead, so an idle stage leaves the
// messages in the socket and the server sees the backpressure.
//
// # Subscribing
//
// Servers that expect the client to name its expressions after the
// handshake receive the subscribe document verbatim as a text message:
//
//	{
//	  "url": "wss://lwc.example.com/api/v1/subscribe",
//	  "subscribe": [{"expression": "name,cpu,:eq,:sum", "step": 60000}],
//	  "auth": {"type": "bearer", "bearer_token_env": "LWC_TOKEN"}
//	}
//
// # Errors
//
// A 4xx handshake response is fatal and not retried. Other dial errors and
// read errors are transient. A normal or going-away close from the server
// ends the stream with io.EOF.
package websocket
