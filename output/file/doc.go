// Package file provides an output component that writes stage outputs as
// JSON lines.
//
// # Overview
//
// Every datapoint becomes one line holding a message.DatapointMessage. The
// path "-" writes to stdout, which makes the component useful for piping a
// stream into jq or capturing it for later replay. Heartbeats are skipped
// unless include_heartbeats is set.
//
// # Buffering and Flushing
//
// Writes go through a bufio.Writer. With a positive flush_interval a
// background loop flushes on that interval; with flush_interval 0 every
// write is flushed immediately. Stop always flushes before closing the file.
//
// # Example Configuration
//
//	{
//	  "path": "/var/lib/atlas/cpu.jsonl",
//	  "append": true,
//	  "include_heartbeats": false,
//	  "flush_interval": "5s"
//	}
package file
