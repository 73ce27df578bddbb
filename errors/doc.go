// Package errors classifies failures for the LWC stream components.
//
// # Classes
//
//   - Transient: the upstream connection dropped or timed out. The host
//     service reconnects with backoff.
//   - Invalid: one frame or one config value is bad. Frames are skipped and
//     counted; config errors are reported at startup.
//   - Fatal: the process cannot continue (bad config, unsupported source or
//     sink type).
//
// # Wrapping
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// WrapTransient, WrapInvalid and WrapFatal attach a class on top of that
// format; Classify recovers it from anywhere in the chain:
//
//	if err := stage.Run(ctx, sink); err != nil {
//	    if errors.IsTransient(err) {
//	        // reconnect
//	    }
//	}
package errors
