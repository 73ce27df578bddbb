// Package service hosts the LWC pipeline.
//
// A Pipeline connects an input.Connector to an output.Sink through a fresh
// lwc.Stage for every upstream connection. When the stream ends or fails it
// reconnects with exponential backoff; a stage never reconnects by itself, so
// subscription state always starts empty on a new connection. Every
// connection gets a uuid that is attached to its logs and, through
// output.WithConnectionID, to the messages the sink publishes.
//
// Basic usage:
//
//	pipeline, err := service.NewPipeline(cfg, connector, sink, deps)
//	if err != nil {
//	    return err
//	}
//	err = pipeline.Run(ctx) // returns nil once ctx is cancelled
package service
