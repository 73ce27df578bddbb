// Package output defines the sinks that receive stage outputs.
//
// A sink is a lifecycle component that also implements lwc.Sink: the
// pipeline starts it once, hands it every datapoint and heartbeat of every
// connection through Emit, and stops it on shutdown. Emit returning is what
// lets the stage produce the next output, so a slow sink slows the stage
// instead of growing a queue.
package output

import (
	"context"

	"github.com/alexitosrv/atlas/component"
	"github.com/alexitosrv/atlas/processor/lwc"
)

// Sink is implemented by every output component.
type Sink interface {
	component.LifecycleComponent
	lwc.Sink
}

type connectionKey struct{}

// WithConnectionID returns a context carrying the id of the upstream
// connection whose outputs are emitted with it.
func WithConnectionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connectionKey{}, id)
}

// ConnectionID returns the connection id stored by WithConnectionID, or "".
func ConnectionID(ctx context.Context) string {
	id, _ := ctx.Value(connectionKey{}).(string)
	return id
}
