package component

import (
	"context"
	"time"
)

// LifecycleComponent is a component the host starts before streaming and
// stops once the pipeline ends. Sinks implement it; sources do not, since
// the pipeline opens and closes their connections itself.
type LifecycleComponent interface {
	Discoverable

	// Start acquires external resources. It fails if already started.
	Start(ctx context.Context) error

	// Stop flushes pending work and releases resources within timeout.
	// Stopping a component that is not running is a no-op.
	Stop(timeout time.Duration) error
}
