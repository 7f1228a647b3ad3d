// Package sink defines the output endpoint contract and the concrete
// sinks shipped with flume.
//
// A sink accepts one event at a time and owns its transport. The
// batching and retry harness around sinks lives in the batch manager
// and the delivery queue; sinks that batch internally (Loki, S3) own a
// batch manager and implement Batcher. The delivery queue writes to
// every sink directly and wraps none of them in a batch manager.
package sink

import (
	"context"

	"github.com/justapithecus/flume/types"
)

// Sink is an output endpoint for structured events.
type Sink interface {
	// Name is a stable short identifier used as a metrics label.
	Name() string

	// Write delivers one event. On failure it must return an *Error
	// carrying the sink name, operation, and event context.
	Write(ctx context.Context, event types.Event) error

	// Close releases held resources. Idempotent; must complete within
	// the shutdown drain deadline.
	Close() error
}

// Batcher is implemented by sinks that buffer events internally and
// flush on size or interval, so their buffers can be flushed on demand.
type Batcher interface {
	// Flush forces any buffered events out immediately.
	Flush(ctx context.Context) error
}

// Starter is implemented by sinks with an async startup phase
// (connection establishment, header exchange). The container calls
// Start during setup; sinks without it are considered started on
// construction.
type Starter interface {
	Start(ctx context.Context) error
}

// LifecycleState tracks where a sink is in its lifecycle.
type LifecycleState string

// Lifecycle states.
const (
	StateNew     LifecycleState = "new"
	StateStarted LifecycleState = "started"
	StateStopped LifecycleState = "stopped"
)
