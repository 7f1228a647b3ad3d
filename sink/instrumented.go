package sink

import (
	"context"
	"sync"
	"time"

	"github.com/justapithecus/flume/metrics"
	"github.com/justapithecus/flume/types"
)

// Instrumented wraps a Sink, records per-write metrics on the
// container's collector (write counts, success/failure, latency), and
// tracks the sink's lifecycle state.
type Instrumented struct {
	inner     Sink
	collector *metrics.Collector

	mu    sync.Mutex
	state LifecycleState
}

// NewInstrumented wraps a sink with metrics instrumentation. Sinks
// without a startup phase are considered started on construction.
func NewInstrumented(inner Sink, collector *metrics.Collector) *Instrumented {
	state := StateStarted
	if _, ok := inner.(Starter); ok {
		state = StateNew
	}
	return &Instrumented{inner: inner, collector: collector, state: state}
}

// State returns the sink's lifecycle state.
func (s *Instrumented) State() LifecycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Instrumented) setState(state LifecycleState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Name delegates to the inner sink.
func (s *Instrumented) Name() string { return s.inner.Name() }

// Write delegates to the inner sink and records success or failure
// with the observed latency.
func (s *Instrumented) Write(ctx context.Context, event types.Event) error {
	start := time.Now()
	err := s.inner.Write(ctx, event)
	latency := time.Since(start)

	if err != nil {
		s.collector.RecordSinkWrite(s.inner.Name(), latency, false, 1, err.Error())
	} else {
		s.collector.RecordSinkWrite(s.inner.Name(), latency, true, 1, "")
	}
	return err
}

// Flush delegates when the inner sink batches internally.
func (s *Instrumented) Flush(ctx context.Context) error {
	if b, ok := s.inner.(Batcher); ok {
		return b.Flush(ctx)
	}
	return nil
}

// Start delegates when the inner sink has a startup phase.
func (s *Instrumented) Start(ctx context.Context) error {
	if st, ok := s.inner.(Starter); ok {
		if err := st.Start(ctx); err != nil {
			return err
		}
	}
	s.setState(StateStarted)
	return nil
}

// Close delegates to the inner sink.
func (s *Instrumented) Close() error {
	s.setState(StateStopped)
	return s.inner.Close()
}

// Unwrap returns the wrapped sink (used by the factory to inspect the
// concrete type behind the instrumentation).
func (s *Instrumented) Unwrap() Sink { return s.inner }

// Verify Instrumented implements Sink.
var _ Sink = (*Instrumented)(nil)
