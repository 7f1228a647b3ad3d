package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/justapithecus/flume/metrics"
	"github.com/justapithecus/flume/types"
)

func TestInstrumentedRecordsSuccessAndFailure(t *testing.T) {
	collector := metrics.NewCollector(0)
	rec := NewRecordingSink("rec")
	wrapped := NewInstrumented(rec, collector)

	ctx := context.Background()
	if err := wrapped.Write(ctx, types.Event{"event": "ok"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	rec.ErrOnWrite = errors.New("connection refused")
	if err := wrapped.Write(ctx, types.Event{"event": "bad"}); err == nil {
		t.Fatal("expected error")
	}

	s, ok := collector.Snapshot().Sinks["rec"]
	if !ok {
		t.Fatal("sink missing from snapshot")
	}
	if s.Writes != 2 || s.Successes != 1 || s.Failures != 1 {
		t.Errorf("counters = %+v", s)
	}
	if s.LastError == "" {
		t.Error("last error not recorded")
	}
}

func TestInstrumentedLifecycleStates(t *testing.T) {
	collector := metrics.NewCollector(0)
	wrapped := NewInstrumented(NewRecordingSink("rec"), collector)

	// No startup phase: started on construction.
	if got := wrapped.State(); got != StateStarted {
		t.Errorf("initial state = %v", got)
	}
	if err := wrapped.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := wrapped.State(); got != StateStopped {
		t.Errorf("state after close = %v", got)
	}
}

type startableSink struct {
	*RecordingSink
	started bool
}

func (s *startableSink) Start(context.Context) error {
	s.started = true
	return nil
}

func TestInstrumentedStartableSink(t *testing.T) {
	inner := &startableSink{RecordingSink: NewRecordingSink("startable")}
	wrapped := NewInstrumented(inner, metrics.NewCollector(0))

	if got := wrapped.State(); got != StateNew {
		t.Errorf("startable sink initial state = %v", got)
	}
	if err := wrapped.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !inner.started {
		t.Error("inner Start not invoked")
	}
	if got := wrapped.State(); got != StateStarted {
		t.Errorf("state after start = %v", got)
	}
}

func TestInstrumentedNameAndUnwrap(t *testing.T) {
	rec := NewRecordingSink("inner-name")
	wrapped := NewInstrumented(rec, nil)
	if wrapped.Name() != "inner-name" {
		t.Errorf("Name = %q", wrapped.Name())
	}
	if wrapped.Unwrap() != Sink(rec) {
		t.Error("Unwrap lost the inner sink")
	}
}
