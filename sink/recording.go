package sink

import (
	"context"
	"sync"

	"github.com/justapithecus/flume/types"
)

// RecordingSink is a test sink that records writes without delivering
// them anywhere. Tracks statistics for test assertions.
type RecordingSink struct {
	mu sync.Mutex

	name string

	// Events stores every written event, in write order.
	Events []types.Event
	// Writes is the total number of Write calls.
	Writes int64
	// CloseCalls counts Close invocations (Close is idempotent).
	CloseCalls int64
	// Closed indicates whether Close was called.
	Closed bool

	// ErrOnWrite, if non-nil, is returned by Write.
	ErrOnWrite error
	// FailFirst makes the first N writes fail with ErrOnWrite, then
	// succeed. Zero means every write honors ErrOnWrite.
	FailFirst int
	// Delay, if non-nil, runs before each write, simulating a slow sink.
	Delay func()
}

// NewRecordingSink creates a recording sink with the given name.
func NewRecordingSink(name string) *RecordingSink {
	if name == "" {
		name = "recording"
	}
	return &RecordingSink{name: name}
}

// Name implements Sink.
func (s *RecordingSink) Name() string { return s.name }

// Write records the event.
func (s *RecordingSink) Write(ctx context.Context, event types.Event) error {
	if s.Delay != nil {
		s.Delay()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.Writes++
	if s.ErrOnWrite != nil {
		if s.FailFirst == 0 || s.Writes <= int64(s.FailFirst) {
			return WrapWriteError(s.ErrOnWrite, s.name, event)
		}
	}
	s.Events = append(s.Events, event)
	return nil
}

// Close marks the sink closed.
func (s *RecordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	s.Closed = true
	return nil
}

// Recorded returns a snapshot of the recorded events.
func (s *RecordingSink) Recorded() []types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Event, len(s.Events))
	copy(out, s.Events)
	return out
}

// Count returns how many events were recorded.
func (s *RecordingSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Events)
}

// WriteAttempts returns how many Write calls were made, including
// failed ones.
func (s *RecordingSink) WriteAttempts() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Writes
}

// Verify RecordingSink implements Sink.
var _ Sink = (*RecordingSink)(nil)
