package sink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/flume/types"
)

// collectFlushes is a FlushFunc recording every batch it receives.
type collectFlushes struct {
	mu      sync.Mutex
	batches [][]types.Event
	err     error
}

func (c *collectFlushes) flush(_ context.Context, batch []types.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, batch)
	return c.err
}

func (c *collectFlushes) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func (c *collectFlushes) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func ev(n int) types.Event {
	return types.Event{"event": "e", "n": n}
}

func TestBatchFlushesOnSize(t *testing.T) {
	sink := &collectFlushes{}
	m := NewBatchManager(3, time.Hour, sink.flush, nil)
	defer m.Close(context.Background())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := m.Add(ctx, ev(i)); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	if sink.count() != 1 {
		t.Fatalf("flushes = %d, want 1", sink.count())
	}
	if len(sink.batches[0]) != 3 {
		t.Errorf("batch len = %d, want 3", len(sink.batches[0]))
	}
	if m.Len() != 0 {
		t.Errorf("buffer not cleared after size flush: %d", m.Len())
	}
}

func TestBatchFlushesOnInterval(t *testing.T) {
	sink := &collectFlushes{}
	m := NewBatchManager(100, 30*time.Millisecond, sink.flush, nil)
	defer m.Close(context.Background())

	if err := m.Add(context.Background(), ev(1)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sink.count() != 1 {
		t.Fatalf("timer flush did not fire")
	}
	if sink.total() != 1 {
		t.Errorf("events flushed = %d, want 1", sink.total())
	}
}

func TestBatchExplicitFlushIdempotentWhenEmpty(t *testing.T) {
	sink := &collectFlushes{}
	m := NewBatchManager(10, time.Hour, sink.flush, nil)
	defer m.Close(context.Background())

	for i := 0; i < 3; i++ {
		if err := m.Flush(context.Background()); err != nil {
			t.Fatalf("Flush: %v", err)
		}
	}
	if sink.count() != 0 {
		t.Errorf("empty flush invoked flushFn %d times", sink.count())
	}
}

func TestBatchCloseFlushesOnceAndRejectsAdds(t *testing.T) {
	sink := &collectFlushes{}
	m := NewBatchManager(10, time.Hour, sink.flush, nil)

	_ = m.Add(context.Background(), ev(1))
	_ = m.Add(context.Background(), ev(2))

	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sink.total() != 2 {
		t.Errorf("close flushed %d events, want 2", sink.total())
	}

	if err := m.Add(context.Background(), ev(3)); !errors.Is(err, ErrBatchClosed) {
		t.Errorf("Add after close = %v, want ErrBatchClosed", err)
	}
	// Close is idempotent.
	if err := m.Close(context.Background()); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if sink.count() != 1 {
		t.Errorf("second close flushed again: %d", sink.count())
	}
}

func TestBatchFailedFlushDropsBatch(t *testing.T) {
	sink := &collectFlushes{err: errors.New("downstream dead")}
	m := NewBatchManager(2, time.Hour, sink.flush, nil)
	defer m.Close(context.Background())

	ctx := context.Background()
	_ = m.Add(ctx, ev(1))
	err := m.Add(ctx, ev(2))
	if err == nil {
		t.Fatal("expected flush error surfaced from Add")
	}
	// The failed batch is dropped and its error returned from Add; the
	// manager does not retry it.
	if m.Len() != 0 {
		t.Errorf("failed batch retained: len = %d", m.Len())
	}
}

func TestBatchConcurrentAddsLoseNothing(t *testing.T) {
	sink := &collectFlushes{}
	m := NewBatchManager(7, time.Hour, sink.flush, nil)

	const producers, perProducer = 8, 50
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = m.Add(context.Background(), ev(i))
			}
		}()
	}
	wg.Wait()
	_ = m.Close(context.Background())

	if got := sink.total(); got != producers*perProducer {
		t.Errorf("flushed %d events, want %d", got, producers*perProducer)
	}
}

func TestBatchTimerFlushFailureReportedLost(t *testing.T) {
	sink := &collectFlushes{err: errors.New("downstream dead")}

	var mu sync.Mutex
	var lostCounts []int
	var lostErrs []error
	onLost := func(batchSize int, err error) {
		mu.Lock()
		defer mu.Unlock()
		lostCounts = append(lostCounts, batchSize)
		lostErrs = append(lostErrs, err)
	}

	m := NewBatchManager(100, 30*time.Millisecond, sink.flush, onLost)
	defer m.Close(context.Background())

	_ = m.Add(context.Background(), ev(1))
	_ = m.Add(context.Background(), ev(2))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(lostCounts)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(lostCounts) == 0 {
		t.Fatal("timer flush failure never reported lost")
	}
	if lostCounts[0] != 2 {
		t.Errorf("lost batch size = %d, want 2", lostCounts[0])
	}
	if lostErrs[0] == nil {
		t.Error("lost report carries no error")
	}
}

func TestBatchCloseFlushFailureReportedLost(t *testing.T) {
	sink := &collectFlushes{err: errors.New("downstream dead")}

	var mu sync.Mutex
	lost := 0
	onLost := func(batchSize int, _ error) {
		mu.Lock()
		lost += batchSize
		mu.Unlock()
	}

	m := NewBatchManager(100, time.Hour, sink.flush, onLost)
	_ = m.Add(context.Background(), ev(1))

	if err := m.Close(context.Background()); err == nil {
		t.Fatal("expected close flush error")
	}
	mu.Lock()
	defer mu.Unlock()
	if lost != 1 {
		t.Errorf("lost = %d, want 1 from the close flush", lost)
	}
}

func TestBatchAddFlushFailureNotDoubleReported(t *testing.T) {
	// Size-triggered flushes return their error from Add; the lost
	// callback is reserved for flushes with no caller.
	sink := &collectFlushes{err: errors.New("downstream dead")}
	reported := 0
	m := NewBatchManager(1, time.Hour, sink.flush, func(int, error) { reported++ })
	defer m.Close(context.Background())

	if err := m.Add(context.Background(), ev(1)); err == nil {
		t.Fatal("expected flush error from Add")
	}
	if reported != 0 {
		t.Errorf("size-triggered failure reported %d times via callback, want 0", reported)
	}
}

func TestBatchSizeOneFlushesEveryAdd(t *testing.T) {
	sink := &collectFlushes{}
	m := NewBatchManager(1, time.Hour, sink.flush, nil)
	defer m.Close(context.Background())

	for i := 0; i < 4; i++ {
		_ = m.Add(context.Background(), ev(i))
	}
	if sink.count() != 4 {
		t.Errorf("flushes = %d, want 4", sink.count())
	}
	for i, b := range sink.batches {
		if len(b) != 1 || b[0]["n"] != i {
			t.Errorf("batch %d = %v, ordering broken", i, b)
		}
	}
}
