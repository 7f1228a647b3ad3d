package sink

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/justapithecus/flume/types"
)

// FlushFunc delivers a full batch downstream. The batch manager expects
// the function to already be retry-wrapped; when it still fails the
// batch is reported lost via the returned error and dropped.
type FlushFunc func(ctx context.Context, batch []types.Event) error

// LostFunc reports a batch dropped after a failed flush. Only flushes
// with no caller to return the error to (the periodic timer, Close)
// are reported here; size-triggered flushes surface their error from
// Add, where the write path already accounts for it.
type LostFunc func(batchSize int, err error)

// ErrBatchClosed is returned by Add after Close.
var ErrBatchClosed = errors.New("batch manager closed")

// BatchManager buffers events for a sink and flushes on size or
// interval. All state mutations are serialized: two concurrent Add
// calls never double-flush or lose events.
type BatchManager struct {
	size     int
	interval time.Duration
	flushFn  FlushFunc
	onLost   LostFunc

	mu        sync.Mutex
	buf       []types.Event
	lastFlush time.Time
	closed    bool

	timerCancel context.CancelFunc
	timerDone   chan struct{}
}

// NewBatchManager creates a batch manager. size must be >= 1 and
// interval > 0. onLost may be nil. The periodic timer starts
// immediately and lives until Close.
func NewBatchManager(size int, interval time.Duration, flushFn FlushFunc, onLost LostFunc) *BatchManager {
	if size < 1 {
		size = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	m := &BatchManager{
		size:      size,
		interval:  interval,
		flushFn:   flushFn,
		onLost:    onLost,
		buf:       make([]types.Event, 0, size),
		lastFlush: time.Now(),
		timerDone: make(chan struct{}),
	}

	timerCtx, cancel := context.WithCancel(context.Background())
	m.timerCancel = cancel
	go m.runTimer(timerCtx)

	return m
}

// Add appends an event. When the buffer reaches the batch size the
// whole buffer is flushed and cleared before Add returns.
func (m *BatchManager) Add(ctx context.Context, event types.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrBatchClosed
	}

	m.buf = append(m.buf, event)
	if len(m.buf) >= m.size {
		return m.flushLocked(ctx)
	}
	return nil
}

// Flush forces any buffered events out. Idempotent when empty.
func (m *BatchManager) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushLocked(ctx)
}

// Len returns the current buffer length.
func (m *BatchManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buf)
}

// Close flushes once, cancels the timer, and rejects further adds.
// A pending timer flush completes before Close returns. A failed
// final flush is reported lost in addition to returning the error.
func (m *BatchManager) Close(ctx context.Context) error {
	m.timerCancel()
	<-m.timerDone

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	pending := len(m.buf)
	err := m.flushLocked(ctx)
	if err != nil && m.onLost != nil {
		m.onLost(pending, err)
	}
	return err
}

// flushLocked hands the buffer to flushFn and clears it. The buffer is
// cleared even on failure: retries are the delivery queue's concern,
// and a failed batch is reported lost rather than redelivered forever.
// Caller must hold mu.
func (m *BatchManager) flushLocked(ctx context.Context) error {
	m.lastFlush = time.Now()
	if len(m.buf) == 0 {
		return nil
	}

	batch := m.buf
	m.buf = make([]types.Event, 0, m.size)
	return m.flushFn(ctx, batch)
}

// runTimer forces a flush whenever interval has elapsed since the last
// flush and the buffer is non-empty.
func (m *BatchManager) runTimer(ctx context.Context) {
	defer close(m.timerDone)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			due := len(m.buf) > 0 && time.Since(m.lastFlush) >= m.interval
			if due {
				// Not the timer ctx: a flush already in progress when
				// Close cancels the timer still completes.
				pending := len(m.buf)
				if err := m.flushLocked(context.Background()); err != nil && m.onLost != nil {
					// No caller to hand the error to: report the batch
					// lost so it still shows up in metrics.
					m.onLost(pending, err)
				}
			}
			m.mu.Unlock()
		}
	}
}
