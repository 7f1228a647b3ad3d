// Package queue implements the bounded async delivery path between
// producers and sinks: a multi-producer single-consumer FIFO, the
// overflow policies at its boundary, and the worker that drains it.
package queue

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/justapithecus/flume/metrics"
	"github.com/justapithecus/flume/types"
)

// Overflow policies.
const (
	OverflowDrop   = "drop"
	OverflowBlock  = "block"
	OverflowSample = "sample"
)

// Config configures the delivery queue and its worker.
type Config struct {
	// MaxSize is the queue capacity (must be positive).
	MaxSize int
	// Overflow is drop, block, or sample (default drop).
	Overflow string
	// BatchSize is the max events per worker batch (default 10).
	BatchSize int
	// BatchTimeout is the max wait for a batch's first event (default 1s).
	BatchTimeout time.Duration
	// RetryDelay is the base delay between per-event retries (default 1s).
	RetryDelay time.Duration
	// MaxRetries is the retry count per event; zero means a single
	// attempt with no retries.
	MaxRetries int
	// SamplingRate applies pre-queue sampling in [0,1]. Zero drops
	// everything; callers wanting no sampling pass 1.
	SamplingRate float64
	// DrainDeadline bounds the shutdown drain (default 5s).
	DrainDeadline time.Duration
}

// withDefaults fills unset fields.
func (c Config) withDefaults() (Config, error) {
	if c.MaxSize <= 0 {
		return c, fmt.Errorf("queue maxsize must be positive, got %d", c.MaxSize)
	}
	switch c.Overflow {
	case "":
		c.Overflow = OverflowDrop
	case OverflowDrop, OverflowBlock, OverflowSample:
	default:
		return c, fmt.Errorf("invalid overflow %q: must be one of block, drop, sample", c.Overflow)
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.MaxRetries < 0 {
		return c, fmt.Errorf("queue max_retries must be non-negative, got %d", c.MaxRetries)
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return c, fmt.Errorf("sampling_rate must be in [0,1], got %v", c.SamplingRate)
	}
	if c.DrainDeadline <= 0 {
		c.DrainDeadline = 5 * time.Second
	}
	return c, nil
}

// Queue is the bounded FIFO between the chain and the worker. Events
// handed to Enqueue must be owned by the queue: producers must not
// mutate them afterwards.
type Queue struct {
	cfg Config

	ch       chan types.Event
	stopping atomic.Bool

	collector *metrics.Collector
	draw      func() float64 // test hook
}

// New creates a queue. The worker is created separately and attached
// via NewWorker so tests can drive the queue directly.
func New(cfg Config, collector *metrics.Collector) (*Queue, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Queue{
		cfg:       cfg,
		ch:        make(chan types.Event, cfg.MaxSize),
		collector: collector,
		draw:      rand.Float64,
	}, nil
}

// Depth returns the current queue depth.
func (q *Queue) Depth() int { return len(q.ch) }

// Capacity returns the configured capacity.
func (q *Queue) Capacity() int { return q.cfg.MaxSize }

// Stopping reports whether shutdown has begun.
func (q *Queue) Stopping() bool { return q.stopping.Load() }

// setStopping flips the queue into shutdown mode: all further
// enqueues are refused.
func (q *Queue) setStopping() { q.stopping.Store(true) }

// Enqueue offers one event to the queue. Returns false when the event
// was not accepted: shutdown in progress, sampled out, or refused by
// the overflow policy. Never blocks except under the block policy,
// where ctx cancellation also returns false.
func (q *Queue) Enqueue(ctx context.Context, event types.Event) bool {
	start := time.Now()

	if q.stopping.Load() {
		q.collector.RecordDropped()
		return false
	}

	if q.cfg.SamplingRate < 1 && q.draw() >= q.cfg.SamplingRate {
		q.collector.RecordSampled()
		return false
	}

	switch q.cfg.Overflow {
	case OverflowBlock:
		select {
		case q.ch <- event:
		case <-ctx.Done():
			q.collector.RecordDropped()
			return false
		}
	default: // drop and sample shed at the boundary identically
		select {
		case q.ch <- event:
		default:
			q.collector.RecordDropped()
			return false
		}
	}

	q.collector.RecordEnqueue(time.Since(start), len(q.ch))
	return true
}

// dequeue blocks up to timeout for one event. ok is false on timeout
// or cancellation.
func (q *Queue) dequeue(ctx context.Context, timeout time.Duration) (types.Event, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case event := <-q.ch:
		return event, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// tryDequeue takes one event without blocking.
func (q *Queue) tryDequeue() (types.Event, bool) {
	select {
	case event := <-q.ch:
		return event, true
	default:
		return nil, false
	}
}
