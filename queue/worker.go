package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justapithecus/flume/log"
	"github.com/justapithecus/flume/metrics"
	"github.com/justapithecus/flume/retry"
	"github.com/justapithecus/flume/sink"
	"github.com/justapithecus/flume/types"
)

// Error wraps a delivery failure with queue context.
type Error struct {
	// Op is the failing operation ("process_event", "enqueue").
	Op string
	// EventKeys are the keys of the affected event.
	EventKeys []string
	// TotalSinks and FailedSinks describe the fan-out outcome.
	TotalSinks  int
	FailedSinks int
	// FailedNames are the names of the sinks that failed.
	FailedNames []string
	// Err is the first underlying sink error.
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("queue %s: %d/%d sinks failed: %v", e.Op, e.FailedSinks, e.TotalSinks, e.Err)
}

// Unwrap returns the first underlying sink error.
func (e *Error) Unwrap() error { return e.Err }

// Worker is the single background task draining the queue. Within one
// event, sink writes run in parallel; events are processed one at a
// time, so the dequeue order is the order writes are first issued on
// every sink.
type Worker struct {
	queue *Queue
	sinks []sink.Sink

	logger    *log.Logger
	collector *metrics.Collector

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWorker creates a worker over the queue and sink list. The worker
// owns both for its lifetime.
func NewWorker(q *Queue, sinks []sink.Sink, logger *log.Logger, collector *metrics.Collector) *Worker {
	return &Worker{
		queue:     q,
		sinks:     sinks,
		logger:    logger.WithComponent("queue_worker"),
		collector: collector,
	}
}

// Start launches the worker goroutine. At most one worker runs per
// queue; a second Start while running is a no-op.
func (w *Worker) Start() {
	if !w.running.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.run(ctx)
	w.logger.Debug("worker started", nil)
}

// run is the worker loop: collect a batch, process it, repeat.
// Delivery failures are handled per event by processEvent; the loop
// itself has no other error path.
func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	for {
		if ctx.Err() != nil {
			return
		}

		batch := w.collectBatch(ctx)
		if len(batch) == 0 {
			continue
		}

		// A batch already taken off the queue is still awaited when the
		// loop is canceled; its writes are canceled only once the drain
		// deadline has passed since then.
		batchCtx, cancelBatch := context.WithCancel(context.WithoutCancel(ctx))
		stopWatch := context.AfterFunc(ctx, func() {
			time.AfterFunc(w.queue.cfg.DrainDeadline, cancelBatch)
		})

		start := time.Now()
		for i, item := range batch {
			if err := w.processEvent(batchCtx, item.event); isCanceled(err) {
				// Drain deadline passed mid-batch: this event and the
				// rest of the batch leave the queue as shutdown losses,
				// not as dequeues, so the two counters partition enqueues.
				w.collector.RecordDroppedOnShutdown(len(batch) - i)
				stopWatch()
				cancelBatch()
				return
			}
			w.collector.RecordDequeue(item.wait)
		}
		stopWatch()
		cancelBatch()
		w.collector.RecordBatchProcessing(time.Since(start))
	}
}

// isCanceled reports whether an event was abandoned because the
// context ended rather than because delivery failed.
func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// pendingEvent pairs a dequeued event with its observed dequeue wait.
// The dequeue counter is recorded only once the event is processed, so
// abandoned events count as shutdown losses instead.
type pendingEvent struct {
	event types.Event
	wait  time.Duration
}

// collectBatch blocks up to the batch timeout for the first event,
// then drains more without blocking up to the batch size.
func (w *Worker) collectBatch(ctx context.Context) []pendingEvent {
	dequeueStart := time.Now()
	first, ok := w.queue.dequeue(ctx, w.queue.cfg.BatchTimeout)
	if !ok {
		return nil
	}

	batch := make([]pendingEvent, 1, w.queue.cfg.BatchSize)
	batch[0] = pendingEvent{event: first, wait: time.Since(dequeueStart)}
	for len(batch) < w.queue.cfg.BatchSize {
		event, ok := w.queue.tryDequeue()
		if !ok {
			break
		}
		batch = append(batch, pendingEvent{event: event})
	}
	return batch
}

// processEvent writes the event to every sink in parallel, retrying
// the whole event with backoff when any sink failed. After exhausting
// retries the event is given up on; the queue never stalls on one
// event. The returned error is non-nil only for context cancellation,
// which callers use to account for abandoned events.
func (w *Worker) processEvent(ctx context.Context, event types.Event) error {
	op := func(ctx context.Context) error {
		return w.writeAllSinks(ctx, event)
	}

	err := retry.Do(ctx, op, retry.Options{
		MaxRetries: w.queue.cfg.MaxRetries,
		BaseDelay:  w.queue.cfg.RetryDelay,
		RetryIf:    sink.Retryable,
		OnRetry: func(_ int, cause error) {
			var qe *Error
			if errors.As(cause, &qe) {
				for _, name := range qe.FailedNames {
					w.collector.RecordSinkRetry(name)
				}
			}
		},
	})
	if err == nil {
		return nil
	}
	if isCanceled(err) {
		return err
	}
	w.logger.Error("event delivery failed after retries", map[string]any{
		"error":       err.Error(),
		"max_retries": w.queue.cfg.MaxRetries,
	})
	return nil
}

// writeAllSinks fans the event out to every sink concurrently and
// collects failures into a queue Error.
func (w *Worker) writeAllSinks(ctx context.Context, event types.Event) error {
	if len(w.sinks) == 0 {
		return nil
	}

	errs := make([]error, len(w.sinks))
	var wg sync.WaitGroup
	for i, s := range w.sinks {
		wg.Add(1)
		go func(i int, s sink.Sink) {
			defer wg.Done()
			errs[i] = s.Write(ctx, event)
		}(i, s)
	}
	wg.Wait()

	var first error
	var failedNames []string
	for i, err := range errs {
		if err == nil {
			continue
		}
		if first == nil {
			first = err
		}
		failedNames = append(failedNames, w.sinks[i].Name())
		w.logger.Warn("sink write failed", map[string]any{
			"sink":  w.sinks[i].Name(),
			"error": err.Error(),
		})
	}
	if first == nil {
		return nil
	}

	return &Error{
		Op:          "process_event",
		EventKeys:   event.Keys(),
		TotalSinks:  len(w.sinks),
		FailedSinks: len(failedNames),
		FailedNames: failedNames,
		Err:         first,
	}
}

// Shutdown stops accepting new events, cancels the loop, then drains
// the remaining events within the drain deadline. Events still queued
// past the deadline are counted as dropped on shutdown.
func (w *Worker) Shutdown(ctx context.Context) {
	if !w.running.Load() {
		return
	}

	w.queue.setStopping()
	w.cancel()

	select {
	case <-w.done:
	case <-time.After(w.queue.cfg.DrainDeadline):
		w.logger.Warn("worker did not stop before drain deadline", nil)
	}

	w.drain(ctx)
	w.running.Store(false)
	w.logger.Debug("worker stopped", nil)
}

// drain processes everything still in the queue, bounded by the drain
// deadline; leftovers are abandoned and counted.
func (w *Worker) drain(ctx context.Context) {
	deadline := time.Now().Add(w.queue.cfg.DrainDeadline)
	drainCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	for {
		event, ok := w.queue.tryDequeue()
		if !ok {
			return
		}

		if time.Now().After(deadline) {
			w.abandonRemaining(1)
			return
		}
		if err := w.processEvent(drainCtx, event); isCanceled(err) {
			w.abandonRemaining(1)
			return
		}
		w.collector.RecordDequeue(0)
	}
}

// abandonRemaining empties the queue, counting alreadyDequeued plus
// everything still buffered as dropped on shutdown.
func (w *Worker) abandonRemaining(alreadyDequeued int) {
	abandoned := alreadyDequeued
	for {
		if _, ok := w.queue.tryDequeue(); !ok {
			break
		}
		abandoned++
	}
	w.collector.RecordDroppedOnShutdown(abandoned)
	w.logger.Warn("drain deadline exceeded, abandoning events", map[string]any{
		"abandoned": abandoned,
	})
}
