// Package metrics provides per-container metrics collection.
//
// The Collector accumulates counters, gauges, and moving averages for
// the queue, sinks, and processors of one container. It is a leaf
// package with no internal dependencies. All increment methods are
// nil-receiver safe so disabled-metrics paths need no branching.
package metrics

import (
	"sync"
	"time"
)

// defaultSampleWindow is the number of latest samples kept for moving
// averages when no window size is configured.
const defaultSampleWindow = 100

// Collector accumulates metrics for a single container.
// Thread-safe via sync.Mutex.
type Collector struct {
	mu sync.Mutex

	sampleWindow int

	// Queue
	queueDepth        int64
	queuePeakDepth    int64
	enqueued          int64
	dequeued          int64
	dropped           int64
	sampled           int64
	droppedOnShutdown int64
	enqueueLatency    *window
	dequeueLatency    *window
	batchLatency      *window

	// Sinks, keyed by sink name
	sinks map[string]*sinkState

	// Processors, keyed by processor name
	processors map[string]*processorState

	// System gauges, set externally
	memoryBytes int64
	cpuPercent  float64
}

type sinkState struct {
	writes       int64
	successes    int64
	failures     int64
	retries      int64
	writeLatency *window
	batchSize    *window
	lastError    string
	lastErrorAt  time.Time
}

type processorState struct {
	executions int64
	successes  int64
	failures   int64
	minLatency float64
	maxLatency float64
	sumLatency float64
	bytes      int64
}

// NewCollector creates a collector keeping sampleWindow latest samples
// for moving averages. Zero or negative means the default of 100.
func NewCollector(sampleWindow int) *Collector {
	if sampleWindow <= 0 {
		sampleWindow = defaultSampleWindow
	}
	return &Collector{
		sampleWindow:   sampleWindow,
		enqueueLatency: newWindow(sampleWindow),
		dequeueLatency: newWindow(sampleWindow),
		batchLatency:   newWindow(sampleWindow),
		sinks:          make(map[string]*sinkState),
		processors:     make(map[string]*processorState),
	}
}

// --- Queue ---

// RecordEnqueue records a successful enqueue with its latency and the
// resulting queue depth.
func (c *Collector) RecordEnqueue(latency time.Duration, depth int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.enqueued++
	c.queueDepth = int64(depth)
	if int64(depth) > c.queuePeakDepth {
		c.queuePeakDepth = int64(depth)
	}
	c.enqueueLatency.add(float64(latency.Microseconds()) / 1000.0)
	c.mu.Unlock()
}

// RecordDequeue records one dequeue with its latency.
func (c *Collector) RecordDequeue(latency time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.dequeued++
	if c.queueDepth > 0 {
		c.queueDepth--
	}
	c.dequeueLatency.add(float64(latency.Microseconds()) / 1000.0)
	c.mu.Unlock()
}

// RecordDropped records an overflow refusal.
func (c *Collector) RecordDropped() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.dropped++
	c.mu.Unlock()
}

// RecordSampled records a sampling rejection.
func (c *Collector) RecordSampled() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sampled++
	c.mu.Unlock()
}

// RecordDroppedOnShutdown records events abandoned past the drain
// deadline. Abandoned events left the queue, so the depth gauge drops
// with them.
func (c *Collector) RecordDroppedOnShutdown(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.droppedOnShutdown += int64(n)
	c.queueDepth -= int64(n)
	if c.queueDepth < 0 {
		c.queueDepth = 0
	}
	c.mu.Unlock()
}

// RecordBatchProcessing records the worker's per-batch processing time.
func (c *Collector) RecordBatchProcessing(latency time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.batchLatency.add(float64(latency.Microseconds()) / 1000.0)
	c.mu.Unlock()
}

// --- Sinks ---

// RecordSinkWrite records one write attempt against a named sink.
// batchSize is 1 for unbatched writes.
func (c *Collector) RecordSinkWrite(sinkName string, latency time.Duration, success bool, batchSize int, errMsg string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	s := c.sink(sinkName)
	s.writes++
	if success {
		s.successes++
	} else {
		s.failures++
		s.lastError = errMsg
		s.lastErrorAt = time.Now()
	}
	s.writeLatency.add(float64(latency.Microseconds()) / 1000.0)
	s.batchSize.add(float64(batchSize))
	c.mu.Unlock()
}

// RecordSinkRetry records one retry against a named sink.
func (c *Collector) RecordSinkRetry(sinkName string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sink(sinkName).retries++
	c.mu.Unlock()
}

// sink returns the state for name, creating it on first use.
// Caller must hold mu.
func (c *Collector) sink(name string) *sinkState {
	s, ok := c.sinks[name]
	if !ok {
		s = &sinkState{
			writeLatency: newWindow(c.sampleWindow),
			batchSize:    newWindow(c.sampleWindow),
		}
		c.sinks[name] = s
	}
	return s
}

// --- Processors ---

// RecordProcessor records one processor execution with its latency and
// the serialized size of the event it handled.
func (c *Collector) RecordProcessor(name string, latency time.Duration, success bool, bytes int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	p, ok := c.processors[name]
	if !ok {
		p = &processorState{minLatency: -1}
		c.processors[name] = p
	}
	ms := float64(latency.Microseconds()) / 1000.0
	p.executions++
	if success {
		p.successes++
	} else {
		p.failures++
	}
	if p.minLatency < 0 || ms < p.minLatency {
		p.minLatency = ms
	}
	if ms > p.maxLatency {
		p.maxLatency = ms
	}
	p.sumLatency += ms
	p.bytes += int64(bytes)
	c.mu.Unlock()
}

// --- System ---

// SetSystemStats sets the optional process-level gauges.
func (c *Collector) SetSystemStats(memoryBytes int64, cpuPercent float64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.memoryBytes = memoryBytes
	c.cpuPercent = cpuPercent
	c.mu.Unlock()
}

// --- Snapshot ---

// QueueSnapshot is a point-in-time view of queue metrics.
type QueueSnapshot struct {
	Depth                int64
	PeakDepth            int64
	Enqueued             int64
	Dequeued             int64
	Dropped              int64
	Sampled              int64
	DroppedOnShutdown    int64
	AvgEnqueueLatencyMS  float64
	AvgDequeueLatencyMS  float64
	AvgBatchProcessingMS float64
}

// SinkSnapshot is a point-in-time view of one sink's metrics.
type SinkSnapshot struct {
	Writes            int64
	Successes         int64
	Failures          int64
	Retries           int64
	AvgWriteLatencyMS float64
	AvgBatchSize      float64
	LastError         string
	LastErrorAt       time.Time
}

// ProcessorSnapshot is a point-in-time view of one processor's metrics.
type ProcessorSnapshot struct {
	Executions   int64
	Successes    int64
	Failures     int64
	MinLatencyMS float64
	MaxLatencyMS float64
	SumLatencyMS float64
	Bytes        int64
}

// Snapshot is an immutable point-in-time view of all metrics.
// Safe to read concurrently after creation.
type Snapshot struct {
	Queue       QueueSnapshot
	Sinks       map[string]SinkSnapshot
	Processors  map[string]ProcessorSnapshot
	MemoryBytes int64
	CPUPercent  float64
}

// Snapshot returns an immutable view of all metrics. The Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{Sinks: map[string]SinkSnapshot{}, Processors: map[string]ProcessorSnapshot{}}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Queue: QueueSnapshot{
			Depth:                c.queueDepth,
			PeakDepth:            c.queuePeakDepth,
			Enqueued:             c.enqueued,
			Dequeued:             c.dequeued,
			Dropped:              c.dropped,
			Sampled:              c.sampled,
			DroppedOnShutdown:    c.droppedOnShutdown,
			AvgEnqueueLatencyMS:  c.enqueueLatency.average(),
			AvgDequeueLatencyMS:  c.dequeueLatency.average(),
			AvgBatchProcessingMS: c.batchLatency.average(),
		},
		Sinks:       make(map[string]SinkSnapshot, len(c.sinks)),
		Processors:  make(map[string]ProcessorSnapshot, len(c.processors)),
		MemoryBytes: c.memoryBytes,
		CPUPercent:  c.cpuPercent,
	}

	for name, s := range c.sinks {
		snap.Sinks[name] = SinkSnapshot{
			Writes:            s.writes,
			Successes:         s.successes,
			Failures:          s.failures,
			Retries:           s.retries,
			AvgWriteLatencyMS: s.writeLatency.average(),
			AvgBatchSize:      s.batchSize.average(),
			LastError:         s.lastError,
			LastErrorAt:       s.lastErrorAt,
		}
	}

	for name, p := range c.processors {
		min := p.minLatency
		if min < 0 {
			min = 0
		}
		snap.Processors[name] = ProcessorSnapshot{
			Executions:   p.executions,
			Successes:    p.successes,
			Failures:     p.failures,
			MinLatencyMS: min,
			MaxLatencyMS: p.maxLatency,
			SumLatencyMS: p.sumLatency,
			Bytes:        p.bytes,
		}
	}

	return snap
}
