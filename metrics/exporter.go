package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Exporter bridges a Collector snapshot to a prometheus.Registry.
// It implements prometheus.Collector with const metrics, so scrapes
// always see a consistent snapshot and the Collector keeps its own
// locking discipline.
type Exporter struct {
	collector *Collector

	queueDepth     *prometheus.Desc
	queuePeakDepth *prometheus.Desc
	queueEnqueued  *prometheus.Desc
	queueDequeued  *prometheus.Desc
	queueDropped   *prometheus.Desc
	queueSampled   *prometheus.Desc
	queueShutdown  *prometheus.Desc
	queueEnqueueMS *prometheus.Desc
	queueDequeueMS *prometheus.Desc
	queueBatchMS   *prometheus.Desc

	sinkWrites    *prometheus.Desc
	sinkSuccesses *prometheus.Desc
	sinkFailures  *prometheus.Desc
	sinkRetries   *prometheus.Desc
	sinkLatencyMS *prometheus.Desc
	sinkBatchSize *prometheus.Desc

	procExecutions *prometheus.Desc
	procFailures   *prometheus.Desc
	procSumMS      *prometheus.Desc
	procBytes      *prometheus.Desc

	memoryBytes *prometheus.Desc
	cpuPercent  *prometheus.Desc
}

// NewExporter creates an exporter reading from the given collector.
func NewExporter(c *Collector) *Exporter {
	sinkLabels := []string{"sink"}
	procLabels := []string{"processor"}
	return &Exporter{
		collector: c,

		queueDepth:     prometheus.NewDesc("flume_queue_depth", "Current queue depth.", nil, nil),
		queuePeakDepth: prometheus.NewDesc("flume_queue_peak_depth", "Peak queue depth observed.", nil, nil),
		queueEnqueued:  prometheus.NewDesc("flume_queue_enqueued_total", "Events enqueued.", nil, nil),
		queueDequeued:  prometheus.NewDesc("flume_queue_dequeued_total", "Events dequeued.", nil, nil),
		queueDropped:   prometheus.NewDesc("flume_queue_dropped_total", "Events dropped on overflow.", nil, nil),
		queueSampled:   prometheus.NewDesc("flume_queue_sampled_total", "Events rejected by sampling.", nil, nil),
		queueShutdown:  prometheus.NewDesc("flume_queue_dropped_on_shutdown_total", "Events abandoned past the drain deadline.", nil, nil),
		queueEnqueueMS: prometheus.NewDesc("flume_queue_enqueue_latency_ms", "Moving-average enqueue latency in milliseconds.", nil, nil),
		queueDequeueMS: prometheus.NewDesc("flume_queue_dequeue_latency_ms", "Moving-average dequeue latency in milliseconds.", nil, nil),
		queueBatchMS:   prometheus.NewDesc("flume_queue_batch_processing_ms", "Moving-average batch processing time in milliseconds.", nil, nil),

		sinkWrites:    prometheus.NewDesc("flume_sink_writes_total", "Write attempts per sink.", sinkLabels, nil),
		sinkSuccesses: prometheus.NewDesc("flume_sink_successes_total", "Successful writes per sink.", sinkLabels, nil),
		sinkFailures:  prometheus.NewDesc("flume_sink_failures_total", "Failed writes per sink.", sinkLabels, nil),
		sinkRetries:   prometheus.NewDesc("flume_sink_retries_total", "Write retries per sink.", sinkLabels, nil),
		sinkLatencyMS: prometheus.NewDesc("flume_sink_write_latency_ms", "Moving-average write latency per sink in milliseconds.", sinkLabels, nil),
		sinkBatchSize: prometheus.NewDesc("flume_sink_batch_size", "Moving-average batch size per sink.", sinkLabels, nil),

		procExecutions: prometheus.NewDesc("flume_processor_executions_total", "Executions per processor.", procLabels, nil),
		procFailures:   prometheus.NewDesc("flume_processor_failures_total", "Failures per processor.", procLabels, nil),
		procSumMS:      prometheus.NewDesc("flume_processor_latency_sum_ms", "Total processor latency in milliseconds.", procLabels, nil),
		procBytes:      prometheus.NewDesc("flume_processor_bytes_total", "Bytes processed per processor.", procLabels, nil),

		memoryBytes: prometheus.NewDesc("flume_process_memory_bytes", "Resident memory in bytes.", nil, nil),
		cpuPercent:  prometheus.NewDesc("flume_process_cpu_percent", "Process CPU usage percent.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.queueDepth
	ch <- e.queuePeakDepth
	ch <- e.queueEnqueued
	ch <- e.queueDequeued
	ch <- e.queueDropped
	ch <- e.queueSampled
	ch <- e.queueShutdown
	ch <- e.queueEnqueueMS
	ch <- e.queueDequeueMS
	ch <- e.queueBatchMS
	ch <- e.sinkWrites
	ch <- e.sinkSuccesses
	ch <- e.sinkFailures
	ch <- e.sinkRetries
	ch <- e.sinkLatencyMS
	ch <- e.sinkBatchSize
	ch <- e.procExecutions
	ch <- e.procFailures
	ch <- e.procSumMS
	ch <- e.procBytes
	ch <- e.memoryBytes
	ch <- e.cpuPercent
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	snap := e.collector.Snapshot()

	gauge := prometheus.GaugeValue
	counter := prometheus.CounterValue

	ch <- prometheus.MustNewConstMetric(e.queueDepth, gauge, float64(snap.Queue.Depth))
	ch <- prometheus.MustNewConstMetric(e.queuePeakDepth, gauge, float64(snap.Queue.PeakDepth))
	ch <- prometheus.MustNewConstMetric(e.queueEnqueued, counter, float64(snap.Queue.Enqueued))
	ch <- prometheus.MustNewConstMetric(e.queueDequeued, counter, float64(snap.Queue.Dequeued))
	ch <- prometheus.MustNewConstMetric(e.queueDropped, counter, float64(snap.Queue.Dropped))
	ch <- prometheus.MustNewConstMetric(e.queueSampled, counter, float64(snap.Queue.Sampled))
	ch <- prometheus.MustNewConstMetric(e.queueShutdown, counter, float64(snap.Queue.DroppedOnShutdown))
	ch <- prometheus.MustNewConstMetric(e.queueEnqueueMS, gauge, snap.Queue.AvgEnqueueLatencyMS)
	ch <- prometheus.MustNewConstMetric(e.queueDequeueMS, gauge, snap.Queue.AvgDequeueLatencyMS)
	ch <- prometheus.MustNewConstMetric(e.queueBatchMS, gauge, snap.Queue.AvgBatchProcessingMS)

	for name, s := range snap.Sinks {
		ch <- prometheus.MustNewConstMetric(e.sinkWrites, counter, float64(s.Writes), name)
		ch <- prometheus.MustNewConstMetric(e.sinkSuccesses, counter, float64(s.Successes), name)
		ch <- prometheus.MustNewConstMetric(e.sinkFailures, counter, float64(s.Failures), name)
		ch <- prometheus.MustNewConstMetric(e.sinkRetries, counter, float64(s.Retries), name)
		ch <- prometheus.MustNewConstMetric(e.sinkLatencyMS, gauge, s.AvgWriteLatencyMS, name)
		ch <- prometheus.MustNewConstMetric(e.sinkBatchSize, gauge, s.AvgBatchSize, name)
	}

	for name, p := range snap.Processors {
		ch <- prometheus.MustNewConstMetric(e.procExecutions, counter, float64(p.Executions), name)
		ch <- prometheus.MustNewConstMetric(e.procFailures, counter, float64(p.Failures), name)
		ch <- prometheus.MustNewConstMetric(e.procSumMS, counter, p.SumLatencyMS, name)
		ch <- prometheus.MustNewConstMetric(e.procBytes, counter, float64(p.Bytes), name)
	}

	ch <- prometheus.MustNewConstMetric(e.memoryBytes, gauge, float64(snap.MemoryBytes))
	ch <- prometheus.MustNewConstMetric(e.cpuPercent, gauge, snap.CPUPercent)
}

// Verify Exporter implements prometheus.Collector.
var _ prometheus.Collector = (*Exporter)(nil)
