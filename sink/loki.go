package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/justapithecus/flume/metrics"
	"github.com/justapithecus/flume/retry"
	"github.com/justapithecus/flume/types"
)

// Loki sink defaults.
const (
	DefaultLokiBatchSize     = 100
	DefaultLokiBatchInterval = 2 * time.Second
	DefaultLokiTimeout       = 30 * time.Second
	DefaultLokiMaxRetries    = 3
	DefaultLokiRetryDelay    = time.Second

	lokiPushPath = "/loki/api/v1/push"
)

// LokiConfig configures a Loki push sink.
type LokiConfig struct {
	// URL is the Loki base endpoint, e.g. "http://loki:3100".
	URL string
	// Labels are static stream labels attached to every push.
	Labels map[string]string
	// BatchSize is the number of events per push (default 100).
	BatchSize int
	// BatchInterval is the max wait before a partial batch pushes (default 2s).
	BatchInterval time.Duration
	// Timeout is the per-request HTTP timeout (default 30s).
	Timeout time.Duration
	// MaxRetries is the retry count per push; zero means a single
	// attempt, and a negative value takes the default 3.
	MaxRetries int
	// RetryDelay is the base backoff delay (default 1s).
	RetryDelay time.Duration
	// Collector, when set, receives batch-loss metrics for flushes
	// with no caller to surface the error to (timer, close).
	Collector *metrics.Collector
}

// Loki pushes batches of events to a Loki-compatible aggregator over
// HTTP. Events render as one compact JSON line each, keyed by a
// nanosecond timestamp in the push payload.
type Loki struct {
	url    string
	labels map[string]string
	cfg    LokiConfig

	client *http.Client
	batch  *BatchManager
	now    func() time.Time
}

// NewLoki creates a Loki sink. The push path is appended to the base URL.
func NewLoki(cfg LokiConfig) (*Loki, error) {
	if cfg.URL == "" {
		return nil, NewError(ErrConfiguration, "loki", "configure", fmt.Errorf("loki URL is required"))
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultLokiBatchSize
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = DefaultLokiBatchInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultLokiTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultLokiMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultLokiRetryDelay
	}
	if cfg.Labels == nil {
		cfg.Labels = map[string]string{}
	}

	s := &Loki{
		url:    trimTrailingSlash(cfg.URL) + lokiPushPath,
		labels: cfg.Labels,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
	}
	s.batch = NewBatchManager(cfg.BatchSize, cfg.BatchInterval, s.push, s.reportLostBatch)
	return s, nil
}

// reportLostBatch counts a batch dropped by a timer or close flush.
// Recorded under a distinct name so per-write and per-batch figures
// stay apart.
func (s *Loki) reportLostBatch(batchSize int, err error) {
	s.cfg.Collector.RecordSinkWrite(s.Name()+"_batch", 0, false, batchSize, err.Error())
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// Name implements Sink.
func (s *Loki) Name() string { return "loki" }

// Write adds the event to the current batch.
func (s *Loki) Write(ctx context.Context, event types.Event) error {
	if err := s.batch.Add(ctx, event); err != nil {
		return WrapWriteError(err, s.Name(), event)
	}
	return nil
}

// Flush pushes any buffered events immediately.
func (s *Loki) Flush(ctx context.Context) error {
	return s.batch.Flush(ctx)
}

// Close flushes remaining events and stops the batch timer. Idempotent.
func (s *Loki) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	return s.batch.Close(ctx)
}

// lokiPayload is the push wire format:
// {"streams":[{"stream":labels,"values":[[ns,line],...]}]}.
type lokiPayload struct {
	Streams []lokiStream `json:"streams"`
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

// formatBatch renders a batch into the push payload. Each value is
// keyed by the event's own timestamp in nanoseconds.
func (s *Loki) formatBatch(batch []types.Event) lokiPayload {
	values := make([][2]string, 0, len(batch))
	for _, event := range batch {
		ns := strconv.FormatInt(s.eventNanos(event), 10)
		values = append(values, [2]string{ns, string(event.EncodeJSON())})
	}
	return lokiPayload{Streams: []lokiStream{{Stream: s.labels, Values: values}}}
}

// eventNanos converts the event's timestamp field to nanoseconds,
// falling back to the push-time wall clock only when the field is
// absent or does not parse.
func (s *Loki) eventNanos(event types.Event) int64 {
	if raw, ok := event[types.KeyTimestamp].(string); ok {
		if ts, err := time.Parse(types.TimestampFormat, raw); err == nil {
			return ts.UnixNano()
		}
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return ts.UnixNano()
		}
	}
	return s.now().UnixNano()
}

// push sends one batch, retrying with backoff on transient failures.
// 4xx responses are configuration-shaped and not retried.
func (s *Loki) push(ctx context.Context, batch []types.Event) error {
	body, err := json.Marshal(s.formatBatch(batch))
	if err != nil {
		return NewError(ErrWrite, s.Name(), "encode", err)
	}

	op := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return NewError(ErrConfiguration, s.Name(), "push", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return NewError(Classify(err), s.Name(), "push", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return NewError(ErrConfiguration, s.Name(), "push",
				fmt.Errorf("loki rejected push: %s", resp.Status))
		default:
			return NewError(ErrWrite, s.Name(), "push",
				fmt.Errorf("loki push failed: %s", resp.Status))
		}
	}

	return retry.Do(ctx, op, retry.Options{
		MaxRetries: s.cfg.MaxRetries,
		BaseDelay:  s.cfg.RetryDelay,
		RetryIf:    Retryable,
	})
}

// Verify Loki implements Sink and Batcher.
var (
	_ Sink    = (*Loki)(nil)
	_ Batcher = (*Loki)(nil)
)
