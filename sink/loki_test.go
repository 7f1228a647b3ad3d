package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/flume/metrics"
	"github.com/justapithecus/flume/types"
)

type lokiCapture struct {
	mu       sync.Mutex
	requests []lokiPayload
	status   int
	fails    int // first N requests fail with status
}

func (c *lokiCapture) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if r.URL.Path != "/loki/api/v1/push" {
			http.NotFound(w, r)
			return
		}

		body, _ := io.ReadAll(r.Body)
		var payload lokiPayload
		_ = json.Unmarshal(body, &payload)

		if c.fails > 0 {
			c.fails--
			w.WriteHeader(c.status)
			return
		}
		c.requests = append(c.requests, payload)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (c *lokiCapture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func TestLokiPushFormat(t *testing.T) {
	capture := &lokiCapture{}
	ts := httptest.NewServer(capture.handler())
	defer ts.Close()

	s, err := NewLoki(LokiConfig{
		URL:           ts.URL,
		Labels:        map[string]string{"app": "myapi", "env": "prod"},
		BatchSize:     2,
		BatchInterval: time.Hour,
		RetryDelay:    time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewLoki: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	_ = s.Write(ctx, types.Event{"event": "a", "level": "INFO"})
	_ = s.Write(ctx, types.Event{"event": "b", "level": "WARN"})

	if capture.count() != 1 {
		t.Fatalf("pushes = %d, want 1 (batch of 2)", capture.count())
	}

	payload := capture.requests[0]
	if len(payload.Streams) != 1 {
		t.Fatalf("streams = %d", len(payload.Streams))
	}
	stream := payload.Streams[0]
	if stream.Stream["app"] != "myapi" || stream.Stream["env"] != "prod" {
		t.Errorf("labels = %v", stream.Stream)
	}
	if len(stream.Values) != 2 {
		t.Fatalf("values = %d", len(stream.Values))
	}

	// Each value is [nanosecond-timestamp, one JSON line].
	for _, v := range stream.Values {
		if _, err := strconv.ParseInt(v[0], 10, 64); err != nil {
			t.Errorf("timestamp %q is not nanoseconds: %v", v[0], err)
		}
		var line map[string]any
		if err := json.Unmarshal([]byte(v[1]), &line); err != nil {
			t.Errorf("line is not JSON: %v", err)
		}
	}
}

func TestLokiUsesEventTimestamp(t *testing.T) {
	capture := &lokiCapture{}
	ts := httptest.NewServer(capture.handler())
	defer ts.Close()

	s, err := NewLoki(LokiConfig{URL: ts.URL, BatchSize: 2, BatchInterval: time.Hour})
	if err != nil {
		t.Fatalf("NewLoki: %v", err)
	}
	defer s.Close()

	// Events carry their own timestamps; the push must key values by
	// them, not by the push-time wall clock.
	stamped := time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC)
	fallback := time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fallback }

	ctx := context.Background()
	_ = s.Write(ctx, types.Event{
		"event":     "stamped",
		"timestamp": stamped.Format(types.TimestampFormat),
	})
	_ = s.Write(ctx, types.Event{"event": "unstamped"})

	if capture.count() != 1 {
		t.Fatalf("pushes = %d", capture.count())
	}
	values := capture.requests[0].Streams[0].Values

	got0, _ := strconv.ParseInt(values[0][0], 10, 64)
	if got0 != stamped.UnixNano() {
		t.Errorf("stamped event nanos = %d, want %d", got0, stamped.UnixNano())
	}

	// No timestamp field: falls back to the wall clock.
	got1, _ := strconv.ParseInt(values[1][0], 10, 64)
	if got1 != fallback.UnixNano() {
		t.Errorf("unstamped event nanos = %d, want fallback %d", got1, fallback.UnixNano())
	}
}

func TestLokiUnparseableTimestampFallsBack(t *testing.T) {
	s, err := NewLoki(LokiConfig{URL: "http://loki:3100"})
	if err != nil {
		t.Fatalf("NewLoki: %v", err)
	}
	defer s.Close()

	fallback := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fallback }

	got := s.eventNanos(types.Event{"timestamp": "yesterday-ish"})
	if got != fallback.UnixNano() {
		t.Errorf("unparseable timestamp nanos = %d, want fallback", got)
	}
}

func TestLokiLostBatchCountedInMetrics(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	collector := metrics.NewCollector(0)
	s, err := NewLoki(LokiConfig{
		URL:        ts.URL,
		BatchSize:  100,
		MaxRetries: 0,
		RetryDelay: time.Millisecond,
		Collector:  collector,
	})
	if err != nil {
		t.Fatalf("NewLoki: %v", err)
	}

	// Buffer one event, then close: the final flush fails and the
	// batch must be counted lost even though no Write observed it.
	_ = s.Write(context.Background(), types.Event{"event": "doomed"})
	if closeErr := s.Close(); closeErr == nil {
		t.Fatal("expected close flush error")
	}

	snap, ok := collector.Snapshot().Sinks["loki_batch"]
	if !ok {
		t.Fatal("lost batch not recorded")
	}
	if snap.Failures != 1 {
		t.Errorf("batch failures = %d, want 1", snap.Failures)
	}
	if snap.AvgBatchSize != 1 {
		t.Errorf("batch size = %v, want 1", snap.AvgBatchSize)
	}
	if snap.LastError == "" {
		t.Error("last error not recorded")
	}
}

func TestLokiRetriesServerErrors(t *testing.T) {
	capture := &lokiCapture{status: http.StatusInternalServerError, fails: 2}
	ts := httptest.NewServer(capture.handler())
	defer ts.Close()

	s, err := NewLoki(LokiConfig{
		URL:        ts.URL,
		BatchSize:  1,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewLoki: %v", err)
	}
	defer s.Close()

	if err := s.Write(context.Background(), types.Event{"event": "x"}); err != nil {
		t.Fatalf("Write should succeed after retries: %v", err)
	}
	if capture.count() != 1 {
		t.Errorf("delivered pushes = %d, want 1", capture.count())
	}
}

func TestLokiClientErrorNotRetried(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	s, err := NewLoki(LokiConfig{
		URL:        ts.URL,
		BatchSize:  1,
		MaxRetries: 5,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewLoki: %v", err)
	}
	defer s.Close()

	writeErr := s.Write(context.Background(), types.Event{"event": "x"})
	if writeErr == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(writeErr, ErrConfiguration) {
		t.Errorf("4xx classified as %v, want configuration", writeErr)
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (4xx must not retry)", attempts)
	}
}

func TestLokiCloseFlushesPartialBatch(t *testing.T) {
	capture := &lokiCapture{}
	ts := httptest.NewServer(capture.handler())
	defer ts.Close()

	s, err := NewLoki(LokiConfig{URL: ts.URL, BatchSize: 100, BatchInterval: time.Hour})
	if err != nil {
		t.Fatalf("NewLoki: %v", err)
	}

	_ = s.Write(context.Background(), types.Event{"event": "pending"})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if capture.count() != 1 {
		t.Errorf("close did not flush the partial batch")
	}
	// Close is idempotent.
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestLokiRequiresURL(t *testing.T) {
	_, err := NewLoki(LokiConfig{})
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("err = %v, want configuration error", err)
	}
}
