package sink

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/justapithecus/flume/metrics"
	"github.com/justapithecus/flume/types"
)

type stubS3 struct {
	mu        sync.Mutex
	objects   map[string]string
	err       error
	failFirst int // first N calls fail with err; 0 means every call
	calls     int
}

func (s *stubS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.err != nil && (s.failFirst == 0 || s.calls <= s.failFirst) {
		return nil, s.err
	}
	body, _ := io.ReadAll(params.Body)
	if s.objects == nil {
		s.objects = make(map[string]string)
	}
	s.objects[*params.Key] = string(body)
	return &s3.PutObjectOutput{}, nil
}

func (s *stubS3) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubS3) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.objects))
	for k := range s.objects {
		out = append(out, k)
	}
	return out
}

func TestS3UploadsNDJSONBatch(t *testing.T) {
	stub := &stubS3{}
	s := newS3WithClient(S3Config{
		Bucket:        "archive",
		Prefix:        "logs",
		BatchSize:     2,
		BatchInterval: time.Hour,
	}, stub)
	s.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }
	defer s.Close()

	ctx := context.Background()
	_ = s.Write(ctx, types.Event{"event": "a"})
	_ = s.Write(ctx, types.Event{"event": "b"})

	keys := stub.keys()
	if len(keys) != 1 {
		t.Fatalf("objects = %d, want 1", len(keys))
	}
	key := keys[0]
	if !strings.HasPrefix(key, "logs/2026/08/01/") || !strings.HasSuffix(key, ".ndjson") {
		t.Errorf("key layout = %q", key)
	}

	body := stub.objects[key]
	lines := strings.Split(strings.TrimSuffix(body, "\n"), "\n")
	if len(lines) != 2 {
		t.Errorf("object has %d lines, want 2", len(lines))
	}
}

func TestS3CloseFlushesPartialBatch(t *testing.T) {
	stub := &stubS3{}
	s := newS3WithClient(S3Config{Bucket: "archive", BatchSize: 100, BatchInterval: time.Hour}, stub)

	_ = s.Write(context.Background(), types.Event{"event": "pending"})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(stub.keys()) != 1 {
		t.Error("close did not upload the partial batch")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestS3UploadRetriesTransientFailures(t *testing.T) {
	stub := &stubS3{err: errors.New("connection reset by peer"), failFirst: 2}
	s := newS3WithClient(S3Config{
		Bucket: "archive", BatchSize: 1, BatchInterval: time.Hour,
		MaxRetries: 3, RetryDelay: time.Millisecond,
	}, stub)
	defer s.Close()

	if err := s.Write(context.Background(), types.Event{"event": "x"}); err != nil {
		t.Fatalf("Write should succeed after retries: %v", err)
	}
	if len(stub.keys()) != 1 {
		t.Errorf("objects = %d, want 1", len(stub.keys()))
	}
	if got := stub.callCount(); got != 3 {
		t.Errorf("PutObject calls = %d, want 3 (two failures, one success)", got)
	}
}

func TestS3UploadZeroRetriesAttemptsOnce(t *testing.T) {
	stub := &stubS3{err: errors.New("connection reset by peer")}
	s := newS3WithClient(S3Config{
		Bucket: "archive", BatchSize: 1, BatchInterval: time.Hour,
		MaxRetries: 0, RetryDelay: time.Millisecond,
	}, stub)
	defer s.Close()

	if err := s.Write(context.Background(), types.Event{"event": "x"}); err == nil {
		t.Fatal("expected error")
	}
	if got := stub.callCount(); got != 1 {
		t.Errorf("PutObject calls = %d, want exactly 1", got)
	}
}

func TestS3ConfigErrorNotRetried(t *testing.T) {
	stub := &stubS3{err: errors.New("invalid bucket name")}
	s := newS3WithClient(S3Config{
		Bucket: "archive", BatchSize: 1, BatchInterval: time.Hour,
		MaxRetries: 5, RetryDelay: time.Millisecond,
	}, stub)
	defer s.Close()

	if err := s.Write(context.Background(), types.Event{"event": "x"}); err == nil {
		t.Fatal("expected error")
	}
	if got := stub.callCount(); got != 1 {
		t.Errorf("PutObject calls = %d, want 1 (configuration errors are permanent)", got)
	}
}

func TestS3LostBatchCountedInMetrics(t *testing.T) {
	collector := metrics.NewCollector(0)
	stub := &stubS3{err: errors.New("connection reset by peer")}
	s := newS3WithClient(S3Config{
		Bucket: "archive", BatchSize: 100, BatchInterval: time.Hour,
		MaxRetries: 0, RetryDelay: time.Millisecond,
		Collector: collector,
	}, stub)

	// Buffer one event, then close: the final upload fails and the
	// batch must be counted lost even though no Write observed it.
	_ = s.Write(context.Background(), types.Event{"event": "doomed"})
	if err := s.Close(); err == nil {
		t.Fatal("expected close flush error")
	}

	snap, ok := collector.Snapshot().Sinks["s3_batch"]
	if !ok {
		t.Fatal("lost batch not recorded")
	}
	if snap.Failures != 1 {
		t.Errorf("batch failures = %d, want 1", snap.Failures)
	}
	if snap.AvgBatchSize != 1 {
		t.Errorf("batch size = %v, want 1", snap.AvgBatchSize)
	}
}

func TestS3KeyWithoutPrefix(t *testing.T) {
	stub := &stubS3{}
	s := newS3WithClient(S3Config{Bucket: "archive", BatchSize: 1, BatchInterval: time.Hour}, stub)
	s.now = func() time.Time { return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC) }
	defer s.Close()

	_ = s.Write(context.Background(), types.Event{"event": "x"})
	keys := stub.keys()
	if len(keys) != 1 || !strings.HasPrefix(keys[0], "2026/08/01/") {
		t.Errorf("keys = %v", keys)
	}
}
