package container

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/justapithecus/flume/config"
	"github.com/justapithecus/flume/log"
	"github.com/justapithecus/flume/sink"
	"github.com/justapithecus/flume/types"
)

// testSettings returns settings pointing at a recording sink scheme,
// queue disabled unless a test opts in.
func testSettings() config.Settings {
	s := config.Defaults()
	s.Core.Sinks = []string{"recording"}
	s.Queue.Enabled = false
	return s
}

// newTestContainer builds a container whose "recording" scheme
// resolves to the returned sink.
func newTestContainer(t *testing.T) (*Container, *sink.RecordingSink) {
	t.Helper()
	rec := sink.NewRecordingSink("recording")
	c := New(WithDiagnosticLogger(log.NewNop()))
	if err := c.RegisterScheme("recording", func(context.Context, *config.SinkURI, *Container) (sink.Sink, error) {
		return rec, nil
	}); err != nil {
		t.Fatalf("RegisterScheme: %v", err)
	}
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })
	return c, rec
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestLevelGateFiltersBelowMinimum(t *testing.T) {
	c, rec := newTestContainer(t)
	s := testSettings()
	s.Core.Level = "INFO"

	logger, err := c.Configure(&s)
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}

	logger.Debug("x", nil)
	logger.Info("y", nil)

	events := rec.Recorded()
	if len(events) != 1 {
		t.Fatalf("delivered %d events, want 1", len(events))
	}
	e := events[0]
	if e["level"] != "INFO" || e["event"] != "y" {
		t.Errorf("event = %v", e)
	}
	if e["timestamp"] == nil {
		t.Error("timestamp missing")
	}
	if e["hostname"] == nil || e["pid"] == nil {
		t.Error("host enrichment missing")
	}
}

func TestConfigureIsIdempotent(t *testing.T) {
	c, rec := newTestContainer(t)
	s := testSettings()

	first, err := c.Configure(&s)
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := c.Configure(&s)
		if err != nil {
			t.Fatalf("repeat Configure: %v", err)
		}
		if again != first {
			t.Error("repeat Configure returned a different logger")
		}
	}

	first.Info("once", nil)
	if rec.Count() != 1 {
		t.Errorf("N configures changed behavior: %d events", rec.Count())
	}
}

func TestConfigureValidatesSettings(t *testing.T) {
	c, _ := newTestContainer(t)
	s := testSettings()
	s.Queue.MaxSize = -1
	s.Queue.Enabled = true

	_, err := c.Configure(&s)
	if err == nil {
		t.Fatal("invalid settings accepted")
	}
	var cfgErr *config.Error
	if !errors.As(err, &cfgErr) {
		t.Errorf("error type = %T", err)
	}
}

func TestUnknownSchemeFailsConfigurationWithKnownList(t *testing.T) {
	c := New(WithDiagnosticLogger(log.NewNop()))
	s := config.Defaults()
	s.Core.Sinks = []string{"carrier-pigeon://coop"}

	_, err := c.Configure(&s)
	if err == nil {
		t.Fatal("unknown scheme accepted")
	}
	for _, known := range []string{"stdout", "file", "loki"} {
		if !strings.Contains(err.Error(), known) {
			t.Errorf("error does not list known scheme %q: %v", known, err)
		}
	}
}

func TestContainerIsolation(t *testing.T) {
	// Two containers with disjoint settings share nothing: an event on
	// A reaches only A's sink.
	cA, recA := newTestContainer(t)
	sA := testSettings()
	sA.Core.Level = "DEBUG"
	loggerA, err := cA.Configure(&sA)
	if err != nil {
		t.Fatalf("Configure A: %v", err)
	}

	cB, recB := newTestContainer(t)
	sB := testSettings()
	sB.Core.Level = "ERROR"
	_, err = cB.Configure(&sB)
	if err != nil {
		t.Fatalf("Configure B: %v", err)
	}

	loggerA.Info("on A", nil)

	if recA.Count() != 1 {
		t.Errorf("A received %d events, want 1", recA.Count())
	}
	if recB.Count() != 0 {
		t.Errorf("B received %d events, want 0", recB.Count())
	}
	if cA.ID() == cB.ID() {
		t.Error("containers share an id")
	}
}

func TestQueueModeDeliversAsync(t *testing.T) {
	c, rec := newTestContainer(t)
	s := testSettings()
	s.Queue.Enabled = true
	s.Queue.BatchTimeout = 0.02
	s.Metrics.Enabled = true

	logger, err := c.Configure(&s)
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}

	for i := 0; i < 5; i++ {
		logger.Info("queued", map[string]any{"n": i})
	}

	waitFor(t, 2*time.Second, func() bool { return rec.Count() == 5 })

	snap := c.MetricsSnapshot()
	if snap.Queue.Enqueued != 5 {
		t.Errorf("enqueued = %d", snap.Queue.Enqueued)
	}
}

func TestShutdownStopsDeliveriesAndAccounts(t *testing.T) {
	c, rec := newTestContainer(t)
	s := testSettings()
	s.Queue.Enabled = true
	s.Queue.BatchTimeout = 0.02
	s.Metrics.Enabled = true

	logger, err := c.Configure(&s)
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}

	logger.Info("before", nil)
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	delivered := rec.Count()
	logger.Info("after", nil)
	time.Sleep(50 * time.Millisecond)
	if rec.Count() != delivered {
		t.Error("write initiated after shutdown")
	}

	snap := c.MetricsSnapshot()
	if snap.Queue.Dequeued+snap.Queue.DroppedOnShutdown != snap.Queue.Enqueued {
		t.Errorf("shutdown accounting: dequeued %d + abandoned %d != enqueued %d",
			snap.Queue.Dequeued, snap.Queue.DroppedOnShutdown, snap.Queue.Enqueued)
	}

	// Shutdown is idempotent; the sink's Close already ran.
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if !rec.Closed {
		t.Error("sink not closed")
	}
}

func TestResetAllowsReconfigure(t *testing.T) {
	c, rec := newTestContainer(t)
	s := testSettings()
	logger, err := c.Configure(&s)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("first life", nil)

	c.Reset()
	if c.State() != StateNew {
		t.Fatalf("state after reset = %v", c.State())
	}

	logger2, err := c.Configure(&s)
	if err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	logger2.Info("second life", nil)

	if rec.Count() != 2 {
		t.Errorf("events across lives = %d", rec.Count())
	}
}

func TestCustomEnricherRuns(t *testing.T) {
	c, rec := newTestContainer(t)
	c.RegisterEnricher(func(_ context.Context, e types.Event) types.Event {
		e["team"] = "payments"
		return e
	})

	s := testSettings()
	logger, err := c.Configure(&s)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("tagged", nil)

	events := rec.Recorded()
	if len(events) != 1 || events[0]["team"] != "payments" {
		t.Errorf("custom enrichment missing: %v", events)
	}
}

func TestDedupEndToEnd(t *testing.T) {
	c, rec := newTestContainer(t)
	s := testSettings()
	s.Security.EnableDeduplication = true
	s.Security.DedupeWindowSeconds = 60
	s.Security.DedupeFields = []string{"event", "level"}
	s.Security.DedupeHashAlgorithm = "md5"

	logger, err := c.Configure(&s)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 100; i++ {
		logger.Info("repeated", nil)
	}

	if rec.Count() != 1 {
		t.Errorf("sink received %d events, want 1", rec.Count())
	}
}

func TestThrottleEndToEnd(t *testing.T) {
	c, rec := newTestContainer(t)
	s := testSettings()
	s.Security.EnableThrottling = true
	s.Security.ThrottleMaxRate = 5
	s.Security.ThrottleWindowSeconds = 1
	s.Security.ThrottleKeyField = "source"
	s.Security.ThrottleStrategy = "drop"

	logger, err := c.Configure(&s)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 20; i++ {
		logger.Info("chatty", map[string]any{"source": "a"})
	}
	for i := 0; i < 5; i++ {
		logger.Info("quiet", map[string]any{"source": "b"})
	}

	countA, countB := 0, 0
	for _, e := range rec.Recorded() {
		switch e["source"] {
		case "a":
			countA++
		case "b":
			countB++
		}
	}
	if countA > 5 {
		t.Errorf("source a delivered %d, want <= 5", countA)
	}
	if countB != 5 {
		t.Errorf("source b delivered %d, want 5", countB)
	}
}

func TestRedactionEndToEnd(t *testing.T) {
	c, rec := newTestContainer(t)
	s := testSettings()
	s.Security.RedactPatterns = []string{`\b\d{16}\b`}
	s.Security.RedactReplacement = "REDACTED"
	s.Security.RedactLevel = "INFO"

	logger, err := c.Configure(&s)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("card 4111111111111111", nil)

	events := rec.Recorded()
	if len(events) != 1 {
		t.Fatalf("delivered %d", len(events))
	}
	if events[0]["event"] != "card REDACTED" {
		t.Errorf("event = %q", events[0]["event"])
	}
}

func TestSamplingRateZeroDropsEverything(t *testing.T) {
	c, rec := newTestContainer(t)
	s := testSettings()
	s.Core.SamplingRate = 0

	logger, err := c.Configure(&s)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		logger.Info("sampled out", nil)
	}
	if rec.Count() != 0 {
		t.Errorf("delivered %d events at rate 0", rec.Count())
	}
}

func TestSetupStartsMetricsServer(t *testing.T) {
	c, _ := newTestContainer(t)
	s := testSettings()
	s.Metrics.Enabled = true
	s.Metrics.PrometheusEnabled = true
	s.Metrics.PrometheusHost = "127.0.0.1"
	s.Metrics.PrometheusPort = 0

	if _, err := c.Configure(&s); err != nil {
		t.Fatal(err)
	}
	if err := c.Setup(context.Background()); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if c.MetricsAddr() == "" {
		t.Error("metrics server not bound")
	}
	if c.State() != StateSetup {
		t.Errorf("state = %v", c.State())
	}
	// Setup is idempotent.
	if err := c.Setup(context.Background()); err != nil {
		t.Fatalf("second Setup: %v", err)
	}
}

func TestPipelineErrorPolicyPassThrough(t *testing.T) {
	// A panicking custom enricher must not lose the event.
	c, rec := newTestContainer(t)
	c.RegisterEnricher(func(_ context.Context, e types.Event) types.Event {
		panic("bad enricher")
	})

	s := testSettings()
	logger, err := c.Configure(&s)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("survives", nil)

	if rec.Count() != 1 {
		t.Errorf("event lost to a misbehaving enricher: %d", rec.Count())
	}
}
