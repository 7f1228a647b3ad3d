// Package container provides the lifecycle root of a flume pipeline.
//
// A Container owns disjoint instances of every component: the chain,
// the queue and its worker, the sinks, the metrics collector, the
// cache and lock registry, and the component registry that tears it
// all down. Two containers share no observable state; tests create and
// destroy them freely.
package container

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/flume/cache"
	"github.com/justapithecus/flume/config"
	"github.com/justapithecus/flume/log"
	"github.com/justapithecus/flume/logctx"
	"github.com/justapithecus/flume/metrics"
	"github.com/justapithecus/flume/pipeline"
	"github.com/justapithecus/flume/queue"
	"github.com/justapithecus/flume/sink"
	"github.com/justapithecus/flume/types"
)

// State is the container lifecycle state.
type State string

// Lifecycle states. Transitions are explicit and idempotent:
// new → configured → setup → stopped.
const (
	StateNew        State = "new"
	StateConfigured State = "configured"
	StateSetup      State = "setup"
	StateStopped    State = "stopped"
)

// defaultSyncShutdownTimeout bounds ShutdownSync.
const defaultSyncShutdownTimeout = 5 * time.Second

// Container is the lifecycle root and the only object a caller
// instantiates.
type Container struct {
	mu    sync.Mutex
	id    string
	state State

	settings config.Settings
	minLevel types.Level

	diag      *log.Logger
	registry  *Registry
	factory   *SinkFactory
	collector *metrics.Collector
	locks     *cache.LockRegistry
	enrichers *pipeline.CustomEnrichers

	chain  *pipeline.Chain
	sinks  []sink.Sink
	queue  *queue.Queue
	worker *queue.Worker

	promServer *metrics.Server
	logger     *Logger

	signalOnce sync.Once
}

// Option customizes a container at construction.
type Option func(*Container)

// WithDiagnosticLogger replaces the internal diagnostic logger
// (tests route it to a buffer or discard it).
func WithDiagnosticLogger(l *log.Logger) Option {
	return func(c *Container) { c.diag = l }
}

// New creates an unconfigured container.
func New(opts ...Option) *Container {
	id := uuid.NewString()[:8]
	c := &Container{
		id:    id,
		state: StateNew,
		diag:  log.NewLogger(id),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.registry = NewRegistry(c.diag)
	c.factory = NewSinkFactory()
	return c
}

// ID returns the container's short identifier.
func (c *Container) ID() string { return c.id }

// Registry returns the container's component registry.
func (c *Container) Registry() *Registry { return c.registry }

// State returns the current lifecycle state.
func (c *Container) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RegisterScheme adds a custom sink scheme to this container's factory.
// Must be called before Configure.
func (c *Container) RegisterScheme(scheme string, builder SinkBuilder) error {
	return c.factory.RegisterScheme(scheme, builder)
}

// RegisterEnricher appends a custom enricher, run after the built-ins
// in registration order. Usable before or after Configure.
func (c *Container) RegisterEnricher(fn pipeline.EnricherFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enrichers == nil {
		c.enrichers = pipeline.NewCustomEnrichers(c.diag)
	}
	c.enrichers.Register(fn)
}

// Configure validates settings and builds every component. Idempotent:
// configuring an already configured container returns the same logger.
// Passing nil settings uses defaults overlaid with the environment.
func (c *Container) Configure(settings *config.Settings) (*Logger, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateConfigured || c.state == StateSetup {
		return c.logger, nil
	}
	if c.state == StateStopped {
		return nil, fmt.Errorf("container %s is stopped; create a new container", c.id)
	}

	var s config.Settings
	if settings != nil {
		s = *settings
	} else {
		s = config.FromEnv(config.Defaults())
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	c.settings = s
	c.minLevel = s.MinLevel()

	// Metrics collector first: everything else records into it.
	// When metrics are disabled the collector stays nil, which every
	// recording path tolerates.
	if s.Metrics.Enabled {
		c.collector = metrics.NewCollector(s.Metrics.SampleWindow)
	}
	c.locks = cache.NewLockRegistry()
	if c.enrichers == nil {
		c.enrichers = pipeline.NewCustomEnrichers(c.diag)
	}

	if err := c.buildSinks(); err != nil {
		c.sinks = nil
		return nil, err
	}

	if err := c.buildChain(); err != nil {
		c.closeSinksLocked()
		c.sinks = nil
		return nil, err
	}

	if s.Queue.Enabled {
		q, err := queue.New(queue.Config{
			MaxSize:      s.Queue.MaxSize,
			Overflow:     s.Queue.Overflow,
			BatchSize:    s.Queue.BatchSize,
			BatchTimeout: s.Queue.BatchTimeoutDuration(),
			RetryDelay:   s.Queue.RetryDelayDuration(),
			MaxRetries:   s.Queue.MaxRetries,
			SamplingRate: s.Core.SamplingRate,
		}, c.collector)
		if err != nil {
			c.closeSinksLocked()
			c.sinks = nil
			return nil, err
		}
		c.queue = q
		c.worker = queue.NewWorker(q, c.sinks, c.diag, c.collector)
		c.worker.Start()
	}

	if s.Metrics.PrometheusEnabled {
		c.promServer = metrics.NewServer(
			s.Metrics.PrometheusHost, s.Metrics.PrometheusPort, c.collector, c.diag)
	}

	// Registry entries give callers typed lookup and drive teardown in
	// reverse build order for anything that declares cleanup.
	_ = c.registry.Register("lock_registry", c.locks)
	_ = c.registry.Register("custom_enrichers", c.enrichers)
	if c.collector != nil {
		_ = c.registry.Register("metrics_collector", c.collector)
	}

	c.logger = &Logger{c: c}
	c.state = StateConfigured
	c.diag.Debug("container configured", map[string]any{
		"sinks":         len(c.sinks),
		"queue_enabled": s.Queue.Enabled,
		"level":         s.Core.Level,
	})
	return c.logger, nil
}

// sinkCollector returns the collector sinks self-report batch losses
// to. Nil-container safe so builders can run without a container in
// tests; a nil collector is nil-safe on every recording path.
func (c *Container) sinkCollector() *metrics.Collector {
	if c == nil {
		return nil
	}
	return c.collector
}

// consoleMode resolves the console format: auto means pretty when
// attached to a terminal, JSON otherwise.
func (c *Container) consoleMode() sink.StdoutMode {
	switch c.settings.Core.JSONConsole {
	case "pretty":
		return sink.ModePretty
	case "json":
		return sink.ModeJSON
	default:
		return sink.ModeAuto
	}
}

// buildSinks constructs the configured sink list, wrapping each in
// metrics instrumentation. Caller must hold mu.
func (c *Container) buildSinks() error {
	ctx := context.Background()
	sinks := make([]sink.Sink, 0, len(c.settings.Core.Sinks))
	for _, rawURI := range c.settings.Core.Sinks {
		s, err := c.factory.Build(ctx, rawURI, c)
		if err != nil {
			for _, built := range sinks {
				_ = built.Close()
			}
			return err
		}
		sinks = append(sinks, sink.NewInstrumented(s, c.collector))
	}
	c.sinks = sinks
	return nil
}

// buildChain assembles the processor chain in its fixed order:
// enrichers, redactors, validator, throttler, deduplicator, sampler.
// Caller must hold mu.
func (c *Container) buildChain() error {
	s := c.settings
	processors := []pipeline.Processor{
		pipeline.HostProcessEnricher{},
		pipeline.NewResourceEnricher(),
		pipeline.ContextEnricher{},
		c.enrichers,
	}

	if len(s.Security.RedactPatterns) > 0 || len(s.Security.RedactFields) > 0 {
		redactLevel, _ := types.ParseLevel(s.Security.RedactLevel)
		r, err := pipeline.NewRedactor(pipeline.RedactorConfig{
			Patterns:    s.Security.RedactPatterns,
			FieldPaths:  s.Security.RedactFields,
			Replacement: s.Security.RedactReplacement,
			MinLevel:    redactLevel,
		})
		if err != nil {
			return config.NewError("security.redact_patterns", s.Security.RedactPatterns, err.Error())
		}
		processors = append(processors, r)
	}

	if s.Security.EnableAutoRedactPII {
		redactLevel, _ := types.ParseLevel(s.Security.RedactLevel)
		r, err := pipeline.NewPIIRedactor(s.Security.RedactReplacement, redactLevel)
		if err != nil {
			return err
		}
		processors = append(processors, r)
	}

	if s.Validation.Enabled {
		v, err := pipeline.NewValidator(pipeline.ValidatorConfig{
			RequiredFields: s.Validation.RequiredFields,
			FieldTypes:     s.Validation.FieldTypes,
			Mode:           s.Validation.Mode,
		})
		if err != nil {
			return config.NewError("validation.mode", s.Validation.Mode, err.Error())
		}
		processors = append(processors, v)
	}

	if s.Security.EnableThrottling {
		t, err := pipeline.NewThrottler(pipeline.ThrottleConfig{
			MaxRate:  s.Security.ThrottleMaxRate,
			Window:   time.Duration(s.Security.ThrottleWindowSeconds) * time.Second,
			KeyField: s.Security.ThrottleKeyField,
			Strategy: s.Security.ThrottleStrategy,
		}, c.locks)
		if err != nil {
			return config.NewError("security.throttle_max_rate", s.Security.ThrottleMaxRate, err.Error())
		}
		processors = append(processors, t)
	}

	if s.Security.EnableDeduplication {
		d, err := pipeline.NewDeduplicator(pipeline.DedupeConfig{
			Window:        time.Duration(s.Security.DedupeWindowSeconds) * time.Second,
			Fields:        s.Security.DedupeFields,
			MaxCacheSize:  s.Security.DedupeMaxCacheSize,
			HashAlgorithm: s.Security.DedupeHashAlgorithm,
		}, c.locks)
		if err != nil {
			return config.NewError("security.dedupe_fields", s.Security.DedupeFields, err.Error())
		}
		processors = append(processors, d)
	}

	// Sampling sits last: work above is not wasted on events a cheaper
	// stage would have dropped, and sampled-out events skip nothing.
	// The queue applies its own sampling when enabled, so the chain
	// sampler only runs in sync mode.
	if !s.Queue.Enabled && s.Core.SamplingRate < 1 {
		processors = append(processors, pipeline.NewSampler(s.Core.SamplingRate))
	}

	opts := []pipeline.ChainOption{}
	if c.collector != nil {
		opts = append(opts, pipeline.WithChainMetrics(c.collector))
	}
	c.chain = pipeline.NewChain(c.diag, processors, opts...)
	return nil
}

// emit is the producer path: level gate, chain, then queue or sinks.
// It never raises to the caller; failures are counted and logged
// internally.
func (c *Container) emit(ctx context.Context, level types.Level, msg string, fields map[string]any) {
	c.mu.Lock()
	chain := c.chain
	q := c.queue
	sinks := c.sinks
	state := c.state
	minLevel := c.minLevel
	c.mu.Unlock()

	if state != StateConfigured && state != StateSetup {
		return
	}
	if level < minLevel {
		return
	}

	event := types.New(level, msg, fields)
	out := chain.Run(ctx, event)
	if out == nil {
		return
	}

	if q != nil {
		q.Enqueue(ctx, out)
		return
	}

	// Synchronous path: write straight to every sink.
	for _, s := range sinks {
		if err := s.Write(ctx, out); err != nil {
			c.diag.Warn("sink write failed", map[string]any{
				"sink":  s.Name(),
				"error": err.Error(),
			})
		}
	}
}

// Setup starts async-lifecycle components: the metrics HTTP server and
// sinks with a startup phase. Idempotent.
func (c *Container) Setup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateSetup {
		return nil
	}
	if c.state != StateConfigured {
		return fmt.Errorf("container %s is %s; configure it first", c.id, c.state)
	}

	if c.promServer != nil {
		if err := c.promServer.Start(); err != nil {
			return err
		}
	}

	for _, s := range c.sinks {
		if starter, ok := s.(sink.Starter); ok {
			if err := starter.Start(ctx); err != nil {
				return err
			}
		}
	}

	c.state = StateSetup
	return nil
}

// MetricsAddr returns the bound metrics address, or "" when the
// exporter is disabled or not started.
func (c *Container) MetricsAddr() string {
	if c.promServer == nil {
		return ""
	}
	return c.promServer.Addr()
}

// MetricsSnapshot returns the current metrics, or a zero snapshot when
// metrics are disabled.
func (c *Container) MetricsSnapshot() metrics.Snapshot {
	return c.collector.Snapshot()
}

// Shutdown stops the pipeline: drain the worker first (so in-flight
// events still have live sinks), then close sinks, clean up registry
// components in reverse order, and stop the metrics server. Idempotent.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateStopped || c.state == StateNew {
		c.state = StateStopped
		c.mu.Unlock()
		return nil
	}
	worker := c.worker
	promServer := c.promServer
	c.state = StateStopped
	c.mu.Unlock()

	if worker != nil {
		worker.Shutdown(ctx)
	}

	c.mu.Lock()
	c.closeSinksLocked()
	c.mu.Unlock()

	c.registry.Cleanup()

	if promServer != nil {
		if err := promServer.Stop(ctx); err != nil {
			c.diag.Warn("metrics server stop failed", map[string]any{"error": err.Error()})
		}
	}

	c.diag.Debug("container stopped", nil)
	return nil
}

// ShutdownSync is the best-effort variant for process-exit hooks: it
// bounds the whole shutdown with a deadline rather than blocking the
// caller indefinitely.
func (c *Container) ShutdownSync() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultSyncShutdownTimeout)
	defer cancel()
	_ = c.Shutdown(ctx)
}

// closeSinksLocked closes every sink; Close is idempotent per the sink
// contract. Caller must hold mu.
func (c *Container) closeSinksLocked() {
	for _, s := range c.sinks {
		if err := s.Close(); err != nil {
			c.diag.Warn("sink close failed", map[string]any{
				"sink":  s.Name(),
				"error": err.Error(),
			})
		}
	}
}

// Reset shuts the container down and marks it unconfigured, so tests
// can reconfigure the same instance.
func (c *Container) Reset() {
	c.ShutdownSync()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateNew
	c.chain = nil
	c.sinks = nil
	c.queue = nil
	c.worker = nil
	c.promServer = nil
	c.logger = nil
	c.collector = nil
	c.registry = NewRegistry(c.diag)
}

// ShutdownOnSignal installs a SIGINT/SIGTERM hook that shuts the
// container down gracefully. Installed at most once per container.
func (c *Container) ShutdownOnSignal() {
	c.signalOnce.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-ch
			c.ShutdownSync()
		}()
	})
}

// Bind derives a request context carrying the given frame; a
// convenience re-export so callers need not import logctx directly.
func Bind(ctx context.Context, frame map[string]any) context.Context {
	return logctx.Bind(ctx, logctx.Frame(frame))
}
