package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/justapithecus/flume/log"
	"github.com/justapithecus/flume/metrics"
	"github.com/justapithecus/flume/types"
)

// Chain walks processors in declared order, short-circuiting on drop.
// The chain itself is stateless; processors own their own state. Order
// is fixed at construction.
type Chain struct {
	processors  []Processor
	errorPolicy ErrorPolicy
	logger      *log.Logger

	// collector enables per-processor duration/success recording when
	// non-nil.
	collector *metrics.Collector
}

// ChainOption customizes a chain.
type ChainOption func(*Chain)

// WithErrorPolicy sets the policy applied when a processor fails.
func WithErrorPolicy(p ErrorPolicy) ChainOption {
	return func(c *Chain) { c.errorPolicy = p }
}

// WithChainMetrics enables per-processor metrics recording.
func WithChainMetrics(collector *metrics.Collector) ChainOption {
	return func(c *Chain) { c.collector = collector }
}

// NewChain builds a chain over the given processors. The slice is
// copied; order is significant and immutable afterwards.
func NewChain(logger *log.Logger, processors []Processor, opts ...ChainOption) *Chain {
	c := &Chain{
		processors:  append([]Processor(nil), processors...),
		errorPolicy: PolicyPassThrough,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Len returns the number of processors.
func (c *Chain) Len() int { return len(c.processors) }

// Run passes the event through every processor in order. Returns the
// transformed event, or nil when any processor dropped it.
func (c *Chain) Run(ctx context.Context, event types.Event) types.Event {
	current := event
	for _, p := range c.processors {
		var err error
		var next types.Event

		if c.collector != nil {
			start := time.Now()
			next, err = c.runGuarded(ctx, p, current)
			size := 0
			if next != nil {
				size = len(next.EncodeJSON())
			}
			c.collector.RecordProcessor(p.Name(), time.Since(start), err == nil, size)
		} else {
			next, err = c.runGuarded(ctx, p, current)
		}

		if err != nil {
			switch c.errorPolicy {
			case PolicyDrop:
				c.logger.Warn("processor failed, dropping event", map[string]any{
					"processor": p.Name(),
					"error":     err.Error(),
				})
				return nil
			case PolicyFallback:
				c.logger.Warn("processor failed, substituting fallback event", map[string]any{
					"processor": p.Name(),
					"error":     err.Error(),
				})
				current = fallbackEvent(current)
				continue
			default: // PolicyPassThrough
				c.logger.Warn("processor failed, passing event through", map[string]any{
					"processor": p.Name(),
					"error":     err.Error(),
				})
				continue
			}
		}

		if next == nil {
			return nil // dropped
		}
		current = next
	}
	return current
}

// runGuarded invokes the processor, converting a panic into an error so
// one misbehaving processor cannot take the producer down.
func (c *Chain) runGuarded(ctx context.Context, p Processor, event types.Event) (out types.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("processor %s panicked: %v", p.Name(), r)
		}
	}()
	return p.Process(ctx, event)
}
