package pipeline

import (
	"context"
	"math/rand/v2"

	"github.com/justapithecus/flume/types"
)

// Sampler drops events probabilistically: a uniform draw >= rate drops
// the event. Rate 1 passes everything, rate 0 drops everything.
type Sampler struct {
	rate float64
	draw func() float64 // test hook
}

// NewSampler creates a sampler with rate clamped to [0,1].
func NewSampler(rate float64) *Sampler {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	return &Sampler{rate: rate, draw: rand.Float64}
}

// Name implements Processor.
func (s *Sampler) Name() string { return "sampler" }

// Process implements Processor.
func (s *Sampler) Process(_ context.Context, event types.Event) (types.Event, error) {
	if s.rate >= 1 {
		return event, nil
	}
	if s.draw() >= s.rate {
		return nil, nil
	}
	return event, nil
}
