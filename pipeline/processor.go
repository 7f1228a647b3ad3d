// Package pipeline implements the processor chain: the ordered list of
// transforms every event passes through before delivery.
//
// A processor takes an event and returns either the (possibly
// transformed) event or nil, which drops the event. Drops are a return
// value, never a panic or error: errors mean the processor itself
// failed, and the chain's error policy decides what happens to the
// event then.
package pipeline

import (
	"context"

	"github.com/justapithecus/flume/types"
)

// Processor is one stage of the chain.
type Processor interface {
	// Name is a stable identifier used as a metrics label.
	Name() string

	// Process transforms the event. Returning (nil, nil) drops the
	// event and short-circuits the chain. Returning an error invokes
	// the chain's error policy; the event is otherwise unchanged.
	Process(ctx context.Context, event types.Event) (types.Event, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc struct {
	ProcessorName string
	Fn            func(ctx context.Context, event types.Event) (types.Event, error)
}

// Name implements Processor.
func (p ProcessorFunc) Name() string { return p.ProcessorName }

// Process implements Processor.
func (p ProcessorFunc) Process(ctx context.Context, event types.Event) (types.Event, error) {
	return p.Fn(ctx, event)
}

// ErrorPolicy decides what happens to an event when a processor fails.
type ErrorPolicy string

// Error policies.
const (
	// PolicyPassThrough logs the failure and keeps the original event.
	// This is the default.
	PolicyPassThrough ErrorPolicy = "pass_through"
	// PolicyDrop discards the event.
	PolicyDrop ErrorPolicy = "drop"
	// PolicyFallback replaces the event with a minimal error-marker
	// shape preserving the original message.
	PolicyFallback ErrorPolicy = "fallback_value"
)

// fallbackEvent builds the minimal shape used by PolicyFallback.
func fallbackEvent(original types.Event) types.Event {
	out := types.Event{
		types.KeyLevel:    types.LevelError.String(),
		"processor_error": true,
	}
	if msg := original.Message(); msg != "" {
		out[types.KeyEvent] = msg
	}
	if ts, ok := original[types.KeyTimestamp]; ok {
		out[types.KeyTimestamp] = ts
	}
	return out
}
