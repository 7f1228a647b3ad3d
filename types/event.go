// Package types defines the event model shared by every pipeline stage.
//
// An Event is a mutable string-keyed map while it travels the processor
// chain, and must be treated as immutable once handed to the delivery
// queue. Clone exists so the queue can own a value the caller can no
// longer reach.
package types

import (
	"encoding/json"
	"time"
)

// Reserved event keys populated by the processor chain.
const (
	KeyTimestamp = "timestamp"
	KeyLevel     = "level"
	KeyEvent     = "event"
	KeyMessage   = "message"
	KeyTraceID   = "trace_id"
	KeySpanID    = "span_id"
	KeyHostname  = "hostname"
	KeyPID       = "pid"
)

// TimestampFormat is the wire format for event timestamps (ISO 8601 UTC).
const TimestampFormat = "2006-01-02T15:04:05.000000Z07:00"

// Event is a structured log record: a mapping of string keys to values.
// Values are scalars (nil, bool, int64, float64, string, []byte,
// time.Time), []any, or nested map[string]any.
type Event map[string]any

// New creates an event with the given level and message, stamping the
// timestamp in UTC. Caller fields are copied in, so later mutations of
// the fields map do not reach the event.
func New(level Level, msg string, fields map[string]any) Event {
	e := make(Event, len(fields)+3)
	for k, v := range fields {
		e[k] = v
	}
	e[KeyTimestamp] = time.Now().UTC().Format(TimestampFormat)
	e[KeyLevel] = level.String()
	e[KeyEvent] = msg
	return e
}

// Message returns the event's message, preferring "event" over "message".
func (e Event) Message() string {
	if s, ok := e[KeyEvent].(string); ok {
		return s
	}
	if s, ok := e[KeyMessage].(string); ok {
		return s
	}
	return ""
}

// Keys returns the event's keys in unspecified order.
// Used for error context without copying values.
func (e Event) Keys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	return keys
}

// Clone returns a deep copy of the event. Nested maps and slices are
// copied; scalars are shared (they are immutable by value in Go).
func (e Event) Clone() Event {
	if e == nil {
		return nil
	}
	out := make(Event, len(e))
	for k, v := range e {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case Event:
		return map[string]any(val.Clone())
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	case []byte:
		out := make([]byte, len(val))
		copy(out, val)
		return out
	default:
		return v
	}
}

// MarshalJSON renders the event as a compact canonical JSON object.
// encoding/json sorts map keys, which gives a deterministic encoding.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any(e))
}

// EncodeJSON is MarshalJSON with a fallback: values that cannot be
// serialized are replaced by their Go string rendering rather than
// failing the whole event.
func (e Event) EncodeJSON() []byte {
	data, err := json.Marshal(map[string]any(e))
	if err == nil {
		return data
	}
	safe := make(map[string]any, len(e))
	for k, v := range e {
		if _, err := json.Marshal(v); err != nil {
			safe[k] = stringify(v)
		} else {
			safe[k] = v
		}
	}
	data, err = json.Marshal(safe)
	if err != nil {
		// Last resort: an event that still fails encodes as its message.
		data, _ = json.Marshal(map[string]any{KeyEvent: e.Message()})
	}
	return data
}

func stringify(v any) string {
	type stringer interface{ String() string }
	if s, ok := v.(stringer); ok {
		return s.String()
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	data, mErr := json.Marshal(map[string]any{"v": v})
	if mErr != nil {
		return "<unserializable>"
	}
	return string(data)
}
