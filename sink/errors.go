package sink

// This file defines sentinel errors and the typed wrapper for sink
// write failures. Callers use errors.Is/errors.As for typed assertions
// rather than string matching; the delivery queue uses Retryable to
// decide whether a failure is worth retrying.

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for sink failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrConnection indicates a network-level failure (refused, DNS, reset).
	ErrConnection = errors.New("connection error")

	// ErrTimeout indicates an operation deadline was exceeded.
	ErrTimeout = errors.New("operation timed out")

	// ErrConfiguration indicates the sink is misconfigured. Never retried.
	ErrConfiguration = errors.New("sink configuration error")

	// ErrWrite is the default classification for write failures.
	ErrWrite = errors.New("write error")
)

// Error wraps an underlying sink failure with classification and the
// write context the contract requires. It preserves the original error
// in the chain for inspection via errors.As.
type Error struct {
	// Kind is the sentinel for classification (e.g. ErrTimeout).
	Kind error
	// SinkName is the failing sink's stable name.
	SinkName string
	// Op is the operation that failed (e.g. "write", "flush", "close").
	Op string
	// EventKeys are the keys of the event being written, if any.
	EventKeys []string
	// EventSize is the serialized event size in bytes, if known.
	EventSize int
	// Timestamp is when the failure was observed.
	Timestamp time.Time
	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sink %s: %s: %v: %v", e.SinkName, e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// WrapWriteError classifies and wraps a write failure with event context.
// Returns nil if err is nil.
func WrapWriteError(err error, sinkName string, event interface{ Keys() []string }) error {
	if err == nil {
		return nil
	}
	var keys []string
	if event != nil {
		keys = event.Keys()
	}
	return &Error{
		Kind:      Classify(err),
		SinkName:  sinkName,
		Op:        "write",
		EventKeys: keys,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// NewError creates a classified sink error for a named operation.
func NewError(kind error, sinkName, op string, err error) *Error {
	return &Error{
		Kind:      kind,
		SinkName:  sinkName,
		Op:        op,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Retryable reports whether the error is worth retrying.
// Configuration errors are permanent; everything else is transient.
func Retryable(err error) bool {
	return err != nil && !errors.Is(err, ErrConfiguration)
}

// errorPattern pairs message substrings with a sentinel error.
// Entries are checked in order; the first match wins.
type errorPattern struct {
	patterns []string
	kind     error
}

var classifierTable = []errorPattern{
	{[]string{"timeout", "timed out", "deadline exceeded"}, ErrTimeout},
	{[]string{"connection refused", "connection reset", "no route to host",
		"network unreachable", "broken pipe", "DNS", "dial tcp", "i/o timeout",
		"EOF"}, ErrConnection},
	{[]string{"invalid", "missing required", "unknown scheme", "misconfigured"}, ErrConfiguration},
}

// Classify determines the sentinel for the given error. Typed checks
// run first (net timeouts, context deadlines), then the pattern table.
// Unmatched errors classify as ErrWrite.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	// Already classified: keep the original kind.
	var sinkErr *Error
	if errors.As(err, &sinkErr) {
		return sinkErr.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}

	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return ErrTimeout
	}

	errStr := err.Error()
	for _, entry := range classifierTable {
		if containsAny(errStr, entry.patterns...) {
			return entry.kind
		}
	}

	return ErrWrite
}

// containsAny checks if s contains any of the substrings (case-insensitive).
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
