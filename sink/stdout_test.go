package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/justapithecus/flume/types"
)

func TestStdoutJSONWritesOneLine(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdoutWriter(ModeJSON, &buf, false)

	err := s.Write(context.Background(), types.Event{
		"timestamp": "2026-08-01T00:00:00.000000Z",
		"level":     "INFO",
		"event":     "y",
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	out := buf.String()
	if strings.Count(out, "\n") != 1 || !strings.HasSuffix(out, "\n") {
		t.Fatalf("output is not one line: %q", out)
	}

	var got map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if got["level"] != "INFO" || got["event"] != "y" || got["timestamp"] == "" {
		t.Errorf("missing keys: %v", got)
	}
}

func TestStdoutAutoModeResolution(t *testing.T) {
	var buf bytes.Buffer
	if s := NewStdoutWriter(ModeAuto, &buf, true); !s.Pretty() {
		t.Error("auto on a TTY should be pretty")
	}
	if s := NewStdoutWriter(ModeAuto, &buf, false); s.Pretty() {
		t.Error("auto off a TTY should be JSON")
	}
	if s := NewStdoutWriter("bogus", &buf, true); s.Pretty() {
		t.Error("unknown mode should fall back to JSON")
	}
}

func TestStdoutPrettyContainsLevelAndFields(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdoutWriter(ModePretty, &buf, false)

	err := s.Write(context.Background(), types.Event{
		"level":  "ERROR",
		"event":  "exploded",
		"region": "us-east-1",
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"ERROR", "exploded", "region=", "us-east-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("pretty output missing %q: %q", want, out)
		}
	}
}

func TestStdoutCloseIdempotent(t *testing.T) {
	s := NewStdoutWriter(ModeJSON, &bytes.Buffer{}, false)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) {
	return 0, errNoStdout
}

var errNoStdout = bytes.ErrTooLarge

func TestStdoutWriteErrorIsSinkError(t *testing.T) {
	s := NewStdoutWriter(ModeJSON, failWriter{}, false)
	err := s.Write(context.Background(), types.Event{"event": "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	var sinkErr *Error
	if !errors.As(err, &sinkErr) {
		t.Fatalf("not a sink error: %v", err)
	}
	if sinkErr.SinkName != "stdout" {
		t.Errorf("sink name = %s", sinkErr.SinkName)
	}
}
