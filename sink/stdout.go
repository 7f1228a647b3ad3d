package sink

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/justapithecus/flume/pipeline"
	"github.com/justapithecus/flume/types"
)

// StdoutMode selects the console rendering format.
type StdoutMode string

// Stdout rendering modes.
const (
	ModeJSON   StdoutMode = "json"
	ModePretty StdoutMode = "pretty"
	ModeAuto   StdoutMode = "auto" // pretty if attached to a terminal
)

// Stdout writes events to standard output, one line per event, either
// as compact JSON or colored human-readable text.
type Stdout struct {
	mu       sync.Mutex
	out      io.Writer
	renderer *pipeline.Renderer
}

// NewStdout creates a stdout sink with the given mode writing to
// os.Stdout. Auto resolves to pretty only when stdout is a terminal.
func NewStdout(mode StdoutMode) *Stdout {
	return NewStdoutWriter(mode, os.Stdout, isatty.IsTerminal(os.Stdout.Fd()))
}

// NewStdoutWriter creates a stdout sink writing to w. isTTY decides how
// auto mode resolves; tests inject writers freely.
func NewStdoutWriter(mode StdoutMode, w io.Writer, isTTY bool) *Stdout {
	renderMode := pipeline.RenderJSON
	switch mode {
	case ModePretty:
		renderMode = pipeline.RenderPretty
	case ModeAuto:
		if isTTY {
			renderMode = pipeline.RenderPretty
		}
	}
	return &Stdout{out: w, renderer: pipeline.NewRenderer(renderMode)}
}

// Name implements Sink.
func (s *Stdout) Name() string { return "stdout" }

// Pretty reports whether the sink resolved to pretty rendering.
func (s *Stdout) Pretty() bool { return s.renderer.Mode() == pipeline.RenderPretty }

// Write renders and writes one event.
func (s *Stdout) Write(ctx context.Context, event types.Event) error {
	line := append(s.renderer.Render(event), '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.out.Write(line); err != nil {
		return WrapWriteError(err, s.Name(), event)
	}
	return nil
}

// Close implements Sink. Stdout is not ours to close.
func (s *Stdout) Close() error { return nil }

// Verify Stdout implements Sink.
var _ Sink = (*Stdout)(nil)
