package container

import (
	"context"
	stdlog "log"
	"strings"

	"github.com/justapithecus/flume/types"
)

// stdBridge adapts the standard library log package to the pipeline:
// each written line becomes one structured event at a fixed level.
type stdBridge struct {
	c     *Container
	level types.Level
}

// Write implements io.Writer for *stdlog.Logger.
func (b *stdBridge) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	if logger := b.c.logger; logger != nil {
		logger.Log(context.Background(), b.level, msg, map[string]any{"logger": "stdlib"})
	}
	return len(p), nil
}

// StdLogger returns a standard library logger whose output flows
// through this container's pipeline at the given level. The bridge is
// container-scoped: nothing process-global is touched, so two
// containers can bridge independently.
func (c *Container) StdLogger(level types.Level) *stdlog.Logger {
	return stdlog.New(&stdBridge{c: c, level: level}, "", 0)
}
