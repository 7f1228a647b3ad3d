// Package main provides the flume CLI entrypoint.
//
// The CLI exists for operating and smoke-testing a logging pipeline
// from the shell: emit test events through a fully configured
// container, or validate a configuration without running anything.
//
// Usage:
//
//	flume <command> [options]
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Version is the flume release version.
const Version = "0.1.0"

// commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:    "flume",
		Usage:   "Structured logging pipeline runtime",
		Version: fmt.Sprintf("%s (commit: %s)", Version, commit),
		Commands: []*cli.Command{
			emitCommand(),
			checkCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "flume:", err)
		os.Exit(1)
	}
}
