package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/flume/config"
	"github.com/justapithecus/flume/container"
	"github.com/justapithecus/flume/types"
)

// emitCommand sends one or more events through a configured container.
// It is the end-to-end smoke test for a sink configuration: if `flume
// emit` delivers, the service will too.
func emitCommand() *cli.Command {
	return &cli.Command{
		Name:      "emit",
		Usage:     "Emit test events through the configured pipeline",
		ArgsUsage: "[message]",
		Flags: append(configFlags(),
			&cli.StringFlag{
				Name:  "level",
				Usage: "event level (DEBUG, INFO, WARN, ERROR, CRITICAL)",
				Value: "INFO",
			},
			&cli.IntFlag{
				Name:  "count",
				Usage: "number of events to emit",
				Value: 1,
			},
			&cli.StringSliceFlag{
				Name:  "field",
				Usage: "extra event field as key=value (repeatable)",
			},
		),
		Action: emitAction,
	}
}

func emitAction(c *cli.Context) error {
	settings, err := resolveSettings(c)
	if err != nil {
		return err
	}

	level, err := types.ParseLevel(c.String("level"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	fields := map[string]any{}
	for _, raw := range c.StringSlice("field") {
		k, v, ok := strings.Cut(raw, "=")
		if !ok {
			return cli.Exit(fmt.Sprintf("invalid --field %q: expected key=value", raw), 1)
		}
		fields[k] = config.CoerceQueryValue(v)
	}

	message := c.Args().First()
	if message == "" {
		message = "flume test event"
	}

	ctr := container.New()
	logger, err := ctr.Configure(&settings)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	ctx := context.Background()
	if err := ctr.Setup(ctx); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = ctr.Shutdown(shutdownCtx)
	}()

	for i := 0; i < c.Int("count"); i++ {
		eventFields := make(map[string]any, len(fields)+1)
		for k, v := range fields {
			eventFields[k] = v
		}
		if c.Int("count") > 1 {
			eventFields["seq"] = i
		}
		logger.Log(ctx, level, message, eventFields)
	}

	return nil
}

// checkCommand validates a configuration and prints the resolved form.
func checkCommand() *cli.Command {
	return &cli.Command{
		Name:   "check",
		Usage:  "Validate configuration and print the resolved settings",
		Flags:  configFlags(),
		Action: checkAction,
	}
}

func checkAction(c *cli.Context) error {
	settings, err := resolveSettings(c)
	if err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	out, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, string(out))
	return nil
}

// configFlags are shared by every command that builds a container.
func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML settings file",
		},
		&cli.StringFlag{
			Name:  "env-file",
			Usage: ".env file to load before reading the environment",
		},
		&cli.StringSliceFlag{
			Name:  "sink",
			Usage: "sink URI (repeatable, overrides config)",
		},
	}
}

// resolveSettings composes defaults → config file → .env → environment
// → flags.
func resolveSettings(c *cli.Context) (config.Settings, error) {
	if err := config.LoadDotenv(c.String("env-file")); err != nil {
		return config.Settings{}, cli.Exit(err.Error(), 1)
	}

	settings := config.Defaults()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Settings{}, cli.Exit(err.Error(), 1)
		}
		settings = loaded
	}
	settings = config.FromEnv(settings)

	if sinks := c.StringSlice("sink"); len(sinks) > 0 {
		settings.Core.Sinks = sinks
	}
	return settings, nil
}
