// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Command vcrproxy runs a record/replay HTTP proxy for test suites: it
// forwards, replays, or mixes upstream traffic depending on mode, and
// persists every exchange as a human-readable cassette file.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
)

// cli is the top-level `vcrproxy` command, holding Config directly so every
// subcommand sees the same flags (kong embeds it, rather than duplicating
// the same dozen fields three times).
type cli struct {
	Config

	Serve    cmdServe    `cmd:"" help:"Run the proxy and Admin Facade listeners."`
	Cassette cmdCassette `cmd:"" help:"Inspect or delete cassettes through a running proxy's Admin Facade."`
	Schema   cmdSchema   `cmd:"" help:"Print the JSON Schema for cassettes or route overrides."`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer cancel()

	var c cli
	parser, err := kong.New(&c, kong.Name("vcrproxy"), kong.Description("Record/replay HTTP proxy for test suites."))
	if err != nil {
		fmt.Fprintf(os.Stderr, "vcrproxy: %s\n", err)
		os.Exit(1)
	}
	parsed, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	handler := newLogHandler(c.Config.LogFormat, c.Config.slogLevel())
	slog.SetDefault(slog.New(handler))

	if err := parsed.Run(ctx, &c.Config); err != nil {
		if err != context.Canceled {
			slog.Error("vcrproxy: fatal", "err", err)
		}
		os.Exit(1)
	}
}

func newLogHandler(format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.NewJSONHandler(os.Stderr, opts)
}
