// Copyright 2026 © The Kopl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/jllopis/kopl/pkg/config"
	koplmcp "github.com/jllopis/kopl/pkg/mcp"
	"github.com/jllopis/kopl/pkg/telemetry"
	"github.com/jllopis/kopl/pkg/tools"
)

// runMCP serves the tool catalog over stdio until the client disconnects.
func runMCP(ctx context.Context, a *app, args []string) {
	cmd := flag.NewFlagSet("mcp", flag.ContinueOnError)
	kbPath := cmd.String("kb", "", "Knowledge base file (default kb.path)")
	watch := cmd.Bool("watch", false, "Watch config files and apply log settings on change")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}

	e, err := a.newEngine(ctx, *kbPath)
	if err != nil {
		fatal(err)
	}

	if *watch {
		if w := startWatcher(ctx); w != nil {
			defer w.Stop()
		}
	}

	srv := koplmcp.NewServer("kopl", version, e, a.sessionOptions()...)
	slog.InfoContext(ctx, "mcp.serve.start", slog.Int("tools", len(tools.Catalog())))
	if err := srv.ServeStdio(); err != nil {
		fatal(err)
	}
}

// startWatcher reloads the configuration when the config files change and
// reconfigures logging. It returns nil when there is nothing to watch.
func startWatcher(ctx context.Context) *config.Watcher {
	args := os.Args[1:]
	path := findConfigPath(args)
	paths := config.WatchPaths(path, findProfile(args))
	if len(paths) == 0 {
		slog.WarnContext(ctx, "config.watch.skipped", slog.String("reason", "no --config file"))
		return nil
	}
	w, err := config.NewWatcher(paths, func() (*config.Config, error) {
		return config.LoadWithCLI(args)
	}, config.WithWatchInterval(time.Second))
	if err != nil {
		slog.WarnContext(ctx, "config.watch.error", slog.String("error", err.Error()))
		return nil
	}
	w.OnChange(func(cfg *config.Config) {
		telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	})
	w.Start(ctx)
	slog.InfoContext(ctx, "config.watch.start", slog.Any("paths", paths))
	return w
}
