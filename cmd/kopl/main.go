// Copyright 2026 © The Kopl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/jllopis/kopl/pkg/config"
	"github.com/jllopis/kopl/pkg/telemetry"
)

const version = "dev"

type globalFlags struct {
	ConfigArgs []string
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(NewInvalidArgumentError("flags", err.Error()))
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	cfg, err := config.LoadWithCLI(global.ConfigArgs)
	if err != nil {
		fatal(NewConfigError(err, findConfigPath(global.ConfigArgs)))
	}
	// stdout carries answers and the MCP protocol; logs go to stderr.
	telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	cmd := args[0]
	switch cmd {
	case "help":
		printUsage()
		return
	case "version":
		fmt.Println(version)
		return
	case "tools":
		runTools(global, args[1:])
		return
	}

	a, err := newApp(cfg, global)
	if err != nil {
		fatal(err)
	}
	defer a.close()

	switch cmd {
	case "ask":
		runAsk(ctx, a, args[1:])
	case "exec":
		runExec(ctx, a, args[1:])
	case "validate":
		runValidate(ctx, a, args[1:])
	case "mcp":
		runMCP(ctx, a, args[1:])
	case "cache":
		runCache(ctx, a, args[1:])
	default:
		fatal(NewInvalidArgumentError("command", fmt.Sprintf("unknown command %q", cmd)))
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var flags globalFlags
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--config" || arg == "--set" || arg == "--profile" || arg == "--env":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for %s", arg)
			}
			flags.ConfigArgs = append(flags.ConfigArgs, arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "--config="), strings.HasPrefix(arg, "--set="),
			strings.HasPrefix(arg, "--profile="), strings.HasPrefix(arg, "--env="):
			flags.ConfigArgs = append(flags.ConfigArgs, arg)
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

// findConfigPath extracts the config path from CLI args.
func findConfigPath(args []string) string {
	for i, arg := range args {
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if value, ok := strings.CutPrefix(arg, "--config="); ok {
			return value
		}
	}
	return ""
}

// findProfile extracts the profile name from CLI args.
func findProfile(args []string) string {
	profile := os.Getenv(config.EnvPrefix + "PROFILE")
	for i, arg := range args {
		if (arg == "--profile" || arg == "--env") && i+1 < len(args) {
			profile = args[i+1]
		}
		if value, ok := strings.CutPrefix(arg, "--profile="); ok {
			profile = value
		}
		if value, ok := strings.CutPrefix(arg, "--env="); ok {
			profile = value
		}
	}
	return profile
}

func writeJSON(w io.Writer, value any) {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Fprintln(w, string(payload))
}

func newTabWriterTo(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
}

func writeRow(writer *tabwriter.Writer, cols ...string) {
	for i, col := range cols {
		cols[i] = normalizeCell(col)
	}
	fmt.Fprintln(writer, strings.Join(cols, "\t"))
}

func normalizeCell(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return strings.Join(strings.Fields(value), " ")
}

func truncateMessage(value string, limit int) string {
	value = normalizeCell(value)
	if limit <= 0 || len(value) <= limit {
		return value
	}
	if limit <= 3 {
		return value[:limit]
	}
	return value[:limit-3] + "..."
}

func printUsage() {
	fmt.Println(`kopl: question answering over a knowledge base with KoPL programs

Usage:
  kopl [global flags] <command> [args]

Global flags:
  --config <path>      Path to config.yaml
  --profile <name>     Load config.<name>.yaml over the base file
  --set key=value      Override config (repeatable)
  --json               JSON output

Commands:
  ask [--kb <path>] [--trace] [--record] [question...]
  ask --samples <file> [--hints] [--kb <path>]
  exec [--kb <path>] [--trace] [--audit <db>] <program.json|yaml>
  validate [--kb <path>] [--concurrency N] [--audit <db>] <samples.json|yaml>
  tools
  mcp [--kb <path>] [--watch]
  cache build|inspect [--kb <path>] [--cache <db>]
  version`)
}

func fatal(err error) {
	if cliErr, ok := err.(*CLIError); ok {
		cliErr.PrintError(false)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
