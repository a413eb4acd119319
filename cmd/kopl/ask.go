// Copyright 2026 © The Kopl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/jllopis/kopl/pkg/agent"
	"github.com/jllopis/kopl/pkg/program"
)

type askOptions struct {
	trace  bool
	record bool
}

func runAsk(ctx context.Context, a *app, args []string) {
	cmd := flag.NewFlagSet("ask", flag.ContinueOnError)
	kbPath := cmd.String("kb", "", "Knowledge base file (default kb.path)")
	samplesPath := cmd.String("samples", "", "Evaluate the agent on annotated samples")
	hints := cmd.Bool("hints", false, "Append related relations and entities from each sample program")
	trace := cmd.Bool("trace", false, "Print every step of the run")
	record := cmd.Bool("record", false, "Record answered runs as exemplars (agent.decision=exemplar)")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	if *hints && *samplesPath == "" {
		fatal(NewInvalidArgumentError("hints", "--hints needs --samples"))
	}

	e, err := a.newEngine(ctx, *kbPath)
	if err != nil {
		fatal(err)
	}
	loop, exemplars, err := a.newLoop(ctx, e)
	if err != nil {
		fatal(err)
	}
	if *record && exemplars == nil {
		fatal(NewInvalidArgumentError("record", "--record needs agent.decision=exemplar"))
	}
	opts := askOptions{trace: *trace, record: *record}

	if *samplesPath != "" {
		runEval(ctx, a, loop, exemplars, *samplesPath, *hints, opts)
		return
	}

	if question := strings.TrimSpace(strings.Join(cmd.Args(), " ")); question != "" {
		if err := askOne(ctx, a, loop, exemplars, question, opts, os.Stdout); err != nil {
			fatal(NewOracleError(err, a.cfg.LLM.Provider))
		}
		return
	}

	fd := os.Stdin.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		runREPL(ctx, a, loop, exemplars, opts)
		return
	}
	runPipeMode(ctx, a, loop, exemplars, opts)
}

// askOne runs one question and prints the outcome. The returned error is an
// oracle failure; the partial run has been printed already.
func askOne(ctx context.Context, a *app, loop *agent.Loop, exemplars *agent.ExemplarProposer, question string, opts askOptions, w io.Writer) error {
	res, err := loop.Run(ctx, question)
	if res != nil {
		printResult(a, res, opts.trace, w)
	}
	if err != nil {
		return err
	}
	if opts.record && exemplars != nil && res.Termination == agent.TerminationAnswer {
		n, err := exemplars.Record(ctx, res)
		if err != nil {
			slog.WarnContext(ctx, "agent.exemplar.record_error", slog.String("error", err.Error()))
		} else {
			slog.InfoContext(ctx, "agent.exemplar.recorded", slog.Int("count", n))
		}
	}
	return nil
}

func printResult(a *app, res *agent.Result, trace bool, w io.Writer) {
	if a.json {
		writeJSON(w, res)
		return
	}
	if trace {
		for i, step := range res.History {
			if step.Final {
				continue
			}
			status := "ok"
			if step.Failed {
				status = "failed"
			}
			tool := ""
			if step.Action != nil {
				tool = step.Action.Tool + " " + string(step.Action.Args)
			}
			fmt.Fprintf(w, "[%d] %s (%s)\n    %s\n    -> %s\n", i+1, tool, status, step.Thought, step.Result)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, res.Output)
}

func runREPL(ctx context.Context, a *app, loop *agent.Loop, exemplars *agent.ExemplarProposer, opts askOptions) {
	fmt.Println("Ask a question. Type 'exit' or Ctrl+C to quit.")
	fmt.Println("---")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")

		select {
		case <-ctx.Done():
			fmt.Println()
			return
		default:
		}

		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		switch strings.ToLower(input) {
		case "exit", "quit", "/exit", "/quit":
			return
		case "/tools":
			printToolList(os.Stdout)
			continue
		}

		if err := askOne(ctx, a, loop, exemplars, input, opts, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			if errors.Is(err, context.Canceled) {
				return
			}
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
	}
}

// runPipeMode answers one question per input line.
func runPipeMode(ctx context.Context, a *app, loop *agent.Loop, exemplars *agent.ExemplarProposer, opts askOptions) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if err := askOne(ctx, a, loop, exemplars, input, opts, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func runEval(ctx context.Context, a *app, loop *agent.Loop, exemplars *agent.ExemplarProposer, path string, hints bool, opts askOptions) {
	samples, err := program.LoadSamples(path)
	if err != nil {
		fatal(NewInvalidArgumentError("samples", err.Error()))
	}
	report, err := agent.Evaluate(ctx, loop, samples, hints, a.policy())
	if err != nil {
		fatal(err)
	}
	if opts.record && exemplars != nil {
		stored := 0
		for _, rec := range report.Records {
			if !rec.Correct || rec.Result == nil {
				continue
			}
			n, err := exemplars.Record(ctx, rec.Result)
			if err != nil {
				slog.WarnContext(ctx, "agent.exemplar.record_error",
					slog.String("sample_id", string(rec.SampleID)),
					slog.String("error", err.Error()),
				)
				continue
			}
			stored += n
		}
		slog.InfoContext(ctx, "agent.exemplar.recorded", slog.Int("count", stored))
	}
	printEvalReport(a, report, os.Stdout)
}

func printEvalReport(a *app, report agent.EvalReport, w io.Writer) {
	if a.json {
		writeJSON(w, report)
		return
	}
	tw := newTabWriterTo(w)
	writeRow(tw, "SAMPLE", "CORRECT", "STEPS", "ANSWER", "EXPECTED")
	for _, rec := range report.Records {
		answer, steps := rec.Error, 0
		if rec.Result != nil {
			steps = len(rec.Result.History)
			if rec.Error == "" {
				answer = rec.Result.Answer
				if rec.Result.Termination == agent.TerminationBudget {
					answer = agent.TooManySteps
				}
			}
		}
		writeRow(tw, string(rec.SampleID), fmt.Sprintf("%t", rec.Correct), fmt.Sprintf("%d", steps),
			truncateMessage(answer, 60), truncateMessage(rec.Expected, 60))
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\naccuracy: %d/%d (%.2f%%)\n", report.Correct, report.Total, 100*report.Accuracy())
}
