// Copyright 2026 © The Kopl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/jllopis/kopl/pkg/program"
)

func runExec(ctx context.Context, a *app, args []string) {
	cmd := flag.NewFlagSet("exec", flag.ContinueOnError)
	kbPath := cmd.String("kb", "", "Knowledge base file (default kb.path)")
	trace := cmd.Bool("trace", false, "Print every step result")
	auditPath := cmd.String("audit", "", "SQLite file for the step audit trail (default validate.audit_path)")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	if cmd.NArg() != 1 {
		fatal(NewInvalidArgumentError("program", "usage: kopl exec [--kb <path>] <program.json|yaml>"))
	}

	p, err := program.LoadProgram(cmd.Arg(0))
	if err != nil {
		fatal(err)
	}
	e, err := a.newEngine(ctx, *kbPath)
	if err != nil {
		fatal(err)
	}
	in := program.NewInterpreter(e)
	if err := a.attachAudit(in, *auditPath); err != nil {
		fatal(err)
	}

	tr, err := in.Run(ctx, uuid.NewString(), p)
	if tr != nil && *trace {
		printTrace(a, p, tr, os.Stdout)
	}
	if err != nil {
		fatal(err)
	}
	if a.json {
		writeJSON(os.Stdout, map[string]any{"output": tr.Output, "answer": program.Render(tr.Output)})
		return
	}
	fmt.Println(program.Render(tr.Output))
}

func printTrace(a *app, p program.Program, tr *program.Trace, w io.Writer) {
	if a.json {
		return
	}
	for i, out := range tr.Results {
		fmt.Fprintf(w, "%d: %s %q -> %s\n", i, p[i].Function, p[i].Inputs, truncateMessage(program.Render(out), 120))
	}
}

// attachAudit wires a SQLite audit store into the interpreter when a path
// is configured.
func (a *app) attachAudit(in *program.Interpreter, path string) error {
	if path == "" {
		path = a.cfg.Validate.AuditPath
	}
	if path == "" {
		return nil
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	store, err := program.NewSQLiteAuditStore(db)
	if err != nil {
		_ = db.Close()
		return err
	}
	a.closers = append(a.closers, db.Close)
	in.AuditHook = program.HookFor(store)
	return nil
}

func runValidate(ctx context.Context, a *app, args []string) {
	cmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	kbPath := cmd.String("kb", "", "Knowledge base file (default kb.path)")
	concurrency := cmd.Int("concurrency", a.cfg.Validate.Concurrency, "Samples replayed at once (0 = GOMAXPROCS)")
	auditPath := cmd.String("audit", "", "SQLite file for the step audit trail (default validate.audit_path)")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	if cmd.NArg() != 1 {
		fatal(NewInvalidArgumentError("samples", "usage: kopl validate [--kb <path>] <samples.json|yaml>"))
	}

	samples, err := program.LoadSamples(cmd.Arg(0))
	if err != nil {
		fatal(err)
	}
	e, err := a.newEngine(ctx, *kbPath)
	if err != nil {
		fatal(err)
	}
	in := program.NewInterpreter(e)
	if err := a.attachAudit(in, *auditPath); err != nil {
		fatal(err)
	}
	v := &program.Validator{Interpreter: in, Policy: a.policy(), Concurrency: *concurrency}
	report, err := v.Validate(ctx, samples)
	if err != nil {
		fatal(err)
	}
	printValidateReport(a, report, os.Stdout)
}

func printValidateReport(a *app, report program.Report, w io.Writer) {
	if a.json {
		writeJSON(w, report)
		return
	}
	if len(report.Mismatches) > 0 {
		tw := newTabWriterTo(w)
		writeRow(tw, "SAMPLE", "ANSWER", "GOT", "ERROR")
		for _, m := range report.Mismatches {
			writeRow(tw, string(m.SampleID), truncateMessage(m.Answer, 40), truncateMessage(m.Got, 40), truncateMessage(m.Error, 60))
		}
		_ = tw.Flush()
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "accuracy: %d/%d (%.2f%%)\n", report.Passed, report.Total, 100*report.Accuracy())
}
