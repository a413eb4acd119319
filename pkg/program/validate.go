// Copyright 2026 © The Kopl Authors
// SPDX-License-Identifier: Apache-2.0

package program

import (
	"context"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/jllopis/kopl/pkg/kopl"
)

// Mismatch is a sample whose replayed output differs from its answer.
type Mismatch struct {
	SampleID SampleID `json:"sample_id"`
	Question string   `json:"question,omitempty"`
	Answer   string   `json:"answer"`
	Got      string   `json:"got,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Report summarizes a batch validation.
type Report struct {
	Total      int        `json:"total"`
	Passed     int        `json:"passed"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
}

// Accuracy is the fraction of samples that matched.
func (r Report) Accuracy() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Passed) / float64(r.Total)
}

// Validator replays annotated samples and compares outputs with answers.
type Validator struct {
	Interpreter *Interpreter
	Policy      kopl.Policy
	// Concurrency bounds the samples replayed at once. Zero means GOMAXPROCS.
	Concurrency int
}

// Validate replays every sample. Sample failures are reported as
// mismatches; only context cancellation aborts the batch. Mismatches keep
// the input order.
func (v *Validator) Validate(ctx context.Context, samples []Sample) (Report, error) {
	limit := v.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	outcomes := make([]*Mismatch, len(samples))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, sample := range samples {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = v.check(gctx, sample)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	report := Report{Total: len(samples)}
	for _, m := range outcomes {
		if m == nil {
			report.Passed++
			continue
		}
		report.Mismatches = append(report.Mismatches, *m)
	}
	return report, nil
}

func (v *Validator) check(ctx context.Context, sample Sample) *Mismatch {
	m := &Mismatch{SampleID: sample.ID, Question: sample.Question, Answer: sample.Answer}
	tr, err := v.Interpreter.Run(ctx, string(sample.ID), sample.Program)
	if err != nil {
		m.Error = err.Error()
		slog.WarnContext(ctx, "program.validate.error", "sample_id", sample.ID, "error", err)
		return m
	}
	if MatchAnswer(sample.Answer, tr.Output, v.Policy) {
		return nil
	}
	m.Got = Render(tr.Output)
	slog.InfoContext(ctx, "program.validate.mismatch", "sample_id", sample.ID, "answer", sample.Answer, "got", m.Got)
	return m
}
