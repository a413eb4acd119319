// Copyright 2026 © The Kopl Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jllopis/kopl/pkg/kopl"
	"github.com/jllopis/kopl/pkg/program"
)

// Hints lists the literal inputs of a program, the relations and entities a
// question links to.
func Hints(p program.Program) string {
	var quoted []string
	for _, step := range p {
		for _, in := range step.Inputs {
			quoted = append(quoted, "'"+in+"'")
		}
	}
	return fmt.Sprintf("Related relations and entities are [%s]", strings.Join(quoted, ", "))
}

// WithHints appends the linked hints of p to question.
func WithHints(question string, p program.Program) string {
	return question + "\n" + Hints(p)
}

// EvalRecord is the outcome of one evaluated sample.
type EvalRecord struct {
	SampleID program.SampleID `json:"sample_id"`
	Question string           `json:"question"`
	Expected string           `json:"expected"`
	Result   *Result          `json:"result"`
	Correct  bool             `json:"correct"`
	Error    string           `json:"error,omitempty"`
}

// EvalReport summarizes an evaluation.
type EvalReport struct {
	Total   int          `json:"total"`
	Correct int          `json:"correct"`
	Records []EvalRecord `json:"records"`
}

// Accuracy returns the fraction of samples answered correctly.
func (r EvalReport) Accuracy() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Correct) / float64(r.Total)
}

// Evaluate asks every sample question in order and compares the final
// answer with the annotated one. With hints set the program inputs are
// appended to each question.
func Evaluate(ctx context.Context, l *Loop, samples []program.Sample, hints bool, policy kopl.Policy) (EvalReport, error) {
	report := EvalReport{Records: make([]EvalRecord, 0, len(samples))}
	for _, s := range samples {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		question := s.Question
		if hints {
			question = WithHints(question, s.Program)
		}
		rec := EvalRecord{SampleID: s.ID, Question: s.Question, Expected: s.Answer}
		res, err := l.Run(ctx, question)
		rec.Result = res
		if err != nil {
			rec.Error = err.Error()
		} else if res.Termination == TerminationAnswer {
			rec.Correct = program.MatchAnswer(s.Answer, res.Answer, policy)
		}
		report.Total++
		if rec.Correct {
			report.Correct++
		}
		slog.InfoContext(ctx, "agent.eval.sample",
			slog.String("sample_id", string(s.ID)),
			slog.String("answer", res.Answer),
			slog.String("expected", s.Answer),
			slog.Bool("correct", rec.Correct),
		)
		report.Records = append(report.Records, rec)
	}
	return report, nil
}
