package program

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/kopl/pkg/core"
	"github.com/jllopis/kopl/pkg/engine"
)

// Trace holds the result of every executed step. Output is the result of
// the last step.
type Trace struct {
	Results []any
	Output  any
}

// Interpreter replays programs against an engine.
type Interpreter struct {
	engine    *engine.Engine
	tracer    trace.Tracer
	AuditHook AuditHook
}

// NewInterpreter creates an interpreter over e.
func NewInterpreter(e *engine.Engine) *Interpreter {
	return &Interpreter{
		engine: e,
		tracer: otel.Tracer("kopl/program"),
	}
}

// Run executes the program in list order. Dependency results are bound to
// the primitive's set and list parameters in the order listed; inputs fill
// the literal parameters in order. Any step failure aborts the program.
func (in *Interpreter) Run(ctx context.Context, id string, p Program) (*Trace, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	runID, _ := core.RunID(ctx)
	ctx, span := in.tracer.Start(ctx, "Program.Run",
		trace.WithAttributes(
			attribute.String("program.id", id),
			attribute.Int("program.steps", len(p)),
		),
	)
	defer span.End()

	tr := &Trace{Results: make([]any, 0, len(p))}
	for i, step := range p {
		out, err := in.runStep(ctx, id, runID, i, step, tr.Results)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return tr, fmt.Errorf("step %d (%s) failed: %w", i, step.Function, err)
		}
		tr.Results = append(tr.Results, out)
	}
	tr.Output = tr.Results[len(tr.Results)-1]
	return tr, nil
}

func (in *Interpreter) runStep(ctx context.Context, id, runID string, i int, step Step, results []any) (any, error) {
	started := time.Now()
	in.emit(ctx, AuditEvent{ProgramID: id, RunID: runID, Step: i, Function: step.Function, Status: StatusStarted, StartedAt: started})

	stepCtx, span := in.tracer.Start(ctx, "Program.Step",
		trace.WithAttributes(
			attribute.Int("step.index", i),
			attribute.String("step.function", step.Function),
		),
	)
	out, err := in.call(i, step, results)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	event := AuditEvent{ProgramID: id, RunID: runID, Step: i, Function: step.Function, StartedAt: started, FinishedAt: time.Now()}
	if err != nil {
		event.Status = StatusFailed
		event.Error = err.Error()
	} else {
		event.Status = StatusCompleted
		event.Output = out
	}
	in.emit(stepCtx, event)
	return out, err
}

func (in *Interpreter) call(i int, step Step, results []any) (any, error) {
	sig, err := bind(i, step)
	if err != nil {
		return nil, err
	}
	args := make([]any, len(sig.Params))
	deps, inputs := step.Dependencies, step.Inputs
	for j, param := range sig.Params {
		if param.Kind == engine.KindString {
			args[j], inputs = inputs[0], inputs[1:]
			continue
		}
		d := deps[0]
		deps = deps[1:]
		if d < 0 || d >= len(results) {
			return nil, dependencyError(i, step, d)
		}
		args[j] = results[d]
	}
	return in.engine.Call(step.Function, args)
}

func (in *Interpreter) emit(ctx context.Context, event AuditEvent) {
	if in.AuditHook != nil {
		in.AuditHook(ctx, event)
	}
}
