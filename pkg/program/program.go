// Package program models query programs and replays them against the
// primitive engine.
//
// A Program is an ordered list of steps. Each step names a primitive, the
// earlier steps whose results it consumes, and its literal inputs. Steps are
// already in dependency order; the output of the last step is the output of
// the program.
package program

import (
	"encoding/json"
	"fmt"

	kerrors "github.com/jllopis/kopl/pkg/errors"
	"github.com/jllopis/kopl/pkg/engine"
)

// Step is one primitive invocation.
type Step struct {
	Function     string   `json:"function" yaml:"function"`
	Dependencies []int    `json:"dependencies" yaml:"dependencies"`
	Inputs       []string `json:"inputs" yaml:"inputs"`
}

// Program is an ordered list of steps.
type Program []Step

// Sample is an annotated question with its gold program and answer.
type Sample struct {
	ID       SampleID `json:"sample_id" yaml:"sample_id"`
	Question string   `json:"question" yaml:"question"`
	Answer   string   `json:"answer" yaml:"answer"`
	Program  Program  `json:"program" yaml:"program"`
}

// SampleID identifies a sample. Annotation files use both numbers and
// strings.
type SampleID string

func (id *SampleID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = SampleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("sample_id: %w", err)
	}
	*id = SampleID(n.String())
	return nil
}

// Validate checks that the program is non-empty, every function exists,
// arities match and every dependency points to an earlier step.
func (p Program) Validate() error {
	if len(p) == 0 {
		return kerrors.Newf(kerrors.CodeInvalidInput, "program has no steps")
	}
	for i, step := range p {
		if _, err := bind(i, step); err != nil {
			return err
		}
		for _, d := range step.Dependencies {
			if d < 0 || d >= i {
				return dependencyError(i, step, d)
			}
		}
	}
	return nil
}

// bind checks a step against its primitive signature.
func bind(i int, step Step) (engine.Signature, error) {
	sig, ok := engine.Lookup(step.Function)
	if !ok {
		return engine.Signature{}, kerrors.Newf(kerrors.CodeUnknownFunction,
			"step %d: unknown function %q", i, step.Function).
			WithContext("step", i)
	}
	if len(step.Dependencies) != sig.Dependencies() || len(step.Inputs) != sig.Inputs() {
		return engine.Signature{}, kerrors.Newf(kerrors.CodeArityMismatch,
			"step %d: %s takes %d dependencies and %d inputs, got %d and %d",
			i, step.Function, sig.Dependencies(), sig.Inputs(), len(step.Dependencies), len(step.Inputs)).
			WithContext("step", i)
	}
	return sig, nil
}

func dependencyError(i int, step Step, d int) error {
	return kerrors.Newf(kerrors.CodeInvalidInput,
		"step %d (%s): dependency %d is not an earlier step", i, step.Function, d).
		WithContext("step", i)
}

// String renders the program as a chain of calls, one step per line.
func (p Program) String() string {
	out := ""
	for i, step := range p {
		out += fmt.Sprintf("%d: %s(deps=%v, inputs=%q)\n", i, step.Function, step.Dependencies, step.Inputs)
	}
	return out
}
