// Copyright 2026 © The Kopl Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jllopis/kopl/pkg/engine"
	kerrors "github.com/jllopis/kopl/pkg/errors"
	"github.com/jllopis/kopl/pkg/kb"
	"github.com/jllopis/kopl/pkg/kb/kbtest"
	"github.com/jllopis/kopl/pkg/kopl"
)

func fixtureSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	return NewSession(engine.New(kbtest.Fixture(t)), opts...)
}

func mustInvoke(t *testing.T, s *Session, name, args string) Outcome {
	t.Helper()
	out := s.Invoke(context.Background(), name, json.RawMessage(args))
	if out.Err != nil {
		t.Fatalf("%s(%s) failed: %v", name, args, out.Err)
	}
	return out
}

func TestCatalogMatchesRegistry(t *testing.T) {
	specs := Catalog()
	if len(specs) != 27 {
		t.Fatalf("expected 27 tools, got %d", len(specs))
	}
	kinds := map[string]engine.ParamKind{
		TypeTuple:  engine.KindEntities,
		TypeList:   engine.KindValues,
		TypeString: engine.KindString,
	}
	seen := map[string]bool{}
	for _, spec := range specs {
		seen[spec.Name] = true
		sig, ok := engine.Lookup(spec.Name)
		if !ok {
			t.Fatalf("catalog tool %s has no primitive", spec.Name)
		}
		if len(sig.Params) != len(spec.RequiredParameters) {
			t.Fatalf("%s: %d catalog parameters, %d primitive parameters", spec.Name, len(spec.RequiredParameters), len(sig.Params))
		}
		for i, p := range spec.RequiredParameters {
			if sig.Params[i].Name != p.Name || sig.Params[i].Kind != kinds[p.Type] {
				t.Fatalf("%s parameter %d: catalog %s/%s, primitive %s/%s", spec.Name, i, p.Name, p.Type, sig.Params[i].Name, sig.Params[i].Kind)
			}
		}
	}
	for _, name := range engine.Names() {
		if !seen[name] {
			t.Fatalf("primitive %s missing from catalog", name)
		}
	}
}

func TestDefinitions(t *testing.T) {
	defs := Definitions()
	if len(defs) != 27 || defs[0].Function.Name != "Find" {
		t.Fatalf("unexpected definitions: %d, first %q", len(defs), defs[0].Function.Name)
	}
	raw, err := json.Marshal(defs)
	if err != nil {
		t.Fatalf("marshal definitions: %v", err)
	}
	if !strings.Contains(string(raw), LastStepResult) {
		t.Fatalf("expected sentinel to be advertised in entity parameters")
	}
}

func TestSentinelReusesPreviousResult(t *testing.T) {
	s := fixtureSession(t)
	all := mustInvoke(t, s, "FindAll", `{}`)
	last, ok := s.Last()
	if !ok {
		t.Fatalf("expected a last result")
	}
	if diff := cmp.Diff(all.Result.(kopl.EntitySet).IDs(), last.(kopl.EntitySet).IDs()); diff != "" {
		t.Fatalf("last result mismatch: %s", diff)
	}

	out := mustInvoke(t, s, "FilterStr", `{"entities":"Last step result","key":"nickname","value":"City of Light"}`)
	if diff := cmp.Diff([]string{"Q1"}, out.Result.(kopl.EntitySet).IDs()); diff != "" {
		t.Fatalf("FilterStr mismatch: %s", diff)
	}

	// The sentinel binds to the latest result, not to a fresh FindAll.
	mustInvoke(t, s, "Find", `{"name":"Lyon"}`)
	out = mustInvoke(t, s, "FilterStr", `{"entities":"Last step result","key":"nickname","value":"City of Light"}`)
	if got := out.Result.(kopl.EntitySet).Len(); got != 0 {
		t.Fatalf("expected no match among Lyon, got %d", got)
	}
}

func TestSentinelWithoutHistory(t *testing.T) {
	s := fixtureSession(t)
	out := s.Invoke(context.Background(), "Count", json.RawMessage(`{"entities":"Last step result"}`))
	if !kerrors.HasCode(out.Err, kerrors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", out.Err)
	}
}

func TestSentinelForValues(t *testing.T) {
	s := fixtureSession(t)
	mustInvoke(t, s, "Find", `{"name":"France"}`)
	mustInvoke(t, s, "QueryAttr", `{"entities":"Last step result","key":"official language"}`)
	out := mustInvoke(t, s, "VerifyStr", `{"s_value":"Last step result","t_value":"French"}`)
	if out.Result != kopl.Yes || out.Display != "yes" {
		t.Fatalf("expected yes, got %v (%s)", out.Result, out.Display)
	}
}

func TestEntitySetShapesAreEquivalent(t *testing.T) {
	s := fixtureSession(t)
	record := mustInvoke(t, s, "FilterConcept", `{"entities":{"ids":["Q1","Q6"],"triples":null},"concept_name":"capital city"}`)
	pair := mustInvoke(t, s, "FilterConcept", `{"entities":[["Q1","Q6"],null],"concept_name":"capital city"}`)
	if diff := cmp.Diff(record.Display, pair.Display); diff != "" {
		t.Fatalf("shape mismatch: %s", diff)
	}
	if record.Display != `{"ids":["Q1"],"triples":null}` {
		t.Fatalf("unexpected display %s", record.Display)
	}
}

func TestInvokeErrorsAreOutcomes(t *testing.T) {
	cases := []struct {
		name string
		tool string
		args string
		code kerrors.ErrorCode
	}{
		{"unknown tool", "Teleport", `{}`, kerrors.CodeUnknownFunction},
		{"missing argument", "Find", `{}`, kerrors.CodeArityMismatch},
		{"unexpected argument", "FindAll", `{"name":"Paris"}`, kerrors.CodeArityMismatch},
		{"qualifier filter on plain set", "QFilterStr", `{"entities":{"ids":["Q1"],"triples":null},"qkey":"point in time","qvalue":"x"}`, kerrors.CodeTypeMismatch},
		{"bad entity payload", "Count", `{"entities":42}`, kerrors.CodeTypeMismatch},
		{"not an object", "Count", `[1,2]`, kerrors.CodeInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := fixtureSession(t)
			mustInvoke(t, s, "FindAll", `{}`)
			before, _ := s.Last()

			out := s.Invoke(context.Background(), tc.tool, json.RawMessage(tc.args))
			if got := kerrors.CodeOf(out.Err); got != tc.code {
				t.Fatalf("expected %s, got %s (%v)", tc.code, got, out.Err)
			}
			if !strings.HasPrefix(out.Display, "Error executing tool "+tc.tool+": ") {
				t.Fatalf("unexpected display %q", out.Display)
			}
			after, _ := s.Last()
			if after.(kopl.EntitySet).Len() != before.(kopl.EntitySet).Len() {
				t.Fatalf("failed call must not replace the last result")
			}
		})
	}
}

func TestFunctionsPrefixAndLiteralNumbers(t *testing.T) {
	s := fixtureSession(t)
	mustInvoke(t, s, "functions.FindAll", `{}`)
	out := mustInvoke(t, s, "functions.FilterNum", `{"entities":"Last step result","key":"population","value":3000000,"op":">"}`)
	if out.Tool != "FilterNum" {
		t.Fatalf("expected normalized tool name, got %q", out.Tool)
	}
	if diff := cmp.Diff([]string{"Q4"}, out.Result.(kopl.EntitySet).IDs()); diff != "" {
		t.Fatalf("FilterNum mismatch: %s", diff)
	}
	// Arguments encoded as a JSON string are unwrapped.
	out = mustInvoke(t, s, "Find", `"{\"name\":\"Berlin\"}"`)
	if diff := cmp.Diff([]string{"Q4"}, out.Result.(kopl.EntitySet).IDs()); diff != "" {
		t.Fatalf("Find mismatch: %s", diff)
	}
}

func manyEntities(n int) *kb.KB {
	b := kb.NewBuilder()
	b.AddConcept(kb.Concept{ID: "C", Name: "thing"})
	for i := range n {
		b.AddEntity(kb.Entity{ID: fmt.Sprintf("E%03d", i), Name: fmt.Sprintf("thing %d", i), Concepts: []string{"C"}})
	}
	return b.Build()
}

func TestDisplayTruncation(t *testing.T) {
	s := NewSession(engine.New(manyEntities(100)))
	out := mustInvoke(t, s, "FindAll", `{}`)
	want := `Result is too long, 100 items returned. Preceding examples: (["E000","E001","E002","E003","E004"], null).`
	if out.Display != want {
		t.Fatalf("unexpected display:\n got %s\nwant %s", out.Display, want)
	}
	if got := out.Result.(kopl.EntitySet).Len(); got != 100 {
		t.Fatalf("full result must keep every id, got %d", got)
	}

	names := mustInvoke(t, s, "QueryName", `{"entities":"Last step result"}`)
	if !strings.HasPrefix(names.Display, `Result is too long, 100 items returned. Preceding examples: ["thing 0",`) {
		t.Fatalf("unexpected names display %s", names.Display)
	}

	small := NewSession(engine.New(manyEntities(3)), WithDisplayLimit(10), WithPreviewItems(2))
	out = mustInvoke(t, small, "FindAll", `{}`)
	if out.Display != `Result is too long, 3 items returned. Preceding examples: (["E000","E001"], null).` {
		t.Fatalf("unexpected display %s", out.Display)
	}
}

func TestDisplayProvenancedPreview(t *testing.T) {
	set, err := kopl.NewProvenanced(
		[]string{"Q1", "Q2"},
		[]kopl.Triple{
			{EntityID: "Q1", Key: "area", Value: kopl.Quantity(1, "1")},
			{EntityID: "Q2", Key: "area", Value: kopl.Quantity(2, "1")},
		},
	)
	if err != nil {
		t.Fatalf("build set: %v", err)
	}
	got := Display(set, 10, 1)
	if !strings.HasPrefix(got, `Result is too long, 2 items returned. Preceding examples: (["Q1"], [{"entity_id":"Q1"`) {
		t.Fatalf("unexpected display %s", got)
	}
}
