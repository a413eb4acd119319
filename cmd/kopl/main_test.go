package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jllopis/kopl/pkg/config"
	"github.com/jllopis/kopl/pkg/kb"
	"github.com/jllopis/kopl/pkg/kb/kbtest"
	"github.com/jllopis/kopl/pkg/program"
)

func TestParseGlobalFlags(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantConfig []string
		wantJSON   bool
		wantRest   []string
		wantErr    bool
	}{
		{
			name:     "command only",
			args:     []string{"tools"},
			wantRest: []string{"tools"},
		},
		{
			name:       "config and set",
			args:       []string{"--config", "c.yaml", "--set=llm.provider=mock", "--json", "ask", "--hints"},
			wantConfig: []string{"--config", "c.yaml", "--set=llm.provider=mock"},
			wantJSON:   true,
			wantRest:   []string{"ask", "--hints"},
		},
		{
			name:       "profile",
			args:       []string{"--profile", "dev", "exec", "p.json"},
			wantConfig: []string{"--profile", "dev"},
			wantRest:   []string{"exec", "p.json"},
		},
		{name: "missing value", args: []string{"--set"}, wantErr: true},
		{name: "unknown flag", args: []string{"--verbose", "ask"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			flags, rest, err := parseGlobalFlags(tc.args)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tc.wantConfig, flags.ConfigArgs); diff != "" {
				t.Errorf("config args mismatch (-want +got):\n%s", diff)
			}
			if flags.JSON != tc.wantJSON {
				t.Errorf("json = %t, want %t", flags.JSON, tc.wantJSON)
			}
			if diff := cmp.Diff(tc.wantRest, rest); diff != "" {
				t.Errorf("rest mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFindConfigPathAndProfile(t *testing.T) {
	t.Setenv("KOPL_PROFILE", "")
	args := []string{"--config=conf/kopl.yaml", "--env", "prod", "mcp"}
	if got := findConfigPath(args); got != "conf/kopl.yaml" {
		t.Fatalf("config path = %q", got)
	}
	if got := findProfile(args); got != "prod" {
		t.Fatalf("profile = %q", got)
	}
}

// newTestApp writes the fixture knowledge base and builds an app over it.
func newTestApp(t *testing.T, sets ...string) *app {
	t.Helper()
	dir := t.TempDir()
	kbPath := filepath.Join(dir, "kb.yaml")
	if err := os.WriteFile(kbPath, kbtest.FixtureYAML(), 0o644); err != nil {
		t.Fatalf("write kb: %v", err)
	}
	args := []string{"--set", "kb.path=" + kbPath, "--set", "llm.provider=mock"}
	for _, s := range sets {
		args = append(args, "--set", s)
	}
	cfg, err := config.LoadWithCLI(args)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	a, err := newApp(cfg, globalFlags{})
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(a.close)
	return a
}

func TestAskWithMockProvider(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)
	e, err := a.newEngine(ctx, "")
	if err != nil {
		t.Fatalf("newEngine: %v", err)
	}
	loop, exemplars, err := a.newLoop(ctx, e)
	if err != nil {
		t.Fatalf("newLoop: %v", err)
	}
	if exemplars != nil {
		t.Fatalf("exemplar proposer built for the llm decision path")
	}
	if loop.MaxSteps() != 12 {
		t.Fatalf("max steps = %d", loop.MaxSteps())
	}

	var out bytes.Buffer
	if err := askOne(ctx, a, loop, nil, "Which city is the capital of France?", askOptions{}, &out); err != nil {
		t.Fatalf("askOne: %v", err)
	}
	if !strings.HasPrefix(out.String(), "Final Answer: unknown") {
		t.Fatalf("unexpected output %q", out.String())
	}

	a = newTestApp(t, "llm.mock_answer=Paris")
	loop, _, err = a.newLoop(ctx, e)
	if err != nil {
		t.Fatalf("newLoop: %v", err)
	}
	out.Reset()
	if err := askOne(ctx, a, loop, nil, "Which city is the capital of France?", askOptions{}, &out); err != nil {
		t.Fatalf("askOne: %v", err)
	}
	if !strings.HasPrefix(out.String(), "Final Answer: Paris") {
		t.Fatalf("configured answer not used: %q", out.String())
	}
}

func TestNewEngineUsesSnapshotCache(t *testing.T) {
	ctx := context.Background()
	cachePath := filepath.Join(t.TempDir(), "kb.db")
	a := newTestApp(t, "kb.cache_path="+cachePath)

	for range 2 {
		e, err := a.newEngine(ctx, "")
		if err != nil {
			t.Fatalf("newEngine: %v", err)
		}
		if len(e.KB().Lookup("Paris")) != 2 {
			t.Fatalf("expected two entities named Paris")
		}
	}

	cache, err := kb.OpenCache(cachePath)
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer cache.Close()
	status, err := inspectCache(ctx, cache, a.cfg.KB.Path)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if !status.Fresh || status.Stats == nil || status.Stats.Entities != 6 {
		t.Fatalf("unexpected cache status %+v", status)
	}
}

func TestNewEngineMissingKB(t *testing.T) {
	a := newTestApp(t)
	if _, err := a.newEngine(context.Background(), filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for a missing knowledge base")
	}
}

func TestExecWritesAuditTrail(t *testing.T) {
	ctx := context.Background()
	auditPath := filepath.Join(t.TempDir(), "audit.db")
	a := newTestApp(t, "validate.audit_path="+auditPath)
	e, err := a.newEngine(ctx, "")
	if err != nil {
		t.Fatalf("newEngine: %v", err)
	}
	in := program.NewInterpreter(e)
	if err := a.attachAudit(in, ""); err != nil {
		t.Fatalf("attachAudit: %v", err)
	}
	p := program.Program{
		{Function: "FindAll"},
		{Function: "FilterConcept", Dependencies: []int{0}, Inputs: []string{"capital city"}},
		{Function: "Count", Dependencies: []int{1}},
	}
	tr, err := in.Run(ctx, "count-capitals", p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := program.Render(tr.Output); got != "2" {
		t.Fatalf("expected 2, got %s", got)
	}
	if _, err := os.Stat(auditPath); err != nil {
		t.Fatalf("audit database not created: %v", err)
	}
}

func TestPrintValidateReport(t *testing.T) {
	a := &app{}
	report := program.Report{
		Total:  2,
		Passed: 1,
		Mismatches: []program.Mismatch{
			{SampleID: "7", Answer: "Paris", Got: "Lyon"},
		},
	}
	var out bytes.Buffer
	printValidateReport(a, report, &out)
	if !strings.Contains(out.String(), "accuracy: 1/2 (50.00%)") {
		t.Fatalf("missing accuracy line in %q", out.String())
	}
	if !strings.Contains(out.String(), "Lyon") {
		t.Fatalf("missing mismatch row in %q", out.String())
	}
}

type constantEmbedder struct{}

func (constantEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func TestNewLoopExemplarDecision(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, "agent.decision=exemplar")
	a.embedder = constantEmbedder{}
	e, err := a.newEngine(ctx, "")
	if err != nil {
		t.Fatalf("newEngine: %v", err)
	}
	loop, exemplars, err := a.newLoop(ctx, e)
	if err != nil {
		t.Fatalf("newLoop: %v", err)
	}
	if exemplars == nil {
		t.Fatalf("expected exemplar proposer")
	}
	res, err := loop.Run(ctx, "How many capital cities are there?")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Answer != "unknown" {
		t.Fatalf("expected the fallback answer, got %q", res.Answer)
	}
}
