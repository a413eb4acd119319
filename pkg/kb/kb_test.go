package kb_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jllopis/kopl/pkg/kb"
	"github.com/jllopis/kopl/pkg/kb/kbtest"
	"github.com/jllopis/kopl/pkg/kopl"
)

func TestFixtureIndexes(t *testing.T) {
	k := kbtest.Fixture(t)

	if diff := cmp.Diff([]string{"Q1", "Q2", "Q3", "Q4", "Q5", "Q6"}, k.EntityIDs()); diff != "" {
		t.Fatalf("entity order mismatch: %s", diff)
	}
	if diff := cmp.Diff([]string{"Q1", "Q6"}, k.Lookup("Paris")); diff != "" {
		t.Fatalf("name index mismatch: %s", diff)
	}
	if got := k.Lookup("Atlantis"); len(got) != 0 {
		t.Fatalf("expected no match, got %v", got)
	}

	closure := k.ConceptClosure("city")
	for _, id := range []string{"Q1", "Q2", "Q4", "Q6"} {
		if !k.IsInstance(id, closure) {
			t.Fatalf("%s should be a city through the concept hierarchy", id)
		}
	}
	if k.IsInstance("Q3", closure) {
		t.Fatalf("France is not a city")
	}
	if !k.IsInstance("Q3", k.ConceptClosure("country")) {
		t.Fatalf("sovereign state should subclass country")
	}
}

func TestRelationEdgesAreDeduplicated(t *testing.T) {
	k := kbtest.Fixture(t)

	out := k.Edges("Q1", kb.Forward)
	if len(out) != 1 || out[0].Relation != "country" || out[0].Target != "Q3" {
		t.Fatalf("unexpected forward edges from Q1: %+v", out)
	}
	in := k.Edges("Q3", kb.Backward)
	if len(in) != 2 {
		t.Fatalf("expected two country edges into France, got %+v", in)
	}
	capital := k.Edges("Q3", kb.Forward)
	if len(capital) != 1 {
		t.Fatalf("expected one capital edge, got %+v", capital)
	}
	if diff := cmp.Diff([]kopl.Value{kopl.Year(987)}, capital[0].Qualifiers["start time"]); diff != "" {
		t.Fatalf("qualifier mismatch: %s", diff)
	}
	if k.Edges("Q3", "sideways") != nil {
		t.Fatalf("unknown direction should yield no edges")
	}
}

func TestAttributes(t *testing.T) {
	k := kbtest.Fixture(t)
	pops := k.Attributes("Q1", "population")
	if len(pops) != 2 {
		t.Fatalf("expected two population statements, got %d", len(pops))
	}
	if !kopl.DefaultPolicy.Equal(pops[0].Value, kopl.Quantity(2148000, "")) {
		t.Fatalf("unexpected population %v", pops[0].Value)
	}
	if got := k.Attributes("Q404", "population"); got != nil {
		t.Fatalf("unknown entity should have no attributes")
	}
	stats := k.Stats()
	if stats.Entities != 6 || stats.Concepts != 4 || stats.Edges != 5 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestParseRejectsBadDirection(t *testing.T) {
	_, err := kb.FromJSON([]byte(`{"entities":{"Q1":{"name":"x","relations":[{"relation":"r","direction":"up","object":"Q2"}]}}}`))
	if err == nil {
		t.Fatalf("expected error for unknown direction")
	}
}

func TestCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "kb.yaml")
	if err := os.WriteFile(src, kbtest.FixtureYAML(), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	cache, err := kb.OpenCache(filepath.Join(dir, "kb.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer cache.Close()

	ctx := context.Background()
	first, err := cache.Load(ctx, src)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	fp, ok, err := cache.Fingerprint(ctx)
	if err != nil || !ok {
		t.Fatalf("expected stored fingerprint, got %q %v %v", fp, ok, err)
	}
	if fp != kb.Fingerprint(kbtest.FixtureYAML()) {
		t.Fatalf("fingerprint mismatch")
	}

	snap, ok, err := cache.Snapshot(ctx, fp)
	if err != nil || !ok {
		t.Fatalf("snapshot: %v %v", ok, err)
	}
	if diff := cmp.Diff(first.Stats(), snap.Stats()); diff != "" {
		t.Fatalf("snapshot stats mismatch: %s", diff)
	}
	if diff := cmp.Diff(first.AllEdges(), snap.AllEdges()); diff != "" {
		t.Fatalf("snapshot edges mismatch: %s", diff)
	}
	e1, _ := first.Entity("Q1")
	e2, _ := snap.Entity("Q1")
	if diff := cmp.Diff(e1, e2); diff != "" {
		t.Fatalf("snapshot entity mismatch: %s", diff)
	}

	if _, ok, _ := cache.Snapshot(ctx, "stale"); ok {
		t.Fatalf("a different fingerprint must miss")
	}

	// Changing the source invalidates the snapshot.
	changed := append(kbtest.FixtureYAML(), []byte("\n# edited\n")...)
	if err := os.WriteFile(src, changed, 0o644); err != nil {
		t.Fatalf("rewrite source: %v", err)
	}
	if _, err := cache.Load(ctx, src); err != nil {
		t.Fatalf("reload: %v", err)
	}
	fp2, _, _ := cache.Fingerprint(ctx)
	if fp2 == fp {
		t.Fatalf("expected the snapshot to be rebuilt for the new source")
	}
}
