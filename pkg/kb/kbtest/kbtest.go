// Package kbtest provides a small in-memory knowledge base for tests.
//
// The fixture has two cities named Paris (Q1 is a capital, Q6 is not), Lyon,
// Berlin, France and Germany, with populations qualified by point in time and
// capital relations qualified by start time.
package kbtest

import (
	_ "embed"
	"testing"

	"github.com/jllopis/kopl/pkg/kb"
)

//go:embed fixture.yaml
var fixtureYAML []byte

// FixtureYAML returns the raw fixture document.
func FixtureYAML() []byte {
	out := make([]byte, len(fixtureYAML))
	copy(out, fixtureYAML)
	return out
}

// Fixture parses the fixture knowledge base or fails the test.
func Fixture(tb testing.TB) *kb.KB {
	tb.Helper()
	k, err := kb.FromYAML(fixtureYAML)
	if err != nil {
		tb.Fatalf("load fixture kb: %v", err)
	}
	return k
}

// Letters builds the three-entity knowledge base A, B, C where only A and B
// are instances of concept X.
func Letters() *kb.KB {
	b := kb.NewBuilder()
	b.AddConcept(kb.Concept{ID: "X", Name: "X"})
	b.AddConcept(kb.Concept{ID: "Y", Name: "Y"})
	b.AddEntity(kb.Entity{ID: "a", Name: "A", Concepts: []string{"X"}})
	b.AddEntity(kb.Entity{ID: "b", Name: "B", Concepts: []string{"X"}})
	b.AddEntity(kb.Entity{ID: "c", Name: "C", Concepts: []string{"Y"}})
	return b.Build()
}
