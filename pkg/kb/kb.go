// Package kb holds the read-only knowledge base the query primitives run
// against: concepts with subclass edges, entities with typed attributes and
// directed relation edges, plus the indexes the primitives need.
//
// A KB is built once and shared. Nothing mutates it after Build, so any
// number of goroutines may read it concurrently.
package kb

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/jllopis/kopl/pkg/kopl"
)

// Relation directions accepted by Relate.
const (
	Forward  = "forward"
	Backward = "backward"
)

// Concept is a type node. Parents lists the concepts it subclasses.
type Concept struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Parents []string `json:"parents,omitempty"`
}

// Attribute is one key/value statement on an entity.
type Attribute struct {
	Key        string                  `json:"key"`
	Value      kopl.Value              `json:"value"`
	Qualifiers map[string][]kopl.Value `json:"qualifiers,omitempty"`
}

// Entity is a named node with its direct concepts and attributes.
type Entity struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Concepts   []string    `json:"concepts,omitempty"`
	Attributes []Attribute `json:"attributes,omitempty"`
}

// Edge is a directed relation statement Source --Relation--> Target.
type Edge struct {
	Relation   string                  `json:"relation"`
	Source     string                  `json:"source"`
	Target     string                  `json:"target"`
	Qualifiers map[string][]kopl.Value `json:"qualifiers,omitempty"`
}

// KB is an indexed, immutable knowledge base.
type KB struct {
	concepts      map[string]*Concept
	conceptOrder  []string
	conceptByName map[string][]string
	children      map[string][]string

	entities map[string]*Entity
	order    []string
	byName   map[string][]string

	edges    []Edge
	forward  map[string][]int
	backward map[string][]int
}

// Stats summarises the size of a knowledge base.
type Stats struct {
	Concepts   int `json:"concepts"`
	Entities   int `json:"entities"`
	Attributes int `json:"attributes"`
	Edges      int `json:"edges"`
}

// Builder assembles a KB. Relation statements are deduplicated, so the same
// edge may be added from both of its endpoints.
type Builder struct {
	kb   *KB
	seen map[string]struct{}
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		kb: &KB{
			concepts:      make(map[string]*Concept),
			conceptByName: make(map[string][]string),
			children:      make(map[string][]string),
			entities:      make(map[string]*Entity),
			byName:        make(map[string][]string),
			forward:       make(map[string][]int),
			backward:      make(map[string][]int),
		},
		seen: make(map[string]struct{}),
	}
}

// AddConcept registers a concept. Re-adding an id merges its parents.
func (b *Builder) AddConcept(c Concept) {
	if existing, ok := b.kb.concepts[c.ID]; ok {
		for _, p := range c.Parents {
			if !slices.Contains(existing.Parents, p) {
				existing.Parents = append(existing.Parents, p)
			}
		}
		return
	}
	cp := c
	cp.Parents = slices.Clone(c.Parents)
	b.kb.concepts[c.ID] = &cp
	b.kb.conceptOrder = append(b.kb.conceptOrder, c.ID)
}

// AddEntity registers an entity. Re-adding an id replaces it.
func (b *Builder) AddEntity(e Entity) {
	cp := e
	cp.Concepts = slices.Clone(e.Concepts)
	cp.Attributes = slices.Clone(e.Attributes)
	if _, ok := b.kb.entities[e.ID]; !ok {
		b.kb.order = append(b.kb.order, e.ID)
	}
	b.kb.entities[e.ID] = &cp
}

// AddEdge registers a relation edge unless an identical one exists.
func (b *Builder) AddEdge(e Edge) {
	if len(e.Qualifiers) == 0 {
		e.Qualifiers = nil
	}
	key := edgeKey(e)
	if _, dup := b.seen[key]; dup {
		return
	}
	b.seen[key] = struct{}{}
	b.kb.edges = append(b.kb.edges, e)
}

// Build finalises the indexes and returns the KB. The builder must not be
// used afterwards.
func (b *Builder) Build() *KB {
	k := b.kb
	slices.Sort(k.order)
	slices.Sort(k.conceptOrder)

	for _, id := range k.order {
		e := k.entities[id]
		k.byName[e.Name] = append(k.byName[e.Name], id)
	}
	for _, id := range k.conceptOrder {
		c := k.concepts[id]
		k.conceptByName[c.Name] = append(k.conceptByName[c.Name], id)
		for _, p := range c.Parents {
			k.children[p] = append(k.children[p], id)
		}
	}
	for i, e := range k.edges {
		k.forward[e.Source] = append(k.forward[e.Source], i)
		k.backward[e.Target] = append(k.backward[e.Target], i)
	}
	b.kb = nil
	return k
}

func edgeKey(e Edge) string {
	q, _ := json.Marshal(e.Qualifiers)
	return strings.Join([]string{e.Relation, e.Source, e.Target, string(q)}, "\x00")
}

// EntityIDs returns every entity id in a stable order.
func (k *KB) EntityIDs() []string { return slices.Clone(k.order) }

// Entity returns an entity by id.
func (k *KB) Entity(id string) (*Entity, bool) {
	e, ok := k.entities[id]
	return e, ok
}

// Concept returns a concept by id.
func (k *KB) Concept(id string) (*Concept, bool) {
	c, ok := k.concepts[id]
	return c, ok
}

// ConceptIDs returns every concept id in a stable order.
func (k *KB) ConceptIDs() []string { return slices.Clone(k.conceptOrder) }

// Lookup returns the ids of entities named name, in stable order.
func (k *KB) Lookup(name string) []string {
	return slices.Clone(k.byName[name])
}

// Name returns the display name of an entity or concept id.
func (k *KB) Name(id string) (string, bool) {
	if e, ok := k.entities[id]; ok {
		return e.Name, true
	}
	if c, ok := k.concepts[id]; ok {
		return c.Name, true
	}
	return "", false
}

// ConceptClosure returns the ids of every concept named name together with
// all of their transitive subclasses.
func (k *KB) ConceptClosure(name string) map[string]struct{} {
	out := make(map[string]struct{})
	queue := slices.Clone(k.conceptByName[name])
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := out[id]; ok {
			continue
		}
		out[id] = struct{}{}
		queue = append(queue, k.children[id]...)
	}
	return out
}

// IsInstance reports whether entity id is a direct instance of any concept
// in closure.
func (k *KB) IsInstance(id string, closure map[string]struct{}) bool {
	e, ok := k.entities[id]
	if !ok {
		return false
	}
	for _, c := range e.Concepts {
		if _, ok := closure[c]; ok {
			return true
		}
	}
	return false
}

// Attributes returns the attribute statements of an entity for key.
func (k *KB) Attributes(id, key string) []Attribute {
	e, ok := k.entities[id]
	if !ok {
		return nil
	}
	var out []Attribute
	for _, a := range e.Attributes {
		if a.Key == key {
			out = append(out, a)
		}
	}
	return out
}

// Edges returns the relation edges leaving (forward) or entering (backward)
// id, in insertion order.
func (k *KB) Edges(id, direction string) []Edge {
	var idx []int
	switch direction {
	case Forward:
		idx = k.forward[id]
	case Backward:
		idx = k.backward[id]
	default:
		return nil
	}
	out := make([]Edge, len(idx))
	for i, n := range idx {
		out[i] = k.edges[n]
	}
	return out
}

// AllEdges returns every relation edge in insertion order.
func (k *KB) AllEdges() []Edge { return slices.Clone(k.edges) }

// Stats returns size counters.
func (k *KB) Stats() Stats {
	s := Stats{Concepts: len(k.concepts), Entities: len(k.entities), Edges: len(k.edges)}
	for _, e := range k.entities {
		s.Attributes += len(e.Attributes)
	}
	return s
}
