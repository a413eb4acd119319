// Package engine implements the query primitives over a knowledge base.
//
// Every primitive is a pure read of the KB. Unknown names, keys and relations
// are not errors: they produce empty results. Errors are reserved for
// malformed arguments (unparseable literals, unknown operators) and for shape
// mismatches such as a qualifier filter on a set without provenance.
package engine

import (
	"slices"

	kerrors "github.com/jllopis/kopl/pkg/errors"
	"github.com/jllopis/kopl/pkg/kb"
	"github.com/jllopis/kopl/pkg/kopl"
)

// TiePolicy decides what SelectAmong returns when several entities share the
// extreme value.
type TiePolicy string

const (
	// TieAll returns every tied entity in input order.
	TieAll TiePolicy = "all"
	// TieFirst returns only the first tied entity in input order.
	TieFirst TiePolicy = "first"
)

// Engine evaluates primitives against one knowledge base.
type Engine struct {
	kb     *kb.KB
	policy kopl.Policy
	ties   TiePolicy
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy sets the value comparison policy.
func WithPolicy(p kopl.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithTiePolicy sets the SelectAmong tie policy.
func WithTiePolicy(t TiePolicy) Option {
	return func(e *Engine) {
		if t != "" {
			e.ties = t
		}
	}
}

// New returns an engine over k.
func New(k *kb.KB, opts ...Option) *Engine {
	e := &Engine{kb: k, policy: kopl.DefaultPolicy, ties: TieAll}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// KB returns the knowledge base the engine reads.
func (e *Engine) KB() *kb.KB { return e.kb }

// Policy returns the comparison policy in use.
func (e *Engine) Policy() kopl.Policy { return e.policy }

// Find returns the entities named name.
func (e *Engine) Find(name string) kopl.Plain {
	return kopl.NewPlain(e.kb.Lookup(name)...)
}

// FindAll returns every entity.
func (e *Engine) FindAll() kopl.Plain {
	return kopl.NewPlain(e.kb.EntityIDs()...)
}

// FilterConcept keeps the entities that are instances of concept or of any of
// its subclasses. Input order and duplicates are preserved.
func (e *Engine) FilterConcept(set kopl.EntitySet, concept string) kopl.Plain {
	closure := e.kb.ConceptClosure(concept)
	var out []string
	for _, id := range set.IDs() {
		if e.kb.IsInstance(id, closure) {
			out = append(out, id)
		}
	}
	return kopl.NewPlain(out...)
}

// FilterStr keeps entities with a string attribute key equal to value.
func (e *Engine) FilterStr(set kopl.EntitySet, key, value string) kopl.Provenanced {
	return e.filterAttribute(set, key, kopl.String(value), kopl.OpEq)
}

// FilterNum keeps entities whose quantity attribute key satisfies op value.
func (e *Engine) FilterNum(set kopl.EntitySet, key, value, op string) (kopl.Provenanced, error) {
	return e.filterTyped(set, key, kopl.TypeQuantity, value, op)
}

// FilterYear keeps entities whose year (or date) attribute key satisfies op value.
func (e *Engine) FilterYear(set kopl.EntitySet, key, value, op string) (kopl.Provenanced, error) {
	return e.filterTyped(set, key, kopl.TypeYear, value, op)
}

// FilterDate keeps entities whose date attribute key satisfies op value.
func (e *Engine) FilterDate(set kopl.EntitySet, key, value, op string) (kopl.Provenanced, error) {
	return e.filterTyped(set, key, kopl.TypeDate, value, op)
}

func (e *Engine) filterTyped(set kopl.EntitySet, key string, typ kopl.ValueType, value, op string) (kopl.Provenanced, error) {
	target, err := kopl.ParseValue(typ, value)
	if err != nil {
		return kopl.Provenanced{}, err
	}
	o, err := kopl.ParseOp(op)
	if err != nil {
		return kopl.Provenanced{}, err
	}
	return e.filterAttribute(set, key, target, o), nil
}

// filterAttribute emits one (id, triple) pair per matching attribute statement.
func (e *Engine) filterAttribute(set kopl.EntitySet, key string, target kopl.Value, op kopl.Op) kopl.Provenanced {
	var b kopl.ProvenanceBuilder
	for _, id := range set.IDs() {
		for _, attr := range e.kb.Attributes(id, key) {
			if e.policy.Satisfies(attr.Value, op, target) {
				b.Add(id, kopl.Triple{EntityID: id, Key: attr.Key, Value: attr.Value, Qualifiers: attr.Qualifiers})
			}
		}
	}
	return b.Build()
}

// QFilterStr narrows a provenanced set to triples with qualifier qkey equal
// to qvalue.
func (e *Engine) QFilterStr(set kopl.EntitySet, qkey, qvalue string) (kopl.Provenanced, error) {
	return e.filterQualifier(set, qkey, kopl.String(qvalue), kopl.OpEq)
}

// QFilterNum narrows by a quantity qualifier.
func (e *Engine) QFilterNum(set kopl.EntitySet, qkey, qvalue, op string) (kopl.Provenanced, error) {
	return e.qfilterTyped(set, qkey, kopl.TypeQuantity, qvalue, op)
}

// QFilterYear narrows by a year qualifier.
func (e *Engine) QFilterYear(set kopl.EntitySet, qkey, qvalue, op string) (kopl.Provenanced, error) {
	return e.qfilterTyped(set, qkey, kopl.TypeYear, qvalue, op)
}

// QFilterDate narrows by a date qualifier.
func (e *Engine) QFilterDate(set kopl.EntitySet, qkey, qvalue, op string) (kopl.Provenanced, error) {
	return e.qfilterTyped(set, qkey, kopl.TypeDate, qvalue, op)
}

func (e *Engine) qfilterTyped(set kopl.EntitySet, qkey string, typ kopl.ValueType, qvalue, op string) (kopl.Provenanced, error) {
	if _, err := provenanced(set, qkey); err != nil {
		return kopl.Provenanced{}, err
	}
	target, err := kopl.ParseValue(typ, qvalue)
	if err != nil {
		return kopl.Provenanced{}, err
	}
	o, err := kopl.ParseOp(op)
	if err != nil {
		return kopl.Provenanced{}, err
	}
	return e.filterQualifier(set, qkey, target, o)
}

// filterQualifier keeps each (id, triple) pair whose triple carries a
// qualifier value satisfying the condition. Triples are never rewritten.
func (e *Engine) filterQualifier(set kopl.EntitySet, qkey string, target kopl.Value, op kopl.Op) (kopl.Provenanced, error) {
	p, err := provenanced(set, qkey)
	if err != nil {
		return kopl.Provenanced{}, err
	}
	var b kopl.ProvenanceBuilder
	for i := range p.Len() {
		id, triple := p.At(i)
		if slices.ContainsFunc(triple.Qualifier(qkey), func(v kopl.Value) bool {
			return e.policy.Satisfies(v, op, target)
		}) {
			b.Add(id, triple)
		}
	}
	return b.Build(), nil
}

func provenanced(set kopl.EntitySet, qkey string) (kopl.Provenanced, error) {
	p, ok := set.(kopl.Provenanced)
	if !ok {
		return kopl.Provenanced{}, kerrors.Newf(kerrors.CodeTypeMismatch,
			"qualifier filter on %q needs an entity set with triples", qkey).
			WithContext("qkey", qkey)
	}
	return p, nil
}

// Relate follows relation edges from every input entity. Forward follows
// outgoing edges, backward incoming ones. The triple records the input
// entity, the relation, the reached entity and the edge qualifiers.
func (e *Engine) Relate(set kopl.EntitySet, relation, direction string) (kopl.Provenanced, error) {
	if direction != kb.Forward && direction != kb.Backward {
		return kopl.Provenanced{}, kerrors.Newf(kerrors.CodeInvalidInput,
			"direction must be %q or %q, got %q", kb.Forward, kb.Backward, direction)
	}
	var b kopl.ProvenanceBuilder
	for _, id := range set.IDs() {
		for _, edge := range e.kb.Edges(id, direction) {
			if edge.Relation != relation {
				continue
			}
			other := edge.Target
			if direction == kb.Backward {
				other = edge.Source
			}
			b.Add(other, kopl.Triple{
				EntityID:   id,
				Key:        relation,
				Value:      kopl.String(other),
				Qualifiers: edge.Qualifiers,
				Direction:  direction,
			})
		}
	}
	return b.Build(), nil
}

// And keeps the ids of l that also occur in r, in l's order.
func (e *Engine) And(l, r kopl.EntitySet) kopl.Plain {
	right := make(map[string]struct{}, r.Len())
	for _, id := range r.IDs() {
		right[id] = struct{}{}
	}
	var out []string
	for _, id := range l.IDs() {
		if _, ok := right[id]; ok {
			out = append(out, id)
		}
	}
	return kopl.NewPlain(out...)
}

// Or returns the ids of l followed by the ids of r not already present.
func (e *Engine) Or(l, r kopl.EntitySet) kopl.Plain {
	out := l.IDs()
	seen := make(map[string]struct{}, len(out))
	for _, id := range out {
		seen[id] = struct{}{}
	}
	for _, id := range r.IDs() {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return kopl.NewPlain(out...)
}

// Count returns the number of ids.
func (e *Engine) Count(set kopl.EntitySet) int { return set.Len() }

// QueryAttr returns the values of attribute key for every entity, flattened.
func (e *Engine) QueryAttr(set kopl.EntitySet, key string) []kopl.Value {
	out := []kopl.Value{}
	for _, id := range set.IDs() {
		for _, attr := range e.kb.Attributes(id, key) {
			out = append(out, attr.Value)
		}
	}
	return out
}

// QueryAttrQualifier returns the qkey qualifier values attached to the
// statements key=value. value is read with the type of each statement.
func (e *Engine) QueryAttrQualifier(set kopl.EntitySet, key, value, qkey string) []kopl.Value {
	out := []kopl.Value{}
	for _, id := range set.IDs() {
		for _, attr := range e.kb.Attributes(id, key) {
			if e.matchesLiteral(attr.Value, value) {
				out = append(out, attr.Qualifiers[qkey]...)
			}
		}
	}
	return out
}

// QueryAttrUnderCondition returns the values of key on statements whose
// qualifier qkey equals qvalue.
func (e *Engine) QueryAttrUnderCondition(set kopl.EntitySet, key, qkey, qvalue string) []kopl.Value {
	out := []kopl.Value{}
	for _, id := range set.IDs() {
		for _, attr := range e.kb.Attributes(id, key) {
			if slices.ContainsFunc(attr.Qualifiers[qkey], func(q kopl.Value) bool {
				return e.matchesLiteral(q, qvalue)
			}) {
				out = append(out, attr.Value)
			}
		}
	}
	return out
}

// matchesLiteral parses s with the type of v and reports equality. Literals
// that do not parse as that type never match.
func (e *Engine) matchesLiteral(v kopl.Value, s string) bool {
	lit, err := kopl.ParseLike(v, s)
	if err != nil {
		return false
	}
	return e.policy.Equal(v, lit)
}

// QueryName returns the names of the ids. Unknown ids are skipped.
func (e *Engine) QueryName(set kopl.EntitySet) []string {
	out := []string{}
	for _, id := range set.IDs() {
		if name, ok := e.kb.Name(id); ok {
			out = append(out, name)
		}
	}
	return out
}

// QueryRelation returns the distinct names of relations leading from any
// source id to any target id.
func (e *Engine) QueryRelation(s, t kopl.EntitySet) []string {
	targets := idSet(t)
	out := []string{}
	for _, id := range s.IDs() {
		for _, edge := range e.kb.Edges(id, kb.Forward) {
			if _, ok := targets[edge.Target]; ok && !slices.Contains(out, edge.Relation) {
				out = append(out, edge.Relation)
			}
		}
	}
	return out
}

// QueryRelationQualifier returns the qkey qualifier values of relation edges
// leading from any source id to any target id.
func (e *Engine) QueryRelationQualifier(s, t kopl.EntitySet, relation, qkey string) []kopl.Value {
	targets := idSet(t)
	out := []kopl.Value{}
	for _, id := range s.IDs() {
		for _, edge := range e.kb.Edges(id, kb.Forward) {
			if edge.Relation != relation {
				continue
			}
			if _, ok := targets[edge.Target]; ok {
				out = append(out, edge.Qualifiers[qkey]...)
			}
		}
	}
	return out
}

func idSet(set kopl.EntitySet) map[string]struct{} {
	out := make(map[string]struct{}, set.Len())
	for _, id := range set.IDs() {
		out[id] = struct{}{}
	}
	return out
}
