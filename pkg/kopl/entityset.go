package kopl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	kerrors "github.com/jllopis/kopl/pkg/errors"
)

// Triple records why an entity matched a filter or relation step: the
// attribute (or relation) key, its value, and the qualifiers attached to it.
// For relation triples EntityID is the source entity, Value holds the target
// id as a string and Direction is set.
type Triple struct {
	EntityID   string             `json:"entity_id"`
	Key        string             `json:"key"`
	Value      Value              `json:"value"`
	Qualifiers map[string][]Value `json:"qualifiers,omitempty"`
	Direction  string             `json:"direction,omitempty"`
}

// Qualifier returns the values recorded for a qualifier key.
func (t Triple) Qualifier(key string) []Value {
	return t.Qualifiers[key]
}

// EntitySet is the argument and result shape of set-producing primitives.
// It has exactly two variants: Plain (ids only) and Provenanced (ids with
// one Triple per id). A Provenanced set with zero ids is still Provenanced.
type EntitySet interface {
	// IDs returns a copy of the ordered id sequence.
	IDs() []string
	// Len returns the number of ids.
	Len() int
	isEntitySet()
}

// Plain is an entity set without provenance.
type Plain struct {
	ids []string
}

// NewPlain builds a Plain set. The slice is copied.
func NewPlain(ids ...string) Plain {
	return Plain{ids: slices.Clone(ids)}
}

func (p Plain) IDs() []string { return slices.Clone(p.ids) }
func (p Plain) Len() int      { return len(p.ids) }
func (Plain) isEntitySet()    {}

// Provenanced is an entity set whose ids each carry the triple that made
// them match.
type Provenanced struct {
	ids     []string
	triples []Triple
}

// NewProvenanced builds a Provenanced set. ids and triples must be parallel.
func NewProvenanced(ids []string, triples []Triple) (Provenanced, error) {
	if len(ids) != len(triples) {
		return Provenanced{}, kerrors.Newf(kerrors.CodeTypeMismatch,
			"entity set has %d ids but %d triples", len(ids), len(triples))
	}
	return Provenanced{ids: slices.Clone(ids), triples: slices.Clone(triples)}, nil
}

func (p Provenanced) IDs() []string { return slices.Clone(p.ids) }
func (p Provenanced) Len() int      { return len(p.ids) }
func (Provenanced) isEntitySet()    {}

// Triples returns a copy of the provenance triples, parallel to IDs.
func (p Provenanced) Triples() []Triple { return slices.Clone(p.triples) }

// At returns the i-th id and its triple.
func (p Provenanced) At(i int) (string, Triple) { return p.ids[i], p.triples[i] }

// ProvenanceBuilder accumulates (id, triple) pairs for a Provenanced result.
type ProvenanceBuilder struct {
	ids     []string
	triples []Triple
}

// Add appends one matched id with its provenance.
func (b *ProvenanceBuilder) Add(id string, t Triple) {
	b.ids = append(b.ids, id)
	b.triples = append(b.triples, t)
}

// Build returns the accumulated set. Builders are single use.
func (b *ProvenanceBuilder) Build() Provenanced {
	if b.ids == nil {
		return Provenanced{ids: []string{}, triples: []Triple{}}
	}
	return Provenanced{ids: b.ids, triples: b.triples}
}

type entitySetJSON struct {
	IDs     []string `json:"ids"`
	Triples []Triple `json:"triples"`
}

func (p Plain) MarshalJSON() ([]byte, error) {
	ids := p.ids
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(struct {
		IDs     []string `json:"ids"`
		Triples []Triple `json:"triples"`
	}{IDs: ids})
}

func (p Provenanced) MarshalJSON() ([]byte, error) {
	out := entitySetJSON{IDs: p.ids, Triples: p.triples}
	if out.IDs == nil {
		out.IDs = []string{}
	}
	if out.Triples == nil {
		out.Triples = []Triple{}
	}
	return json.Marshal(out)
}

// DecodeEntitySet accepts the record form {"ids": [...], "triples": [...]}
// and the pair form [[...ids], [...triples]]. A null or missing triples
// member yields Plain; a list (even empty) yields Provenanced.
func DecodeEntitySet(data []byte) (EntitySet, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, kerrors.Newf(kerrors.CodeTypeMismatch, "empty entity set payload")
	}
	var (
		idsRaw     json.RawMessage
		triplesRaw json.RawMessage
	)
	switch data[0] {
	case '{':
		var rec map[string]json.RawMessage
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, kerrors.New(kerrors.CodeTypeMismatch, "invalid entity set record", err)
		}
		var ok bool
		if idsRaw, ok = rec["ids"]; !ok {
			return nil, kerrors.Newf(kerrors.CodeTypeMismatch, "entity set record has no ids")
		}
		triplesRaw = rec["triples"]
	case '[':
		var pair []json.RawMessage
		if err := json.Unmarshal(data, &pair); err != nil {
			return nil, kerrors.New(kerrors.CodeTypeMismatch, "invalid entity set pair", err)
		}
		if len(pair) != 2 {
			return nil, kerrors.Newf(kerrors.CodeTypeMismatch, "entity set pair must have 2 elements, got %d", len(pair))
		}
		idsRaw, triplesRaw = pair[0], pair[1]
	default:
		return nil, kerrors.Newf(kerrors.CodeTypeMismatch, "entity set must be a record or a pair, got %s", truncate(data, 40))
	}

	var ids []string
	if err := json.Unmarshal(idsRaw, &ids); err != nil {
		return nil, kerrors.New(kerrors.CodeTypeMismatch, "entity set ids must be a list of strings", err)
	}
	if ids == nil {
		ids = []string{}
	}
	if isNull(triplesRaw) {
		return NewPlain(ids...), nil
	}
	var triples []Triple
	if err := json.Unmarshal(triplesRaw, &triples); err != nil {
		return nil, kerrors.New(kerrors.CodeTypeMismatch, "entity set triples must be a list", err)
	}
	if triples == nil {
		triples = []Triple{}
	}
	return NewProvenanced(ids, triples)
}

// DecodeValues decodes a JSON list of values. Elements may be typed objects,
// bare strings or bare numbers.
func DecodeValues(data []byte) ([]Value, error) {
	var values []Value
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, kerrors.New(kerrors.CodeTypeMismatch, "value list must be a JSON list", err)
	}
	if values == nil {
		values = []Value{}
	}
	return values, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return fmt.Sprintf("%s...", b[:n])
}
