package kb

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/kopl/pkg/kopl"
)

// rawKB mirrors the KQA Pro kb.json layout.
type rawKB struct {
	Concepts map[string]rawConcept `json:"concepts"`
	Entities map[string]rawEntity  `json:"entities"`
}

type rawConcept struct {
	Name string `json:"name"`
	// KQA files list concept parents under instanceOf.
	InstanceOf []string `json:"instanceOf"`
	SubclassOf []string `json:"subclassOf"`
}

type rawEntity struct {
	Name       string         `json:"name"`
	InstanceOf []string       `json:"instanceOf"`
	Attributes []rawAttribute `json:"attributes"`
	Relations  []rawRelation  `json:"relations"`
}

type rawAttribute struct {
	Key        string                  `json:"key"`
	Value      kopl.Value              `json:"value"`
	Qualifiers map[string][]kopl.Value `json:"qualifiers"`
}

type rawRelation struct {
	Relation   string                  `json:"relation"`
	Predicate  string                  `json:"predicate"`
	Direction  string                  `json:"direction"`
	Object     string                  `json:"object"`
	Qualifiers map[string][]kopl.Value `json:"qualifiers"`
}

// FromJSON parses a knowledge base in kb.json form.
func FromJSON(data []byte) (*KB, error) {
	var raw rawKB
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse kb json: %w", err)
	}
	return fromRaw(raw)
}

// FromYAML parses the same layout written as YAML. Used for small fixtures.
func FromYAML(data []byte) (*KB, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse kb yaml: %w", err)
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("parse kb yaml: %w", err)
	}
	return FromJSON(payload)
}

// Load reads a knowledge base file, choosing the parser from its extension.
func Load(path string) (*KB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("kb path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, data)
}

// Parse decodes data using the format implied by path.
func Parse(path string, data []byte) (*KB, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FromYAML(data)
	default:
		return FromJSON(data)
	}
}

// Fingerprint returns the hex SHA-256 of a source file's bytes.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func fromRaw(raw rawKB) (*KB, error) {
	b := NewBuilder()
	for _, id := range slices.Sorted(maps.Keys(raw.Concepts)) {
		c := raw.Concepts[id]
		parents := append([]string{}, c.InstanceOf...)
		parents = append(parents, c.SubclassOf...)
		b.AddConcept(Concept{ID: id, Name: c.Name, Parents: parents})
	}
	for _, id := range slices.Sorted(maps.Keys(raw.Entities)) {
		e := raw.Entities[id]
		ent := Entity{ID: id, Name: e.Name, Concepts: e.InstanceOf}
		for _, a := range e.Attributes {
			ent.Attributes = append(ent.Attributes, Attribute(a))
		}
		b.AddEntity(ent)
		for i, r := range e.Relations {
			name := r.Relation
			if name == "" {
				name = r.Predicate
			}
			if name == "" || r.Object == "" {
				return nil, fmt.Errorf("entity %s relation %d: relation name and object are required", id, i)
			}
			edge := Edge{Relation: name, Qualifiers: r.Qualifiers}
			switch r.Direction {
			case Forward, "":
				edge.Source, edge.Target = id, r.Object
			case Backward:
				edge.Source, edge.Target = r.Object, id
			default:
				return nil, fmt.Errorf("entity %s relation %q: unknown direction %q", id, name, r.Direction)
			}
			b.AddEdge(edge)
		}
	}
	return b.Build(), nil
}
