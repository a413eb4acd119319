// Package tools exposes the query primitives as schema-described tools for
// an oracle and converts oracle arguments into engine calls.
package tools

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jllopis/kopl/pkg/llm"
)

// Parameter types used by the catalog.
const (
	TypeString = "STRING"
	TypeTuple  = "TUPLE"
	TypeList   = "LIST"
)

// LastStepResult is the argument value that stands for the result of the
// previous successful call.
const LastStepResult = "Last step result"

//go:embed catalog.json
var catalogJSON []byte

// Parameter describes one tool argument.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ReturnField describes one returned value.
type ReturnField struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Spec is one catalog entry.
type Spec struct {
	Name               string        `json:"name"`
	Description        string        `json:"description"`
	RequiredParameters []Parameter   `json:"required_parameters"`
	OptionalParameters []Parameter   `json:"optional_parameters"`
	ReturnData         []ReturnField `json:"return_data"`
}

var loadCatalog = sync.OnceValues(func() ([]Spec, error) {
	var doc struct {
		Tools []Spec `json:"tools"`
	}
	if err := json.Unmarshal(catalogJSON, &doc); err != nil {
		return nil, fmt.Errorf("parse tool catalog: %w", err)
	}
	return doc.Tools, nil
})

// Catalog returns the tool specs in catalog order.
func Catalog() []Spec {
	specs, err := loadCatalog()
	if err != nil {
		panic(err)
	}
	out := make([]Spec, len(specs))
	copy(out, specs)
	return out
}

// CatalogJSON returns the raw embedded catalog document.
func CatalogJSON() []byte {
	out := make([]byte, len(catalogJSON))
	copy(out, catalogJSON)
	return out
}

// Lookup returns the spec of a tool.
func Lookup(name string) (Spec, bool) {
	for _, s := range Catalog() {
		if s.Name == name {
			return s, true
		}
	}
	return Spec{}, false
}

// Schema returns the JSON schema of the tool's arguments.
func (s Spec) Schema() map[string]any {
	props := make(map[string]any, len(s.RequiredParameters)+len(s.OptionalParameters))
	required := make([]string, 0, len(s.RequiredParameters))
	for _, p := range s.RequiredParameters {
		props[p.Name] = parameterSchema(p)
		required = append(required, p.Name)
	}
	for _, p := range s.OptionalParameters {
		props[p.Name] = parameterSchema(p)
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func parameterSchema(p Parameter) map[string]any {
	switch p.Type {
	case TypeTuple:
		return map[string]any{
			"description": p.Description + fmt.Sprintf(" Pass %q to reuse the previous result.", LastStepResult),
			"anyOf": []any{
				map[string]any{
					"type": "object",
					"properties": map[string]any{
						"ids":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"triples": map[string]any{"type": []string{"array", "null"}},
					},
					"required": []string{"ids", "triples"},
				},
				map[string]any{"type": "array", "minItems": 2, "maxItems": 2},
				map[string]any{"type": "string", "enum": []string{LastStepResult}},
			},
		}
	case TypeList:
		return map[string]any{
			"description": p.Description,
			"anyOf": []any{
				map[string]any{"type": "array"},
				map[string]any{"type": "string", "enum": []string{LastStepResult}},
			},
		}
	default:
		return map[string]any{"type": "string", "description": p.Description}
	}
}

// Definitions returns the catalog as function tools for an oracle request.
func Definitions() []llm.Tool {
	specs := Catalog()
	out := make([]llm.Tool, 0, len(specs))
	for _, s := range specs {
		out = append(out, llm.Tool{
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionDef{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Schema(),
			},
		})
	}
	return out
}
