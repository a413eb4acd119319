// Copyright 2026 © The Kopl Authors
// SPDX-License-Identifier: Apache-2.0

package program

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseJSON decodes a program given either as a bare list of steps or as an
// object with a "program" member.
func ParseJSON(data []byte) (Program, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON payload")
	}
	var p Program
	if data[0] == '{' {
		var wrapped struct {
			Program Program `json:"program"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("parse json program: %w", err)
		}
		p = wrapped.Program
	} else if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse json program: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseYAML decodes a program from YAML in the same shapes as ParseJSON.
func ParseYAML(data []byte) (Program, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("empty YAML payload")
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("parse yaml program: %w", err)
	}
	var p Program
	if len(node.Content) > 0 && node.Content[0].Kind == yaml.MappingNode {
		var wrapped struct {
			Program Program `yaml:"program"`
		}
		if err := node.Decode(&wrapped); err != nil {
			return nil, fmt.Errorf("parse yaml program: %w", err)
		}
		p = wrapped.Program
	} else if err := node.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse yaml program: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadProgram reads a program file, choosing the parser from its extension.
func LoadProgram(path string) (Program, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("program path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// ParseSamples decodes a JSON list of annotated samples. Programs are not
// validated here so that one bad annotation does not reject the whole file.
func ParseSamples(data []byte) ([]Sample, error) {
	var samples []Sample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("parse samples: %w", err)
	}
	return samples, nil
}

// LoadSamples reads a JSON or YAML file of annotated samples.
func LoadSamples(path string) ([]Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var samples []Sample
		if err := yaml.Unmarshal(data, &samples); err != nil {
			return nil, fmt.Errorf("parse samples: %w", err)
		}
		return samples, nil
	default:
		return ParseSamples(data)
	}
}

// MarshalJSON serializes a program. Use pretty for indented output.
func MarshalJSON(p Program, pretty bool) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if pretty {
		return json.MarshalIndent(p, "", "  ")
	}
	return json.Marshal(p)
}
