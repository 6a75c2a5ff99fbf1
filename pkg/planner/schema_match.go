package planner

import (
	"encoding/json"

	"github.com/casys-ai/pml/pkg/models"
)

// matchOutputToInput heuristically decides whether to's required input
// properties can be satisfied by from's output schema: for every
// property name shared between to's "required" list and from's output
// "properties" map, an ArgumentTemplate path is proposed pointing at
// that property on from's eventual output. Returns dependsOn=true (and a
// non-empty templates map) only if at least one required property
// matched.
//
// This is a name-matching heuristic, not a type-aware schema unifier —
// matching JSON Schemas structurally (not just by property name) is a
// much larger problem this matcher doesn't need to solve
// exactly.
func matchOutputToInput(from, to models.Tool) (dependsOn bool, templates map[string][]string) {
	if len(from.OutputSchema) == 0 || len(to.InputSchema) == 0 {
		return false, nil
	}

	fromProps := schemaProperties(from.OutputSchema)
	toRequired := schemaRequired(to.InputSchema)
	if len(fromProps) == 0 || len(toRequired) == 0 {
		return false, nil
	}

	templates = make(map[string][]string)
	for _, req := range toRequired {
		if fromProps[req] {
			templates[req] = []string{req}
		}
	}
	if len(templates) == 0 {
		return false, nil
	}
	return true, templates
}

func schemaProperties(raw []byte) map[string]bool {
	var doc struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	out := make(map[string]bool, len(doc.Properties))
	for name := range doc.Properties {
		out[name] = true
	}
	return out
}

func schemaRequired(raw []byte) []string {
	var doc struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	return doc.Required
}
