// Package registry maintains the mediator's live view of every tool
// exposed by the endpoint fleet: discovery, schema validation, freshness,
// and removal.
package registry

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/casys-ai/pml/pkg/models"
)

// ParseSchemas validates that input (and, if present, output) parse as
// well-formed JSON Schema documents. Called before a Tool is persisted so
// malformed schemas are rejected at discovery time rather than at the
// first failed argument validation.
func ParseSchemas(input, output []byte) error {
	if _, err := compile(input); err != nil {
		return fmt.Errorf("invalid input schema: %w", err)
	}
	if len(output) > 0 {
		if _, err := compile(output); err != nil {
			return fmt.Errorf("invalid output schema: %w", err)
		}
	}
	return nil
}

func compile(raw []byte) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshaling schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("adding schema resource: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	return schema, nil
}

// ValidateArgs validates args against a tool's raw input schema.
func ValidateArgs(inputSchema []byte, args map[string]any) error {
	schema, err := compile(inputSchema)
	if err != nil {
		return err
	}
	// jsonschema validates generic any values; round-trip args through
	// JSON to normalize numeric types (json.Number vs float64) the same
	// way a wire-decoded payload would be.
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshaling args: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("unmarshaling args: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("args failed schema validation: %w", err)
	}
	return nil
}

// ValidateArgsAgainstTool is ValidateArgs with the schema extracted from a
// Tool record, for callers that already have the tool loaded.
func ValidateArgsAgainstTool(tool models.Tool, args map[string]any) error {
	return ValidateArgs(tool.InputSchema, args)
}
