package dag

import (
	"context"
	"fmt"

	"github.com/casys-ai/pml/pkg/endpoint"
	"github.com/casys-ai/pml/pkg/models"
	"github.com/casys-ai/pml/pkg/pmlerrors"
	"github.com/casys-ai/pml/pkg/registry"
)

// Validate checks an explicitly-submitted DAG spec (execute_dag) before
// it's handed to the executor: every task's tool must exist and resolve
// against the endpoint fleet's current schema, every DependsOn id must
// reference a real task, and the whole graph must be acyclic.
func Validate(ctx context.Context, reg *registry.Registry, d *models.DAG) error {
	known := make(map[int]bool, len(d.Tasks))
	for _, t := range d.Tasks {
		known[t.ID] = true
	}

	for _, t := range d.Tasks {
		for _, dep := range t.DependsOn {
			if !known[dep] {
				return pmlerrors.New(pmlerrors.KindInvalidDagSpec,
					"task %d depends on unknown task %d", t.ID, dep)
			}
		}

		tool, err := reg.LookupTool(ctx, t.ToolID)
		if err != nil {
			return pmlerrors.Wrap(pmlerrors.KindInvalidDagSpec, err,
				"task %d references unresolvable tool %q", t.ID, t.ToolID)
		}

		if len(t.Templates) == 0 {
			if _, err := endpoint.CanonicalizeArgs(t.Args); err != nil {
				return pmlerrors.Wrap(pmlerrors.KindInvalidDagSpec, err,
					"task %d has malformed arguments", t.ID)
			}
			if err := registry.ValidateArgsAgainstTool(tool, t.Args); err != nil {
				return pmlerrors.Wrap(pmlerrors.KindInvalidDagSpec, err,
					"task %d arguments fail schema validation for %q", t.ID, t.ToolID)
			}
		}
	}

	if _, err := Layers(d); err != nil {
		return fmt.Errorf("validating acyclicity: %w", err)
	}
	return nil
}
