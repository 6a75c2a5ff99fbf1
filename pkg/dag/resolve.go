package dag

import (
	"strconv"

	"github.com/casys-ai/pml/pkg/models"
	"github.com/casys-ai/pml/pkg/pmlerrors"
)

// ResolveTemplates walks every unresolved ArgumentTemplate on a task and
// replaces it with the literal value found by traversing the referenced
// task's recorded Output. It mutates t.Args in place and clears
// t.Templates entries as they resolve.
//
// Returns ResolutionError if a referenced task hasn't completed yet, or
// if the path traverses through a value whose type doesn't support the
// next path segment (e.g. indexing into a non-slice, or a missing map
// key).
func ResolveTemplates(d *models.DAG, t *models.Task) error {
	if len(t.Templates) == 0 {
		return nil
	}
	if t.Args == nil {
		t.Args = make(map[string]any, len(t.Templates))
	}

	for argName, tmpl := range t.Templates {
		src := d.TaskByID(tmpl.TaskID)
		if src == nil {
			return pmlerrors.New(pmlerrors.KindResolutionError,
				"argument %q references unknown task %d", argName, tmpl.TaskID)
		}
		if src.Status != models.TaskSucceeded {
			return pmlerrors.New(pmlerrors.KindResolutionError,
				"argument %q references task %d, which has not succeeded (status=%s)",
				argName, tmpl.TaskID, src.Status)
		}

		val, err := walkPath(src.Output, tmpl.Path)
		if err != nil {
			return pmlerrors.Wrap(pmlerrors.KindResolutionError, err,
				"resolving argument %q from task %d output", argName, tmpl.TaskID)
		}
		t.Args[argName] = val
	}
	t.Templates = nil
	return nil
}

// walkPath descends into an arbitrary JSON-shaped value (map[string]any,
// []any, or scalar) one path segment at a time. A segment that parses as
// an integer indexes a slice; otherwise it's treated as a map key.
func walkPath(value any, path []string) (any, error) {
	cur := value
	for i, seg := range path {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, pmlerrors.New(pmlerrors.KindResolutionError,
					"path segment %d (%q): key not found in object", i, seg)
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, pmlerrors.New(pmlerrors.KindResolutionError,
					"path segment %d (%q): not a valid index into a %d-element array", i, seg, len(v))
			}
			cur = v[idx]
		default:
			return nil, pmlerrors.New(pmlerrors.KindResolutionError,
				"path segment %d (%q): cannot descend into a %T", i, seg, cur)
		}
	}
	return cur, nil
}
