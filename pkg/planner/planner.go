// Package planner builds executable DAGs from a free-text intent — first
// checking the Capability Store for an existing crystallized workflow,
// falling back to a greedy multi-tool plan over Hybrid Search results —
// and validates explicitly-submitted DAG specs for the execute_dag entry
// point.
package planner

import (
	"context"
	"fmt"

	"github.com/casys-ai/pml/pkg/capability"
	"github.com/casys-ai/pml/pkg/dag"
	"github.com/casys-ai/pml/pkg/embedding"
	"github.com/casys-ai/pml/pkg/models"
	"github.com/casys-ai/pml/pkg/pmlerrors"
	"github.com/casys-ai/pml/pkg/registry"
	"github.com/casys-ai/pml/pkg/search"
)

// searchK bounds how many candidate tools the greedy planner considers
// per planning pass, independent of the Hybrid Search Engine's own topN.
const searchK = 8

// minToolScore is the floor below which a search candidate isn't worth
// including in a plan at all.
const minToolScore = 0.3

// Planner turns an intent into a models.DAG.
type Planner struct {
	search *search.Engine
	caps   *capability.Store
	reg    *registry.Registry
	embed  embedding.Embedder
}

// New builds a Planner over its collaborators.
func New(searchEngine *search.Engine, caps *capability.Store, reg *registry.Registry, embed embedding.Embedder) *Planner {
	return &Planner{search: searchEngine, caps: caps, reg: reg, embed: embed}
}

// PlanFromIntent produces a DAG for a free-text intent. It first tries
// the Capability Store; a match yields a single-task DAG invoking that
// capability directly (the capability's own internal structure is opaque
// to the caller — it executes as one unit). Absent a match, it falls
// back to BuildGreedy over Hybrid Search tool results.
func (p *Planner) PlanFromIntent(ctx context.Context, intentText string) (*models.DAG, error) {
	if intentText == "" {
		return nil, pmlerrors.New(pmlerrors.KindInvalidIntent, "intent text must not be empty")
	}

	intentVec, err := p.embed.Embed(ctx, intentText)
	if err != nil {
		return nil, pmlerrors.Wrap(pmlerrors.KindEmbeddingUnavailable, err, "embedding intent for capability match")
	}

	if match, ok, err := p.caps.TryMatch(ctx, intentVec); err != nil {
		return nil, fmt.Errorf("matching against capability store: %w", err)
	} else if ok {
		return singleTaskDAG(match.FQDN), nil
	}

	return p.BuildGreedy(ctx, intentText)
}

// singleTaskDAG wraps a capability FQDN invocation as a one-task DAG.
func singleTaskDAG(fqdn string) *models.DAG {
	return &models.DAG{
		Tasks: []models.Task{{
			ID:     0,
			ToolID: fqdn,
			Status: models.TaskPending,
		}},
		State: models.StateRunning,
	}
}

// BuildGreedy constructs a multi-task plan by ranking tools against the
// intent, then adding each ranked tool as a task: if a later tool's
// required input properties name-match a prior task's recorded output
// schema properties, an ArgumentTemplate edge is created from the later
// task to the earlier one (B draws from A's output); otherwise the task
// has no dependencies and runs in the DAG's first layer alongside the
// other independent candidates.
//
// Any cycle introduced by this heuristic (two tools whose schemas
// name-match each other both ways) is broken by dropping the
// lowest-prior-success-support edge before the plan is returned.
func (p *Planner) BuildGreedy(ctx context.Context, intentText string) (*models.DAG, error) {
	candidates, err := p.search.SearchTools(ctx, intentText, searchK, minToolScore)
	if err != nil {
		return nil, fmt.Errorf("searching tools for greedy plan: %w", err)
	}
	if len(candidates) == 0 {
		return nil, pmlerrors.New(pmlerrors.KindInvalidIntent,
			"no tool matched intent %q above the relevance floor", intentText)
	}

	tasks := make([]models.Task, 0, len(candidates))
	tools := make([]models.Tool, 0, len(candidates))
	for i, c := range candidates {
		tool, err := p.reg.LookupTool(ctx, c.ToolID)
		if err != nil {
			return nil, fmt.Errorf("loading tool %q for plan: %w", c.ToolID, err)
		}
		tools = append(tools, tool)

		task := models.Task{ID: i, ToolID: c.ToolID, Status: models.TaskPending}
		for j := 0; j < i; j++ {
			if dependsOn, templates := matchOutputToInput(tools[j], tool); dependsOn {
				task.DependsOn = append(task.DependsOn, j)
				if task.Templates == nil {
					task.Templates = make(map[string]models.ArgumentTemplate)
				}
				for arg, path := range templates {
					task.Templates[arg] = models.ArgumentTemplate{TaskID: j, Path: path}
				}
			}
		}
		tasks = append(tasks, task)
	}

	d := &models.DAG{Tasks: tasks, State: models.StateRunning}

	for attempt := 0; attempt < len(d.Tasks); attempt++ {
		if dag.Acyclic(d) {
			break
		}
		support := make(map[string]int64) // no prior history for a fresh greedy plan: all edges tie at zero
		if _, _, ok := dag.BreakCycle(d, support); !ok {
			return nil, pmlerrors.New(pmlerrors.KindCyclicDag, "greedy plan produced an unbreakable cycle")
		}
	}
	if !dag.Acyclic(d) {
		return nil, pmlerrors.New(pmlerrors.KindCyclicDag, "greedy plan remains cyclic after cycle-breaking")
	}

	return d, nil
}

// PlanFromSpec validates an explicitly-submitted DAG (execute_dag) and
// returns it unchanged if valid.
func (p *Planner) PlanFromSpec(ctx context.Context, d *models.DAG) (*models.DAG, error) {
	if err := dag.Validate(ctx, p.reg, d); err != nil {
		return nil, err
	}
	return d, nil
}
