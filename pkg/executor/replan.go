package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/casys-ai/pml/pkg/dag"
	"github.com/casys-ai/pml/pkg/models"
	"github.com/casys-ai/pml/pkg/pmlerrors"
)

// Replan merges newTasks into the DAG identified by dagID: tasks whose ID
// matches an existing task that is no longer pending (succeeded, running,
// failed or skipped) are rejected outright as a ReplanConflict; tasks
// matching an existing
// pending task replace it; tasks with a fresh ID are appended. The
// merged DAG is validated for acyclicity before being persisted, so a
// rejected replan leaves the stored DAG untouched.
//
// Replan only mutates persisted state — it does not resume execution.
// Callers re-invoke Run (which resumes from the last checkpoint) to
// continue with the replanned graph.
func (e *Executor) Replan(ctx context.Context, dagID string, newTasks []models.Task) error {
	d, err := e.db.DAGs.Get(ctx, dagID)
	if err != nil {
		return fmt.Errorf("loading DAG %q for replan: %w", dagID, err)
	}

	if !d.State.CanTransitionTo(models.StateReplanning) {
		return pmlerrors.New(pmlerrors.KindReplanConflict,
			"DAG %q is in state %q, which cannot transition to replanning", dagID, d.State)
	}

	byID := make(map[int]*models.Task, len(d.Tasks))
	for i := range d.Tasks {
		byID[d.Tasks[i].ID] = &d.Tasks[i]
	}

	for _, nt := range newTasks {
		existing, ok := byID[nt.ID]
		if ok && existing.Status != models.TaskPending {
			return pmlerrors.New(pmlerrors.KindReplanConflict,
				"task %d has already reached status %q and cannot be redefined", nt.ID, existing.Status)
		}
	}

	merged := make([]models.Task, 0, len(d.Tasks)+len(newTasks))
	seen := make(map[int]bool)
	for _, nt := range newTasks {
		merged = append(merged, nt)
		seen[nt.ID] = true
	}
	for _, t := range d.Tasks {
		if !seen[t.ID] {
			merged = append(merged, t)
		}
	}

	candidate := d
	candidate.Tasks = merged
	if _, err := dag.Layers(&candidate); err != nil {
		return fmt.Errorf("replanned DAG %q is invalid: %w", dagID, err)
	}

	d.Tasks = merged
	d.State = models.StateRunning
	d.UpdatedAt = time.Now()
	if err := e.db.DAGs.Update(ctx, d); err != nil {
		return fmt.Errorf("persisting replanned DAG %q: %w", dagID, err)
	}

	if err := e.db.Checkpoints.Save(ctx, models.Checkpoint{
		DAGID:    dagID,
		LayerIdx: replanCheckpointLayerIdx(&d),
		DAG:      d,
		SavedAt:  time.Now(),
	}); err != nil {
		return fmt.Errorf("checkpointing replanned DAG %q: %w", dagID, err)
	}
	return nil
}

// replanCheckpointLayerIdx computes the highest layer index whose tasks
// are all already terminal (succeeded/failed/skipped), so Run resumes
// from the first layer containing pending work under the new plan.
func replanCheckpointLayerIdx(d *models.DAG) int {
	layers, err := dag.Layers(d)
	if err != nil {
		return -1
	}
	last := -1
	for i, layer := range layers {
		allTerminal := true
		for _, id := range layer {
			t := d.TaskByID(id)
			if t == nil {
				continue
			}
			if t.Status != models.TaskSucceeded && t.Status != models.TaskFailed && t.Status != models.TaskSkipped {
				allTerminal = false
				break
			}
		}
		if !allTerminal {
			break
		}
		last = i
	}
	return last
}
