// Package executor implements the Controlled Executor: layer-by-layer
// DAG execution with checkpointing, HIL/AIL gating, pause/continue/abort,
// and replan support.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/casys-ai/pml/pkg/capability"
	"github.com/casys-ai/pml/pkg/config"
	"github.com/casys-ai/pml/pkg/dag"
	"github.com/casys-ai/pml/pkg/endpoint"
	"github.com/casys-ai/pml/pkg/models"
	"github.com/casys-ai/pml/pkg/store"
)

// CodeRunner executes a crystallized capability's code in isolation
// (pkg/sandbox implements this). Accepted as an interface so the
// executor never imports the sandbox package directly.
type CodeRunner interface {
	RunCapability(ctx context.Context, cap models.Capability, args map[string]any) (any, error)
}

// EventPublisher fans DAG lifecycle events out to subscribers
// (pkg/eventbus.Bus implements this). Accepted as an interface for the
// same reason as CodeRunner: the executor drives events, it doesn't own
// their delivery mechanism.
type EventPublisher interface {
	Publish(dagID string, eventType string, data any)
}

// Executor runs DAGs to completion, one topological layer at a time,
// honoring the control-state machine and persisting a checkpoint after
// every layer so a crash loses at most the in-flight layer.
type Executor struct {
	pool   *endpoint.Pool
	db     *store.Store
	caps   *capability.Store
	runner CodeRunner
	cfg    config.Config
	logger *slog.Logger
	events EventPublisher

	runs  *runRegistry
	gates *gateRegistry
}

// SetEventPublisher wires a destination for DAG lifecycle events. Safe to
// leave unset — events are then simply not published anywhere.
func (e *Executor) SetEventPublisher(p EventPublisher) {
	e.events = p
}

func (e *Executor) publish(dagID, eventType string, data any) {
	if e.events != nil {
		e.events.Publish(dagID, eventType, data)
	}
}

// New builds an Executor over its collaborators. runner may be nil until
// the sandbox is wired in; tasks whose ToolID names a capability will
// fail with a clear error until it is.
func New(pool *endpoint.Pool, db *store.Store, caps *capability.Store, runner CodeRunner, cfg config.Config) *Executor {
	return &Executor{
		pool:   pool,
		db:     db,
		caps:   caps,
		runner: runner,
		cfg:    cfg,
		logger: slog.Default(),
		runs:   newRunRegistry(),
		gates:  newGateRegistry(),
	}
}

// Run drives d to a terminal state (Completed/Failed), persisting the DAG
// and a checkpoint after every layer. It blocks at each HIL/AIL gate until
// the gate is resolved (ApprovalResponse, AIL timeout, abort, or ctx
// cancellation), and while the run is paused until it is resumed or
// aborted.
func (e *Executor) Run(ctx context.Context, d *models.DAG) error {
	run := e.runs.register(d.ID)
	defer e.runs.unregister(d.ID)

	d.State = models.StateRunning
	d.UpdatedAt = time.Now()
	if err := e.db.DAGs.Insert(ctx, *d); err != nil {
		return fmt.Errorf("persisting new DAG %q: %w", d.ID, err)
	}

	layers, err := dag.Layers(d)
	if err != nil {
		d.State = models.StateFailed
		_ = e.db.DAGs.Update(ctx, *d)
		return err
	}

	startLayer := 0
	if cp, err := e.db.Checkpoints.Load(ctx, d.ID); err == nil {
		*d = cp.DAG
		startLayer = cp.LayerIdx + 1
	}

	for layerIdx := startLayer; layerIdx < len(layers); layerIdx++ {
		if err := run.awaitResumable(ctx); err != nil {
			return e.finish(ctx, d, models.StateFailed, err)
		}

		layer := layers[layerIdx]

		if err := e.applyLayerGate(ctx, run, d, layer); err != nil {
			return e.finish(ctx, d, models.StateFailed, err)
		}
		d.State = models.StateRunning

		if err := e.runLayer(ctx, run, d, layer); err != nil {
			return e.finish(ctx, d, models.StateFailed, err)
		}

		if err := e.checkpoint(ctx, d, layerIdx); err != nil {
			return fmt.Errorf("checkpointing layer %d of DAG %q: %w", layerIdx, d.ID, err)
		}
		e.publish(d.ID, "layer.completed", map[string]any{"layer_idx": layerIdx})
	}

	return e.finish(ctx, d, models.StateCompleted, nil)
}

// finish transitions d to a terminal state (validated against the
// control-state machine), persists it, and returns cause unchanged so
// callers can propagate the triggering error.
func (e *Executor) finish(ctx context.Context, d *models.DAG, next models.ControlState, cause error) error {
	if d.State.CanTransitionTo(next) {
		d.State = next
	}
	d.UpdatedAt = time.Now()
	if err := e.db.DAGs.Update(ctx, *d); err != nil {
		e.logger.Error("failed to persist terminal DAG state", "dag_id", d.ID, "error", err)
	}
	e.publish(d.ID, "dag.state", map[string]any{"state": d.State})
	return cause
}

func (e *Executor) checkpoint(ctx context.Context, d *models.DAG, layerIdx int) error {
	d.UpdatedAt = time.Now()
	if err := e.db.DAGs.Update(ctx, *d); err != nil {
		return err
	}
	return e.db.Checkpoints.Save(ctx, models.Checkpoint{
		DAGID:    d.ID,
		LayerIdx: layerIdx,
		DAG:      *d,
		SavedAt:  time.Now(),
	})
}

// maxConcurrency returns the configured per-layer fan-out cap, bounded
// above by the layer's own size (no point reserving unused slots).
func (e *Executor) maxConcurrency(layerSize int) int {
	limit := e.cfg.MaxParallelTasksPerDAG
	if limit <= 0 || limit > layerSize {
		return layerSize
	}
	return limit
}
