package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/casys-ai/pml/pkg/models"
)

// gateRegistry tracks pending HIL/AIL approvals, keyed by "dagID:taskID",
// so an ApprovalResponse call arriving on another goroutine can reach the
// blocked layer-gate wait.
type gateRegistry struct {
	mu      sync.Mutex
	pending map[string]chan bool
}

func newGateRegistry() *gateRegistry {
	return &gateRegistry{pending: make(map[string]chan bool)}
}

func gateKey(dagID string, taskID int) string {
	return fmt.Sprintf("%s:%d", dagID, taskID)
}

func (g *gateRegistry) open(dagID string, taskID int) chan bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch := make(chan bool, 1)
	g.pending[gateKey(dagID, taskID)] = ch
	return ch
}

func (g *gateRegistry) close(dagID string, taskID int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending, gateKey(dagID, taskID))
}

// resolve delivers an approval decision to a pending gate. Returns false
// if no gate is currently pending for (dagID, taskID).
func (g *gateRegistry) resolve(dagID string, taskID int, approved bool) bool {
	g.mu.Lock()
	ch, ok := g.pending[gateKey(dagID, taskID)]
	g.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- approved:
		return true
	default:
		return false
	}
}

// applyLayerGate blocks on every HIL/AIL gate guarding the upcoming
// layer's tasks before any of them are dispatched. HIL gates always wait
// per-task, indefinitely, for an explicit approval. AIL gates wait
// per-task by default; when d.AILPerLayer is set, a single gate is opened
// on the layer's first AIL-gated task (lowest task id), and approving that
// task (or its timing out) releases all of them together; approvals sent
// for the layer's other AIL-gated tasks find no pending gate. An AIL gate
// left unanswered for AILGateTimeout auto-continues.
func (e *Executor) applyLayerGate(ctx context.Context, run *run, d *models.DAG, layer []int) error {
	var hil, ail []int
	for _, id := range layer {
		t := d.TaskByID(id)
		if t == nil {
			continue
		}
		switch t.GateBefore {
		case "hil":
			hil = append(hil, id)
		case "ail":
			ail = append(ail, id)
		}
	}

	for _, id := range hil {
		if err := e.awaitGate(ctx, run, d, id, models.StateAwaitingHIL, 0); err != nil {
			return err
		}
	}

	if len(ail) == 0 {
		return nil
	}
	if d.AILPerLayer {
		return e.awaitGate(ctx, run, d, ail[0], models.StateAwaitingAIL, e.cfg.AILGateTimeout)
	}
	for _, id := range ail {
		if err := e.awaitGate(ctx, run, d, id, models.StateAwaitingAIL, e.cfg.AILGateTimeout); err != nil {
			return err
		}
	}
	return nil
}

// awaitGate persists d in the given gate state, then blocks until an
// ApprovalResponse arrives, the run is aborted, ctx is cancelled, or (for
// a non-zero timeout) the gate times out and auto-continues. A timeout
// of 0 blocks indefinitely (HIL gates never auto-continue).
func (e *Executor) awaitGate(ctx context.Context, run *run, d *models.DAG, taskID int, state models.ControlState, timeout time.Duration) error {
	d.State = state
	d.UpdatedAt = time.Now()
	if err := e.db.DAGs.Update(ctx, *d); err != nil {
		return fmt.Errorf("persisting gate state for task %d: %w", taskID, err)
	}

	ch := e.gates.open(d.ID, taskID)
	defer e.gates.close(d.ID, taskID)

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case approved := <-ch:
		if !approved {
			return fmt.Errorf("task %d gate rejected", taskID)
		}
		return nil
	case <-timeoutCh:
		e.logger.Info("AIL gate timed out, auto-continuing", "dag_id", d.ID, "task_id", taskID)
		return nil
	case <-run.abort:
		return fmt.Errorf("execution aborted while awaiting gate for task %d", taskID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ApprovalResponse delivers a human- or AI-in-the-loop decision for a
// gated task. Returns an error if no gate is currently pending for it.
func (e *Executor) ApprovalResponse(dagID string, taskID int, approved bool) error {
	if !e.gates.resolve(dagID, taskID, approved) {
		return fmt.Errorf("no pending gate for task %d in DAG %q", taskID, dagID)
	}
	return nil
}
