package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/casys-ai/pml/pkg/capability"
	"github.com/casys-ai/pml/pkg/dag"
	"github.com/casys-ai/pml/pkg/endpoint"
	"github.com/casys-ai/pml/pkg/models"
	"github.com/casys-ai/pml/pkg/pmlerrors"
)

// normalizeOutput round-trips a dispatch result through JSON so it
// becomes a plain map[string]any/[]any/scalar tree — the shape
// dag.ResolveTemplates' path walker expects — regardless of whether it
// came back as a typed *mcpsdk.CallToolResult or an already-generic
// sandbox result. A value that fails to marshal is kept as-is.
func normalizeOutput(output any) any {
	raw, err := json.Marshal(output)
	if err != nil {
		return output
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return output
	}
	return generic
}

// runLayer dispatches every task in layer concurrently, bounded by the
// configured per-DAG fan-out cap, and waits for all of them to finish.
// A task whose dependency didn't succeed is marked Skipped without being
// dispatched, propagating failure to everything downstream of it.
func (e *Executor) runLayer(ctx context.Context, run *run, d *models.DAG, layer []int) error {
	sem := make(chan struct{}, e.maxConcurrency(len(layer)))
	var wg sync.WaitGroup
	errs := make(chan error, len(layer))

	for _, id := range layer {
		t := d.TaskByID(id)
		if t == nil {
			continue
		}

		if skip, reason := blockedByFailedDependency(d, t); skip {
			t.Status = models.TaskSkipped
			t.Err = reason
			e.appendTrace(ctx, d.ID, &id, "task_skipped", reason)
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(t *models.Task) {
			defer wg.Done()
			defer func() { <-sem }()

			select {
			case <-run.abort:
				return
			default:
			}

			if err := e.runTask(ctx, d, t); err != nil {
				errs <- err
			}
		}(t)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		return err
	}
	return nil
}

// blockedByFailedDependency reports whether t should be skipped instead
// of dispatched, because a dependency didn't succeed.
func blockedByFailedDependency(d *models.DAG, t *models.Task) (bool, string) {
	for _, dep := range t.DependsOn {
		depTask := d.TaskByID(dep)
		if depTask == nil {
			continue
		}
		if depTask.Status == models.TaskFailed || depTask.Status == models.TaskSkipped {
			return true, fmt.Sprintf("dependency task %d did not succeed (status=%s)", dep, depTask.Status)
		}
	}
	return false, ""
}

// runTask resolves t's argument templates, invokes its tool (or, for a
// capability FQDN ToolID, runs its code via the sandbox), retries on
// transient failure iff the tool is marked idempotent, and records the
// outcome on t.
func (e *Executor) runTask(ctx context.Context, d *models.DAG, t *models.Task) error {
	t.Status = models.TaskRunning
	t.StartedAt = time.Now()
	e.appendTrace(ctx, d.ID, &t.ID, "task_start", t.ToolID)

	if err := dag.ResolveTemplates(d, t); err != nil {
		return e.failTask(ctx, d, t, err)
	}

	output, err := e.dispatch(ctx, t)
	if err == nil {
		t.Status = models.TaskSucceeded
		t.Output = normalizeOutput(output)
		t.EndedAt = time.Now()
		e.appendTrace(ctx, d.ID, &t.ID, "task_end", "succeeded")
		return nil
	}

	if idempotent, lookupErr := e.toolIsIdempotent(ctx, t.ToolID); lookupErr == nil && idempotent {
		output, err = e.retryDispatch(ctx, t)
		if err == nil {
			t.Status = models.TaskSucceeded
			t.Output = normalizeOutput(output)
			t.EndedAt = time.Now()
			e.appendTrace(ctx, d.ID, &t.ID, "task_end", "succeeded after retry")
			return nil
		}
	}

	return e.failTask(ctx, d, t, pmlerrors.ToolInvocationFailed(t.ToolID, err))
}

func (e *Executor) failTask(ctx context.Context, d *models.DAG, t *models.Task, err error) error {
	t.Status = models.TaskFailed
	t.Err = err.Error()
	t.EndedAt = time.Now()
	e.appendTrace(ctx, d.ID, &t.ID, "task_end", "failed: "+err.Error())

	if strings.HasPrefix(t.ToolID, capability.OrgProject+".") {
		_ = e.caps.RecordFailure(ctx, t.ToolID)
	}
	return err
}

// dispatch performs exactly one invocation attempt: a tool call through
// the Endpoint Client Pool, or a capability's code through the sandbox.
func (e *Executor) dispatch(ctx context.Context, t *models.Task) (any, error) {
	if strings.HasPrefix(t.ToolID, capability.OrgProject+".") {
		if e.runner == nil {
			return nil, fmt.Errorf("capability execution requested but no sandbox runner is configured")
		}
		cap, err := e.caps.Lookup(ctx, t.ToolID)
		if err != nil {
			return nil, fmt.Errorf("looking up capability %q: %w", t.ToolID, err)
		}
		return e.runner.RunCapability(ctx, cap, t.Args)
	}

	endpointID, toolName, err := endpoint.SplitToolID(t.ToolID)
	if err != nil {
		return nil, err
	}
	result, err := e.pool.CallTool(ctx, endpointID, toolName, t.Args)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// retryAttempts bounds idempotent-tool retries, backing off 100ms·2^i
// between attempts.
const retryAttempts = 3

func (e *Executor) retryDispatch(ctx context.Context, t *models.Task) (any, error) {
	var lastErr error
	for i := 0; i < retryAttempts; i++ {
		backoff := 100 * time.Millisecond * time.Duration(1<<uint(i))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		output, err := e.dispatch(ctx, t)
		if err == nil {
			return output, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (e *Executor) toolIsIdempotent(ctx context.Context, toolID string) (bool, error) {
	if strings.HasPrefix(toolID, capability.OrgProject+".") {
		return false, nil // capability retries are the planner's concern, not this layer
	}
	tool, err := e.db.Tools.Get(ctx, toolID)
	if err != nil {
		return false, err
	}
	return tool.Idempotent, nil
}

func (e *Executor) appendTrace(ctx context.Context, dagID string, taskID *int, kind, detail string) {
	ev := models.TraceEvent{
		DAGID:     dagID,
		Kind:      kind,
		TaskID:    taskID,
		Detail:    detail,
		Timestamp: time.Now(),
	}
	if err := e.db.Traces.Append(ctx, ev); err != nil {
		e.logger.Warn("failed to append trace event", "dag_id", dagID, "kind", kind, "error", err)
	}
	e.publish(dagID, "trace."+kind, ev)
}
