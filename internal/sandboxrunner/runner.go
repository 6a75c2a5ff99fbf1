// Package sandboxrunner is the child-side half of the sandbox bridge: it
// runs inside cmd/pmlworker with no ambient permissions, replays a
// capability's StaticDAG in topological order, and proxies every tool
// call back to the parent process over stdin/stdout rather than ever
// touching a filesystem, network socket, or environment variable itself.
package sandboxrunner

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"

	"github.com/casys-ai/pml/pkg/dag"
	"github.com/casys-ai/pml/pkg/models"
	"github.com/casys-ai/pml/pkg/rpcbridge"
)

// Run reads exactly one invoke frame from in, replays its StaticDAG by
// proxying tool calls through out/in, and writes exactly one done frame
// to out before returning. If the first frame cannot be read or is not an
// invoke frame, it returns an error without writing a done frame.
func Run(ctx context.Context, in io.Reader, out io.Writer) error {
	reader := rpcbridge.NewReader(in)
	writer := rpcbridge.NewWriter(out)

	first, err := reader.Read()
	if err != nil {
		return fmt.Errorf("reading invoke frame: %w", err)
	}
	if first.Kind != rpcbridge.KindInvoke || first.Invoke == nil {
		return fmt.Errorf("expected invoke frame, got %q", first.Kind)
	}

	r := &replayer{
		writer:   writer,
		pending:  make(map[string]chan rpcbridge.RPCResultPayload),
		outputs:  make(map[int]any),
	}

	done := make(chan error, 1)
	go func() { done <- r.dispatchLoop(reader) }()

	result, runErr := r.replay(ctx, first.Invoke.StaticDAG, first.Invoke.Args)

	payload := rpcbridge.DonePayload{}
	if runErr != nil {
		payload.Err = runErr.Error()
	} else {
		payload.Output = result
	}
	if err := writer.Write(rpcbridge.Frame{Kind: rpcbridge.KindDone, Done: &payload}); err != nil {
		return fmt.Errorf("writing done frame: %w", err)
	}

	<-done // drain the dispatch goroutine; it exits once stdin closes
	return nil
}

// replayer tracks in-flight rpc_call/rpc_result correlation and each
// node's resolved output, keyed by its StaticDAG.ToolIDs index.
type replayer struct {
	writer *rpcbridge.Writer

	mu      sync.Mutex
	pending map[string]chan rpcbridge.RPCResultPayload

	outMu   sync.Mutex
	outputs map[int]any
}

// dispatchLoop routes every incoming rpc_result frame to the call it
// answers; it runs for the lifetime of the bridge connection.
func (r *replayer) dispatchLoop(reader *rpcbridge.Reader) error {
	for {
		frame, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if frame.Kind != rpcbridge.KindRPCResult || frame.RPCResult == nil {
			continue
		}
		r.mu.Lock()
		ch, ok := r.pending[frame.RPCResult.CallID]
		r.mu.Unlock()
		if ok {
			ch <- *frame.RPCResult
		}
	}
}

// replay walks staticDAG's nodes in topological layers, running every
// node in a layer concurrently, and returns the output of its sink
// node(s) — a single value if there's exactly one sink, otherwise a map
// keyed by node index.
func (r *replayer) replay(ctx context.Context, staticDAG models.StaticDAG, entryArgs map[string]any) (any, error) {
	d := toRuntimeDAG(staticDAG)
	layers, err := dag.Layers(&d)
	if err != nil {
		return nil, fmt.Errorf("static dag is not acyclic: %w", err)
	}

	for _, layer := range layers {
		var wg sync.WaitGroup
		errs := make(chan error, len(layer))
		for _, idx := range layer {
			idx := idx
			wg.Add(1)
			go func() {
				defer wg.Done()
				args, err := r.resolveArgs(staticDAG, idx, entryArgs)
				if err != nil {
					errs <- err
					return
				}
				output, err := r.call(ctx, staticDAG.ToolIDs[idx], idx, args)
				if err != nil {
					errs <- err
					return
				}
				r.outMu.Lock()
				r.outputs[idx] = output
				r.outMu.Unlock()
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			return nil, err
		}
	}

	return r.sinkOutput(staticDAG), nil
}

// resolveArgs merges a node's literal Args with values resolved from its
// Templates — references into an earlier node's already-recorded output.
func (r *replayer) resolveArgs(staticDAG models.StaticDAG, idx int, entryArgs map[string]any) (map[string]any, error) {
	args := make(map[string]any)
	if literal, ok := staticDAG.Args[idx]; ok {
		for k, v := range literal {
			args[k] = v
		}
	}
	if idx == 0 {
		for k, v := range entryArgs {
			args[k] = v
		}
	}
	for name, tmpl := range staticDAG.Templates[idx] {
		r.outMu.Lock()
		source, ok := r.outputs[tmpl.TaskID]
		r.outMu.Unlock()
		if !ok {
			return nil, fmt.Errorf("node %d references node %d's output before it ran", idx, tmpl.TaskID)
		}
		value, err := walkPath(source, tmpl.Path)
		if err != nil {
			return nil, fmt.Errorf("resolving node %d argument %q: %w", idx, name, err)
		}
		args[name] = value
	}
	return args, nil
}

// call sends an rpc_call frame for one StaticDAG node and blocks for its
// matching rpc_result, surfacing trace frames around the round trip.
func (r *replayer) call(ctx context.Context, toolID string, idx int, args map[string]any) (any, error) {
	callID := strconv.Itoa(idx) + "-" + toolID

	_ = r.writer.Write(rpcbridge.Frame{Kind: rpcbridge.KindTrace, Trace: &rpcbridge.TracePayload{
		NodeIndex: idx, ToolID: toolID, Kind: "node_start",
	}})

	ch := make(chan rpcbridge.RPCResultPayload, 1)
	r.mu.Lock()
	r.pending[callID] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, callID)
		r.mu.Unlock()
	}()

	if err := r.writer.Write(rpcbridge.Frame{Kind: rpcbridge.KindRPCCall, RPCCall: &rpcbridge.RPCCallPayload{
		CallID: callID, ToolID: toolID, Args: args,
	}}); err != nil {
		return nil, fmt.Errorf("sending rpc_call for node %d: %w", idx, err)
	}

	select {
	case result := <-ch:
		detail := "succeeded"
		if result.Err != "" {
			detail = "failed: " + result.Err
		}
		_ = r.writer.Write(rpcbridge.Frame{Kind: rpcbridge.KindTrace, Trace: &rpcbridge.TracePayload{
			NodeIndex: idx, ToolID: toolID, Kind: "node_end", Detail: detail,
		}})
		if result.Err != "" {
			return nil, fmt.Errorf("%s", result.Err)
		}
		return result.Output, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// sinkOutput returns the recorded output of the StaticDAG's sink
// node(s): nodes nothing else depends on.
func (r *replayer) sinkOutput(staticDAG models.StaticDAG) any {
	hasOutgoing := make(map[int]bool)
	for _, e := range staticDAG.Edges {
		hasOutgoing[e[0]] = true
	}

	var sinks []int
	for i := range staticDAG.ToolIDs {
		if !hasOutgoing[i] {
			sinks = append(sinks, i)
		}
	}
	sort.Ints(sinks)

	r.outMu.Lock()
	defer r.outMu.Unlock()
	if len(sinks) == 1 {
		return r.outputs[sinks[0]]
	}
	merged := make(map[string]any, len(sinks))
	for _, idx := range sinks {
		merged[strconv.Itoa(idx)] = r.outputs[idx]
	}
	return merged
}

// toRuntimeDAG adapts a StaticDAG to the models.DAG shape so it can reuse
// dag.Layers' Kahn's-algorithm topological sort rather than duplicating it.
func toRuntimeDAG(staticDAG models.StaticDAG) models.DAG {
	tasks := make([]models.Task, len(staticDAG.ToolIDs))
	for i, toolID := range staticDAG.ToolIDs {
		tasks[i] = models.Task{ID: i, ToolID: toolID}
	}
	for _, e := range staticDAG.Edges {
		from, to := e[0], e[1]
		tasks[to].DependsOn = append(tasks[to].DependsOn, from)
	}
	return models.DAG{Tasks: tasks}
}

// walkPath mirrors dag.ResolveTemplates' path walker, over a node's raw
// recorded output rather than a models.Task's.
func walkPath(value any, path []string) (any, error) {
	cur := value
	for _, key := range path {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("key %q not found", key)
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("index %q out of range", key)
			}
			cur = v[idx]
		default:
			return nil, fmt.Errorf("cannot index into %T with %q", cur, key)
		}
	}
	return cur, nil
}
