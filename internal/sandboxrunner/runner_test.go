package sandboxrunner

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casys-ai/pml/pkg/models"
	"github.com/casys-ai/pml/pkg/rpcbridge"
)

func TestWalkPathThroughMapAndSlice(t *testing.T) {
	value := map[string]any{
		"items": []any{
			map[string]any{"name": "first"},
			map[string]any{"name": "second"},
		},
	}
	got, err := walkPath(value, []string{"items", "1", "name"})
	require.NoError(t, err)
	assert.Equal(t, "second", got)
}

func TestWalkPathMissingKeyFails(t *testing.T) {
	_, err := walkPath(map[string]any{"a": 1}, []string{"b"})
	assert.Error(t, err)
}

func TestWalkPathIndexOutOfRangeFails(t *testing.T) {
	_, err := walkPath([]any{1, 2}, []string{"5"})
	assert.Error(t, err)
}

func TestToRuntimeDAGTranslatesEdgesToDependsOn(t *testing.T) {
	staticDAG := models.StaticDAG{
		ToolIDs: []string{"a", "b", "c"},
		Edges:   [][2]int{{0, 1}, {0, 2}},
	}
	d := toRuntimeDAG(staticDAG)
	require.Len(t, d.Tasks, 3)
	assert.Equal(t, "a", d.Tasks[0].ToolID)
	assert.Empty(t, d.Tasks[0].DependsOn)
	assert.Equal(t, []int{0}, d.Tasks[1].DependsOn)
	assert.Equal(t, []int{0}, d.Tasks[2].DependsOn)
}

func TestSinkOutputSingleSink(t *testing.T) {
	staticDAG := models.StaticDAG{
		ToolIDs: []string{"a", "b"},
		Edges:   [][2]int{{0, 1}},
	}
	r := &replayer{outputs: map[int]any{0: "first", 1: "second"}}
	assert.Equal(t, "second", r.sinkOutput(staticDAG))
}

func TestSinkOutputMultipleSinksMerge(t *testing.T) {
	staticDAG := models.StaticDAG{
		ToolIDs: []string{"a", "b", "c"},
		Edges:   [][2]int{{0, 1}, {0, 2}},
	}
	r := &replayer{outputs: map[int]any{0: "root", 1: "left", 2: "right"}}
	got := r.sinkOutput(staticDAG)
	assert.Equal(t, map[string]any{"1": "left", "2": "right"}, got)
}

// fakeParent answers every rpc_call it reads from the runner with a
// caller-supplied handler, mirroring what pkg/sandbox's bridgeSession
// does on the real parent side, including closing the child's stdin once
// the done frame has arrived. The done payload is sent on the returned
// channel.
func fakeParent(t *testing.T, reader *rpcbridge.Reader, writer *rpcbridge.Writer, stdin io.Closer, handle func(rpcbridge.RPCCallPayload) rpcbridge.RPCResultPayload) <-chan rpcbridge.DonePayload {
	t.Helper()
	doneCh := make(chan rpcbridge.DonePayload, 1)
	go func() {
		for {
			frame, err := reader.Read()
			if err == io.EOF {
				return
			}
			require.NoError(t, err)
			switch frame.Kind {
			case rpcbridge.KindRPCCall:
				result := handle(*frame.RPCCall)
				_ = writer.Write(rpcbridge.Frame{Kind: rpcbridge.KindRPCResult, RPCResult: &result})
			case rpcbridge.KindDone:
				if frame.Done != nil {
					doneCh <- *frame.Done
				}
				stdin.Close()
				return
			}
		}
	}()
	return doneCh
}

func TestRunSingleNodeReplaysAndReturnsOutput(t *testing.T) {
	parentIn, childOut := io.Pipe()
	childIn, parentOut := io.Pipe()

	parentWriter := rpcbridge.NewWriter(parentOut)
	parentReader := rpcbridge.NewReader(parentIn)

	invoke := rpcbridge.Frame{Kind: rpcbridge.KindInvoke, Invoke: &rpcbridge.InvokePayload{
		FQDN: "pml.tools.x.aaaaaaaa",
		StaticDAG: models.StaticDAG{
			ToolIDs: []string{"weather-server:get_forecast"},
			Edges:   [][2]int{},
		},
		Args: map[string]any{"city": "Paris"},
	}}

	doneCh := fakeParent(t, parentReader, parentWriter, parentOut, func(call rpcbridge.RPCCallPayload) rpcbridge.RPCResultPayload {
		assert.Equal(t, "weather-server:get_forecast", call.ToolID)
		assert.Equal(t, "Paris", call.Args["city"])
		return rpcbridge.RPCResultPayload{CallID: call.CallID, Output: map[string]any{"forecast": "sunny"}}
	})

	go func() {
		require.NoError(t, parentWriter.Write(invoke))
	}()

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- Run(context.Background(), childIn, childOut)
	}()

	select {
	case err := <-resultCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not complete in time")
	}

	select {
	case done := <-doneCh:
		assert.Empty(t, done.Err)
		assert.Equal(t, map[string]any{"forecast": "sunny"}, done.Output)
	case <-time.After(5 * time.Second):
		t.Fatal("no done frame reached the parent")
	}
}

func TestRunResolvesTemplateFromUpstreamNode(t *testing.T) {
	parentIn, childOut := io.Pipe()
	childIn, parentOut := io.Pipe()

	parentWriter := rpcbridge.NewWriter(parentOut)
	parentReader := rpcbridge.NewReader(parentIn)

	staticDAG := models.StaticDAG{
		ToolIDs: []string{"geo-server:lookup", "weather-server:get_forecast"},
		Edges:   [][2]int{{0, 1}},
		Templates: map[int]map[string]models.ArgumentTemplate{
			1: {"city": {TaskID: 0, Path: []string{"city_name"}}},
		},
	}
	invoke := rpcbridge.Frame{Kind: rpcbridge.KindInvoke, Invoke: &rpcbridge.InvokePayload{
		FQDN:      "pml.tools.y.bbbbbbbb",
		StaticDAG: staticDAG,
		Args:      map[string]any{"query": "eiffel tower"},
	}}

	fakeParent(t, parentReader, parentWriter, parentOut, func(call rpcbridge.RPCCallPayload) rpcbridge.RPCResultPayload {
		switch call.ToolID {
		case "geo-server:lookup":
			return rpcbridge.RPCResultPayload{CallID: call.CallID, Output: map[string]any{"city_name": "Paris"}}
		case "weather-server:get_forecast":
			assert.Equal(t, "Paris", call.Args["city"])
			return rpcbridge.RPCResultPayload{CallID: call.CallID, Output: "sunny"}
		default:
			t.Fatalf("unexpected tool id %q", call.ToolID)
			return rpcbridge.RPCResultPayload{}
		}
	})

	go func() {
		require.NoError(t, parentWriter.Write(invoke))
	}()

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- Run(context.Background(), childIn, childOut)
	}()

	select {
	case err := <-resultCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not complete in time")
	}
}

func TestRunRejectsNonInvokeFirstFrame(t *testing.T) {
	r, w := io.Pipe()
	go func() {
		writer := rpcbridge.NewWriter(w)
		_ = writer.Write(rpcbridge.Frame{Kind: rpcbridge.KindDone, Done: &rpcbridge.DonePayload{}})
		w.Close()
	}()

	var discard discardWriter
	err := Run(context.Background(), r, discard)
	assert.Error(t, err)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
