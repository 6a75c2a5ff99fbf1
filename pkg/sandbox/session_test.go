package sandbox

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casys-ai/pml/pkg/config"
	"github.com/casys-ai/pml/pkg/models"
	"github.com/casys-ai/pml/pkg/pmlerrors"
	"github.com/casys-ai/pml/pkg/rpcbridge"
)

func newTestSession(t *testing.T, childReads io.Reader, childWrites io.Writer) *bridgeSession {
	t.Helper()
	exec := &Executor{cfg: config.SandboxConfig{}}
	return &bridgeSession{
		exec:     exec,
		fqdn:     "pml.tools.test.aaaaaaaa",
		writer:   rpcbridge.NewWriter(childWrites),
		reader:   rpcbridge.NewReader(childReads),
		maxFanIn: defaultMaxRPCFanIn,
	}
}

func TestRunReturnsDoneOutput(t *testing.T) {
	parentIn, childOut := io.Pipe()
	childIn, parentOut := io.Pipe()
	s := newTestSession(t, parentIn, parentOut)

	go func() {
		reader := rpcbridge.NewReader(childIn)
		writer := rpcbridge.NewWriter(childOut)
		frame, err := reader.Read()
		require.NoError(t, err)
		assert.Equal(t, rpcbridge.KindInvoke, frame.Kind)
		_ = writer.Write(rpcbridge.Frame{Kind: rpcbridge.KindDone, Done: &rpcbridge.DonePayload{Output: "hello"}})
	}()

	result, err := s.run(context.Background(), models.StaticDAG{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", result)
}

func TestRunReturnsDoneError(t *testing.T) {
	parentIn, childOut := io.Pipe()
	childIn, parentOut := io.Pipe()
	s := newTestSession(t, parentIn, parentOut)

	go func() {
		reader := rpcbridge.NewReader(childIn)
		writer := rpcbridge.NewWriter(childOut)
		_, _ = reader.Read()
		_ = writer.Write(rpcbridge.Frame{Kind: rpcbridge.KindDone, Done: &rpcbridge.DonePayload{Err: "boom"}})
	}()

	_, err := s.run(context.Background(), models.StaticDAG{}, nil)
	require.Error(t, err)
	assert.Equal(t, pmlerrors.KindToolInvocationFailed, pmlerrors.KindOf(err))
}

func TestRunMapsEOFToSandboxCrashed(t *testing.T) {
	parentIn, childOut := io.Pipe()
	childIn, parentOut := io.Pipe()
	s := newTestSession(t, parentIn, parentOut)

	go func() {
		reader := rpcbridge.NewReader(childIn)
		_, _ = reader.Read()
		childOut.Close() // child exits without a done frame
	}()

	_, err := s.run(context.Background(), models.StaticDAG{}, nil)
	require.Error(t, err)
	assert.Equal(t, pmlerrors.KindSandboxCrashed, pmlerrors.KindOf(err))
}

func TestRunMapsCtxDoneToWallTimeExceeded(t *testing.T) {
	parentIn, _ := io.Pipe()
	s := newTestSession(t, parentIn, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.run(ctx, models.StaticDAG{}, nil)
	require.Error(t, err)
	assert.Equal(t, pmlerrors.KindSandboxLimitExceeded, pmlerrors.KindOf(err))
}

func TestInvokeRejectsNestedCapability(t *testing.T) {
	s := &bridgeSession{exec: &Executor{}, maxFanIn: defaultMaxRPCFanIn}
	_, err := s.invoke(context.Background(), "casys.pml.tools.other.bbbbbbbb", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nested capability")
}

func TestInvokeEnforcesFanInLimit(t *testing.T) {
	s := &bridgeSession{exec: &Executor{}, maxFanIn: 1, fanIn: 1}
	_, err := s.invoke(context.Background(), "weather-server:get_forecast", nil)
	require.Error(t, err)
	assert.Equal(t, pmlerrors.KindSandboxLimitExceeded, pmlerrors.KindOf(err))
}

func TestRedactNoopsWithoutPIISession(t *testing.T) {
	s := &bridgeSession{}
	out := s.redact(map[string]any{"email": "a@b.com"})
	assert.Equal(t, map[string]any{"email": "a@b.com"}, out)
}

func TestTruncateLeavesShortOutputUnchanged(t *testing.T) {
	s := &bridgeSession{exec: &Executor{cfg: config.SandboxConfig{MaxOutputBytes: 1024}}}
	out := s.truncate("short value")
	assert.Equal(t, "short value", out)
}

func TestServiceCallDeliversErrorResultWhenInvokeFails(t *testing.T) {
	childIn, childOut := io.Pipe()
	s := &bridgeSession{
		exec:     &Executor{},
		writer:   rpcbridge.NewWriter(childOut),
		maxFanIn: defaultMaxRPCFanIn,
	}

	resultCh := make(chan rpcbridge.Frame, 1)
	go func() {
		reader := rpcbridge.NewReader(childIn)
		f, err := reader.Read()
		require.NoError(t, err)
		resultCh <- f
	}()

	s.serviceCall(context.Background(), rpcbridge.RPCCallPayload{
		CallID: "0-tool", ToolID: "casys.pml.tools.other.bbbbbbbb",
	})

	select {
	case f := <-resultCh:
		require.NotNil(t, f.RPCResult)
		assert.Contains(t, f.RPCResult.Err, "nested capability")
	case <-time.After(2 * time.Second):
		t.Fatal("no rpc_result frame delivered")
	}
}
