package rpcbridge

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casys-ai/pml/pkg/models"
)

func TestWriteThenReadRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	invoke := Frame{
		Kind: KindInvoke,
		Invoke: &InvokePayload{
			FQDN: "pml.tools.fetch_weather.a1b2c3d4",
			StaticDAG: models.StaticDAG{
				ToolIDs: []string{"weather-server:get_forecast"},
				Edges:   [][2]int{},
			},
			Args: map[string]any{"city": "Paris"},
		},
	}
	require.NoError(t, w.Write(invoke))

	r := NewReader(&buf)
	got, err := r.Read()
	require.NoError(t, err)

	assert.Equal(t, KindInvoke, got.Kind)
	require.NotNil(t, got.Invoke)
	assert.Equal(t, "pml.tools.fetch_weather.a1b2c3d4", got.Invoke.FQDN)
	assert.Equal(t, []string{"weather-server:get_forecast"}, got.Invoke.StaticDAG.ToolIDs)
	assert.Equal(t, "Paris", got.Invoke.Args["city"])
}

func TestReadReturnsEOFAtStreamEnd(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	_, err := r.Read()
	assert.ErrorIs(t, err, io.EOF)
}

func TestMultipleFramesReadInOrder(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.Write(Frame{Kind: KindRPCCall, RPCCall: &RPCCallPayload{CallID: "0-tool", ToolID: "svc:tool"}}))
	require.NoError(t, w.Write(Frame{Kind: KindRPCResult, RPCResult: &RPCResultPayload{CallID: "0-tool", Output: "ok"}}))
	require.NoError(t, w.Write(Frame{Kind: KindDone, Done: &DonePayload{Output: "done"}}))

	r := NewReader(&buf)

	f1, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, KindRPCCall, f1.Kind)
	assert.Equal(t, "0-tool", f1.RPCCall.CallID)

	f2, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, KindRPCResult, f2.Kind)
	assert.Equal(t, "ok", f2.RPCResult.Output)

	f3, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, KindDone, f3.Kind)

	_, err = r.Read()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRPCResultCarriesErrorWithoutOutput(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Write(Frame{
		Kind:      KindRPCResult,
		RPCResult: &RPCResultPayload{CallID: "1-tool", Err: "endpoint unavailable"},
	}))

	r := NewReader(&buf)
	f, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, "endpoint unavailable", f.RPCResult.Err)
	assert.Nil(t, f.RPCResult.Output)
}
