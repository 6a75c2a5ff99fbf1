package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/casys-ai/pml/pkg/capability"
	"github.com/casys-ai/pml/pkg/endpoint"
	"github.com/casys-ai/pml/pkg/models"
	"github.com/casys-ai/pml/pkg/pmlerrors"
	"github.com/casys-ai/pml/pkg/rpcbridge"
)

// run drives one bridge session to completion: send the Invoke frame,
// then service rpc_call/trace frames from the child until it sends Done
// (or the process dies, or ctx expires).
func (s *bridgeSession) run(ctx context.Context, staticDAG models.StaticDAG, args map[string]any) (any, error) {
	if err := s.writer.Write(rpcbridge.Frame{
		Kind: rpcbridge.KindInvoke,
		Invoke: &rpcbridge.InvokePayload{
			FQDN:      s.fqdn,
			StaticDAG: staticDAG,
			Args:      args,
		},
	}); err != nil {
		return nil, fmt.Errorf("sending invoke frame to sandbox worker for %q: %w", s.fqdn, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, pmlerrors.SandboxLimitExceeded("wall_time")
		default:
		}

		frame, err := s.reader.Read()
		if err == io.EOF {
			return nil, pmlerrors.Wrap(pmlerrors.KindSandboxCrashed, err,
				"sandbox worker for %q closed the bridge without a done frame", s.fqdn)
		}
		if err != nil {
			return nil, pmlerrors.Wrap(pmlerrors.KindSandboxCrashed, err, "reading bridge frame for %q", s.fqdn)
		}

		switch frame.Kind {
		case rpcbridge.KindRPCCall:
			if frame.RPCCall == nil {
				continue
			}
			go s.serviceCall(ctx, *frame.RPCCall)

		case rpcbridge.KindTrace:
			if frame.Trace != nil && s.exec.logger != nil {
				s.exec.logger.Debug("sandbox trace",
					"fqdn", s.fqdn, "node", frame.Trace.NodeIndex, "tool_id", frame.Trace.ToolID,
					"kind", frame.Trace.Kind, "detail", frame.Trace.Detail)
			}

		case rpcbridge.KindDone:
			if frame.Done == nil {
				return nil, nil
			}
			if frame.Done.Err != "" {
				return nil, pmlerrors.ToolInvocationFailed(s.fqdn, fmt.Errorf("%s", frame.Done.Err))
			}
			return frame.Done.Output, nil

		default:
			// unknown frame kind: ignore rather than abort, the bridge may
			// gain new informational frame kinds over time.
		}
	}
}

// serviceCall executes one proxied tool call on behalf of the sandboxed
// child and writes back its rpc_result frame. Runs in its own goroutine
// so a slow tool call doesn't stall the child's other in-flight calls.
func (s *bridgeSession) serviceCall(ctx context.Context, call rpcbridge.RPCCallPayload) {
	output, err := s.invoke(ctx, call.ToolID, call.Args)

	result := rpcbridge.RPCResultPayload{CallID: call.CallID}
	if err != nil {
		result.Err = err.Error()
	} else {
		result.Output = s.truncate(s.redact(output))
	}

	if writeErr := s.writer.Write(rpcbridge.Frame{Kind: rpcbridge.KindRPCResult, RPCResult: &result}); writeErr != nil && s.exec.logger != nil {
		s.exec.logger.Warn("failed to deliver rpc_result to sandbox worker", "fqdn", s.fqdn, "call_id", call.CallID, "error", writeErr)
	}
}

func (s *bridgeSession) invoke(ctx context.Context, toolID string, args map[string]any) (any, error) {
	s.mu.Lock()
	if s.fanIn >= s.maxFanIn {
		s.mu.Unlock()
		return nil, pmlerrors.SandboxLimitExceeded("rpc_fan_in")
	}
	s.fanIn++
	s.mu.Unlock()

	if strings.HasPrefix(toolID, capability.OrgProject+".") {
		return nil, fmt.Errorf("nested capability invocation %q is not permitted from within a sandboxed run", toolID)
	}

	endpointID, toolName, err := endpoint.SplitToolID(toolID)
	if err != nil {
		return nil, err
	}
	return s.exec.pool.CallTool(ctx, endpointID, toolName, args)
}

// redact passes a proxied tool result's JSON form through the session's
// PII tokenizer, if one is configured, so the same value in a repeated
// field gets the same stable token within this invocation.
func (s *bridgeSession) redact(output any) any {
	if s.pii == nil {
		return output
	}
	raw, err := json.Marshal(output)
	if err != nil {
		return output
	}
	redacted := s.pii.Redact(string(raw))
	var generic any
	if err := json.Unmarshal([]byte(redacted), &generic); err != nil {
		return redacted // fall back to the redacted string form
	}
	return generic
}

// truncate enforces the sandbox's output byte ceiling on a proxied call's
// result before it crosses back to the child, serializing first so the
// limit applies uniformly regardless of the result's Go type.
func (s *bridgeSession) truncate(output any) any {
	raw, err := json.Marshal(output)
	if err != nil {
		return output
	}
	truncated := endpoint.TruncateOutput(string(raw), s.exec.maxOutputBytes())
	if truncated == string(raw) {
		return output
	}
	return truncated
}
